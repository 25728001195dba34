/*
Package matcher matches a canonical event against the config cache's
active endpoint subscriptions and produces one delivery job per match.

# Matching Algorithm

For each event, the matcher gathers candidates from two sources: the
index entry for (chain_id, contract_address), and the chain's wildcard
bucket (endpoints with no contract filter). Each candidate is accepted
only if it is active and its topic filter matches the event's topics
positionally (see types.TopicFilter.Matches): a filter longer than the
event's topics never matches, and each filter position is either
wildcard or must equal the corresponding topic case-insensitively.

A single event commonly produces zero, one, or many delivery jobs.
*/
package matcher
