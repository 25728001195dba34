package configcache

import (
	"context"
	"fmt"

	"github.com/chainhook/pipeline/pkg/security"
	"github.com/chainhook/pipeline/pkg/types"
	"github.com/jackc/pgx/v4"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/jmoiron/sqlx"
)

// Store is the Postgres-backed configuration store: users, applications,
// and endpoint subscriptions.
type Store struct {
	db      *sqlx.DB
	dsn     string
	secrets *security.SecretsManager
}

// NewStore opens a sqlx connection pool against dsn using the pgx stdlib
// driver, and a SecretsManager used to decrypt HMAC secrets read from the
// endpoints table.
func NewStore(dsn string, secrets *security.SecretsManager) (*Store, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to configuration store: %w", err)
	}
	return &Store{db: db, dsn: dsn, secrets: secrets}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

type endpointRow struct {
	EndpointID         string `db:"endpoint_id"`
	ApplicationID      string `db:"application_id"`
	UserID             string `db:"user_id"`
	ChainID            int64  `db:"chain_id"`
	URL                string `db:"url"`
	HMACSecretEnc      []byte `db:"hmac_secret_encrypted"`
	ContractAddress    string `db:"contract_address"`
	TopicFilter        []byte `db:"topic_filter"` // JSON array of strings, nullable entries as ""
	RateLimitPerSecond int    `db:"rate_limit_per_second"`
	MaxRetries         int    `db:"max_retries"`
	TimeoutSeconds     int    `db:"timeout_seconds"`
	IsActive           bool   `db:"is_active"`
}

const loadEndpointsQuery = `
SELECT
	endpoint_id, application_id, user_id, chain_id, url, hmac_secret_encrypted,
	COALESCE(contract_address, '') AS contract_address,
	topic_filter, rate_limit_per_second, max_retries, timeout_seconds, is_active
FROM endpoints
WHERE is_active = true
`

// LoadEndpoints reads every active endpoint subscription, decrypting each
// row's HMAC secret along the way. A row whose secret fails to decrypt is
// skipped rather than aborting the whole refresh; the skip is not logged
// or reported to the caller.
func (s *Store) LoadEndpoints(ctx context.Context) ([]types.EndpointSubscription, error) {
	var rows []endpointRow
	if err := s.db.SelectContext(ctx, &rows, loadEndpointsQuery); err != nil {
		return nil, fmt.Errorf("load endpoints: %w", err)
	}

	out := make([]types.EndpointSubscription, 0, len(rows))
	for _, r := range rows {
		secret, err := s.secrets.DecryptHMACSecret(r.HMACSecretEnc)
		if err != nil {
			continue
		}
		out = append(out, types.EndpointSubscription{
			EndpointID:         r.EndpointID,
			ApplicationID:      r.ApplicationID,
			UserID:             r.UserID,
			ChainID:            r.ChainID,
			URL:                r.URL,
			HMACSecret:         secret,
			ContractAddress:    r.ContractAddress,
			TopicFilter:        decodeTopicFilter(r.TopicFilter),
			RateLimitPerSecond: r.RateLimitPerSecond,
			MaxRetries:         r.MaxRetries,
			TimeoutSeconds:     r.TimeoutSeconds,
			IsActive:           r.IsActive,
		})
	}
	return out, nil
}

// ListenConfigChanged opens a dedicated pgx connection and blocks
// forwarding "config_changed" notifications to notifyCh until ctx is
// canceled. sqlx's pooled *sql.DB cannot itself LISTEN, so invalidation
// uses a separate raw pgx.Conn per the driver's documented pattern.
func (s *Store) ListenConfigChanged(ctx context.Context, notifyCh chan<- struct{}) error {
	conn, err := pgx.Connect(ctx, s.dsn)
	if err != nil {
		return fmt.Errorf("open listen connection: %w", err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, "LISTEN config_changed"); err != nil {
		return fmt.Errorf("listen config_changed: %w", err)
	}

	for {
		if _, err := conn.WaitForNotification(ctx); err != nil {
			return err
		}
		select {
		case notifyCh <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		default:
			// a refresh is already pending, drop the extra wakeup
		}
	}
}
