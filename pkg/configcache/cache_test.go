package configcache

import (
	"testing"

	"github.com/chainhook/pipeline/pkg/types"
)

func ep(chainID int64, address, endpointID string) types.EndpointSubscription {
	return types.EndpointSubscription{
		EndpointID:      endpointID,
		ChainID:         chainID,
		ContractAddress: address,
		IsActive:        true,
	}
}

func TestBuildSnapshot_ExactAddressMatch(t *testing.T) {
	s := buildSnapshot([]types.EndpointSubscription{
		ep(1, "0xabc", "e1"),
		ep(1, "0xdef", "e2"),
		ep(2, "0xabc", "e3"),
	})

	got := s.Candidates(1, "0xabc")
	if len(got) != 1 || got[0].EndpointID != "e1" {
		t.Fatalf("expected only e1, got %+v", got)
	}
}

func TestBuildSnapshot_WildcardBucket(t *testing.T) {
	s := buildSnapshot([]types.EndpointSubscription{
		ep(1, "", "wild1"),
		ep(1, "0xabc", "exact1"),
	})

	got := s.Candidates(1, "0xdef")
	if len(got) != 1 || got[0].EndpointID != "wild1" {
		t.Fatalf("expected only the wildcard subscriber, got %+v", got)
	}
}

func TestBuildSnapshot_ExactAndWildcardCombined(t *testing.T) {
	s := buildSnapshot([]types.EndpointSubscription{
		ep(1, "", "wild1"),
		ep(1, "0xabc", "exact1"),
	})

	got := s.Candidates(1, "0xabc")
	if len(got) != 2 {
		t.Fatalf("expected both wildcard and exact candidates, got %+v", got)
	}
}

func TestBuildSnapshot_DifferentChainIsolated(t *testing.T) {
	s := buildSnapshot([]types.EndpointSubscription{
		ep(1, "0xabc", "chain1-e1"),
	})

	got := s.Candidates(2, "0xabc")
	if len(got) != 0 {
		t.Fatalf("expected no cross-chain match, got %+v", got)
	}
}

func TestNewCache_EmptyUntilRefresh(t *testing.T) {
	c := NewCache(&Store{}, 0)
	if c.Size() != 0 {
		t.Errorf("expected empty snapshot before first refresh, got size %d", c.Size())
	}
	if got := c.Candidates(1, "0xabc"); len(got) != 0 {
		t.Errorf("expected no candidates before first refresh, got %+v", got)
	}
}

func TestDecodeTopicFilter(t *testing.T) {
	got := decodeTopicFilter([]byte(`["0xaaa", "", "0xbbb"]`))
	want := types.TopicFilter{"0xaaa", "", "0xbbb"}
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestDecodeTopicFilter_EmptyOrMalformed(t *testing.T) {
	if got := decodeTopicFilter(nil); got != nil {
		t.Errorf("expected nil for empty input, got %+v", got)
	}
	if got := decodeTopicFilter([]byte("not json")); got != nil {
		t.Errorf("expected nil for malformed input, got %+v", got)
	}
}
