package providers

import (
	"context"
	"testing"
	"time"
)

type countingReputationProvider struct {
	calls int
	rep   *AddressReputation
}

func (c *countingReputationProvider) GetReputation(ctx context.Context, chainID int64, address string) (*AddressReputation, error) {
	c.calls++
	return c.rep, nil
}

func TestCachedAddressReputationProviderHitsUpstreamOnce(t *testing.T) {
	upstream := &countingReputationProvider{rep: &AddressReputation{TxCount: 42}}
	cached := NewCachedAddressReputationProvider(upstream, time.Minute)

	for i := 0; i < 3; i++ {
		rep, err := cached.GetReputation(context.Background(), 1, "0xabc")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rep.TxCount != 42 {
			t.Fatalf("expected cached value, got %+v", rep)
		}
	}

	if upstream.calls != 1 {
		t.Fatalf("expected exactly one upstream call, got %d", upstream.calls)
	}
}

func TestCachedAddressReputationProviderExpires(t *testing.T) {
	upstream := &countingReputationProvider{rep: &AddressReputation{TxCount: 1}}
	cached := NewCachedAddressReputationProvider(upstream, time.Nanosecond)

	cached.GetReputation(context.Background(), 1, "0xabc")
	time.Sleep(time.Millisecond)
	cached.GetReputation(context.Background(), 1, "0xabc")

	if upstream.calls != 2 {
		t.Fatalf("expected the expired entry to trigger a second upstream call, got %d calls", upstream.calls)
	}
}
