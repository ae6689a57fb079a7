package providers

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type cachedReputationEntry struct {
	value   *AddressReputation
	expires time.Time
}

// CachedAddressReputationProvider wraps another AddressReputationProvider
// with a simple TTL cache, keyed by chain id and address. Grounded on the
// teacher's AddressWatchlist map-plus-mutex shape
// (internal/heuristics/watchlist.go), generalized with an expiry instead
// of living for the process lifetime.
type CachedAddressReputationProvider struct {
	mu       sync.Mutex
	upstream AddressReputationProvider
	ttl      time.Duration
	entries  map[string]cachedReputationEntry
}

func NewCachedAddressReputationProvider(upstream AddressReputationProvider, ttl time.Duration) *CachedAddressReputationProvider {
	return &CachedAddressReputationProvider{
		upstream: upstream,
		ttl:      ttl,
		entries:  make(map[string]cachedReputationEntry),
	}
}

func (c *CachedAddressReputationProvider) GetReputation(ctx context.Context, chainID int64, address string) (*AddressReputation, error) {
	key := cacheKey(chainID, address)

	c.mu.Lock()
	entry, ok := c.entries[key]
	c.mu.Unlock()
	if ok && time.Now().Before(entry.expires) {
		return entry.value, nil
	}

	rep, err := c.upstream.GetReputation(ctx, chainID, address)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = cachedReputationEntry{value: rep, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()

	return rep, nil
}

type cachedContractEntry struct {
	value   *ContractAnalysis
	expires time.Time
}

// CachedContractAnalysisProvider is the contract-analysis counterpart to
// CachedAddressReputationProvider. Contract bytecode and verification
// status almost never change for a given address, so a much longer TTL
// is typical in practice than for address reputation.
type CachedContractAnalysisProvider struct {
	mu       sync.Mutex
	upstream ContractAnalysisProvider
	ttl      time.Duration
	entries  map[string]cachedContractEntry
}

func NewCachedContractAnalysisProvider(upstream ContractAnalysisProvider, ttl time.Duration) *CachedContractAnalysisProvider {
	return &CachedContractAnalysisProvider{
		upstream: upstream,
		ttl:      ttl,
		entries:  make(map[string]cachedContractEntry),
	}
}

func (c *CachedContractAnalysisProvider) AnalyzeContract(ctx context.Context, chainID int64, address string, code []byte) (*ContractAnalysis, error) {
	key := cacheKey(chainID, address)

	c.mu.Lock()
	entry, ok := c.entries[key]
	c.mu.Unlock()
	if ok && time.Now().Before(entry.expires) {
		return entry.value, nil
	}

	analysis, err := c.upstream.AnalyzeContract(ctx, chainID, address, code)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = cachedContractEntry{value: analysis, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()

	return analysis, nil
}

func cacheKey(chainID int64, address string) string {
	return fmt.Sprintf("%d:%s", chainID, address)
}
