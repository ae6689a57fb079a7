// Package providers defines the capability interfaces the Address
// Checker and Contract Checker stages depend on — spec.md §9 calls
// these out explicitly as "polymorphic over {live, cached, stub}",
// keeping the shield itself agnostic to transport. The shapes below are
// new (spec.md does not fix their fields), but the capability-interface
// structure is directly grounded on the teacher's bitcoin.Client: a thin
// wrapper the rest of the engine treats opaquely
// (internal/bitcoin/client.go).
package providers

import "context"

// RiskFactor is one provider-reported reason a target address is risky.
type RiskFactor struct {
	Description string
	Severity    string // not read by the Address Checker, which records every factor at high severity
}

// AddressReputation is what an AddressReputationProvider reports about
// a target address.
type AddressReputation struct {
	AgeDays      int
	TxCount      int
	IsContract   bool
	RiskFactors  []RiskFactor
}

// AddressReputationProvider is queried by the Address Checker stage,
// keyed by chain id. Implementations may be live (on-chain / block
// explorer backed), cached, or a deterministic stub for tests.
type AddressReputationProvider interface {
	GetReputation(ctx context.Context, chainID int64, address string) (*AddressReputation, error)
}

// ContractAnalysis is what a ContractAnalysisProvider reports about a
// target contract's bytecode and verification status.
type ContractAnalysis struct {
	Verified               bool
	HasSelfDestruct        bool
	HasUnsafeDelegatecall  bool
	IsUnverifiedProxy      bool
	AllowsInfiniteApproval bool
	CustomPatterns         []RiskFactor
}

// ContractAnalysisProvider is queried by the Contract Checker stage.
type ContractAnalysisProvider interface {
	AnalyzeContract(ctx context.Context, chainID int64, address string, code []byte) (*ContractAnalysis, error)
}
