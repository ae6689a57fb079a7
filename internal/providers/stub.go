package providers

import (
	"context"
	"strings"
)

// StubAddressReputationProvider returns a canned AddressReputation per
// address (case-insensitive), or an established reputation (365 days
// old, 1000 transactions) for anything unregistered. It exists purely for deterministic tests of the stages
// that depend on AddressReputationProvider, per spec.md §9's
// polymorphic-over-{live,cached,stub} requirement.
type StubAddressReputationProvider struct {
	Reputations map[string]*AddressReputation
	Err         error
}

func (s *StubAddressReputationProvider) GetReputation(ctx context.Context, chainID int64, address string) (*AddressReputation, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if rep, ok := s.Reputations[strings.ToLower(address)]; ok {
		return rep, nil
	}
	return &AddressReputation{AgeDays: 365, TxCount: 1000}, nil
}

// StubContractAnalysisProvider is the ContractAnalysisProvider
// counterpart to StubAddressReputationProvider.
type StubContractAnalysisProvider struct {
	Analyses map[string]*ContractAnalysis
	Err      error
}

func (s *StubContractAnalysisProvider) AnalyzeContract(ctx context.Context, chainID int64, address string, code []byte) (*ContractAnalysis, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if analysis, ok := s.Analyses[strings.ToLower(address)]; ok {
		return analysis, nil
	}
	return &ContractAnalysis{Verified: true}, nil
}
