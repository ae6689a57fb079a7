package stages

import (
	"context"
	"errors"
	"testing"

	"github.com/Kweiss/Wardex/internal/pipeline"
	"github.com/Kweiss/Wardex/internal/providers"
	"github.com/Kweiss/Wardex/pkg/models"
)

type stubReputationProvider struct {
	rep *providers.AddressReputation
	err error
}

func (s *stubReputationProvider) GetReputation(ctx context.Context, chainID int64, address string) (*providers.AddressReputation, error) {
	return s.rep, s.err
}

func newAddressCheckerTestCtx(to string, policy models.SecurityPolicy) *pipeline.EvaluationContext {
	tx := models.TransactionRequest{To: to, ChainID: 1}
	return pipeline.NewContext(tx, nil, policy)
}

func TestAddressCheckerFlagsDenylistedAddress(t *testing.T) {
	policy := models.SecurityPolicy{Denylist: models.Denylist{Addresses: []string{"0xdead000000000000000000000000000000dead"}}}
	ctx := newAddressCheckerTestCtx("0xDEAD000000000000000000000000000000DEAD", policy)

	NewAddressChecker(nil).Run(ctx, func() {})

	if !ctx.HasReason("DENYLISTED_ADDRESS") {
		t.Fatal("expected a denylisted-address finding")
	}
}

func TestAddressCheckerSetsAllowlistedFlag(t *testing.T) {
	policy := models.SecurityPolicy{Allowlist: models.Allowlist{Addresses: []string{"0x1111111111111111111111111111111111111111"}}}
	ctx := newAddressCheckerTestCtx("0x1111111111111111111111111111111111111111", policy)

	NewAddressChecker(nil).Run(ctx, func() {})

	if !ctx.AddressAllowlisted {
		t.Fatal("expected AddressAllowlisted to be set for an allowlisted target")
	}
	if len(ctx.Reasons) != 0 {
		t.Fatalf("expected no findings for an allowlisted target, got %+v", ctx.Reasons)
	}
}

func TestAddressCheckerDenylistTakesPriorityOverAllowlist(t *testing.T) {
	addr := "0x1111111111111111111111111111111111111111"
	policy := models.SecurityPolicy{
		Denylist:  models.Denylist{Addresses: []string{addr}},
		Allowlist: models.Allowlist{Addresses: []string{addr}},
	}
	ctx := newAddressCheckerTestCtx(addr, policy)

	NewAddressChecker(nil).Run(ctx, func() {})

	if !ctx.HasReason("DENYLISTED_ADDRESS") {
		t.Fatal("expected denylist to win when an address is on both lists")
	}
	if ctx.AddressAllowlisted {
		t.Fatal("did not expect the allowlist flag to be set once the denylist already matched")
	}
}

func TestAddressCheckerFlagsNewAndLowActivityAddress(t *testing.T) {
	provider := &stubReputationProvider{rep: &providers.AddressReputation{AgeDays: 1, TxCount: 2}}
	ctx := newAddressCheckerTestCtx("0x2222222222222222222222222222222222222222", models.SecurityPolicy{})

	NewAddressChecker(provider).Run(ctx, func() {})

	if !ctx.HasReason("NEW_ADDRESS") {
		t.Fatal("expected a new-address finding for a one-day-old address")
	}
	if !ctx.HasReason("LOW_ACTIVITY_ADDRESS") {
		t.Fatal("expected a low-activity-address finding for an address with few transactions")
	}
}

func TestAddressCheckerFlagsProviderRiskFactor(t *testing.T) {
	provider := &stubReputationProvider{rep: &providers.AddressReputation{
		AgeDays: 365, TxCount: 500,
		RiskFactors: []providers.RiskFactor{{Description: "associated with a known phishing cluster", Severity: "high"}},
	}}
	ctx := newAddressCheckerTestCtx("0x2222222222222222222222222222222222222222", models.SecurityPolicy{})

	NewAddressChecker(provider).Run(ctx, func() {})

	if !ctx.HasReason("PROVIDER_RISK_FACTOR") {
		t.Fatal("expected a provider-risk-factor finding")
	}
	if ctx.HasReason("NEW_ADDRESS") || ctx.HasReason("LOW_ACTIVITY_ADDRESS") {
		t.Fatal("did not expect age/activity findings for an established address")
	}
}

func TestAddressCheckerDegradesOnProviderError(t *testing.T) {
	provider := &stubReputationProvider{err: errors.New("upstream unavailable")}
	ctx := newAddressCheckerTestCtx("0x2222222222222222222222222222222222222222", models.SecurityPolicy{})

	NewAddressChecker(provider).Run(ctx, func() {})

	if !ctx.HasReason("INTELLIGENCE_UNAVAILABLE") {
		t.Fatal("expected an intelligence-unavailable finding when the provider errors")
	}
}

func TestAddressCheckerNilProviderDegradesToListsOnly(t *testing.T) {
	ctx := newAddressCheckerTestCtx("0x2222222222222222222222222222222222222222", models.SecurityPolicy{})

	NewAddressChecker(nil).Run(ctx, func() {})

	if len(ctx.Reasons) != 0 {
		t.Fatalf("expected no findings with a nil provider and no list matches, got %+v", ctx.Reasons)
	}
}
