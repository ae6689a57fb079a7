package stages

import (
	"testing"

	"github.com/holiman/uint256"

	"github.com/Kweiss/Wardex/internal/pipeline"
	"github.com/Kweiss/Wardex/pkg/models"
)

func newPolicyTestContext(mode models.EnforcementMode, blockThreshold int, composite int) *pipeline.EvaluationContext {
	tx := models.TransactionRequest{To: "0x1111111111111111111111111111111111111111", ChainID: 1}
	ctx := pipeline.NewContext(tx, nil, models.SecurityPolicy{
		Tiers: []models.SecurityTierConfig{{ID: "t1", Mode: mode, BlockThreshold: blockThreshold}},
	})
	ctx.MatchedTierID = "t1"
	ctx.Scores.Composite = composite
	return ctx
}

func TestPolicyEngineAuditAlwaysApproves(t *testing.T) {
	ctx := newPolicyTestContext(models.ModeAudit, 80, 100)
	ctx.AddReason(models.SecurityReason{Code: "X", Severity: models.SeverityCritical, Source: models.SourceTransaction})

	NewPolicyEngine().Run(ctx, func() {})

	v := ctx.Verdict()
	if v.Decision != models.DecisionApprove {
		t.Fatalf("expected audit mode to always approve, got %v", v.Decision)
	}
}

func TestPolicyEngineGuardianBlocksAboveThreshold(t *testing.T) {
	ctx := newPolicyTestContext(models.ModeGuardian, 80, 85)
	NewPolicyEngine().Run(ctx, func() {})

	v := ctx.Verdict()
	if v.Decision != models.DecisionBlock {
		t.Fatalf("expected block, got %v", v.Decision)
	}
	if v.RequiredAction != models.ActionHumanApproval {
		t.Fatalf("expected human_approval, got %v", v.RequiredAction)
	}
}

func TestPolicyEngineGuardianAdvisesMidRange(t *testing.T) {
	ctx := newPolicyTestContext(models.ModeGuardian, 80, 55)
	NewPolicyEngine().Run(ctx, func() {})

	if ctx.Verdict().Decision != models.DecisionAdvise {
		t.Fatalf("expected advise, got %v", ctx.Verdict().Decision)
	}
}

func TestPolicyEngineFortressAlwaysBlocks(t *testing.T) {
	ctx := newPolicyTestContext(models.ModeFortress, 80, 0)
	NewPolicyEngine().Run(ctx, func() {})

	if ctx.Verdict().Decision != models.DecisionBlock {
		t.Fatalf("expected fortress mode to always block, got %v", ctx.Verdict().Decision)
	}
}

func TestPolicyEngineCriticalReasonOverridesCopilot(t *testing.T) {
	ctx := newPolicyTestContext(models.ModeCopilot, 80, 10)
	ctx.AddReason(models.SecurityReason{Code: "DENYLISTED_ADDRESS", Severity: models.SeverityCritical, Source: models.SourceAddress})

	NewPolicyEngine().Run(ctx, func() {})

	if ctx.Verdict().Decision != models.DecisionBlock {
		t.Fatalf("expected a critical reason to force block, got %v", ctx.Verdict().Decision)
	}
}

func TestPolicyEngineHighContextFindingBlocksPlainApproval(t *testing.T) {
	ctx := newPolicyTestContext(models.ModeCopilot, 80, 10)
	ctx.AddReason(models.SecurityReason{Code: "UNTRUSTED_SOURCE", Severity: models.SeverityHigh, Source: models.SourceContext})

	NewPolicyEngine().Run(ctx, func() {})

	if ctx.Verdict().Decision == models.DecisionApprove {
		t.Fatal("expected a high-severity context finding to prevent plain approval")
	}
}

func TestPolicyEngineGlobalLimitForcesBlock(t *testing.T) {
	tx := models.TransactionRequest{To: "0x1111111111111111111111111111111111111111", ChainID: 1, Value: uint256.NewInt(2_000_000_000_000_000_000)}
	policy := models.SecurityPolicy{
		Tiers:  []models.SecurityTierConfig{{ID: "t1", Mode: models.ModeCopilot}},
		Limits: models.GlobalLimits{MaxTransactionValueWei: uint256.NewInt(1_000_000_000_000_000_000)},
	}
	ctx := pipeline.NewContext(tx, nil, policy)
	ctx.MatchedTierID = "t1"

	NewPolicyEngine().Run(ctx, func() {})

	v := ctx.Verdict()
	if v.Decision != models.DecisionBlock {
		t.Fatalf("expected exceeding the global limit to force block, got %v", v.Decision)
	}
	if !v.HasCode("EXCEEDS_TX_LIMIT") {
		t.Fatal("expected an EXCEEDS_TX_LIMIT reason")
	}
}
