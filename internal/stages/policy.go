package stages

import (
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/Kweiss/Wardex/internal/pipeline"
	"github.com/Kweiss/Wardex/pkg/models"
)

// copilotAdviseThreshold and guardianAdviseFraction are the fixed
// thresholds spec.md §4.2 stage 9 assigns to the copilot and guardian
// enforcement modes.
const (
	copilotAdviseThreshold = 50
	guardianAdviseFraction = 0.6
)

// NewPolicyEngine builds the Policy Engine stage (spec.md §4.2 stage 9),
// the pipeline's final stage: it turns the matched tier and accumulated
// reasons into the terminal SecurityVerdict.
func NewPolicyEngine() pipeline.Stage {
	return pipeline.StageFunc{StageName: "policy_engine", Fn: func(ctx *pipeline.EvaluationContext, next func()) {
		tier := findTier(ctx.Policy.Tiers, ctx.MatchedTierID)

		decision, required, delay := decide(ctx, tier)
		checkGlobalLimits(ctx, &decision, &required)

		verdict := &models.SecurityVerdict{
			Decision:       decision,
			Scores:         ctx.Scores,
			Reasons:        ctx.Reasons,
			Suggestions:    buildSuggestions(ctx, decision),
			RequiredAction: required,
			DelaySeconds:   delay,
			Timestamp:      time.Now(),
			EvaluationID:   uuid.NewString(),
			TierID:         ctx.MatchedTierID,
			PolicyVersion:  ctx.Policy.Version,
		}
		ctx.SetVerdict(verdict)
		next()
	}}
}

func findTier(tiers []models.SecurityTierConfig, id string) *models.SecurityTierConfig {
	for i := range tiers {
		if tiers[i].ID == id {
			return &tiers[i]
		}
	}
	return nil
}

// decide applies the per-mode decision table. A critical-severity
// finding overrides every mode except audit, which never blocks — it is
// purely observational by design. A high or critical context-stage
// finding is never allowed to resolve to plain approval, even if the
// mode's numeric threshold alone would have permitted it.
func decide(ctx *pipeline.EvaluationContext, tier *models.SecurityTierConfig) (models.Decision, models.RequiredAction, *int) {
	if tier == nil {
		return models.DecisionAdvise, models.ActionNone, nil
	}

	mode := tier.Mode
	composite := ctx.Scores.Composite
	hasCritical := hasSeverity(ctx.Reasons, models.SeverityCritical)
	hasHighContext := hasContextSeverityAtLeast(ctx.Reasons, models.SeverityHigh)

	var decision models.Decision
	var required models.RequiredAction
	var delay *int

	switch mode {
	case models.ModeAudit:
		decision = models.DecisionApprove
		required = models.ActionNone

	case models.ModeCopilot:
		if composite > copilotAdviseThreshold {
			decision = models.DecisionAdvise
		} else {
			decision = models.DecisionApprove
		}
		required = models.ActionNone

	case models.ModeFortress:
		decision = models.DecisionBlock
		if tier.HumanApprovalRequired {
			required = models.ActionHumanApproval
		} else if tier.TimeLockSeconds > 0 {
			required = models.ActionDelay
			d := tier.TimeLockSeconds
			delay = &d
		} else {
			required = models.ActionHumanApproval
		}

	case models.ModeGuardian:
		fallthrough
	default:
		blockAt := tier.BlockThreshold
		if blockAt <= 0 {
			blockAt = 80
		}
		adviseAt := int(float64(blockAt) * guardianAdviseFraction)
		switch {
		case composite >= blockAt:
			decision = models.DecisionBlock
			if tier.HumanApprovalRequired {
				required = models.ActionHumanApproval
			} else {
				required = models.ActionHumanApproval
			}
		case composite >= adviseAt:
			decision = models.DecisionAdvise
			required = models.ActionNone
		default:
			decision = models.DecisionApprove
			required = models.ActionNone
		}
	}

	if hasCritical && mode != models.ModeAudit {
		decision = models.DecisionBlock
		if required == models.ActionNone {
			required = models.ActionHumanApproval
		}
	}
	if hasHighContext && decision == models.DecisionApprove {
		decision = models.DecisionAdvise
	}

	return decision, required, delay
}

func hasSeverity(reasons []models.SecurityReason, sev models.Severity) bool {
	for _, r := range reasons {
		if r.Severity == sev {
			return true
		}
	}
	return false
}

func hasContextSeverityAtLeast(reasons []models.SecurityReason, min models.Severity) bool {
	rank := map[models.Severity]int{
		models.SeverityInfo: 0, models.SeverityLow: 1, models.SeverityMedium: 2, models.SeverityHigh: 3, models.SeverityCritical: 4,
	}
	for _, r := range reasons {
		if r.Source == models.SourceContext && rank[r.Severity] >= rank[min] {
			return true
		}
	}
	return false
}

// checkGlobalLimits applies SecurityPolicy.Limits regardless of which
// tier matched — these are hard ceilings, not advisories.
func checkGlobalLimits(ctx *pipeline.EvaluationContext, decision *models.Decision, required *models.RequiredAction) {
	limits := ctx.Policy.Limits
	value := ctx.Transaction.ValueOrZero()

	exceeded := false
	if limits.MaxTransactionValueWei != nil && limits.MaxTransactionValueWei.Sign() > 0 && value.Cmp(limits.MaxTransactionValueWei) > 0 {
		exceeded = true
	}
	if ctx.Decoded != nil && ctx.Decoded.IsApproval && limits.MaxApprovalWei != nil && limits.MaxApprovalWei.Sign() > 0 {
		if amt, ok := ctx.Decoded.Params["amount"].(*uint256.Int); ok && amt.Cmp(limits.MaxApprovalWei) > 0 {
			exceeded = true
		}
	}
	if exceeded {
		ctx.AddReason(models.SecurityReason{
			Code:     "EXCEEDS_TX_LIMIT",
			Message:  "transaction exceeds the configured global transaction or approval limit",
			Severity: models.SeverityCritical,
			Source:   models.SourcePolicy,
		})
		*decision = models.DecisionBlock
		*required = models.ActionHumanApproval
	}
}

func buildSuggestions(ctx *pipeline.EvaluationContext, decision models.Decision) []string {
	if decision == models.DecisionApprove {
		return nil
	}
	var suggestions []string
	seen := make(map[string]bool)
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			suggestions = append(suggestions, s)
		}
	}
	for _, r := range ctx.Reasons {
		switch r.Code {
		case "INFINITE_APPROVAL":
			add("approve a bounded amount instead of an unlimited allowance")
		case "NEW_ADDRESS", "LOW_ACTIVITY_ADDRESS":
			add("verify the recipient address through a trusted out-of-band channel before proceeding")
		case "CONTRACT_UNVERIFIED", "CONTRACT_UNVERIFIED_PROXY":
			add("confirm the contract source has been verified on a block explorer")
		case "VALUE_ESCALATION", "BEHAVIORAL_ANOMALY":
			add("confirm this transaction's value with the account owner directly")
		case "TOPICAL_INCOHERENCE":
			add("re-confirm the transaction intent matches the recent conversation")
		case "EXCEEDS_TX_LIMIT":
			add("split the transaction or request a limit increase from the operator")
		}
	}
	return suggestions
}
