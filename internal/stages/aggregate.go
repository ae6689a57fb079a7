package stages

import (
	"sort"
	"strings"

	"github.com/Kweiss/Wardex/internal/pipeline"
	"github.com/Kweiss/Wardex/pkg/models"
)

// compositeSingleComponentFloor is the minimum composite score any
// evaluation gets once a single component crosses
// compositeSingleComponentThreshold, per spec.md §4.2 stage 8: one
// severely bad signal should never be diluted away by two calm ones.
const (
	compositeSingleComponentThreshold = 90
	compositeSingleComponentFloor     = 80
)

// NewRiskAggregator builds the Risk Aggregator stage (spec.md §4.2 stage
// 8): computes the weighted composite score and resolves which security
// tier governs the Policy Engine's decision.
func NewRiskAggregator() pipeline.Stage {
	return pipeline.StageFunc{StageName: "risk_aggregator", Fn: func(ctx *pipeline.EvaluationContext, next func()) {
		ctx.Scores.Transaction = transactionScore(ctx)

		s := &ctx.Scores
		s.Clamp()

		composite := 0.40*float64(s.Context) + 0.35*float64(s.Transaction) + 0.25*float64(s.Behavioral)
		rounded := int(composite + 0.5)

		if s.Context >= compositeSingleComponentThreshold ||
			s.Transaction >= compositeSingleComponentThreshold ||
			s.Behavioral >= compositeSingleComponentThreshold {
			if rounded < compositeSingleComponentFloor {
				rounded = compositeSingleComponentFloor
			}
		}
		s.Composite = clampScore(rounded)

		ctx.MatchedTierID = resolveTier(ctx)
		next()
	}}
}

// transactionScore folds the Transaction Decoder, Address Checker, and
// Contract Checker stages' findings into the composite's 35%-weighted
// transaction component (spec.md §4.2 stage 4/§4.7), honoring the
// denylist/allowlist overrides those stages establish: a denylisted
// target forces 100 regardless of any other finding, an allowlisted
// one yields 0, and otherwise the component is the clamped sum of
// every SourceTransaction/SourceAddress/SourceContract finding's
// severity weight — the same weighted-sum shape context_analyzer.go
// and behavioral.go already use for their own components.
func transactionScore(ctx *pipeline.EvaluationContext) int {
	if ctx.HasReason("DENYLISTED_ADDRESS") {
		return 100
	}
	if ctx.AddressAllowlisted {
		return 0
	}
	sum := weightedSeveritySum(ctx.Reasons, models.SourceTransaction) +
		weightedSeveritySum(ctx.Reasons, models.SourceAddress) +
		weightedSeveritySum(ctx.Reasons, models.SourceContract)
	return clampScore(sum)
}

// resolveTier picks the tier governing this evaluation. Target-address
// and function-signature triggers match first and take priority over
// value brackets, since an operator naming an address or selector
// explicitly is making a more specific statement than a value range.
// Value-bracket matching walks tiers from the highest MinValueAtRiskUsd
// down, so a tier whose bracket boundary exactly equals the transaction
// value wins over a lower-priority tier that would also include it.
// Absent any match, the lowest-priority tier (the last one after this
// same descending sort) is the default.
func resolveTier(ctx *pipeline.EvaluationContext) string {
	tiers := ctx.Policy.Tiers
	if len(tiers) == 0 {
		return ""
	}

	to := strings.ToLower(ctx.Transaction.To)
	for _, tier := range tiers {
		for _, addr := range tier.Triggers.TargetAddresses {
			if strings.ToLower(addr) == to {
				return tier.ID
			}
		}
	}

	if ctx.Decoded != nil && ctx.Decoded.Selector != "" {
		for _, tier := range tiers {
			for _, sig := range tier.Triggers.FunctionSignatures {
				if sig == ctx.Decoded.Selector {
					return tier.ID
				}
			}
		}
	}

	valueAtRisk := 0.0
	if ctx.Decoded != nil {
		valueAtRisk = ctx.Decoded.EstimatedValueUsd
	}

	byDescendingMin := append([]models.SecurityTierConfig(nil), tiers...)
	sort.SliceStable(byDescendingMin, func(i, j int) bool {
		return byDescendingMin[i].Triggers.MinValueAtRiskUsd > byDescendingMin[j].Triggers.MinValueAtRiskUsd
	})

	for _, tier := range byDescendingMin {
		t := tier.Triggers
		if valueAtRisk < t.MinValueAtRiskUsd {
			continue
		}
		if t.MaxValueAtRiskUsd > 0 && valueAtRisk > t.MaxValueAtRiskUsd {
			continue
		}
		return tier.ID
	}

	return byDescendingMin[len(byDescendingMin)-1].ID
}
