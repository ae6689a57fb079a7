package stages

import (
	"github.com/holiman/uint256"

	"github.com/Kweiss/Wardex/internal/pipeline"
)

// weiToUsd converts a wei amount to an estimated USD value at the given
// native price, mirroring the teacher's BTC→USD-equivalent scaling in
// internal/heuristics/realtime_risk.go (there: sats / 1e8 * price;
// here: wei / 1e18 * price).
func weiToUsd(wei *uint256.Int, nativeUsdPrice float64) float64 {
	if wei == nil || nativeUsdPrice <= 0 {
		return 0
	}
	f, _ := wei.Float64()
	return f / 1e18 * nativeUsdPrice
}

// NewValueAssessor builds the Value Assessor stage (spec.md §4.2 stage
// 3): converts native value to USD, applies per-token pricing for
// approvals/transfers, and clamps infinite approvals to the configured
// conservative floor so they always escalate to the highest tier.
func NewValueAssessor() pipeline.Stage {
	return pipeline.StageFunc{StageName: "value_assessor", Fn: func(ctx *pipeline.EvaluationContext, next func()) {
		cfg := ctx.Policy.ValueCfg
		decoded := ctx.Decoded
		if decoded == nil {
			next()
			return
		}

		estimate := weiToUsd(ctx.Transaction.ValueOrZero(), cfg.NativeUsdPrice)

		if decoded.IsApproval || decoded.IsTransfer {
			if amt, ok := decoded.Params["amount"].(*uint256.Int); ok {
				tokenPrice, known := cfg.TokenUsdPrices[ctx.Transaction.To]
				if known {
					f, _ := amt.Float64()
					// Token amounts are assumed 18-decimals absent per-token
					// decimals metadata, matching the ERC-20 convention the
					// fixed selector table (decoder.go) already targets.
					estimate = f / 1e18 * tokenPrice
				}
			}
		}

		if ctx.HasReason("INFINITE_APPROVAL") {
			clamp := cfg.InfiniteApprovalClampUsd
			if clamp <= 0 {
				clamp = 100_000
			}
			if estimate < clamp {
				estimate = clamp
			}
		}

		decoded.EstimatedValueUsd = estimate
		next()
	}}
}
