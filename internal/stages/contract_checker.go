package stages

import (
	"context"
	"time"

	"github.com/Kweiss/Wardex/internal/pipeline"
	"github.com/Kweiss/Wardex/internal/providers"
	"github.com/Kweiss/Wardex/pkg/models"
)

const contractAnalysisTimeout = 5 * time.Second

// NewContractChecker builds the Contract Checker stage (spec.md §4.2
// stage 5). It is skipped unless the transaction carries calldata or the
// Address Checker already labelled the target as a contract.
func NewContractChecker(provider providers.ContractAnalysisProvider) pipeline.Stage {
	return pipeline.StageFunc{StageName: "contract_checker", Fn: func(ctx *pipeline.EvaluationContext, next func()) {
		hasCalldata := len(ctx.Transaction.DataBytes()) > 0
		labelledContract := ctx.Address != nil && ctx.Address.IsContract
		if !hasCalldata && !labelledContract {
			next()
			return
		}
		if provider == nil {
			next()
			return
		}

		reqCtx, cancel := context.WithTimeout(context.Background(), contractAnalysisTimeout)
		analysis, err := provider.AnalyzeContract(reqCtx, ctx.Transaction.ChainID, ctx.Transaction.To, nil)
		cancel()
		if err != nil || analysis == nil {
			ctx.AddReason(models.SecurityReason{
				Code:     "INTELLIGENCE_UNAVAILABLE",
				Message:  "contract analysis provider unavailable",
				Severity: models.SeverityInfo,
				Source:   models.SourceContract,
			})
			next()
			return
		}
		ctx.Contract = analysis

		if analysis.HasSelfDestruct {
			ctx.AddReason(models.SecurityReason{
				Code:     "CONTRACT_SELFDESTRUCT",
				Message:  "contract bytecode contains a SELFDESTRUCT opcode",
				Severity: models.SeverityCritical,
				Source:   models.SourceContract,
			})
		}
		if analysis.HasUnsafeDelegatecall && !analysis.Verified {
			ctx.AddReason(models.SecurityReason{
				Code:     "CONTRACT_UNSAFE_DELEGATECALL",
				Message:  "unverified contract bytecode contains DELEGATECALL",
				Severity: models.SeverityHigh,
				Source:   models.SourceContract,
			})
		}
		if analysis.IsUnverifiedProxy {
			ctx.AddReason(models.SecurityReason{
				Code:     "CONTRACT_UNVERIFIED_PROXY",
				Message:  "contract is an unverified proxy (EIP-1167/1967 pattern)",
				Severity: models.SeverityHigh,
				Source:   models.SourceContract,
			})
		}
		if !analysis.Verified {
			ctx.AddReason(models.SecurityReason{
				Code:     "CONTRACT_UNVERIFIED",
				Message:  "contract source is not verified",
				Severity: models.SeverityMedium,
				Source:   models.SourceContract,
			})
		}
		if analysis.AllowsInfiniteApproval && ctx.Decoded != nil && ctx.Decoded.IsApproval {
			ctx.AddReason(models.SecurityReason{
				Code:     "CONTRACT_ALLOWS_INFINITE_APPROVAL",
				Message:  "contract is known to accept infinite approvals",
				Severity: models.SeverityMedium,
				Source:   models.SourceContract,
			})
		}
		for _, pat := range analysis.CustomPatterns {
			ctx.AddReason(models.SecurityReason{
				Code:     "CONTRACT_CUSTOM_PATTERN",
				Message:  pat.Description,
				Severity: models.Severity(pat.Severity),
				Source:   models.SourceContract,
			})
		}

		next()
	}}
}
