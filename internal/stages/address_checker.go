package stages

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Kweiss/Wardex/internal/pipeline"
	"github.com/Kweiss/Wardex/internal/providers"
	"github.com/Kweiss/Wardex/pkg/models"
)

const addressReputationTimeout = 3 * time.Second

// NewAddressChecker builds the Address Checker stage (spec.md §4.2
// stage 4). A nil provider is valid — the stage degrades to allow/deny
// list checks only, same posture as a provider timing out.
func NewAddressChecker(provider providers.AddressReputationProvider) pipeline.Stage {
	return pipeline.StageFunc{StageName: "address_checker", Fn: func(ctx *pipeline.EvaluationContext, next func()) {
		to := strings.ToLower(ctx.Transaction.To)

		for _, denied := range ctx.Policy.Denylist.Addresses {
			if strings.ToLower(denied) == to {
				ctx.AddReason(models.SecurityReason{
					Code:     "DENYLISTED_ADDRESS",
					Message:  fmt.Sprintf("%s is on the denylist", to),
					Severity: models.SeverityCritical,
					Source:   models.SourceAddress,
				})
				next()
				return
			}
		}

		allowlisted := false
		for _, allowed := range ctx.Policy.Allowlist.Addresses {
			if strings.ToLower(allowed) == to {
				allowlisted = true
				break
			}
		}
		if allowlisted {
			ctx.AddressAllowlisted = true
			next()
			return
		}

		if provider != nil {
			reqCtx, cancel := context.WithTimeout(context.Background(), addressReputationTimeout)
			rep, err := provider.GetReputation(reqCtx, ctx.Transaction.ChainID, to)
			cancel()
			if err != nil || rep == nil {
				ctx.AddReason(models.SecurityReason{
					Code:     "INTELLIGENCE_UNAVAILABLE",
					Message:  "address reputation provider unavailable",
					Severity: models.SeverityInfo,
					Source:   models.SourceAddress,
				})
			} else {
				ctx.Address = rep
				if rep.AgeDays < 7 {
					ctx.AddReason(models.SecurityReason{
						Code:     "NEW_ADDRESS",
						Message:  fmt.Sprintf("address is %d days old", rep.AgeDays),
						Severity: models.SeverityMedium,
						Source:   models.SourceAddress,
					})
				}
				if rep.TxCount < 5 {
					ctx.AddReason(models.SecurityReason{
						Code:     "LOW_ACTIVITY_ADDRESS",
						Message:  fmt.Sprintf("address has only %d prior transactions", rep.TxCount),
						Severity: models.SeverityLow,
						Source:   models.SourceAddress,
					})
				}
				for _, factor := range rep.RiskFactors {
					ctx.AddReason(models.SecurityReason{
						Code:     "PROVIDER_RISK_FACTOR",
						Message:  factor.Description,
						Severity: models.SeverityHigh,
						Source:   models.SourceAddress,
					})
				}
			}
		}

		next()
	}}
}
