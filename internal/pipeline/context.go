// Package pipeline implements the composable middleware chain that
// dispatches a transaction evaluation through the nine stages of
// internal/stages. Composition mirrors gin's own c.Next() convention
// (see internal/api/auth.go, internal/api/ratelimit.go for the same
// single-advance-per-middleware discipline applied to HTTP requests):
// each stage calls ctx.Next() exactly once to hand off to the following
// stage, and the pipeline detects a stage that calls it twice.
package pipeline

import (
	"github.com/Kweiss/Wardex/internal/providers"
	"github.com/Kweiss/Wardex/pkg/models"
)

// EvaluationContext is the mutable accumulator threaded through every
// stage, analogous to the teacher's PrivacyAnalysisResult being filled
// in across the 28-step heuristics pipeline.
type EvaluationContext struct {
	Transaction  models.TransactionRequest
	Conversation *models.ConversationContext
	Policy       models.SecurityPolicy // immutable snapshot (Clone()) for custom stages

	Decoded  *models.DecodedTransaction
	Address  *providers.AddressReputation
	Contract *providers.ContractAnalysis

	Reasons []models.SecurityReason
	Scores  models.RiskScores

	// AddressAllowlisted is set by the Address Checker stage when the
	// transaction's target matched the policy allowlist, an override
	// the Risk Aggregator consults when computing Scores.Transaction
	// (spec.md §4.2 stage 4: "allowlist match ... yields score 0").
	AddressAllowlisted bool

	MatchedTierID string

	// Metadata carries free-form inter-stage state, notably the final
	// verdict slot once the Policy Engine stage runs.
	Metadata map[string]interface{}

	dispatched int // high-water mark of the last index dispatched, for double-next detection
}

// AddReason appends a finding to the context.
func (c *EvaluationContext) AddReason(r models.SecurityReason) {
	c.Reasons = append(c.Reasons, r)
}

// HasReason reports whether a reason with the given code was already
// recorded.
func (c *EvaluationContext) HasReason(code string) bool {
	for _, r := range c.Reasons {
		if r.Code == code {
			return true
		}
	}
	return false
}

// SetVerdict stores the terminal verdict in metadata, recording its
// identity so tamper detection (spec.md §4.2 stage 7) can later tell
// whether a custom middleware silently replaced it.
func (c *EvaluationContext) SetVerdict(v *models.SecurityVerdict) {
	if c.Metadata == nil {
		c.Metadata = make(map[string]interface{})
	}
	c.Metadata["verdict"] = v
}

// Verdict retrieves the verdict slot, or nil if none has been set yet.
func (c *EvaluationContext) Verdict() *models.SecurityVerdict {
	if c.Metadata == nil {
		return nil
	}
	v, _ := c.Metadata["verdict"].(*models.SecurityVerdict)
	return v
}

// NewContext builds a fresh EvaluationContext for one evaluation. The
// policy is presented as a deep clone so no stage — custom middleware in
// particular — can mutate the shield's live policy (spec.md §4.2 stage 7,
// §9's "deep-frozen view" direction).
func NewContext(tx models.TransactionRequest, conv *models.ConversationContext, policy models.SecurityPolicy) *EvaluationContext {
	return &EvaluationContext{
		Transaction:  tx,
		Conversation: conv,
		Policy:       policy.Clone(),
		Metadata:     make(map[string]interface{}),
		dispatched:   -1,
	}
}
