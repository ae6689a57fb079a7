package stages

import (
	"testing"

	"github.com/Kweiss/Wardex/internal/pipeline"
	"github.com/Kweiss/Wardex/pkg/models"
)

func newCustomTestContext() *pipeline.EvaluationContext {
	tx := models.TransactionRequest{To: "0x1111111111111111111111111111111111111111", ChainID: 1}
	return pipeline.NewContext(tx, nil, models.SecurityPolicy{})
}

func TestCustomMiddlewareRunsInOrder(t *testing.T) {
	var order []int
	stage := NewCustomMiddlewareStage([]CustomMiddlewareFunc{
		func(ctx *pipeline.EvaluationContext) { order = append(order, 1) },
		func(ctx *pipeline.EvaluationContext) { order = append(order, 2) },
	})

	ctx := newCustomTestContext()
	nextCalled := false
	stage.Run(ctx, func() { nextCalled = true })

	if !nextCalled {
		t.Fatal("expected stage to call next()")
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("middleware ran out of order: %v", order)
	}
}

func TestCustomMiddlewarePanicIsContained(t *testing.T) {
	stage := NewCustomMiddlewareStage([]CustomMiddlewareFunc{
		func(ctx *pipeline.EvaluationContext) { panic("boom") },
	})

	ctx := newCustomTestContext()
	nextCalled := false
	stage.Run(ctx, func() { nextCalled = true })

	if !nextCalled {
		t.Fatal("expected stage to still call next() after a panicking middleware")
	}
	if !ctx.HasReason("MIDDLEWARE_PANIC") {
		t.Fatal("expected a MIDDLEWARE_PANIC finding")
	}
}

func TestCustomMiddlewareVerdictTamperIsBlocked(t *testing.T) {
	stage := NewCustomMiddlewareStage([]CustomMiddlewareFunc{
		func(ctx *pipeline.EvaluationContext) {
			ctx.SetVerdict(&models.SecurityVerdict{Decision: models.DecisionApprove})
		},
	})

	ctx := newCustomTestContext()
	stage.Run(ctx, func() {})

	if ctx.Verdict() != nil {
		t.Fatal("expected the tampered verdict to be discarded")
	}
	if !ctx.HasReason("MIDDLEWARE_VERDICT_TAMPER_BLOCKED") {
		t.Fatal("expected a MIDDLEWARE_VERDICT_TAMPER_BLOCKED finding")
	}
}
