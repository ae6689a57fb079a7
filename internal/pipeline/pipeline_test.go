package pipeline

import (
	"testing"

	"github.com/Kweiss/Wardex/pkg/models"
)

func newTestContext() *EvaluationContext {
	return NewContext(models.TransactionRequest{To: "0x1111111111111111111111111111111111111111", ChainID: 1}, nil, models.SecurityPolicy{})
}

func TestPipelineRunsInOrder(t *testing.T) {
	var order []string
	p := New(
		StageFunc{StageName: "one", Fn: func(ctx *EvaluationContext, next func()) {
			order = append(order, "one")
			next()
		}},
		StageFunc{StageName: "two", Fn: func(ctx *EvaluationContext, next func()) {
			order = append(order, "two")
			ctx.SetVerdict(&models.SecurityVerdict{Decision: models.DecisionApprove})
			next()
		}},
	)

	if err := p.Run(newTestContext()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 2 || order[0] != "one" || order[1] != "two" {
		t.Fatalf("stages ran out of order: %v", order)
	}
}

func TestPipelineNoVerdictIsError(t *testing.T) {
	p := New(StageFunc{StageName: "noop", Fn: func(ctx *EvaluationContext, next func()) { next() }})
	err := p.Run(newTestContext())
	if _, ok := err.(*NoVerdictError); !ok {
		t.Fatalf("expected NoVerdictError, got %v", err)
	}
}

func TestPipelineDoubleNextPanics(t *testing.T) {
	p := New(StageFunc{StageName: "greedy", Fn: func(ctx *EvaluationContext, next func()) {
		next()
		next()
	}})

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic on double next()")
		}
		if _, ok := r.(*DoubleNextError); !ok {
			t.Fatalf("expected *DoubleNextError, got %T: %v", r, r)
		}
	}()
	_ = p.Run(newTestContext())
}

func TestHasReason(t *testing.T) {
	ctx := newTestContext()
	ctx.AddReason(models.SecurityReason{Code: "FOO", Severity: models.SeverityLow, Source: models.SourcePolicy})
	if !ctx.HasReason("FOO") {
		t.Fatal("expected HasReason(FOO) to be true")
	}
	if ctx.HasReason("BAR") {
		t.Fatal("expected HasReason(BAR) to be false")
	}
}
