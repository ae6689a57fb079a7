package stages

import (
	"fmt"

	"github.com/Kweiss/Wardex/internal/pipeline"
	"github.com/Kweiss/Wardex/pkg/models"
)

// CustomMiddlewareFunc is an operator-registered inspection function
// (spec.md §4.2 stage 7). It may read the context and add reasons; it
// must not set the verdict — that is the Policy Engine's exclusive job
// (stage 9) — and any attempt to do so is detected and discarded.
type CustomMiddlewareFunc func(ctx *pipeline.EvaluationContext)

// NewCustomMiddlewareStage builds the Custom middleware stage. Each
// registered function runs in its own recover()-guarded call, the same
// isolation discipline the teacher applies around third-party gin
// handlers in internal/api/routes.go — a panicking middleware degrades
// to a recorded finding rather than aborting the evaluation.
func NewCustomMiddlewareStage(fns []CustomMiddlewareFunc) pipeline.Stage {
	return pipeline.StageFunc{StageName: "custom_middleware", Fn: func(ctx *pipeline.EvaluationContext, next func()) {
		for i, fn := range fns {
			runGuarded(ctx, i, fn)
		}
		next()
	}}
}

func runGuarded(ctx *pipeline.EvaluationContext, index int, fn CustomMiddlewareFunc) {
	defer func() {
		if r := recover(); r != nil {
			ctx.AddReason(models.SecurityReason{
				Code:     "MIDDLEWARE_PANIC",
				Message:  fmt.Sprintf("custom middleware %d panicked: %v", index, r),
				Severity: models.SeverityMedium,
				Source:   models.SourcePolicy,
			})
		}
	}()

	fn(ctx)

	if ctx.Verdict() != nil {
		// Only the Policy Engine (stage 9) may set the verdict slot. A
		// custom middleware that reaches in and sets one early is either
		// buggy or actively trying to force a decision before the
		// remaining stages and the real Policy Engine run.
		ctx.SetVerdict(nil)
		ctx.AddReason(models.SecurityReason{
			Code:     "MIDDLEWARE_VERDICT_TAMPER_BLOCKED",
			Message:  fmt.Sprintf("custom middleware %d attempted to set the verdict directly; discarded", index),
			Severity: models.SeverityCritical,
			Source:   models.SourcePolicy,
		})
	}
}
