package pipeline

import "fmt"

// Stage is one link in the evaluation chain. A stage performs its work
// and then calls ctx.Next() exactly once to hand off to the following
// stage — or returns without calling it to short-circuit the chain
// (used by the Shield when it needs to stop evaluation early, e.g. a
// denylist hit that the Address Checker wants to finalize immediately
// is still expected to call Next() so the Risk Aggregator and Policy
// Engine stages run; only a hard fault skips them).
type Stage interface {
	Name() string
	Run(ctx *EvaluationContext, next func())
}

// StageFunc adapts a plain function to the Stage interface.
type StageFunc struct {
	StageName string
	Fn        func(ctx *EvaluationContext, next func())
}

func (f StageFunc) Name() string { return f.StageName }
func (f StageFunc) Run(ctx *EvaluationContext, next func()) { f.Fn(ctx, next) }

// Pipeline is an ordered, immutable list of stages dispatched through an
// index-tracking Dispatcher.
type Pipeline struct {
	stages []Stage
}

// New builds a pipeline from stages in registration order. Order is
// load-bearing (spec.md §4.1): later stages depend on earlier decoded
// data, aggregation must follow scoring, policy evaluation must be last.
func New(stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages}
}

// DoubleNextError is raised when a stage invokes next() more than once —
// a programming error per spec.md §4.1, surfaced so the caller can
// downgrade it to a PIPELINE_ERROR block-verdict rather than letting it
// corrupt evaluation order.
type DoubleNextError struct {
	Stage string
}

func (e *DoubleNextError) Error() string {
	return fmt.Sprintf("pipeline: stage %q invoked next() more than once", e.Stage)
}

// NoVerdictError is raised when every stage ran to completion without
// anything populating the verdict slot.
type NoVerdictError struct{}

func (e *NoVerdictError) Error() string { return "pipeline: no stage produced a verdict" }

// Run dispatches ctx through every registered stage in order. It panics
// with *DoubleNextError if a stage calls next() twice; callers evaluating
// untrusted custom middleware should run Run inside a recovered goroutine
// or defer/recover block (the Shield does this — see internal/shield).
func (p *Pipeline) Run(ctx *EvaluationContext) error {
	ctx.dispatched = -1

	var dispatch func(i int)
	dispatch = func(i int) {
		if i <= ctx.dispatched {
			name := "<pipeline end>"
			if i > 0 && i-1 < len(p.stages) {
				name = p.stages[i-1].Name()
			}
			panic(&DoubleNextError{Stage: name})
		}
		ctx.dispatched = i
		if i >= len(p.stages) {
			return
		}
		p.stages[i].Run(ctx, func() { dispatch(i + 1) })
	}
	dispatch(0)

	if ctx.Verdict() == nil {
		return &NoVerdictError{}
	}
	return nil
}

// Stages returns the registered stage list, in order — used by tests and
// by the Shield to verify composition.
func (p *Pipeline) Stages() []Stage {
	return p.stages
}
