package compile

import (
	"context"
	"fmt"

	"github.com/soyeahso/loom/internal/binding"
	"github.com/soyeahso/loom/internal/logging"
)

// Dispatcher hands one step's fully interpolated instruction to an agent and
// returns its output.
type Dispatcher interface {
	Dispatch(ctx context.Context, step Step, instruction string) (string, error)
}

// DispatchFunc adapts a function to the Dispatcher interface.
type DispatchFunc func(ctx context.Context, step Step, instruction string) (string, error)

func (f DispatchFunc) Dispatch(ctx context.Context, step Step, instruction string) (string, error) {
	return f(ctx, step, instruction)
}

// StepResult is the outcome of executing one step.
type StepResult struct {
	StepID    string `json:"stepId"`
	AgentName string `json:"agent"`
	Output    string `json:"output"`
	OutputVar string `json:"outputVar,omitempty"`
	Line      int    `json:"line"`
}

// Runner executes compiled plans sequentially. Each run gets a fresh variable
// store; nothing leaks between runs.
type Runner struct {
	dispatcher Dispatcher
	log        *logging.Logger

	// OnStep, when set, is called after each step completes. Used by the
	// gateway to stream progress events.
	OnStep func(StepResult)
}

// NewRunner creates a runner over the given dispatcher.
func NewRunner(d Dispatcher, log *logging.Logger) *Runner {
	return &Runner{dispatcher: d, log: log.Sub("run")}
}

// Run executes every step of the plan in order, binding captured outputs as
// it goes. The first failing step aborts the run.
func (r *Runner) Run(ctx context.Context, plan *Plan) ([]StepResult, error) {
	store := binding.NewStore()
	results := make([]StepResult, 0, len(plan.Steps))

	for _, step := range plan.Steps {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		instruction, err := binding.Interpolate(step.Invocation.Instruction, store)
		if err != nil {
			return results, fmt.Errorf("line %d: %w", step.Line, err)
		}

		r.log.Info().
			Str("agent", step.Descriptor.Name).
			Int("line", step.Line).
			Msg("dispatching step")

		output, err := r.dispatcher.Dispatch(ctx, step, instruction)
		if err != nil {
			return results, fmt.Errorf("line %d: agent %s: %w", step.Line, step.Descriptor.Name, err)
		}

		if step.Invocation.HasOutput() {
			if err := store.Bind(step.Invocation.OutputVar, output); err != nil {
				return results, fmt.Errorf("line %d: %w", step.Line, err)
			}
		}

		res := StepResult{
			StepID:    step.ID,
			AgentName: step.Descriptor.Name,
			Output:    output,
			OutputVar: step.Invocation.OutputVar,
			Line:      step.Line,
		}
		results = append(results, res)
		if r.OnStep != nil {
			r.OnStep(res)
		}
	}

	return results, nil
}
