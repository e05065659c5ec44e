// Package compile turns workflow source into an executable plan. Compilation
// runs macro expansion, parses every invocation, resolves every agent name,
// and checks variable references symbolically, so a plan that compiles cannot
// fail on grammar, resolution, or binding structure at run time.
package compile

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/soyeahso/loom/internal/binding"
	"github.com/soyeahso/loom/internal/domain"
	"github.com/soyeahso/loom/internal/lang"
	"github.com/soyeahso/loom/internal/logging"
	"github.com/soyeahso/loom/internal/macro"
	"github.com/soyeahso/loom/internal/registry"
	"github.com/soyeahso/loom/internal/resolve"
)

// Step is one fully resolved invocation in a plan.
type Step struct {
	ID         string                 `json:"id"`
	Invocation domain.Invocation      `json:"invocation"`
	Descriptor domain.AgentDescriptor `json:"descriptor"`
	// Model is set when the step came from a macro call; empty means the
	// dispatcher's default applies.
	Model string `json:"model,omitempty"`
	// References are the {name} variables the instruction consumes, in
	// first-occurrence order.
	References []string `json:"references,omitempty"`
	// Line is the 1-based source line, pre-expansion; Macro names the macro
	// the step was expanded from, if any.
	Line  int    `json:"line"`
	Macro string `json:"macro,omitempty"`
}

// Plan is the compiled form of one workflow.
type Plan struct {
	ID    string `json:"id"`
	Steps []Step `json:"steps"`
}

// Compiler performs the full front-end pass.
type Compiler struct {
	resolver *resolve.Resolver
	log      *logging.Logger
}

// New creates a compiler over the given resolver.
func New(resolver *resolve.Resolver, log *logging.Logger) *Compiler {
	return &Compiler{resolver: resolver, log: log.Sub("compile")}
}

// Compile builds a plan from workflow source. Blank lines and lines starting
// with '#' are skipped. Any error is reported against its source line.
func (c *Compiler) Compile(source string) (*Plan, error) {
	expanded, err := macro.Expand(source)
	if err != nil {
		return nil, err
	}

	plan := &Plan{ID: uuid.New().String()}

	// Symbol table of output names bound by earlier steps. References are
	// checked against it so forward references and rebinding fail here, not
	// mid-run.
	bound := map[string]bool{}

	for _, ln := range expanded.Lines {
		text := strings.TrimSpace(ln.Text)
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		inv, err := lang.Parse(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", ln.Num, err)
		}

		desc, err := c.resolver.Resolve(inv.AgentName)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", ln.Num, err)
		}

		refs := binding.ExtractReferences(inv.Instruction)
		for _, ref := range refs {
			if !bound[ref] {
				return nil, fmt.Errorf("line %d: %w", ln.Num, &binding.UndefinedVariableError{Name: ref})
			}
		}

		if inv.HasOutput() {
			if bound[inv.OutputVar] {
				return nil, fmt.Errorf("line %d: %w", ln.Num, &binding.DuplicateOutputVariableError{Name: inv.OutputVar})
			}
			bound[inv.OutputVar] = true
		}

		plan.Steps = append(plan.Steps, Step{
			ID:         uuid.New().String(),
			Invocation: inv,
			Descriptor: desc,
			Model:      ln.Model,
			References: refs,
			Line:       ln.Num,
			Macro:      ln.Macro,
		})
	}

	c.log.Debug().Int("steps", len(plan.Steps)).Str("plan", plan.ID).Msg("workflow compiled")
	return plan, nil
}

// RecordUsage bumps the usage counter of every defined agent the plan
// invokes, once per step. Kept separate from Compile so that dry compiles
// (validation, editor tooling) leave the registry untouched.
func RecordUsage(plan *Plan, store registry.Store) error {
	for _, step := range plan.Steps {
		if step.Descriptor.Source != domain.SourceDefined {
			continue
		}
		if err := store.IncrementUsage(step.Descriptor.Name); err != nil {
			return err
		}
	}
	return nil
}
