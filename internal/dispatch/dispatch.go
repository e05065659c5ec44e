// Package dispatch bridges compiled plan steps to an external agent runner
// process. The runner receives the step's instruction on stdin and describes
// the agent through LOOM_* environment variables; whatever it prints to
// stdout becomes the step's output.
package dispatch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/soyeahso/loom/internal/compile"
	"github.com/soyeahso/loom/internal/logging"
)

// Config configures the command dispatcher.
type Config struct {
	// Command is the agent runner binary, resolved via PATH.
	Command string

	// Args are fixed arguments passed before the agent name.
	Args []string

	// Timeout bounds a single step; zero means no per-step limit beyond the
	// caller's context.
	Timeout time.Duration
}

// CommandDispatcher executes one runner process per step.
type CommandDispatcher struct {
	cfg Config
	log *logging.Logger
}

// NewCommandDispatcher creates a dispatcher for the given runner command.
func NewCommandDispatcher(cfg Config, log *logging.Logger) *CommandDispatcher {
	return &CommandDispatcher{cfg: cfg, log: log.Sub("dispatch")}
}

// Dispatch runs the configured command for one step and returns its trimmed
// stdout. The step's agent identity travels in the environment:
//
//	LOOM_AGENT        agent name
//	LOOM_AGENT_SOURCE builtin | defined | temporary
//	LOOM_AGENT_FILE   definition file path, empty for builtins
//	LOOM_MODEL        model override, empty means the runner's default
func (d *CommandDispatcher) Dispatch(ctx context.Context, step compile.Step, instruction string) (string, error) {
	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	args := append(append([]string{}, d.cfg.Args...), step.Descriptor.Name)
	cmd := exec.CommandContext(ctx, d.cfg.Command, args...)
	cmd.Stdin = strings.NewReader(instruction)
	cmd.Env = append(os.Environ(),
		"LOOM_AGENT="+step.Descriptor.Name,
		"LOOM_AGENT_SOURCE="+string(step.Descriptor.Source),
		"LOOM_AGENT_FILE="+step.Descriptor.Path,
		"LOOM_MODEL="+step.Model,
	)

	d.log.Debug().
		Str("cmd", d.cfg.Command).
		Str("agent", step.Descriptor.Name).
		Str("model", step.Model).
		Msg("running step")

	start := time.Now()
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("%s: step timed out after %s", d.cfg.Command, d.cfg.Timeout)
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("%s exited %d: %s", d.cfg.Command, exitErr.ExitCode(), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("%s: %w", d.cfg.Command, err)
	}

	d.log.Debug().
		Str("agent", step.Descriptor.Name).
		Dur("duration", time.Since(start)).
		Msg("step done")

	return strings.TrimRight(string(out), "\n"), nil
}

// CommandExists checks whether the runner command is available in PATH.
func CommandExists(command string) bool {
	_, err := exec.LookPath(command)
	return err == nil
}
