package dispatch

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/soyeahso/loom/internal/compile"
	"github.com/soyeahso/loom/internal/domain"
	"github.com/soyeahso/loom/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStep() compile.Step {
	return compile.Step{
		ID: "step-1",
		Invocation: domain.Invocation{
			AgentName:   "scanner",
			Instruction: "scan the auth module",
		},
		Descriptor: domain.AgentDescriptor{
			Name:   "scanner",
			Source: domain.SourceDefined,
			Path:   "/agents/scanner.md",
		},
		Model: "claude-sonnet-4-20250514",
	}
}

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests exec sh")
	}
}

func TestDispatch_StdinToStdout(t *testing.T) {
	skipWithoutShell(t)

	d := NewCommandDispatcher(Config{
		Command: "sh",
		Args:    []string{"-c", "cat --"},
	}, logging.New(nil, "silent"))

	out, err := d.Dispatch(context.Background(), testStep(), "scan the auth module")
	require.NoError(t, err)
	assert.Equal(t, "scan the auth module", out)
}

func TestDispatch_Environment(t *testing.T) {
	skipWithoutShell(t)

	d := NewCommandDispatcher(Config{
		Command: "sh",
		Args:    []string{"-c", `printf '%s|%s|%s|%s' "$LOOM_AGENT" "$LOOM_AGENT_SOURCE" "$LOOM_AGENT_FILE" "$LOOM_MODEL"`},
	}, logging.New(nil, "silent"))

	out, err := d.Dispatch(context.Background(), testStep(), "")
	require.NoError(t, err)
	assert.Equal(t, "scanner|defined|/agents/scanner.md|claude-sonnet-4-20250514", out)
}

func TestDispatch_AgentNameAsLastArg(t *testing.T) {
	skipWithoutShell(t)

	// "$0" is the script, the agent name lands in "$1" after -c's script arg.
	d := NewCommandDispatcher(Config{
		Command: "sh",
		Args:    []string{"-c", `printf '%s' "$1"`, "runner"},
	}, logging.New(nil, "silent"))

	out, err := d.Dispatch(context.Background(), testStep(), "")
	require.NoError(t, err)
	assert.Equal(t, "scanner", out)
}

func TestDispatch_TrailingNewlineTrimmed(t *testing.T) {
	skipWithoutShell(t)

	d := NewCommandDispatcher(Config{
		Command: "sh",
		Args:    []string{"-c", `echo result`},
	}, logging.New(nil, "silent"))

	out, err := d.Dispatch(context.Background(), testStep(), "")
	require.NoError(t, err)
	assert.Equal(t, "result", out)
}

func TestDispatch_NonZeroExit(t *testing.T) {
	skipWithoutShell(t)

	d := NewCommandDispatcher(Config{
		Command: "sh",
		Args:    []string{"-c", `echo "agent blew up" >&2; exit 3`},
	}, logging.New(nil, "silent"))

	_, err := d.Dispatch(context.Background(), testStep(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited 3")
	assert.Contains(t, err.Error(), "agent blew up")
}

func TestDispatch_MissingCommand(t *testing.T) {
	d := NewCommandDispatcher(Config{
		Command: "definitely-not-a-real-binary-xyzzy",
	}, logging.New(nil, "silent"))

	_, err := d.Dispatch(context.Background(), testStep(), "")
	require.Error(t, err)
}

func TestDispatch_Timeout(t *testing.T) {
	skipWithoutShell(t)

	d := NewCommandDispatcher(Config{
		Command: "sh",
		Args:    []string{"-c", "sleep 5"},
		Timeout: 50 * time.Millisecond,
	}, logging.New(nil, "silent"))

	_, err := d.Dispatch(context.Background(), testStep(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestCommandExists(t *testing.T) {
	assert.True(t, CommandExists("sh"))
	assert.False(t, CommandExists("definitely-not-a-real-binary-xyzzy"))
}
