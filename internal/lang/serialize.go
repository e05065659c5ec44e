package lang

import (
	"strings"

	"github.com/soyeahso/loom/internal/domain"
)

// Serialize renders an Invocation back into canonical source form.
// For every valid line s, Serialize(Parse(s)) == Normalize(s).
func Serialize(inv domain.Invocation) string {
	var b strings.Builder
	b.WriteString(inv.AgentName)
	b.WriteString(`:"`)
	b.WriteString(strings.ReplaceAll(inv.Instruction, `"`, `\"`))
	b.WriteString(`"`)
	if inv.OutputVar != "" {
		b.WriteString(":")
		b.WriteString(inv.OutputVar)
	}
	return b.String()
}

// Normalize parses a line and re-serializes it in canonical form.
func Normalize(line string) (string, error) {
	inv, err := Parse(line)
	if err != nil {
		return "", err
	}
	return Serialize(inv), nil
}
