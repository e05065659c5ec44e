// Package macro implements the expansion phase of the loom compiler.
//
// Macros are shorthand agent definitions expanded before invocation parsing:
//
//	macroDef   ::= "$" identifier ":=" "{" fieldList "}"
//	fieldList  ::= field ("," field)*
//	field      ::= ("base"|"prompt"|"model") ":" quotedText
//
// A call `$name:"instruction"(:outputVar)?` rewrites to a plain invocation of
// the macro's base agent, with the macro's prompt prepended to the call-site
// instruction (joined by a blank line). Expansion is purely textual: a prompt
// may contain {name} placeholders, which are resolved later against the call
// site's variable store, never against definition-time context.
package macro

import (
	"fmt"
	"strings"

	"github.com/soyeahso/loom/internal/domain"
	"github.com/soyeahso/loom/internal/lang"
)

// DefaultModel is used when a macro definition omits its model field.
const DefaultModel = "claude-sonnet-4-20250514"

// Definition is one parsed macro. It exists only during the expansion
// pre-pass and has no runtime representation afterwards.
type Definition struct {
	Name   string
	Base   string
	Prompt string
	Model  string
}

// Line is one line of expanded source. Model and Macro are side-channel
// metadata carried past the invocation grammar, which has no model slot;
// Num maps diagnostics back to the original source line.
type Line struct {
	Text  string
	Model string
	Macro string
	Num   int
}

// Result holds the outcome of one expansion pass.
type Result struct {
	Lines  []Line
	Macros map[string]Definition
}

// UndefinedMacroError reports a call to a macro that was never defined.
type UndefinedMacroError struct {
	Name string
}

func (e *UndefinedMacroError) Error() string {
	return fmt.Sprintf("undefined macro: $%s", e.Name)
}

// CircularReferenceError reports a macro whose expansion would need to
// reference itself, directly or through a chain of bases.
type CircularReferenceError struct {
	Name string
}

func (e *CircularReferenceError) Error() string {
	return fmt.Sprintf("circular macro reference: $%s", e.Name)
}

// Expand runs the macro pre-pass over raw workflow source. Definitions are
// stripped and registered; calls are rewritten into plain invocation lines;
// everything else passes through untouched. Whether a base names an agent
// that actually exists is not checked here — that is the resolver's job.
func Expand(source string) (*Result, error) {
	res := &Result{Macros: make(map[string]Definition)}

	lines := strings.Split(source, "\n")

	// First pass: collect and remove definitions.
	remaining := make([]struct {
		text string
		num  int
	}, 0, len(lines))
	for i, raw := range lines {
		text := strings.TrimSpace(raw)
		if isDefinition(text) {
			def, err := parseDefinition(text)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", i+1, err)
			}
			if _, dup := res.Macros[def.Name]; dup {
				return nil, fmt.Errorf("line %d: %w", i+1,
					&lang.SyntaxError{Line: text, Message: "macro redefined: $" + def.Name})
			}
			res.Macros[def.Name] = def
			continue
		}
		remaining = append(remaining, struct {
			text string
			num  int
		}{text, i + 1})
	}

	// Second pass: rewrite calls, pass plain lines through.
	for _, ln := range remaining {
		if !strings.HasPrefix(ln.text, "$") {
			res.Lines = append(res.Lines, Line{Text: ln.text, Num: ln.num})
			continue
		}

		// Calls share the invocation grammar with a leading '$'.
		call, err := lang.Parse(ln.text[1:])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", ln.num, err)
		}

		expanded, err := res.expandCall(call.AgentName, call.Instruction)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", ln.num, err)
		}

		res.Lines = append(res.Lines, Line{
			Text: lang.Serialize(domain.Invocation{
				AgentName:   expanded.Base,
				Instruction: expanded.Instruction,
				OutputVar:   call.OutputVar,
			}),
			Model: expanded.Model,
			Macro: call.AgentName,
			Num:   ln.num,
		})
	}

	return res, nil
}

// expansion is the intermediate result of rewriting one call.
type expansion struct {
	Base        string
	Instruction string
	Model       string
}

// expandCall rewrites a call to name with the given call-site instruction.
// A base may itself be a macro; the chain is followed with a guard against
// self-reference.
func (r *Result) expandCall(name, instruction string) (expansion, error) {
	seen := map[string]bool{}
	exp := expansion{Instruction: instruction}

	current := name
	for {
		if seen[current] {
			return expansion{}, &CircularReferenceError{Name: current}
		}
		seen[current] = true

		def, ok := r.Macros[current]
		if !ok {
			if current == name {
				return expansion{}, &UndefinedMacroError{Name: name}
			}
			// End of the chain: current is a plain agent name.
			exp.Base = current
			return exp, nil
		}

		exp.Instruction = def.Prompt + "\n\n" + exp.Instruction
		if exp.Model == "" && def.Model != "" {
			exp.Model = def.Model
		}

		if _, chained := r.Macros[def.Base]; !chained {
			exp.Base = def.Base
			if exp.Model == "" {
				exp.Model = DefaultModel
			}
			return exp, nil
		}
		current = def.Base
	}
}

// isDefinition reports whether a trimmed line looks like `$name := {...}`.
func isDefinition(line string) bool {
	if !strings.HasPrefix(line, "$") {
		return false
	}
	rest := line[1:]
	i := 0
	for i < len(rest) && rest[i] != ' ' && rest[i] != ':' && rest[i] != '\t' {
		i++
	}
	return strings.HasPrefix(strings.TrimSpace(rest[i:]), ":=")
}

// parseDefinition parses `$name := { base: "...", prompt: "...", model: "..." }`.
func parseDefinition(line string) (Definition, error) {
	fail := func(msg string) (Definition, error) {
		return Definition{}, &lang.SyntaxError{Line: line, Message: msg}
	}

	rest := strings.TrimPrefix(line, "$")
	eq := strings.Index(rest, ":=")
	if eq < 0 {
		return fail("expected ':=' in macro definition")
	}

	name := strings.TrimSpace(rest[:eq])
	if !lang.IsIdentifier(name) {
		return fail("invalid macro name")
	}

	body := strings.TrimSpace(rest[eq+2:])
	if !strings.HasPrefix(body, "{") || !strings.HasSuffix(body, "}") {
		return fail("expected '{...}' macro body")
	}
	body = strings.TrimSpace(body[1 : len(body)-1])

	def := Definition{Name: name}
	for _, field := range splitFields(body) {
		key, value, err := parseField(field)
		if err != nil {
			return Definition{}, err
		}
		switch key {
		case "base":
			def.Base = value
		case "prompt":
			def.Prompt = value
		case "model":
			def.Model = value
		default:
			return fail("unknown macro field: " + key)
		}
	}

	if def.Base == "" {
		return fail("macro $" + name + " is missing required field 'base'")
	}
	if def.Prompt == "" {
		return fail("macro $" + name + " is missing required field 'prompt'")
	}
	return def, nil
}

// splitFields splits a field list on commas that are outside quoted text.
func splitFields(body string) []string {
	var fields []string
	var b strings.Builder
	inQuote := false
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case c == '\\' && inQuote && i+1 < len(body) && body[i+1] == '"':
			b.WriteByte(c)
			b.WriteByte('"')
			i++
		case c == '"':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == ',' && !inQuote:
			fields = append(fields, b.String())
			b.Reset()
		default:
			b.WriteByte(c)
		}
	}
	if strings.TrimSpace(b.String()) != "" {
		fields = append(fields, b.String())
	}
	return fields
}

// parseField parses one `key: "quoted value"` field.
func parseField(field string) (key, value string, err error) {
	colon := strings.Index(field, ":")
	if colon < 0 {
		return "", "", &lang.SyntaxError{Line: field, Message: "expected ':' in macro field"}
	}
	key = strings.TrimSpace(field[:colon])

	raw := strings.TrimSpace(field[colon+1:])
	if len(raw) < 2 || raw[0] != '"' || raw[len(raw)-1] != '"' {
		return "", "", &lang.SyntaxError{Line: field, Message: "macro field value must be quoted"}
	}
	value = strings.ReplaceAll(raw[1:len(raw)-1], `\"`, `"`)
	return key, value, nil
}
