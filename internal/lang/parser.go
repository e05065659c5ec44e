// Package lang implements the invocation grammar of the loom workflow language.
//
// One invocation per line:
//
//	invocation ::= agentName ":" quotedText (":" outputVariable)?
//	agentName  ::= [A-Za-z0-9_-]+
//	quotedText ::= '"' ( '\"' | [^"] )* '"'
//
// The line must match the grammar in full. The output-variable suffix is
// recognized only when it immediately follows the closing quote; any other
// trailing text rejects the whole line rather than producing a partial match.
package lang

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/soyeahso/loom/internal/domain"
)

// identPattern matches a full identifier (agent names, variable names, macro names).
var identPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// IsIdentifier reports whether s is a valid identifier.
func IsIdentifier(s string) bool {
	return identPattern.MatchString(s)
}

// SyntaxError reports a line that does not match the invocation grammar.
// Pos is the zero-based byte offset where scanning failed.
type SyntaxError struct {
	Line    string
	Pos     int
	Message string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at column %d: %s", e.Pos+1, e.Message)
}

// Parse converts one line of workflow source into an Invocation.
// It has no side effects; the same input always yields the same result.
func Parse(line string) (domain.Invocation, error) {
	s := strings.TrimSpace(line)
	p := &scanner{input: s}

	name := p.scanIdentifier()
	if name == "" {
		return domain.Invocation{}, p.fail("expected agent name")
	}
	if !p.consume(':') {
		return domain.Invocation{}, p.fail("expected ':' after agent name")
	}

	instruction, err := p.scanQuoted()
	if err != nil {
		return domain.Invocation{}, err
	}

	inv := domain.Invocation{AgentName: name, Instruction: instruction}

	// Optional capture suffix. It must start immediately after the closing
	// quote and consume the rest of the line.
	if !p.done() {
		if !p.consume(':') {
			return domain.Invocation{}, p.fail("unexpected text after closing quote")
		}
		out := p.scanIdentifier()
		if out == "" {
			return domain.Invocation{}, p.fail("expected output variable after ':'")
		}
		if !p.done() {
			return domain.Invocation{}, p.fail("unexpected text after output variable")
		}
		inv.OutputVar = out
	}

	return inv, nil
}

// scanner is a minimal cursor over one source line.
type scanner struct {
	input string
	pos   int
}

func (p *scanner) done() bool {
	return p.pos >= len(p.input)
}

func (p *scanner) consume(c byte) bool {
	if p.done() || p.input[p.pos] != c {
		return false
	}
	p.pos++
	return true
}

func (p *scanner) scanIdentifier() string {
	start := p.pos
	for !p.done() && isIdentChar(p.input[p.pos]) {
		p.pos++
	}
	return p.input[start:p.pos]
}

// scanQuoted reads a double-quoted string, unescaping \" sequences.
func (p *scanner) scanQuoted() (string, error) {
	if !p.consume('"') {
		return "", p.fail("expected '\"' to open instruction text")
	}
	var b strings.Builder
	for !p.done() {
		c := p.input[p.pos]
		switch c {
		case '"':
			p.pos++
			return b.String(), nil
		case '\\':
			if p.pos+1 < len(p.input) && p.input[p.pos+1] == '"' {
				b.WriteByte('"')
				p.pos += 2
				continue
			}
			b.WriteByte(c)
			p.pos++
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
	return "", p.fail("unterminated instruction text")
}

func (p *scanner) fail(msg string) *SyntaxError {
	return &SyntaxError{Line: p.input, Pos: p.pos, Message: msg}
}

func isIdentChar(c byte) bool {
	return c >= 'a' && c <= 'z' ||
		c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' ||
		c == '_' || c == '-'
}
