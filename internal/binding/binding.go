// Package binding maintains the variable symbol table for one workflow pass
// and performs {name} placeholder extraction and substitution.
package binding

import (
	"fmt"
	"regexp"
	"strings"
)

// refPattern matches {name} placeholder references in instruction text.
// Malformed braces simply do not match.
var refPattern = regexp.MustCompile(`\{([A-Za-z0-9_-]+)\}`)

// UndefinedVariableError reports a reference to a name not bound in the store.
type UndefinedVariableError struct {
	Name string
}

func (e *UndefinedVariableError) Error() string {
	return fmt.Sprintf("undefined variable: {%s}", e.Name)
}

// DuplicateOutputVariableError reports an output name bound twice in one pass.
type DuplicateOutputVariableError struct {
	Name string
}

func (e *DuplicateOutputVariableError) Error() string {
	return fmt.Sprintf("output variable already bound: %s", e.Name)
}

// Store is the symbol table for one workflow compilation/execution pass.
// Entries are appended as invocations complete, never overwritten, and the
// whole store is discarded when the pass ends. It is not safe for concurrent
// use; callers bind results strictly in source order.
type Store struct {
	values map[string]string
	order  []string
}

// NewStore creates an empty variable store for a fresh pass.
func NewStore() *Store {
	return &Store{values: make(map[string]string)}
}

// Bind records the captured result of an invocation under name.
// Rebinding a name within the same pass is an error.
func (s *Store) Bind(name, value string) error {
	if _, ok := s.values[name]; ok {
		return &DuplicateOutputVariableError{Name: name}
	}
	s.values[name] = value
	s.order = append(s.order, name)
	return nil
}

// Lookup returns the value bound to name.
func (s *Store) Lookup(name string) (string, bool) {
	v, ok := s.values[name]
	return v, ok
}

// Names returns all bound names in binding order.
func (s *Store) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of bound names.
func (s *Store) Len() int {
	return len(s.values)
}

// ExtractReferences returns every distinct name referenced as {name} in the
// instruction, in first-occurrence order. Pure; it never fails.
func ExtractReferences(instruction string) []string {
	matches := refPattern.FindAllStringSubmatch(instruction, -1)
	seen := make(map[string]bool, len(matches))
	var refs []string
	for _, m := range matches {
		name := m[1]
		if seen[name] {
			continue
		}
		seen[name] = true
		refs = append(refs, name)
	}
	return refs
}

// Interpolate replaces every {name} reference with its bound value.
// The substitution is all-or-nothing: if any referenced name is unbound, the
// error names the first unresolved reference and no partial result is
// returned. The store is never modified.
func Interpolate(instruction string, store *Store) (string, error) {
	for _, name := range ExtractReferences(instruction) {
		if _, ok := store.Lookup(name); !ok {
			return "", &UndefinedVariableError{Name: name}
		}
	}
	return refPattern.ReplaceAllStringFunc(instruction, func(match string) string {
		name := strings.Trim(match, "{}")
		v, _ := store.Lookup(name)
		return v
	}), nil
}
