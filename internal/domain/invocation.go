// Package domain defines the core data types of the loom compiler.
package domain

// Invocation is one parsed line of workflow source: run an agent with an
// instruction, optionally capturing the result under an output variable.
// Constructed once by the parser and never mutated afterwards.
type Invocation struct {
	AgentName   string `json:"agentName"`
	Instruction string `json:"instruction"`
	OutputVar   string `json:"outputVar,omitempty"`
}

// HasOutput reports whether the invocation captures its result.
func (inv Invocation) HasOutput() bool {
	return inv.OutputVar != ""
}
