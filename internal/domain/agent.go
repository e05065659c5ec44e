package domain

import "time"

// AgentSource identifies the provenance tier that owns an agent name.
type AgentSource string

const (
	SourceBuiltin   AgentSource = "builtin"
	SourceDefined   AgentSource = "defined"
	SourceTemporary AgentSource = "temporary"
)

// AgentDescriptor is the resolution result for one agent name.
// Path is empty for builtin agents, which have no definition file.
type AgentDescriptor struct {
	Name   string      `json:"name"`
	Source AgentSource `json:"source"`
	Path   string      `json:"path,omitempty"`
}

// RegistryEntry is the persisted metadata for one defined (promoted) agent.
// AgentName is the primary key across the registry.
type RegistryEntry struct {
	AgentName   string    `json:"agentName"`
	FilePath    string    `json:"file"`
	Description string    `json:"description,omitempty"`
	Created     time.Time `json:"created"`
	UsageCount  int       `json:"usageCount"`
}
