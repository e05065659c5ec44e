// Package resolve maps agent names to their definitions across the three
// provenance tiers: builtin, defined (registry), and temporary. The first
// tier to claim a name wins; later tiers cannot shadow earlier ones.
package resolve

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/soyeahso/loom/internal/domain"
	"github.com/soyeahso/loom/internal/lang"
	"github.com/soyeahso/loom/internal/logging"
	"github.com/soyeahso/loom/internal/registry"
)

// UnknownAgentError reports a name that no tier could resolve.
type UnknownAgentError struct {
	Name string
}

func (e *UnknownAgentError) Error() string {
	return fmt.Sprintf("unknown agent: %s", e.Name)
}

// Tier resolves names for one provenance level.
type Tier interface {
	// Resolve returns the descriptor for name, with ok=false when this tier
	// does not own it. Resolution must be read-only and repeatable.
	Resolve(name string) (domain.AgentDescriptor, bool, error)
	// All lists every agent this tier currently knows about.
	All() ([]domain.AgentDescriptor, error)
}

// Resolver chains tiers in precedence order.
type Resolver struct {
	tiers []Tier
	log   *logging.Logger
}

// New creates a resolver with the standard tier chain: builtins, then the
// registry store, then the temp-agent directory.
func New(store registry.Store, tempDir string, log *logging.Logger) *Resolver {
	return &Resolver{
		tiers: []Tier{
			builtinTier{},
			definedTier{store: store},
			tempTier{dir: tempDir},
		},
		log: log.Sub("resolve"),
	}
}

// NewWithTiers creates a resolver over an explicit tier chain, mostly for tests.
func NewWithTiers(log *logging.Logger, tiers ...Tier) *Resolver {
	return &Resolver{tiers: tiers, log: log.Sub("resolve")}
}

// Resolve returns the descriptor for name from the highest-precedence tier
// that owns it. Resolving the same name twice without intervening registry or
// filesystem changes always yields the same descriptor.
func (r *Resolver) Resolve(name string) (domain.AgentDescriptor, error) {
	for _, tier := range r.tiers {
		desc, ok, err := tier.Resolve(name)
		if err != nil {
			return domain.AgentDescriptor{}, err
		}
		if ok {
			return desc, nil
		}
	}
	r.log.Debug().Str("agent", name).Msg("agent not found in any tier")
	return domain.AgentDescriptor{}, &UnknownAgentError{Name: name}
}

// List returns every resolvable agent across all tiers. A name claimed by
// more than one tier appears once, under its winning tier.
func (r *Resolver) List() ([]domain.AgentDescriptor, error) {
	seen := map[string]bool{}
	var out []domain.AgentDescriptor
	for _, tier := range r.tiers {
		descs, err := tier.All()
		if err != nil {
			return nil, err
		}
		for _, d := range descs {
			if seen[d.Name] {
				continue
			}
			seen[d.Name] = true
			out = append(out, d)
		}
	}
	return out, nil
}

// Builtins returns the names of the built-in agents in stable order.
func Builtins() []string {
	names := make([]string, len(builtinAgents))
	copy(names, builtinAgents)
	return names
}

// builtinAgents ship with the binary and need no definition file.
var builtinAgents = []string{
	"general-purpose",
	"explore",
	"plan",
	"summarize",
	"review",
}

type builtinTier struct{}

func (builtinTier) Resolve(name string) (domain.AgentDescriptor, bool, error) {
	for _, b := range builtinAgents {
		if b == name {
			return domain.AgentDescriptor{Name: name, Source: domain.SourceBuiltin}, true, nil
		}
	}
	return domain.AgentDescriptor{}, false, nil
}

func (builtinTier) All() ([]domain.AgentDescriptor, error) {
	out := make([]domain.AgentDescriptor, 0, len(builtinAgents))
	for _, b := range builtinAgents {
		out = append(out, domain.AgentDescriptor{Name: b, Source: domain.SourceBuiltin})
	}
	return out, nil
}

// definedTier resolves promoted agents through the registry store. The store
// is the source of truth; a registry entry whose file has gone missing still
// resolves here and fails later, at dispatch, with a clear file error.
type definedTier struct {
	store registry.Store
}

func (t definedTier) Resolve(name string) (domain.AgentDescriptor, bool, error) {
	entry, ok, err := t.store.Get(name)
	if err != nil {
		return domain.AgentDescriptor{}, false, err
	}
	if !ok {
		return domain.AgentDescriptor{}, false, nil
	}
	return domain.AgentDescriptor{
		Name:   name,
		Source: domain.SourceDefined,
		Path:   entry.FilePath,
	}, true, nil
}

func (t definedTier) All() ([]domain.AgentDescriptor, error) {
	entries, err := t.store.List()
	if err != nil {
		return nil, err
	}
	out := make([]domain.AgentDescriptor, 0, len(entries))
	for _, e := range entries {
		out = append(out, domain.AgentDescriptor{
			Name:   e.AgentName,
			Source: domain.SourceDefined,
			Path:   e.FilePath,
		})
	}
	return out, nil
}

// tempTier resolves scratch agents straight off the temp directory.
type tempTier struct {
	dir string
}

func (t tempTier) Resolve(name string) (domain.AgentDescriptor, bool, error) {
	// Names reach this tier from RPC and CLI callers too, not just the
	// parser, and become file names here. Non-identifiers never resolve.
	if !lang.IsIdentifier(name) {
		return domain.AgentDescriptor{}, false, nil
	}

	path := filepath.Join(t.dir, name+".md")
	_, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.AgentDescriptor{}, false, nil
	}
	if err != nil {
		return domain.AgentDescriptor{}, false, err
	}
	return domain.AgentDescriptor{
		Name:   name,
		Source: domain.SourceTemporary,
		Path:   path,
	}, true, nil
}

func (t tempTier) All() ([]domain.AgentDescriptor, error) {
	entries, err := os.ReadDir(t.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []domain.AgentDescriptor
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".md")
		out = append(out, domain.AgentDescriptor{
			Name:   name,
			Source: domain.SourceTemporary,
			Path:   filepath.Join(t.dir, e.Name()),
		})
	}
	return out, nil
}
