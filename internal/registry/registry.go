// Package registry persists the set of defined agents and manages the
// promotion of temporary agents into it. Two backends are provided: a JSON
// file for human-inspectable state and SQLite for concurrent access.
package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/soyeahso/loom/internal/domain"
	"github.com/soyeahso/loom/internal/lang"
	"github.com/soyeahso/loom/internal/logging"
)

// InvalidNameError reports an agent name outside the identifier grammar.
// Names become file names under the agent directories, so anything else
// (path separators, dots) is rejected before it touches the filesystem.
type InvalidNameError struct {
	Name string
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("invalid agent name: %q", e.Name)
}

// IOError wraps a failure to read or write registry state.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("registry %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Store is the persistence interface for defined-agent metadata.
type Store interface {
	// Get returns the entry for name, with ok=false when it does not exist.
	Get(name string) (domain.RegistryEntry, bool, error)
	// List returns all entries sorted by agent name.
	List() ([]domain.RegistryEntry, error)
	// Put inserts or replaces the entry keyed by entry.AgentName.
	Put(entry domain.RegistryEntry) error
	// Delete removes the entry for name, reporting whether it existed.
	Delete(name string) (bool, error)
	// IncrementUsage bumps the usage counter for name. Unknown names are a
	// no-op; usage tracking is best-effort and never fails a workflow.
	IncrementUsage(name string) error
	Close() error
}

// Manager couples a Store with the on-disk agent directories and implements
// the lifecycle operations that touch both.
type Manager struct {
	store     Store
	agentsDir string
	tempDir   string
	log       *logging.Logger
}

// NewManager creates a lifecycle manager over the given store and directories.
func NewManager(store Store, agentsDir, tempDir string, log *logging.Logger) *Manager {
	return &Manager{
		store:     store,
		agentsDir: agentsDir,
		tempDir:   tempDir,
		log:       log.Sub("registry"),
	}
}

// Store returns the underlying metadata store.
func (m *Manager) Store() Store {
	return m.store
}

// AgentFile returns the definition path a defined agent named name would use.
func (m *Manager) AgentFile(name string) string {
	return filepath.Join(m.agentsDir, name+".md")
}

// TempFile returns the definition path a temporary agent named name would use.
func (m *Manager) TempFile(name string) string {
	return filepath.Join(m.tempDir, name+".md")
}

// Promote moves a temporary agent's definition file into the agents directory
// and records it in the store, optionally under a new name. An empty newName
// keeps the temporary name. Returns false with the registry untouched when no
// temporary agent of that name exists. The file move and the store insert
// succeed or fail together: a failed insert moves the file back.
func (m *Manager) Promote(name, newName, description string) (bool, error) {
	if !lang.IsIdentifier(name) {
		return false, &InvalidNameError{Name: name}
	}
	if newName != "" && !lang.IsIdentifier(newName) {
		return false, &InvalidNameError{Name: newName}
	}

	src := m.TempFile(name)
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, &IOError{Op: "stat", Path: src, Err: err}
	}

	if newName == "" {
		newName = name
	}

	if err := os.MkdirAll(m.agentsDir, 0o700); err != nil {
		return false, &IOError{Op: "mkdir", Path: m.agentsDir, Err: err}
	}

	dst := m.AgentFile(newName)
	if err := os.Rename(src, dst); err != nil {
		return false, &IOError{Op: "move", Path: src, Err: err}
	}

	entry := domain.RegistryEntry{
		AgentName:   newName,
		FilePath:    dst,
		Description: description,
		Created:     time.Now().UTC(),
	}
	if err := m.store.Put(entry); err != nil {
		// Roll the file move back so a half-promoted agent never exists.
		if rerr := os.Rename(dst, src); rerr != nil {
			m.log.Error().Err(rerr).Str("agent", name).Msg("rollback of promotion move failed")
		}
		return false, err
	}

	m.log.Info().Str("agent", newName).Str("file", dst).Msg("agent promoted")
	return true, nil
}

// Delete removes a defined agent: its store entry and its definition file.
// Returns false when the agent is not in the registry.
func (m *Manager) Delete(name string) (bool, error) {
	if !lang.IsIdentifier(name) {
		return false, &InvalidNameError{Name: name}
	}

	entry, ok, err := m.store.Get(name)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	if _, err := m.store.Delete(name); err != nil {
		return false, err
	}
	if entry.FilePath != "" {
		if err := os.Remove(entry.FilePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return true, &IOError{Op: "remove", Path: entry.FilePath, Err: err}
		}
	}

	m.log.Info().Str("agent", name).Msg("agent deleted")
	return true, nil
}

// DeleteTemporary removes a temporary agent's definition file, reporting
// whether it existed. The store is never involved.
func (m *Manager) DeleteTemporary(name string) (bool, error) {
	if !lang.IsIdentifier(name) {
		return false, &InvalidNameError{Name: name}
	}

	path := m.TempFile(name)
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, &IOError{Op: "remove", Path: path, Err: err}
	}
	m.log.Info().Str("agent", name).Msg("temporary agent deleted")
	return true, nil
}
