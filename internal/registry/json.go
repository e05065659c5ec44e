package registry

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/soyeahso/loom/internal/domain"
)

// jsonEntry is the on-disk shape of one registry record. The agent name is
// the map key, not a field.
type jsonEntry struct {
	FilePath    string    `json:"file"`
	Description string    `json:"description,omitempty"`
	Created     time.Time `json:"created"`
	UsageCount  int       `json:"usageCount"`
}

// JSONStore persists registry entries as a single JSON object keyed by agent
// name. Writes go through a temp file and an atomic rename, so readers never
// observe a partially written registry.
type JSONStore struct {
	path string
}

// NewJSONStore creates a store over the given registry file. The file is
// created lazily on first write; a missing file reads as an empty registry.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

func (s *JSONStore) Get(name string) (domain.RegistryEntry, bool, error) {
	entries, err := s.load()
	if err != nil {
		return domain.RegistryEntry{}, false, err
	}
	e, ok := entries[name]
	if !ok {
		return domain.RegistryEntry{}, false, nil
	}
	return toDomain(name, e), true, nil
}

func (s *JSONStore) List() ([]domain.RegistryEntry, error) {
	entries, err := s.load()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]domain.RegistryEntry, 0, len(names))
	for _, name := range names {
		out = append(out, toDomain(name, entries[name]))
	}
	return out, nil
}

func (s *JSONStore) Put(entry domain.RegistryEntry) error {
	entries, err := s.load()
	if err != nil {
		return err
	}
	entries[entry.AgentName] = jsonEntry{
		FilePath:    entry.FilePath,
		Description: entry.Description,
		Created:     entry.Created,
		UsageCount:  entry.UsageCount,
	}
	return s.save(entries)
}

func (s *JSONStore) Delete(name string) (bool, error) {
	entries, err := s.load()
	if err != nil {
		return false, err
	}
	if _, ok := entries[name]; !ok {
		return false, nil
	}
	delete(entries, name)
	return true, s.save(entries)
}

func (s *JSONStore) IncrementUsage(name string) error {
	entries, err := s.load()
	if err != nil {
		return err
	}
	e, ok := entries[name]
	if !ok {
		return nil
	}
	e.UsageCount++
	entries[name] = e
	return s.save(entries)
}

func (s *JSONStore) Close() error {
	return nil
}

func (s *JSONStore) load() (map[string]jsonEntry, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]jsonEntry{}, nil
	}
	if err != nil {
		return nil, &IOError{Op: "read", Path: s.path, Err: err}
	}

	entries := map[string]jsonEntry{}
	if len(data) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, &IOError{Op: "decode", Path: s.path, Err: err}
	}
	return entries, nil
}

func (s *JSONStore) save(entries map[string]jsonEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return &IOError{Op: "encode", Path: s.path, Err: err}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return &IOError{Op: "mkdir", Path: dir, Err: err}
	}

	tmp, err := os.CreateTemp(dir, ".registry-*.json")
	if err != nil {
		return &IOError{Op: "write", Path: s.path, Err: err}
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return &IOError{Op: "write", Path: s.path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return &IOError{Op: "write", Path: s.path, Err: err}
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return &IOError{Op: "write", Path: s.path, Err: err}
	}
	return nil
}

func toDomain(name string, e jsonEntry) domain.RegistryEntry {
	return domain.RegistryEntry{
		AgentName:   name,
		FilePath:    e.FilePath,
		Description: e.Description,
		Created:     e.Created,
		UsageCount:  e.UsageCount,
	}
}
