package resolve

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/soyeahso/loom/internal/domain"
	"github.com/soyeahso/loom/internal/logging"
	"github.com/soyeahso/loom/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResolver(t *testing.T) (*Resolver, registry.Store, string, string) {
	t.Helper()
	base := t.TempDir()
	agentsDir := filepath.Join(base, "agents")
	tempDir := filepath.Join(base, "temp-agents")
	require.NoError(t, os.MkdirAll(agentsDir, 0o700))
	require.NoError(t, os.MkdirAll(tempDir, 0o700))

	store := registry.NewJSONStore(filepath.Join(base, "registry.json"))
	r := New(store, tempDir, logging.New(nil, "silent"))
	return r, store, agentsDir, tempDir
}

func defineAgent(t *testing.T, store registry.Store, agentsDir, name string) {
	t.Helper()
	path := filepath.Join(agentsDir, name+".md")
	require.NoError(t, os.WriteFile(path, []byte("defined"), 0o600))
	require.NoError(t, store.Put(domain.RegistryEntry{AgentName: name, FilePath: path}))
}

func tempAgent(t *testing.T, tempDir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, name+".md"), []byte("temp"), 0o600))
}

func TestResolve_Builtin(t *testing.T) {
	r, _, _, _ := testResolver(t)

	desc, err := r.Resolve("general-purpose")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceBuiltin, desc.Source)
	assert.Empty(t, desc.Path, "builtins have no definition file")
}

func TestResolve_Defined(t *testing.T) {
	r, store, agentsDir, _ := testResolver(t)
	defineAgent(t, store, agentsDir, "scanner")

	desc, err := r.Resolve("scanner")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceDefined, desc.Source)
	assert.Equal(t, filepath.Join(agentsDir, "scanner.md"), desc.Path)
}

func TestResolve_Temporary(t *testing.T) {
	r, _, _, tempDir := testResolver(t)
	tempAgent(t, tempDir, "sketch")

	desc, err := r.Resolve("sketch")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceTemporary, desc.Source)
	assert.Equal(t, filepath.Join(tempDir, "sketch.md"), desc.Path)
}

func TestResolve_Unknown(t *testing.T) {
	r, _, _, _ := testResolver(t)

	_, err := r.Resolve("ghost")
	require.Error(t, err)

	var uerr *UnknownAgentError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "ghost", uerr.Name)
}

func TestResolve_NonIdentifierNeverResolves(t *testing.T) {
	r, _, _, tempDir := testResolver(t)

	// A .md file right next to the temp directory must stay unreachable even
	// through a name crafted to walk out of it.
	outside := filepath.Join(filepath.Dir(tempDir), "secrets.md")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o600))

	for _, name := range []string{"../secrets", "a/b", ".."} {
		_, err := r.Resolve(name)
		var uerr *UnknownAgentError
		require.ErrorAs(t, err, &uerr, "name %q", name)
	}
}

func TestResolve_BuiltinShadowsDefined(t *testing.T) {
	r, store, agentsDir, _ := testResolver(t)
	defineAgent(t, store, agentsDir, "explore")

	desc, err := r.Resolve("explore")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceBuiltin, desc.Source)
}

func TestResolve_DefinedShadowsTemporary(t *testing.T) {
	r, store, agentsDir, tempDir := testResolver(t)
	defineAgent(t, store, agentsDir, "scanner")
	tempAgent(t, tempDir, "scanner")

	desc, err := r.Resolve("scanner")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceDefined, desc.Source)
}

func TestResolve_Repeatable(t *testing.T) {
	r, store, agentsDir, tempDir := testResolver(t)
	defineAgent(t, store, agentsDir, "scanner")
	tempAgent(t, tempDir, "sketch")

	for _, name := range []string{"general-purpose", "scanner", "sketch"} {
		first, err := r.Resolve(name)
		require.NoError(t, err)
		second, err := r.Resolve(name)
		require.NoError(t, err)
		assert.Equal(t, first, second, name)
	}
}

func TestResolve_PromotionChangesTier(t *testing.T) {
	r, store, agentsDir, tempDir := testResolver(t)
	tempAgent(t, tempDir, "scanner")

	desc, err := r.Resolve("scanner")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceTemporary, desc.Source)

	m := registry.NewManager(store, agentsDir, tempDir, logging.New(nil, "silent"))
	ok, err := m.Promote("scanner", "", "")
	require.NoError(t, err)
	require.True(t, ok)

	desc, err = r.Resolve("scanner")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceDefined, desc.Source)
}

func TestList_FirstTierWins(t *testing.T) {
	r, store, agentsDir, tempDir := testResolver(t)
	defineAgent(t, store, agentsDir, "scanner")
	tempAgent(t, tempDir, "scanner")
	tempAgent(t, tempDir, "sketch")

	descs, err := r.List()
	require.NoError(t, err)

	bySource := map[string]domain.AgentSource{}
	for _, d := range descs {
		_, dup := bySource[d.Name]
		require.False(t, dup, "name %s listed twice", d.Name)
		bySource[d.Name] = d.Source
	}

	assert.Equal(t, domain.SourceBuiltin, bySource["general-purpose"])
	assert.Equal(t, domain.SourceDefined, bySource["scanner"])
	assert.Equal(t, domain.SourceTemporary, bySource["sketch"])
}

func TestList_MissingTempDir(t *testing.T) {
	base := t.TempDir()
	store := registry.NewJSONStore(filepath.Join(base, "registry.json"))
	r := New(store, filepath.Join(base, "nope"), logging.New(nil, "silent"))

	descs, err := r.List()
	require.NoError(t, err)
	assert.Len(t, descs, len(Builtins()))
}

func TestBuiltins_Stable(t *testing.T) {
	assert.Equal(t, Builtins(), Builtins())
	assert.Contains(t, Builtins(), "general-purpose")
}
