package directory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRoster(t *testing.T) {
	dir := Default()

	assert.Equal(t, 4, dir.Capacity())
	for id, name := range []string{"A", "B", "C", "D"} {
		got, ok := dir.Lookup(name)
		require.True(t, ok, name)
		assert.Equal(t, id, got)
		assert.Equal(t, name, dir.Name(id))
	}

	_, ok := dir.Lookup("Zed")
	assert.False(t, ok)
	_, ok = dir.Lookup("")
	assert.False(t, ok)
	assert.Equal(t, UnknownName, dir.Name(4))
	assert.Equal(t, UnknownName, dir.Name(-1))
}

func TestLookupIsExact(t *testing.T) {
	dir := Default()

	_, ok := dir.Lookup("AB")
	assert.False(t, ok)
	_, ok = dir.Lookup("a")
	assert.False(t, ok)
}

func TestNewValidation(t *testing.T) {
	_, err := New()
	assert.ErrorIs(t, err, ErrEmptyRoster)

	_, err = New("A", "B", "A")
	assert.ErrorIs(t, err, ErrDuplicateName)

	_, err = New("A", "")
	assert.ErrorIs(t, err, ErrEmptyName)
}

func TestLoadRosterFiles(t *testing.T) {
	tmp := t.TempDir()

	yamlPath := filepath.Join(tmp, "roster.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("identities:\n  - alice\n  - bob\n  - carol\n"), 0o644))

	tomlPath := filepath.Join(tmp, "roster.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte("identities = [\"alice\", \"bob\"]\n"), 0o644))

	fromYAML, err := Load(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "carol"}, fromYAML.Names())

	fromTOML, err := Load(tomlPath)
	require.NoError(t, err)
	id, ok := fromTOML.Lookup("bob")
	require.True(t, ok)
	assert.Equal(t, 1, id)
}

func TestLoadRosterErrors(t *testing.T) {
	tmp := t.TempDir()

	_, err := Load(filepath.Join(tmp, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	jsonPath := filepath.Join(tmp, "roster.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{}`), 0o644))
	_, err = Load(jsonPath)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	emptyPath := filepath.Join(tmp, "empty.yml")
	require.NoError(t, os.WriteFile(emptyPath, []byte("identities: []\n"), 0o644))
	_, err = Load(emptyPath)
	assert.ErrorIs(t, err, ErrEmptyRoster)
}
