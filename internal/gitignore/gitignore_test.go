package gitignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsure_CreatesIgnoreChain(t *testing.T) {
	root := t.TempDir()
	dataDir := filepath.Join(root, ".symdex", "lexical-index")

	require.NoError(t, Ensure(root, dataDir))

	content, err := os.ReadFile(filepath.Join(dataDir, ".gitignore"))
	require.NoError(t, err)
	assert.Equal(t, "*\n", string(content))

	content, err = os.ReadFile(filepath.Join(root, ".symdex", ".gitignore"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "lexical-index/")

	content, err = os.ReadFile(filepath.Join(root, ".gitignore"))
	require.NoError(t, err)
	assert.Contains(t, string(content), ".symdex/")
}

func TestEnsure_Idempotent(t *testing.T) {
	root := t.TempDir()
	dataDir := filepath.Join(root, ".symdex", "semantic-index")

	require.NoError(t, Ensure(root, dataDir))
	require.NoError(t, Ensure(root, dataDir))

	content, err := os.ReadFile(filepath.Join(root, ".gitignore"))
	require.NoError(t, err)
	assert.Equal(t, ".symdex/\n", string(content))
}

func TestEnsure_PreservesExistingEntries(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte("node_modules/\n"), 0o644))

	require.NoError(t, Ensure(root, filepath.Join(root, ".symdex")))

	content, err := os.ReadFile(filepath.Join(root, ".gitignore"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "node_modules/")
	assert.Contains(t, string(content), ".symdex/")
}

func TestEnsure_RejectsOutsideRoot(t *testing.T) {
	root := t.TempDir()
	other := t.TempDir()

	assert.Error(t, Ensure(root, other))
}
