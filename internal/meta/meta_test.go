package meta

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "metadata.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestShouldIndex_NewFile(t *testing.T) {
	s := newTestStore(t)

	should, err := s.ShouldIndex("src/Foo.java", time.Now())
	require.NoError(t, err)
	assert.True(t, should)
}

func TestShouldIndex_UnchangedFileSkipped(t *testing.T) {
	s := newTestStore(t)
	mod := time.Now().Add(-time.Hour)

	require.NoError(t, s.RecordIndexed("src/Foo.java", mod))

	should, err := s.ShouldIndex("src/Foo.java", mod)
	require.NoError(t, err)
	assert.False(t, should)

	should, err = s.ShouldIndex("src/Foo.java", mod.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, should)
}

func TestRecordIndexed_Upserts(t *testing.T) {
	s := newTestStore(t)

	first := time.Now().Add(-2 * time.Hour)
	second := time.Now().Add(-time.Hour)
	require.NoError(t, s.RecordIndexed("src/Foo.java", first))
	require.NoError(t, s.RecordIndexed("src/Foo.java", second))

	rec, ok, err := s.LastIndexed("src/Foo.java")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second.UnixNano(), rec.ModTime.UnixNano())

	paths, err := s.IndexedPaths()
	require.NoError(t, err)
	assert.Equal(t, []string{"src/Foo.java"}, paths)
}

func TestForget(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.RecordIndexed("src/Foo.java", time.Now()))
	require.NoError(t, s.Forget("src/Foo.java"))

	_, ok, err := s.LastIndexed("src/Foo.java")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestState_RoundTrip(t *testing.T) {
	s := newTestStore(t)

	_, ok, err := s.GetState("schema_version")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetState("schema_version", "1"))
	require.NoError(t, s.SetState("schema_version", "2"))

	value, ok, err := s.GetState("schema_version")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2", value)
}
