package engine

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symdex/symdex/internal/config"
	symerrors "github.com/symdex/symdex/internal/errors"
	"github.com/symdex/symdex/internal/symbol"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	root := t.TempDir()
	cfg, err := config.Load(root)
	require.NoError(t, err)

	e, err := Open(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func sampleElements() []ElementInput {
	return []ElementInput{
		{
			ID:        "com.example.Board#calculateTotalScore",
			Signature: "int calculateTotalScore(List<Entry> entries)",
			Kind:      symbol.KindMethod,
			FilePath:  "src/Board.java",
			Content:   "int calculateTotalScore(List<Entry> entries) sums the points of every entry",
			Calls:     []string{"com.example.Entry#getPoints"},
		},
		{
			ID:        "com.example.Entry#getPoints",
			Signature: "int getPoints()",
			Kind:      symbol.KindMethod,
			FilePath:  "src/Entry.java",
			Content:   "int getPoints() returns the entry's point value",
		},
		{
			ID:         "com.example.Board",
			Signature:  "public class Board",
			Kind:       symbol.KindClass,
			FilePath:   "src/Board.java",
			Content:    "public class Board holds entries and computes totals",
			SuperClass: "com.example.AbstractView",
		},
	}
}

func TestIndexThenSearchRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	indexed, err := e.IndexElements(ctx, sampleElements())
	require.NoError(t, err)
	assert.Equal(t, 3, indexed)

	results, err := e.Search(ctx, "calculateTotalScore", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "com.example.Board#calculateTotalScore", results[0].ID)
	assert.Equal(t, "src/Board.java", results[0].FilePath)
	assert.Equal(t, symbol.KindMethod, results[0].Kind)
}

func TestFindAllRelated(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.IndexElements(ctx, sampleElements())
	require.NoError(t, err)

	related, err := e.FindAllRelated("com.example.Entry#getPoints")
	require.NoError(t, err)
	assert.Equal(t, []string{"com.example.Board#calculateTotalScore"}, related[symbol.RelationCalledBy])

	related, err = e.FindAllRelated("com.example.Board")
	require.NoError(t, err)
	assert.Equal(t, []string{"com.example.AbstractView"}, related[symbol.RelationExtends])
}

func TestFindSimilar(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	content := "void processPayment(Payment p) validates and persists a payment"
	for _, id := range []string{"a.Alpha#processPayment", "a.Beta#processPayment"} {
		_, err := e.IndexElements(ctx, []ElementInput{{
			ID: id, Signature: "void processPayment(Payment p)",
			Kind: symbol.KindMethod, Content: content,
		}})
		require.NoError(t, err)
	}

	similar, err := e.FindSimilar("a.Alpha#processPayment", 10)
	require.NoError(t, err)
	require.Len(t, similar, 1)
	assert.Equal(t, "a.Beta#processPayment", similar[0].ID)
}

func TestRemoveElement_AllIndexes(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.IndexElements(ctx, sampleElements())
	require.NoError(t, err)
	require.NoError(t, e.RemoveElement("com.example.Board#calculateTotalScore"))

	results, err := e.Search(ctx, "calculateTotalScore", 10)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "com.example.Board#calculateTotalScore", r.ID)
	}

	related, err := e.FindAllRelated("com.example.Entry#getPoints")
	require.NoError(t, err)
	assert.Empty(t, related[symbol.RelationCalledBy])

	stats := e.Stats()
	assert.Equal(t, 2, stats.LexicalElements)
	assert.Equal(t, 2, stats.SemanticElements)
	assert.Equal(t, 2, stats.StructuralElements)
}

func TestIndexFiles_BatchesAndSkipsUnchanged(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	root := e.cfg.ProjectRoot
	files := make([]string, 0, 6)
	for i := 0; i < 6; i++ {
		path := fmt.Sprintf("%s/File%d.java", root, i)
		require.NoError(t, writeFile(path, "class File"+fmt.Sprint(i)+" {}"))
		files = append(files, path)
	}

	extract := func(_ context.Context, path string) ([]ElementInput, error) {
		return []ElementInput{{
			ID:        fmt.Sprintf("pkg.%s", path),
			Signature: "class " + path,
			Kind:      symbol.KindClass,
			FilePath:  path,
			Content:   "class body for " + path,
		}}, nil
	}

	result, err := e.IndexFiles(ctx, files, extract)
	require.NoError(t, err)
	assert.Equal(t, 6, result.FilesProcessed)
	assert.Equal(t, 6, result.SignaturesIndexed)

	// A second run with unchanged files skips everything.
	result, err = e.IndexFiles(ctx, files, extract)
	require.NoError(t, err)
	assert.Equal(t, 0, result.FilesProcessed)
	assert.Equal(t, 6, result.FilesSkipped)
}

func TestIndexFiles_PerFileFailureDoesNotAbort(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	root := e.cfg.ProjectRoot
	good := root + "/Good.java"
	bad := root + "/Bad.java"
	require.NoError(t, writeFile(good, "class Good {}"))
	require.NoError(t, writeFile(bad, "class Bad {}"))

	extract := func(_ context.Context, path string) ([]ElementInput, error) {
		if path == bad {
			return nil, fmt.Errorf("parse error")
		}
		return []ElementInput{{
			ID: "pkg.Good", Signature: "class Good", Kind: symbol.KindClass,
			FilePath: path, Content: "class Good body",
		}}, nil
	}

	result, err := e.IndexFiles(ctx, []string{good, bad}, extract)
	require.NoError(t, err)
	assert.Equal(t, 1, result.FailedFiles)
	assert.Equal(t, 1, result.SignaturesIndexed)
}

func TestIndexElement_EmptyIDRejected(t *testing.T) {
	e := newTestEngine(t)

	err := e.IndexElement(context.Background(), ElementInput{Signature: "void x()"})
	require.Error(t, err)
	assert.Equal(t, symerrors.CodeInvalidInput, symerrors.CodeOf(err))
}

func TestOpen_SecondEngineOnSameDirFails(t *testing.T) {
	root := t.TempDir()
	cfg, err := config.Load(root)
	require.NoError(t, err)

	first, err := Open(cfg, nil)
	require.NoError(t, err)
	defer func() { _ = first.Close() }()

	_, err = Open(cfg, nil)
	require.Error(t, err)
	assert.Equal(t, symerrors.CodeStorageLocked, symerrors.CodeOf(err))
}

func TestReopen_StateSurvives(t *testing.T) {
	root := t.TempDir()
	cfg, err := config.Load(root)
	require.NoError(t, err)
	ctx := context.Background()

	e, err := Open(cfg, nil)
	require.NoError(t, err)
	_, err = e.IndexElements(ctx, sampleElements())
	require.NoError(t, err)
	require.NoError(t, e.Close())

	reopened, err := Open(cfg, nil)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	results, err := reopened.Search(ctx, "calculateTotalScore", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "com.example.Board#calculateTotalScore", results[0].ID)

	related, err := reopened.FindAllRelated("com.example.Entry#getPoints")
	require.NoError(t, err)
	assert.Equal(t, []string{"com.example.Board#calculateTotalScore"}, related[symbol.RelationCalledBy])
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
