package structural

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symdex/symdex/internal/symbol"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	ix := NewInMemory(nil)
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

func method(id string, calls ...string) *symbol.Structure {
	st := symbol.NewStructure(id, symbol.KindMethod)
	for _, c := range calls {
		st.Calls[c] = struct{}{}
	}
	return st
}

func TestFindCallers_ReverseOfCalls(t *testing.T) {
	ix := newTestIndex(t)

	require.NoError(t, ix.IndexElement(method("com.a.Svc#handle", "com.a.Repo#save")))
	require.NoError(t, ix.IndexElement(method("com.a.Job#run", "com.a.Repo#save")))

	callers := ix.FindCallers("com.a.Repo#save")
	assert.Equal(t, []string{"com.a.Job#run", "com.a.Svc#handle"}, callers)

	callees := ix.FindCallees("com.a.Svc#handle")
	assert.Equal(t, []string{"com.a.Repo#save"}, callees)
}

func TestFindSubclassesAndImplementations(t *testing.T) {
	ix := newTestIndex(t)

	base := symbol.NewStructure("com.a.Base", symbol.KindClass)
	require.NoError(t, ix.IndexElement(base))

	child := symbol.NewStructure("com.a.Child", symbol.KindClass)
	child.SuperClass = "com.a.Base"
	child.Implements["com.a.Runnable"] = struct{}{}
	require.NoError(t, ix.IndexElement(child))

	assert.Equal(t, []string{"com.a.Child"}, ix.FindSubclasses("com.a.Base"))
	assert.Equal(t, []string{"com.a.Child"}, ix.FindImplementations("com.a.Runnable"))
}

func TestFindAllRelated_MergesForwardAndReverse(t *testing.T) {
	ix := newTestIndex(t)

	target := symbol.NewStructure("com.a.Svc#handle", symbol.KindMethod)
	target.Calls["com.a.Repo#save"] = struct{}{}
	target.Overrides["com.a.Base#handle"] = struct{}{}
	target.AccessesFields["com.a.Svc.counter"] = struct{}{}
	require.NoError(t, ix.IndexElement(target))

	require.NoError(t, ix.IndexElement(method("com.a.Controller#post", "com.a.Svc#handle")))

	related, err := ix.FindAllRelated("com.a.Svc#handle")
	require.NoError(t, err)

	assert.Equal(t, []string{"com.a.Repo#save"}, related[symbol.RelationCalls])
	assert.Equal(t, []string{"com.a.Base#handle"}, related[symbol.RelationOverrides])
	assert.Equal(t, []string{"com.a.Svc.counter"}, related[symbol.RelationAccessesField])
	assert.Equal(t, []string{"com.a.Controller#post"}, related[symbol.RelationCalledBy])
	assert.NotContains(t, related, symbol.RelationExtends)
}

func TestRemove_RetractsReverseEdges(t *testing.T) {
	ix := newTestIndex(t)

	require.NoError(t, ix.IndexElement(method("com.a.Svc#handle", "com.a.Repo#save")))
	require.NoError(t, ix.Remove("com.a.Svc#handle"))

	assert.Empty(t, ix.FindCallers("com.a.Repo#save"))
	assert.Equal(t, 0, ix.Size())

	// Removing an absent id is a no-op.
	require.NoError(t, ix.Remove("com.a.Svc#handle"))
}

func TestIndexElement_ReplaceRetractsOldEdges(t *testing.T) {
	ix := newTestIndex(t)

	require.NoError(t, ix.IndexElement(method("com.a.Svc#handle", "com.a.Repo#save")))
	require.NoError(t, ix.IndexElement(method("com.a.Svc#handle", "com.a.Cache#put")))

	assert.Empty(t, ix.FindCallers("com.a.Repo#save"))
	assert.Equal(t, []string{"com.a.Svc#handle"}, ix.FindCallers("com.a.Cache#put"))
}

func TestSimilarity_SamePackageAndSuperclass(t *testing.T) {
	ix := newTestIndex(t)

	a := symbol.NewStructure("com.a.One", symbol.KindClass)
	a.SuperClass = "com.a.Base"
	b := symbol.NewStructure("com.a.Two", symbol.KindClass)
	b.SuperClass = "com.a.Base"
	require.NoError(t, ix.IndexElement(a))
	require.NoError(t, ix.IndexElement(b))

	// Two contributing factors: (0.2 + 0.3) / 2.
	score, err := ix.Similarity("com.a.One", "com.a.Two")
	require.NoError(t, err)
	assert.InDelta(t, 0.25, score, 1e-9)
}

func TestSimilarity_NormalizedByApplicableTerms(t *testing.T) {
	ix := newTestIndex(t)

	a := symbol.NewStructure("com.a.One", symbol.KindClass)
	a.SuperClass = "com.a.Base"
	b := symbol.NewStructure("com.b.Two", symbol.KindClass)
	b.SuperClass = "com.other.Base"
	require.NoError(t, ix.IndexElement(a))
	require.NoError(t, ix.IndexElement(b))

	// Neither package nor superclass connects them: no factors, 0.
	score, err := ix.Similarity("com.a.One", "com.b.Two")
	require.NoError(t, err)
	assert.Equal(t, 0.0, score)
}

func TestSimilarity_CallOverlap(t *testing.T) {
	ix := newTestIndex(t)

	a := method("com.a.Svc#x", "com.a.Repo#save", "com.a.Log#write")
	b := method("com.b.Svc#y", "com.a.Repo#save", "com.a.Net#send")
	require.NoError(t, ix.IndexElement(a))
	require.NoError(t, ix.IndexElement(b))

	// Packages differ, so the only contributing factor is the call
	// overlap (1 of 2): 0.15 * 0.5 / 1.
	score, err := ix.Similarity("com.a.Svc#x", "com.b.Svc#y")
	require.NoError(t, err)
	assert.InDelta(t, 0.075, score, 1e-9)
}

func TestSimilarity_UnknownIDScoresZero(t *testing.T) {
	ix := newTestIndex(t)
	require.NoError(t, ix.IndexElement(method("com.a.Svc#x")))

	score, err := ix.Similarity("com.a.Svc#x", "no.such.Thing")
	require.NoError(t, err)
	assert.Equal(t, 0.0, score)
}

func TestFindStructurallySimilar_AppliesThreshold(t *testing.T) {
	ix := newTestIndex(t)

	a := symbol.NewStructure("com.a.One", symbol.KindClass)
	a.SuperClass = "com.a.Base"
	twin := symbol.NewStructure("com.a.Twin", symbol.KindClass)
	twin.SuperClass = "com.a.Base"
	far := symbol.NewStructure("com.zz.Far", symbol.KindClass)
	far.SuperClass = "com.other.Base"

	require.NoError(t, ix.IndexElement(a))
	require.NoError(t, ix.IndexElement(twin))
	require.NoError(t, ix.IndexElement(far))

	results, err := ix.FindStructurallySimilar("com.a.One", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "com.a.Twin", results[0].ID)
	assert.InDelta(t, 0.25, results[0].Score, 1e-9)
}

func TestPackageDependencies_DerivedFromCalls(t *testing.T) {
	ix := newTestIndex(t)

	require.NoError(t, ix.IndexElement(method("com.app.Svc#handle", "com.db.Repo#save", "com.app.Util#fmt")))
	require.NoError(t, ix.IndexElement(method("com.app.Job#run", "com.net.Client#send")))

	deps := ix.PackageDependencies("com.app")
	assert.Equal(t, []string{"com.db", "com.net"}, deps)

	// Removing the only element reaching com.net drops that edge.
	require.NoError(t, ix.Remove("com.app.Job#run"))
	assert.Equal(t, []string{"com.db"}, ix.PackageDependencies("com.app"))
}

func TestOpen_RebuildsReverseEdges(t *testing.T) {
	dir := t.TempDir()

	ix, err := Open(dir, 100, nil)
	require.NoError(t, err)
	require.NoError(t, ix.IndexElement(method("com.a.Svc#handle", "com.a.Repo#save")))
	require.NoError(t, ix.Close())

	reopened, err := Open(dir, 100, nil)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	assert.Equal(t, []string{"com.a.Svc#handle"}, reopened.FindCallers("com.a.Repo#save"))
}
