package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticEmbedder_Deterministic(t *testing.T) {
	e := NewStaticEmbedder()
	defer func() { _ = e.Close() }()

	a, err := e.Embed(context.Background(), "public void processData(String input)")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "public void processData(String input)")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, DefaultDimensions)
}

func TestStaticEmbedder_ShortContentYieldsZeroVector(t *testing.T) {
	e := NewStaticEmbedder()
	defer func() { _ = e.Close() }()

	for _, content := range []string{"", "a", "ab", "  ab  "} {
		vec, err := e.Embed(context.Background(), content)
		require.NoError(t, err)
		assert.True(t, IsZero(vec), "content %q should yield zero vector", content)
	}
}

func TestStaticEmbedder_ClosedReturnsError(t *testing.T) {
	e := NewStaticEmbedder()
	require.NoError(t, e.Close())

	_, err := e.Embed(context.Background(), "some content")
	assert.Error(t, err)
}

func TestCosine_SelfSimilarityIsOne(t *testing.T) {
	e := NewStaticEmbedder()
	defer func() { _ = e.Close() }()

	vec, err := e.Embed(context.Background(), "calculateTotalScore for the leaderboard")
	require.NoError(t, err)

	assert.InDelta(t, 1.0, Cosine(vec, vec), 1e-6)
}

func TestCosine_ZeroVectorIsZeroNotNaN(t *testing.T) {
	zero := make([]float32, DefaultDimensions)
	other := []float32{1, 0, 0}
	zeroSmall := []float32{0, 0, 0}

	assert.Equal(t, 0.0, Cosine(zero, zero))
	assert.Equal(t, 0.0, Cosine(zeroSmall, other))
	assert.Equal(t, 0.0, Cosine(other, zeroSmall))
}

func TestCosine_MismatchedLengths(t *testing.T) {
	assert.Equal(t, 0.0, Cosine([]float32{1, 2}, []float32{1, 2, 3}))
}

func TestNormalize_UnitLength(t *testing.T) {
	v := Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)
}

func TestCachedEmbedder_CachesResults(t *testing.T) {
	inner := &countingEmbedder{inner: NewStaticEmbedder()}
	cached := NewCachedEmbedder(inner, 10)
	defer func() { _ = cached.Close() }()

	first, err := cached.Embed(context.Background(), "processData")
	require.NoError(t, err)
	second, err := cached.Embed(context.Background(), "processData")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.calls)
}

func TestCachedEmbedder_BatchMixedHitsAndMisses(t *testing.T) {
	inner := &countingEmbedder{inner: NewStaticEmbedder()}
	cached := NewCachedEmbedder(inner, 10)
	defer func() { _ = cached.Close() }()

	_, err := cached.Embed(context.Background(), "alpha content")
	require.NoError(t, err)

	results, err := cached.EmbedBatch(context.Background(), []string{"alpha content", "beta content"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	// alpha was cached; only beta hits the inner embedder.
	assert.Equal(t, 2, inner.calls)
}

// countingEmbedder counts Embed invocations on the wrapped embedder.
type countingEmbedder struct {
	inner Embedder
	calls int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls += len(texts)
	return c.inner.EmbedBatch(ctx, texts)
}

func (c *countingEmbedder) Dimensions() int   { return c.inner.Dimensions() }
func (c *countingEmbedder) ModelName() string { return c.inner.ModelName() }
func (c *countingEmbedder) Close() error      { return c.inner.Close() }
