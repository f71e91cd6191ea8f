package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesCategory(t *testing.T) {
	tests := []struct {
		code string
		want Category
	}{
		{CodeConfigInvalid, CategoryConfig},
		{CodeStorageIO, CategoryStorage},
		{CodeIndexFailed, CategoryIndex},
		{CodeEmbedFailed, CategoryEmbed},
		{CodeInvalidInput, CategoryInput},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.code, "boom", nil).Category)
		})
	}
}

func TestError_UnwrapChain(t *testing.T) {
	cause := io.ErrUnexpectedEOF
	err := Wrap(CodeStorageCorrupt, fmt.Errorf("decode shard: %w", cause))

	require.Error(t, err)
	assert.True(t, stderrors.Is(err, cause))
}

func TestError_IsMatchesByCode(t *testing.T) {
	err := New(CodeElementNotFound, "no such element", nil)
	assert.True(t, stderrors.Is(err, New(CodeElementNotFound, "", nil)))
	assert.False(t, stderrors.Is(err, New(CodeStorageIO, "", nil)))
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(CodeStorageIO, nil))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(CodeStorageIO, "disk hiccup", nil)))
	assert.False(t, IsRetryable(New(CodeConfigInvalid, "bad yaml", nil)))
	assert.False(t, IsRetryable(io.EOF))
}

func TestCodeSurvivesWrapping(t *testing.T) {
	coded := New(CodeStorageIO, "disk hiccup", nil)
	wrapped := fmt.Errorf("flush shard: %w", coded)

	assert.Equal(t, CodeStorageIO, CodeOf(wrapped))
	assert.True(t, IsRetryable(wrapped))
	assert.Equal(t, "", CodeOf(io.EOF))
}
