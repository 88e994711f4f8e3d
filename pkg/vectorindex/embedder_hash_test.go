package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashEmbedderIsDeterministic(t *testing.T) {
	e := NewHashEmbedder(8)
	v1, err := e.Embed(context.Background(), "text-extractor", "hello world")
	assert.NoError(t, err)
	v2, err := e.Embed(context.Background(), "text-extractor", "hello world")
	assert.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Len(t, v1, 8)
}

func TestHashEmbedderVariesWithInput(t *testing.T) {
	e := NewHashEmbedder(8)
	v1, err := e.Embed(context.Background(), "text-extractor", "hello world")
	assert.NoError(t, err)
	v2, err := e.Embed(context.Background(), "text-extractor", "goodbye world")
	assert.NoError(t, err)
	assert.NotEqual(t, v1, v2)

	v3, err := e.Embed(context.Background(), "other-extractor", "hello world")
	assert.NoError(t, err)
	assert.NotEqual(t, v1, v3)
}

func TestHashEmbedderDefaultsDimension(t *testing.T) {
	e := NewHashEmbedder(0)
	assert.Equal(t, DefaultEmbeddingDim, e.Dim)
	v, err := e.Embed(context.Background(), "x", "y")
	assert.NoError(t, err)
	assert.Len(t, v, DefaultEmbeddingDim)
}

func TestHashEmbedderValuesWithinRange(t *testing.T) {
	e := NewHashEmbedder(16)
	v, err := e.Embed(context.Background(), "text-extractor", "some query text")
	assert.NoError(t, err)
	for _, f := range v {
		assert.GreaterOrEqual(t, f, float32(-1.0))
		assert.LessOrEqual(t, f, float32(1.0))
	}
}
