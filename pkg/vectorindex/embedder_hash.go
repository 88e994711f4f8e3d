package vectorindex

import (
	"context"
	"strings"

	"github.com/OneOfOne/xxhash"
)

// DefaultEmbeddingDim is the vector width HashEmbedder produces when no
// table-specific dimension is known to the caller. Index creation elsewhere
// in this package is free to use a different width; HashEmbedder itself
// is dimension-agnostic per call.
const DefaultEmbeddingDim = 32

// HashEmbedder is a deterministic, model-free Embedder: it folds the query
// text and extractor name through xxhash, one digest per output dimension,
// and maps each digest into [-1, 1]. It stands in for a real embedding
// model the same way MemoryIndexManager stands in for a real ANN engine -
// queries against content actually produced by that same real model will
// not rank sensibly against a HashEmbedder query vector, but the wiring
// (extractor resolution, dimension handling, k-NN plumbing) is exercised
// end to end. A deployment swaps this out for a real model client.
type HashEmbedder struct {
	Dim int
}

// NewHashEmbedder constructs a HashEmbedder producing dim-wide vectors, or
// DefaultEmbeddingDim wide if dim is 0.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = DefaultEmbeddingDim
	}
	return &HashEmbedder{Dim: dim}
}

// Embed deterministically maps (extractor, text) to a Dim-wide vector: the
// same pair always yields the same vector, on any replica, so repeated
// queries and cross-node search agree.
func (e *HashEmbedder) Embed(ctx context.Context, extractor, text string) ([]float32, error) {
	dim := e.Dim
	if dim <= 0 {
		dim = DefaultEmbeddingDim
	}
	joined := strings.Join([]string{extractor, text}, "\x00")
	vec := make([]float32, dim)
	for i := range vec {
		sum := xxhash.ChecksumString64S(joined, uint64(i)+1)
		// Map the 64-bit digest into [-1, 1].
		vec[i] = float32(sum%2000001)/1000000.0 - 1.0
	}
	return vec, nil
}
