package vectorindex

import "context"

// Embedder turns query text into the vector space one extractor's embedding
// output lives in. The extractor processes themselves are an external
// collaborator; this interface is the seam a deployment wires a real
// embedding model through to answer textual search queries.
// HashEmbedder is the deterministic reference implementation wired by
// default; see its doc comment for why it is not a substitute for a real
// model.
type Embedder interface {
	Embed(ctx context.Context, extractor, text string) ([]float32, error)
}
