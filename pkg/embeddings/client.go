// Package embeddings provides text-embedding clients for the embedding
// lifecycle and the vector search leg.
package embeddings

import "context"

// Client produces embedding vectors. Model identity travels with every
// stored embedding so re-embeds under a new model are detectable.
type Client interface {
	// Embed returns the embedding of one text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns embeddings for several texts in one call,
	// positionally aligned with the input.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// ModelName identifies the embedding model.
	ModelName() string

	// ModelVersion identifies the model revision or dimension variant.
	ModelVersion() string

	// Dimension is the vector width the model produces.
	Dimension() int
}
