// Package embeddings abstracts the text-embedding backend behind the semantic
// menu index. A spoken item name that misses the exact catalog lookup
// ("불고기 버거로 주세요") is embedded and matched against menu entries by
// vector similarity, so the provider only ever sees short menu phrases, not
// documents.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider maps text to dense float32 vectors.
//
// Every vector from one Provider instance has length Dimensions(); vectors
// from different instances must not be compared unless both use the same
// model. Text is passed to the backend verbatim, so any model-specific prefix
// ("query: " and the like) is the caller's job.
type Provider interface {
	// Embed returns the vector for one phrase.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds all texts in one backend call, returning vectors in
	// input order. On error the whole result is nil; there are no partial
	// results. Used when (re)indexing the menu catalog.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the fixed vector length this provider produces. The
	// pgvector column is sized from it at migration time.
	Dimensions() int

	// ModelID names the backing model, for logs and for checking that a
	// stored index was built with the same model.
	ModelID() string
}
