// Package memory defines the semantic index used for document-mode
// retrieval-augmented generation.
//
// SemanticIndex is a vector store for embedding-based similarity search over
// chunked document content. The interface is public so that external
// packages can supply alternative storage backends (Postgres/pgvector,
// in-memory, …) without depending on internal gateway types.
//
// Every implementation must be safe for concurrent use.
package memory

import "context"

// SemanticIndex is a vector store for embedding-based similarity search over
// chunked document content.
//
// Callers are responsible for producing embeddings before calling IndexChunk
// or Search. Implementations must be safe for concurrent use.
type SemanticIndex interface {
	// IndexChunk stores a pre-embedded [Chunk] in the vector index.
	// If a chunk with the same ID already exists it must be replaced (upsert).
	IndexChunk(ctx context.Context, chunk Chunk) error

	// Search finds the topK chunks whose embeddings are closest to the query
	// embedding, filtered by filter.
	// Results are ordered by ascending Distance (most similar first).
	// Returns an empty (non-nil) slice when no chunks match.
	Search(ctx context.Context, embedding []float32, topK int, filter ChunkFilter) ([]ChunkResult, error)
}
