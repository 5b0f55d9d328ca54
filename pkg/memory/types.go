package memory

import "time"

// Chunk is a segment of document content prepared for semantic indexing. A
// Chunk carries its pre-computed embedding so the index does not need to
// re-embed on insertion.
type Chunk struct {
	// ID is the unique identifier for this chunk (e.g., a UUID).
	ID string

	// DocumentID identifies the source document this chunk was extracted
	// from. Used to scope retrieval to a single selected document.
	DocumentID string

	// Content is the raw text of the chunk (typically a paragraph or a
	// fixed-size sliding window over the document).
	Content string

	// Embedding is the vector representation of Content.
	// Dimension must match the index configuration (e.g., 1536 for OpenAI
	// text-embedding-3-small).
	Embedding []float32

	// Section is an optional label for the chunk's position within the
	// document (e.g., a heading or page number). Empty when unknown.
	Section string

	// Timestamp is when this chunk was indexed.
	Timestamp time.Time
}

// ChunkFilter narrows a semantic search to a subset of indexed chunks.
// All non-zero fields are applied as AND conditions.
type ChunkFilter struct {
	// DocumentID restricts results to chunks from a single document. An
	// empty string searches across every indexed document.
	DocumentID string

	// After filters chunks indexed after this instant (exclusive).
	After time.Time

	// Before filters chunks indexed before this instant (exclusive).
	Before time.Time
}

// ChunkResult pairs a retrieved chunk with its vector-space distance from the
// query embedding. Lower Distance values indicate higher semantic similarity.
type ChunkResult struct {
	// Chunk is the retrieved segment.
	Chunk Chunk

	// Distance is the vector-space distance to the query embedding
	// (e.g., cosine distance or L2 — interpretation is implementation-defined).
	Distance float64
}
