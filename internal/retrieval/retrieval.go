// Package retrieval implements document-mode retrieval-augmented
// generation: embedding the current turn's query and searching the
// semantic index for passages scoped to the selected document.
package retrieval

import (
	"context"
	"fmt"

	"github.com/nilstrand/voicegate/internal/backend"
	"github.com/nilstrand/voicegate/pkg/memory"
	"github.com/nilstrand/voicegate/pkg/provider/embeddings"
)

// Retriever embeds a query and searches a [memory.SemanticIndex] for the
// topK closest chunks belonging to documentID, returning their text
// content in similarity order.
type Retriever struct {
	index    memory.SemanticIndex
	embedder embeddings.Provider
}

// Compile-time interface assertion: Retriever satisfies the contract
// internal/backend's Document backend depends on.
var _ backend.Retriever = (*Retriever)(nil)

// New returns a Retriever backed by index, using embedder to vectorize
// queries.
func New(index memory.SemanticIndex, embedder embeddings.Provider) *Retriever {
	return &Retriever{index: index, embedder: embedder}
}

// Retrieve implements [backend.Retriever]. An empty documentID searches
// across every indexed document.
func (r *Retriever) Retrieve(ctx context.Context, query, documentID string, topK int) ([]string, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}

	results, err := r.index.Search(ctx, vec, topK, memory.ChunkFilter{DocumentID: documentID})
	if err != nil {
		return nil, fmt.Errorf("retrieval: search: %w", err)
	}

	passages := make([]string, len(results))
	for i, res := range results {
		passages[i] = res.Chunk.Content
	}
	return passages, nil
}
