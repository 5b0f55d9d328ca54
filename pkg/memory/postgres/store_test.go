package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/nilstrand/voicegate/pkg/memory"
	"github.com/nilstrand/voicegate/pkg/memory/postgres"
)

const testEmbeddingDim = 4

// testDSN returns the test database DSN from the environment, or skips the
// test if VOICEGATE_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("VOICEGATE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VOICEGATE_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestIndex creates a fresh [postgres.SemanticIndexImpl] with a clean schema.
// It calls t.Cleanup to close the index when the test finishes.
func newTestIndex(t *testing.T) *postgres.SemanticIndexImpl {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	// Use a bare pool to drop and recreate the schema.
	cleanPool := mustPool(t, ctx, dsn)
	t.Cleanup(cleanPool.Close)
	dropSchema(t, ctx, cleanPool)

	index, err := postgres.NewIndex(ctx, dsn, testEmbeddingDim)
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	t.Cleanup(index.Close)
	return index
}

// mustPool opens a pgxpool with pgvector types registered (needed for HNSW
// index to not refuse our connection during dropSchema).
func mustPool(t *testing.T, ctx context.Context, dsn string) *pgxpool.Pool {
	t.Helper()
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		// best-effort: pgvector may not be installed yet on a fresh DB
		_ = pgxvec.RegisterTypes(ctx, conn)
		return nil
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	return pool
}

// dropSchema removes all tables created by Migrate.
func dropSchema(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS chunks CASCADE"); err != nil {
		t.Fatalf("dropSchema: %v", err)
	}
}

func chunkIDs(results []memory.ChunkResult) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.Chunk.ID
	}
	return ids
}

func TestIndexAndSearch(t *testing.T) {
	index := newTestIndex(t)
	ctx := context.Background()

	chunks := []memory.Chunk{
		{
			ID:         "chunk-1",
			DocumentID: "doc-a",
			Content:    "The warranty policy covers manufacturing defects for 12 months.",
			Embedding:  []float32{1, 0, 0, 0},
			Section:    "warranty",
			Timestamp:  time.Now(),
		},
		{
			ID:         "chunk-2",
			DocumentID: "doc-a",
			Content:    "Returns must be initiated within 30 days of purchase.",
			Embedding:  []float32{0, 1, 0, 0},
			Section:    "returns",
			Timestamp:  time.Now(),
		},
		{
			ID:         "chunk-3",
			DocumentID: "doc-b",
			Content:    "Standard shipping takes 3-5 business days.",
			Embedding:  []float32{0, 0, 1, 0},
			Section:    "shipping",
			Timestamp:  time.Now(),
		},
	}

	for _, c := range chunks {
		if err := index.IndexChunk(ctx, c); err != nil {
			t.Fatalf("IndexChunk %s: %v", c.ID, err)
		}
	}

	// Query closest to chunk-1 (embedding [1,0,0,0]).
	results, err := index.Search(ctx, []float32{1, 0, 0, 0}, 3, memory.ChunkFilter{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("Search topK=3: want 3 results, got %d", len(results))
	}
	if len(results) > 0 && results[0].Chunk.ID != "chunk-1" {
		t.Errorf("closest chunk: want chunk-1, got %s (distance %.4f)", results[0].Chunk.ID, results[0].Distance)
	}

	// Scope to document doc-b.
	scoped, err := index.Search(ctx, []float32{0, 0, 1, 0}, 10, memory.ChunkFilter{DocumentID: "doc-b"})
	if err != nil {
		t.Fatalf("Search scoped: %v", err)
	}
	if len(scoped) != 1 || scoped[0].Chunk.ID != "chunk-3" {
		t.Errorf("document scope: want [chunk-3], got %v", chunkIDs(scoped))
	}

	// Upsert: re-indexing chunk-1 with new data should replace it.
	updated := chunks[0]
	updated.Content = "Updated warranty content after upsert."
	updated.Embedding = []float32{0, 0, 0, 1}
	if err := index.IndexChunk(ctx, updated); err != nil {
		t.Fatalf("IndexChunk upsert: %v", err)
	}
	upserted, err := index.Search(ctx, []float32{0, 0, 0, 1}, 1, memory.ChunkFilter{DocumentID: "doc-a"})
	if err != nil {
		t.Fatalf("Search after upsert: %v", err)
	}
	if len(upserted) < 1 {
		t.Fatal("upsert: no results returned")
	}
	if upserted[0].Chunk.Content != updated.Content {
		t.Errorf("upsert: want content %q, got %q", updated.Content, upserted[0].Chunk.Content)
	}

	// Time filters.
	past := time.Now().Add(-1 * time.Hour)
	future := time.Now().Add(1 * time.Hour)
	afterFiltered, err := index.Search(ctx, []float32{0, 1, 0, 0}, 10, memory.ChunkFilter{After: past})
	if err != nil {
		t.Fatalf("Search after filter: %v", err)
	}
	if len(afterFiltered) == 0 {
		t.Error("after filter: expected results, got none")
	}
	beforeFiltered, err := index.Search(ctx, []float32{0, 1, 0, 0}, 10, memory.ChunkFilter{Before: future})
	if err != nil {
		t.Fatalf("Search before filter: %v", err)
	}
	if len(beforeFiltered) == 0 {
		t.Error("before filter: expected results, got none")
	}
}
