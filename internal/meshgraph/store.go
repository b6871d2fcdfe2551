package meshgraph

import (
	"context"
	"time"
)

// Store is the persistence port the mesh graph writes through. Both the
// sqlite-backed and the GORM/Postgres-backed adapters under
// internal/meshstore implement it; the in-memory graph is the single
// source of truth, persistence is an eventually-consistent projection
//.
type Store interface {
	// UpsertEdge writes a single edge, inserting if absent and updating
	// otherwise, per the update contract (a non-null key
	// always overwrites, a null key preserves the stored value).
	UpsertEdge(ctx context.Context, e *Edge) error

	// LoadEdges reads all persisted edges. If since is non-zero, only
	// edges with LastSeen >= since are returned (graph_startup_load_days).
	LoadEdges(ctx context.Context, since time.Time) ([]*Edge, error)

	// FlushBatch writes a set of edges atomically: one connection, one
	// commit, rollback on error.
	FlushBatch(ctx context.Context, edges []*Edge) error

	// Close releases any resources held by the store.
	Close() error
}

// WriteStrategy selects how AddEdge schedules its persistence write.
type WriteStrategy string

const (
	// WriteImmediate writes through on every insert or update.
	WriteImmediate WriteStrategy = "immediate"
	// WriteBatched queues the edge key; a background worker flushes it.
	WriteBatched WriteStrategy = "batched"
	// WriteHybrid writes new edges through immediately and batches updates.
	WriteHybrid WriteStrategy = "hybrid"
)
