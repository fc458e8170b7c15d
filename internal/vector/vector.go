// Package vector defines the point collection every retrieval path runs
// against: typed points, stable point identity, and the capability
// interface the backing stores implement.
package vector

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// CollectionName is the single class all document chunks live in.
const CollectionName = "DocumentChunk"

// Point is one embedded chunk as stored in the index. Points are never
// mutated in place; re-upserting the same identity replaces the old point.
type Point struct {
	ID         string
	Vector     []float32
	Content    string
	DocumentID string
	Title      string
	ChunkIndex int
}

// Hit is one ranked nearest-neighbour search result. Similarity is in [0,1]
// (cosine certainty), higher is closer.
type Hit struct {
	ID         string
	Similarity float32
	Content    string
	DocumentID string
	Title      string
	ChunkIndex int
}

// Store is the vector index capability. Implementations are expected to
// serialize concurrent readers and writers themselves; callers add no
// locking of their own.
type Store interface {
	// EnsureCollection creates the backing collection for the given
	// embedding dimension if absent. A collection recorded with a
	// different dimension is surfaced as a warning, not an error;
	// searches proceed but stale embeddings may be incompatible.
	EnsureCollection(ctx context.Context, dimension int) error

	// Upsert writes points, replacing any existing point with the same ID.
	// Partial failures are reported via *UpsertError.
	Upsert(ctx context.Context, points []Point) error

	// Search returns the nearest points to vec, best first. Ordering of
	// equal-similarity hits is stable within one process run.
	Search(ctx context.Context, vec []float32, limit int) ([]Hit, error)

	// DeleteByDocument removes every point derived from the document.
	DeleteByDocument(ctx context.Context, documentID string) error

	// Count reports the number of stored points.
	Count(ctx context.Context) (int, error)
}

// pointNamespace scopes the deterministic point IDs. Fixed so identity
// survives restarts and re-indexing overwrites instead of duplicating.
var pointNamespace = uuid.MustParse("8a2b64f0-31dc-4c1a-9e3f-5b7a1d20c4aa")

// PointID derives a stable identifier from (document id, chunk index).
// Pure and deterministic: indexing the same document twice yields the same
// IDs, which is what makes Upsert idempotent.
func PointID(documentID string, chunkIndex int) string {
	return uuid.NewSHA1(pointNamespace, []byte(fmt.Sprintf("%s#%d", documentID, chunkIndex))).String()
}

// UpsertError reports which points of a batch could not be written.
type UpsertError struct {
	FailedIDs []string
	Reasons   []string
}

func (e *UpsertError) Error() string {
	return fmt.Sprintf("upsert failed for %d point(s): %s", len(e.FailedIDs), strings.Join(e.Reasons, "; "))
}
