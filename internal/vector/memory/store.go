// Package memory provides an in-process vector.Store. It backs unit tests
// and single-node deployments that run without Weaviate.
package memory

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"

	"bidwise/backend/internal/vector"
)

type Store struct {
	mu        sync.RWMutex
	dimension int
	points    map[string]vector.Point
	order     []string // insertion order, for stable tie-breaks
}

func NewStore() *Store {
	return &Store{points: make(map[string]vector.Point)}
}

func (s *Store) EnsureCollection(ctx context.Context, dimension int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dimension == 0 {
		s.dimension = dimension
		return nil
	}
	if s.dimension != dimension {
		slog.WarnContext(ctx, "collection dimension mismatch, stale embeddings may be incompatible",
			"collection", vector.CollectionName, "recorded", s.dimension, "requested", dimension)
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, points []vector.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range points {
		if _, exists := s.points[p.ID]; !exists {
			s.order = append(s.order, p.ID)
		}
		s.points[p.ID] = p
	}
	return nil
}

func (s *Store) Search(ctx context.Context, vec []float32, limit int) ([]vector.Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]vector.Hit, 0, len(s.order))
	for _, id := range s.order {
		p := s.points[id]
		hits = append(hits, vector.Hit{
			ID:         p.ID,
			Similarity: certainty(vec, p.Vector),
			Content:    p.Content,
			DocumentID: p.DocumentID,
			Title:      p.Title,
			ChunkIndex: p.ChunkIndex,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Similarity > hits[j].Similarity
	})

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *Store) DeleteByDocument(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.order[:0]
	for _, id := range s.order {
		if s.points[id].DocumentID == documentID {
			delete(s.points, id)
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.points), nil
}

// certainty maps cosine similarity into [0,1], matching what Weaviate
// reports for a cosine-distance collection.
func certainty(a, b []float32) float32 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return float32((1 + cos) / 2)
}
