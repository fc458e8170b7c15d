package document

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"bidwise/backend/internal/config"
	"bidwise/backend/internal/middleware"
)

// Indexing lifecycle of a knowledge-base document.
const (
	StatusPending  = "pending"
	StatusIndexing = "indexing"
	StatusIndexed  = "indexed"
	StatusFailed   = "failed"
)

type Document struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Content     string    `json:"content,omitempty"`
	ContentHash string    `json:"-"`
	Status      string    `json:"status"`
	ChunkCount  int       `json:"chunk_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Repository interface {
	Save(ctx context.Context, doc *Document) error
	ExistsByHash(ctx context.Context, hash string) (bool, error)
	Get(ctx context.Context, id string) (*Document, error)
	List(ctx context.Context) ([]Document, error)
	UpdateStatus(ctx context.Context, id, status string) error
	UpdateChunkCount(ctx context.Context, id string, count int) error
	SoftDelete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

// ChunkStore is the slice of the vector index this feature needs: cleanup
// on delete. Indexing itself happens in the worker.
type ChunkStore interface {
	DeleteByDocument(ctx context.Context, documentID string) error
}

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	repo       Repository
	pub        EventPublisher
	chunkStore ChunkStore
}

func NewService(repo Repository, pub EventPublisher, chunkStore ChunkStore) *Service {
	return &Service{repo: repo, pub: pub, chunkStore: chunkStore}
}

// ErrDuplicate is matched by string in the handler, mirroring the create
// flow's conflict response.
var ErrDuplicate = fmt.Errorf("duplicate document")

// Create stores the document and queues it for chunking and embedding.
// Identical content is rejected so the index never holds the same text
// twice under different ids.
func (s *Service) Create(ctx context.Context, doc *Document) error {
	hash := sha256.Sum256([]byte(doc.Content))
	doc.ContentHash = fmt.Sprintf("%x", hash)

	exists, err := s.repo.ExistsByHash(ctx, doc.ContentHash)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicate
	}

	doc.Status = StatusPending
	if err := s.repo.Save(ctx, doc); err != nil {
		return err
	}

	s.publishIndex(ctx, doc.ID)
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*Document, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]Document, error) {
	return s.repo.List(ctx)
}

// Delete removes the document's points from the vector index first, then
// soft-deletes the row. If the index cleanup fails the row stays visible
// so the operation can be retried.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.chunkStore.DeleteByDocument(ctx, id); err != nil {
		return err
	}
	return s.repo.SoftDelete(ctx, id)
}

// Reindex queues an already stored document for a fresh chunk-and-embed
// run. Deterministic point ids make this an overwrite, not a duplication.
func (s *Service) Reindex(ctx context.Context, id string) error {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.UpdateStatus(ctx, id, StatusPending); err != nil {
		return err
	}
	s.publishIndex(ctx, id)
	return nil
}

func (s *Service) publishIndex(ctx context.Context, id string) {
	payload, _ := json.Marshal(map[string]interface{}{
		"document_id":    id,
		"correlation_id": middleware.GetCorrelationID(ctx),
	})
	if err := s.pub.Publish(config.TopicDocumentIndex, payload); err != nil {
		slog.ErrorContext(ctx, "failed to publish index event", "error", err, "document_id", id)
	} else {
		slog.InfoContext(ctx, "published index event", "document_id", id)
	}
}
