package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/nsqio/go-nsq"

	"bidwise/backend/features/document"
	"bidwise/backend/features/job"
	"bidwise/backend/internal/middleware"
	"bidwise/backend/internal/text"
	"bidwise/backend/internal/vector"
)

// IndexConsumer chunks a document, embeds each chunk and upserts the
// points. Point IDs derive from (document id, chunk index), so reprocessing
// the same message overwrites rather than duplicates.
type IndexConsumer struct {
	docs     DocumentSource
	embedder Embedder
	store    vector.Store
	jobs     job.Repository

	chunkSize    int
	chunkOverlap int
}

func NewIndexConsumer(docs DocumentSource, e Embedder, store vector.Store, jobs job.Repository, chunkSize, chunkOverlap int) *IndexConsumer {
	return &IndexConsumer{
		docs:         docs,
		embedder:     e,
		store:        store,
		jobs:         jobs,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

func (h *IndexConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload DocumentIndexPayload
	if err := json.Unmarshal(m.Body, &payload); err != nil {
		slog.Error("poison pill: invalid index payload", "error", err)
		return nil
	}
	if payload.DocumentID == "" {
		slog.Error("poison pill: index payload missing document_id")
		return nil
	}

	ctx := context.Background()
	if payload.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, payload.CorrelationID)
	}

	doc, err := h.docs.Get(ctx, payload.DocumentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			slog.WarnContext(ctx, "document gone, dropping index message", "document_id", payload.DocumentID)
			return nil
		}
		return h.fail(ctx, m, payload, err)
	}

	if err := h.docs.UpdateStatus(ctx, doc.ID, document.StatusIndexing); err != nil {
		slog.WarnContext(ctx, "failed to mark document indexing", "error", err, "document_id", doc.ID)
	}

	chunks, err := text.Split(doc.Content, h.chunkSize, h.chunkOverlap)
	if err != nil {
		// a config error will not heal on redelivery
		h.deadLetter(ctx, payload, m.Body, err)
		h.markFailed(ctx, doc.ID)
		return nil
	}

	if len(chunks) == 0 {
		slog.InfoContext(ctx, "document has no indexable content", "document_id", doc.ID)
		if err := h.docs.UpdateChunkCount(ctx, doc.ID, 0); err != nil {
			slog.WarnContext(ctx, "failed to update chunk count", "error", err, "document_id", doc.ID)
		}
		return h.finish(ctx, doc.ID)
	}

	embedCtx, cancel := context.WithTimeout(ctx, 120*time.Second)
	defer cancel()

	points := make([]vector.Point, 0, len(chunks))
	for _, chunk := range chunks {
		vec, err := h.embedder.Embed(embedCtx, chunk.Content)
		if err != nil {
			slog.ErrorContext(ctx, "chunk embedding failed", "error", err, "document_id", doc.ID, "chunk_index", chunk.Index)
			return h.fail(ctx, m, payload, err)
		}
		points = append(points, vector.Point{
			ID:         vector.PointID(doc.ID, chunk.Index),
			Vector:     vec,
			Content:    chunk.Content,
			DocumentID: doc.ID,
			Title:      doc.Title,
			ChunkIndex: chunk.Index,
		})
	}

	if err := h.store.EnsureCollection(embedCtx, len(points[0].Vector)); err != nil {
		return h.fail(ctx, m, payload, err)
	}
	if err := h.store.Upsert(embedCtx, points); err != nil {
		slog.ErrorContext(ctx, "point upsert failed", "error", err, "document_id", doc.ID)
		return h.fail(ctx, m, payload, err)
	}

	if err := h.docs.UpdateChunkCount(ctx, doc.ID, len(points)); err != nil {
		slog.WarnContext(ctx, "failed to update chunk count", "error", err, "document_id", doc.ID)
	}

	slog.InfoContext(ctx, "document indexed", "document_id", doc.ID, "chunks", len(points))
	return h.finish(ctx, doc.ID)
}

func (h *IndexConsumer) finish(ctx context.Context, docID string) error {
	if err := h.docs.UpdateStatus(ctx, docID, document.StatusIndexed); err != nil {
		slog.WarnContext(ctx, "failed to mark document indexed", "error", err, "document_id", docID)
	}
	return nil
}

// fail requeues the message while attempts remain, then dead-letters it.
func (h *IndexConsumer) fail(ctx context.Context, m *nsq.Message, payload DocumentIndexPayload, cause error) error {
	if m.Attempts < maxAttempts {
		return cause
	}
	h.deadLetter(ctx, payload, m.Body, cause)
	h.markFailed(ctx, payload.DocumentID)
	return nil
}

func (h *IndexConsumer) deadLetter(ctx context.Context, payload DocumentIndexPayload, body []byte, cause error) {
	j := &job.Job{
		DocumentID: payload.DocumentID,
		Handler:    job.HandlerIndexWorker,
		Payload:    json.RawMessage(body),
		Error:      cause.Error(),
	}
	if err := h.jobs.Save(ctx, j); err != nil {
		slog.ErrorContext(ctx, "failed to record dead-lettered index job", "error", err, "document_id", payload.DocumentID)
	} else {
		slog.WarnContext(ctx, "index message dead-lettered", "document_id", payload.DocumentID, "job_id", j.ID, "cause", cause)
	}
}

func (h *IndexConsumer) markFailed(ctx context.Context, docID string) {
	if err := h.docs.UpdateStatus(ctx, docID, document.StatusFailed); err != nil {
		slog.WarnContext(ctx, "failed to mark document failed", "error", err, "document_id", docID)
	}
}
