// Package worker hosts the NSQ consumers: document indexing and batch
// answering. Both follow the same failure policy: malformed payloads are
// dropped (poison pill), transient errors are requeued by NSQ, and a
// message that exhausts its attempts is recorded as a failed job for a
// manual retry.
package worker

import (
	"context"

	"bidwise/backend/features/document"
	"bidwise/backend/features/rfp"
	"bidwise/backend/internal/answer"
)

// maxAttempts is the NSQ redelivery count after which a message is
// dead-lettered instead of requeued.
const maxAttempts = 3

type DocumentIndexPayload struct {
	DocumentID    string `json:"document_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

type AnswerBatchPayload struct {
	RFPID         string `json:"rfp_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// DocumentSource is the slice of the document repository the index worker
// needs.
type DocumentSource interface {
	Get(ctx context.Context, id string) (*document.Document, error)
	UpdateStatus(ctx context.Context, id, status string) error
	UpdateChunkCount(ctx context.Context, id string, count int) error
}

// QuestionSource is the slice of the RFP repository the answer worker
// needs.
type QuestionSource interface {
	GetQuestions(ctx context.Context, rfpID string) ([]rfp.Question, error)
	UpdateQuestionAnswer(ctx context.Context, q *rfp.Question) error
	UpdateRFPStatus(ctx context.Context, id, status string) error
}

// BatchProcessor answers an ordered question list, isolating failures.
type BatchProcessor interface {
	ProcessQuestions(ctx context.Context, questions []answer.Question) []answer.Question
}
