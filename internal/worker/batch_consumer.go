package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/nsqio/go-nsq"

	"bidwise/backend/features/job"
	"bidwise/backend/features/rfp"
	"bidwise/backend/internal/answer"
	"bidwise/backend/internal/middleware"
)

// BatchConsumer runs the sequential answering pass over an RFP sheet's
// questions and persists each annotated row. Persistence happens per
// question, so a crash mid-batch loses at most the answers still in flight.
type BatchConsumer struct {
	questions QuestionSource
	processor BatchProcessor
	jobs      job.Repository
}

func NewBatchConsumer(questions QuestionSource, processor BatchProcessor, jobs job.Repository) *BatchConsumer {
	return &BatchConsumer{questions: questions, processor: processor, jobs: jobs}
}

func (h *BatchConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload AnswerBatchPayload
	if err := json.Unmarshal(m.Body, &payload); err != nil {
		slog.Error("poison pill: invalid batch payload", "error", err)
		return nil
	}
	if payload.RFPID == "" {
		slog.Error("poison pill: batch payload missing rfp_id")
		return nil
	}

	ctx := context.Background()
	if payload.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, payload.CorrelationID)
	}

	rows, err := h.questions.GetQuestions(ctx, payload.RFPID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			slog.WarnContext(ctx, "rfp gone, dropping batch message", "rfp_id", payload.RFPID)
			return nil
		}
		return h.fail(ctx, m, payload, err)
	}
	if len(rows) == 0 {
		slog.WarnContext(ctx, "rfp has no questions", "rfp_id", payload.RFPID)
		return h.finish(ctx, payload.RFPID)
	}

	input := make([]answer.Question, len(rows))
	for i, q := range rows {
		input[i] = answer.Question{
			ID:       q.ID,
			Text:     q.Text,
			Answer:   q.Answer,
			Sources:  q.Sources,
			Status:   answer.Status(q.Status),
			Accepted: q.Accepted,
		}
	}

	processed := h.processor.ProcessQuestions(ctx, input)

	for i := range processed {
		if processed[i].Status == input[i].Status && processed[i].Answer == input[i].Answer {
			continue
		}
		row := rows[i]
		row.Answer = processed[i].Answer
		row.Sources = processed[i].Sources
		row.Status = string(processed[i].Status)
		if updateErr := h.questions.UpdateQuestionAnswer(ctx, &row); updateErr != nil {
			slog.ErrorContext(ctx, "failed to persist answered question", "error", updateErr, "question_id", row.ID)
		}
	}

	slog.InfoContext(ctx, "answer batch finished", "rfp_id", payload.RFPID, "questions", len(processed))
	return h.finish(ctx, payload.RFPID)
}

func (h *BatchConsumer) finish(ctx context.Context, rfpID string) error {
	if err := h.questions.UpdateRFPStatus(ctx, rfpID, rfp.SheetStatusReady); err != nil {
		slog.WarnContext(ctx, "failed to mark rfp ready", "error", err, "rfp_id", rfpID)
	}
	return nil
}

func (h *BatchConsumer) fail(ctx context.Context, m *nsq.Message, payload AnswerBatchPayload, cause error) error {
	if m.Attempts < maxAttempts {
		return cause
	}

	j := &job.Job{
		Handler: job.HandlerAnswerWorker,
		Payload: json.RawMessage(m.Body),
		Error:   cause.Error(),
	}
	if err := h.jobs.Save(ctx, j); err != nil {
		slog.ErrorContext(ctx, "failed to record dead-lettered batch job", "error", err, "rfp_id", payload.RFPID)
	} else {
		slog.WarnContext(ctx, "batch message dead-lettered", "rfp_id", payload.RFPID, "job_id", j.ID, "cause", cause)
	}
	return nil
}
