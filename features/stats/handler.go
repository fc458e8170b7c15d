package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"bidwise/backend/internal/middleware"
)

type DocumentRepo interface {
	Count(ctx context.Context) (int, error)
}

type JobRepo interface {
	Count(ctx context.Context) (int, error)
}

type QuestionRepo interface {
	CountQuestionsByStatus(ctx context.Context) (map[string]int, error)
}

type VectorStore interface {
	Count(ctx context.Context) (int, error)
}

type Handler struct {
	documentRepo DocumentRepo
	jobRepo      JobRepo
	questionRepo QuestionRepo
	vectorStore  VectorStore
}

func NewHandler(d DocumentRepo, j JobRepo, q QuestionRepo, v VectorStore) *Handler {
	return &Handler{documentRepo: d, jobRepo: j, questionRepo: q, vectorStore: v}
}

type StatsResponse struct {
	Documents  int            `json:"documents"`
	Chunks     int            `json:"chunks"`
	FailedJobs int            `json:"failed_jobs"`
	Questions  map[string]int `json:"questions"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	dCount, err := h.documentRepo.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count documents", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count documents", http.StatusInternalServerError)
		return
	}

	jCount, err := h.jobRepo.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count jobs", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count jobs", http.StatusInternalServerError)
		return
	}

	qCounts, err := h.questionRepo.CountQuestionsByStatus(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count questions", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count questions", http.StatusInternalServerError)
		return
	}
	if qCounts == nil {
		qCounts = map[string]int{}
	}

	cCount, err := h.vectorStore.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count chunks", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count chunks", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{
		Documents:  dCount,
		Chunks:     cCount,
		FailedJobs: jCount,
		Questions:  qCounts,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
