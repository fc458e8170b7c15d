// Package chat exposes the interactive single-question endpoint. Unlike
// the batch worker it propagates generation failures to the caller instead
// of swallowing them into a status field.
package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"bidwise/backend/internal/answer"
	"bidwise/backend/internal/middleware"
)

type Generator interface {
	Generate(ctx context.Context, question string, history []answer.Turn) (answer.Result, error)
}

type Handler struct {
	gen Generator
}

func NewHandler(gen Generator) *Handler {
	return &Handler{gen: gen}
}

func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Question string        `json:"question"`
		History  []answer.Turn `json:"history"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	res, err := h.gen.Generate(ctx, req.Question, req.History)
	if err != nil {
		slog.ErrorContext(ctx, "chat generation failed", "error", err)
		h.writeError(ctx, w, "GENERATION_FAILED", "Could not generate an answer, please try again", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"data": map[string]interface{}{
			"answer":  res.Answer,
			"sources": res.Sources,
		},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
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
