// Package rfp manages RFP response sheets: an uploaded question list whose
// answers are generated from the indexed knowledge base, reviewed and
// accepted one by one.
package rfp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"bidwise/backend/internal/answer"
	"bidwise/backend/internal/config"
	"bidwise/backend/internal/middleware"
)

type RFP struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RFP sheet lifecycle. A sheet is "answering" while a batch run is queued
// or in flight and "ready" once every question has been visited.
const (
	SheetStatusDraft     = "draft"
	SheetStatusAnswering = "answering"
	SheetStatusReady     = "ready"
)

type Question struct {
	ID       string   `json:"id"`
	RFPID    string   `json:"rfp_id"`
	Position int      `json:"position"`
	Text     string   `json:"text"`
	Answer   string   `json:"answer"`
	Sources  []string `json:"sources"`
	Status   string   `json:"status"`
	Accepted bool     `json:"accepted"`
}

type Repository interface {
	SaveRFP(ctx context.Context, r *RFP) error
	GetRFP(ctx context.Context, id string) (*RFP, error)
	ListRFPs(ctx context.Context) ([]RFP, error)
	UpdateRFPStatus(ctx context.Context, id, status string) error

	BulkCreateQuestions(ctx context.Context, questions []Question) error
	GetQuestions(ctx context.Context, rfpID string) ([]Question, error)
	GetQuestion(ctx context.Context, id string) (*Question, error)
	UpdateQuestionAnswer(ctx context.Context, q *Question) error
	SetAccepted(ctx context.Context, id string, accepted bool) error
	CountQuestionsByStatus(ctx context.Context) (map[string]int, error)
}

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

// Generator answers a single question synchronously, used by the
// regenerate endpoint. Batch runs go through the worker instead.
type Generator interface {
	Generate(ctx context.Context, question string, history []answer.Turn) (answer.Result, error)
}

type Service struct {
	repo Repository
	pub  EventPublisher
	gen  Generator
}

func NewService(repo Repository, pub EventPublisher, gen Generator) *Service {
	return &Service{repo: repo, pub: pub, gen: gen}
}

// Create stores the sheet and its questions in upload order. Blank question
// rows are kept; the batch worker annotates them instead of dropping them,
// so the sheet mirrors the uploaded file line for line.
func (s *Service) Create(ctx context.Context, r *RFP, questionTexts []string) ([]Question, error) {
	if len(questionTexts) == 0 {
		return nil, fmt.Errorf("at least one question is required")
	}

	r.Status = SheetStatusDraft
	if err := s.repo.SaveRFP(ctx, r); err != nil {
		return nil, err
	}

	questions := make([]Question, len(questionTexts))
	for i, text := range questionTexts {
		questions[i] = Question{
			RFPID:    r.ID,
			Position: i,
			Text:     text,
			Status:   string(answer.StatusPending),
		}
	}
	if err := s.repo.BulkCreateQuestions(ctx, questions); err != nil {
		return nil, err
	}
	return questions, nil
}

func (s *Service) Get(ctx context.Context, id string) (*RFP, []Question, error) {
	r, err := s.repo.GetRFP(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	questions, err := s.repo.GetQuestions(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return r, questions, nil
}

func (s *Service) List(ctx context.Context) ([]RFP, error) {
	return s.repo.ListRFPs(ctx)
}

// GenerateAnswers queues a batch answering run for the sheet. The actual
// work happens in the answer worker; the endpoint returns immediately.
func (s *Service) GenerateAnswers(ctx context.Context, rfpID string) error {
	if _, err := s.repo.GetRFP(ctx, rfpID); err != nil {
		return err
	}

	if err := s.repo.UpdateRFPStatus(ctx, rfpID, SheetStatusAnswering); err != nil {
		return err
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"rfp_id":         rfpID,
		"correlation_id": middleware.GetCorrelationID(ctx),
	})
	if err := s.pub.Publish(config.TopicAnswerBatch, payload); err != nil {
		// roll the status back so the sheet is not stuck in answering
		if rbErr := s.repo.UpdateRFPStatus(ctx, rfpID, SheetStatusDraft); rbErr != nil {
			slog.ErrorContext(ctx, "failed to roll back sheet status", "error", rbErr, "rfp_id", rfpID)
		}
		return fmt.Errorf("queue answer batch: %w", err)
	}

	slog.InfoContext(ctx, "queued answer batch", "rfp_id", rfpID)
	return nil
}

// Regenerate re-answers one question synchronously, without conversation
// history. Acceptance is reset because the previous answer is gone.
func (s *Service) Regenerate(ctx context.Context, questionID string) (*Question, error) {
	q, err := s.repo.GetQuestion(ctx, questionID)
	if err != nil {
		return nil, err
	}

	res, err := s.gen.Generate(ctx, q.Text, nil)
	if err != nil {
		q.Status = string(answer.StatusFailed)
		q.Answer = answer.RetryHintMessage
		q.Sources = []string{}
	} else {
		q.Status = string(answer.StatusCompleted)
		q.Answer = res.Answer
		q.Sources = res.Sources
	}
	q.Accepted = false

	if updateErr := s.repo.UpdateQuestionAnswer(ctx, q); updateErr != nil {
		return nil, updateErr
	}
	if err != nil {
		return q, fmt.Errorf("regenerate question %s: %w", questionID, err)
	}
	return q, nil
}

func (s *Service) Accept(ctx context.Context, questionID string, accepted bool) error {
	return s.repo.SetAccepted(ctx, questionID, accepted)
}
