package answer

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Question is the unit the batch processor works on. Only Answer, Sources
// and Status are owned here; ID, Text and Accepted belong to the
// surrounding workflow and pass through untouched.
type Question struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Answer   string   `json:"answer"`
	Sources  []string `json:"sources"`
	Status   Status   `json:"status"`
	Accepted bool     `json:"accepted"`
}

const (
	// EmptyQuestionMessage marks questions skipped for having no text.
	EmptyQuestionMessage = "This question has no text. Add the question text and try again."

	// RetryHintMessage is the user-visible result of a failed generation.
	RetryHintMessage = "We could not generate an answer. Please try regenerating this question."
)

type AnswerGenerator interface {
	Generate(ctx context.Context, question string, history []Turn) (Result, error)
}

// Processor drives the generator across an ordered question list. The loop
// is strictly sequential: the inter-request delay is the backpressure
// against the LLM provider's rate limit, so questions are never answered
// concurrently.
type Processor struct {
	gen   AnswerGenerator
	delay time.Duration
	sleep func(time.Duration)
}

func NewProcessor(gen AnswerGenerator, delay time.Duration) *Processor {
	return &Processor{gen: gen, delay: delay, sleep: time.Sleep}
}

// ProcessQuestions answers each question in input order and returns the
// same-length annotated slice. One failure never aborts the batch: errors
// become status=failed records with a fixed hint and the loop moves on.
// Completed answers are fed to later questions as conversational history.
// A cancelled context stops the loop between questions; untouched
// questions keep their original status.
func (p *Processor) ProcessQuestions(ctx context.Context, questions []Question) []Question {
	out := make([]Question, len(questions))
	copy(out, questions)

	var history []Turn
	calledBefore := false

	for i := range out {
		q := &out[i]

		if strings.TrimSpace(q.Text) == "" {
			q.Status = StatusFailed
			q.Answer = EmptyQuestionMessage
			q.Sources = []string{}
			continue
		}

		if ctx.Err() != nil {
			slog.WarnContext(ctx, "batch cancelled, leaving remaining questions untouched", "processed", i, "total", len(out))
			break
		}

		if calledBefore {
			p.sleep(p.delay)
		}
		calledBefore = true

		res, err := p.gen.Generate(ctx, q.Text, history)
		if err != nil {
			slog.WarnContext(ctx, "question generation failed, continuing batch", "question_id", q.ID, "error", err)
			q.Status = StatusFailed
			q.Answer = RetryHintMessage
			q.Sources = []string{}
			continue
		}

		q.Status = StatusCompleted
		q.Answer = res.Answer
		q.Sources = res.Sources

		history = append(history, Turn{Question: q.Text, Answer: res.Answer})
	}

	return out
}
