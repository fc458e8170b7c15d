// Package answer turns RFP questions into grounded answers: retrieve
// context, compose the prompt, call the chat model with a bounded retry
// policy, and report the citations the context was built from.
package answer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"bidwise/backend/internal/retrieval"
	"bidwise/backend/internal/retry"
)

// Message is one chat-completion message in wire format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Turn is one prior question/answer pair, passed as conversational history
// for continuity. Read-only input.
type Turn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Result is a generated answer plus the citations of the chunks that
// backed its context. Sources is empty when retrieval found nothing.
type Result struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

// GenerationError is a terminal failure of a single generation call, after
// the retry budget is spent or on a non-retryable response.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string { return "answer generation failed: " + e.Err.Error() }

func (e *GenerationError) Unwrap() error { return e.Err }

// InvalidQuestionAnswer is returned for blank questions without any network
// call.
const InvalidQuestionAnswer = "Please provide a question to answer."

type ChatModel interface {
	Chat(ctx context.Context, messages []Message, maxTokens int, temperature float32) (string, error)
}

type Retriever interface {
	HybridSearch(ctx context.Context, query string, opts *retrieval.Options) ([]retrieval.RetrievedChunk, error)
}

type Config struct {
	TopK            int
	Widen           int
	Alpha           float32
	MaxContextChars int
	MaxTokens       int
	Temperature     float32
	MaxAttempts     int
	RetryBaseDelay  time.Duration
}

func (c *Config) fillDefaults() {
	if c.TopK <= 0 {
		c.TopK = 6
	}
	if c.Widen <= 0 {
		c.Widen = 40
	}
	if c.Alpha <= 0 {
		c.Alpha = 0.7
	}
	if c.MaxContextChars <= 0 {
		c.MaxContextChars = 4000
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 700
	}
	if c.Temperature <= 0 {
		c.Temperature = 0.2
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 2 * time.Second
	}
}

type Generator struct {
	retriever Retriever
	chat      ChatModel
	cfg       Config
	sleep     func(time.Duration)
}

func NewGenerator(r Retriever, chat ChatModel, cfg Config) *Generator {
	cfg.fillDefaults()
	return &Generator{retriever: r, chat: chat, cfg: cfg, sleep: time.Sleep}
}

// Generate answers a single question. Blank questions short-circuit to a
// fixed answer without touching the network. Chat calls are retried on
// rate limiting (HTTP 429) and transport errors with linearly increasing
// delays; any other non-success status is terminal immediately.
func (g *Generator) Generate(ctx context.Context, question string, history []Turn) (Result, error) {
	if strings.TrimSpace(question) == "" {
		return Result{Answer: InvalidQuestionAnswer, Sources: []string{}}, nil
	}

	chunks, err := g.retriever.HybridSearch(ctx, question, &retrieval.Options{
		TopK:  &g.cfg.TopK,
		Widen: &g.cfg.Widen,
		Alpha: &g.cfg.Alpha,
	})
	if err != nil {
		return Result{}, &GenerationError{Err: fmt.Errorf("retrieve: %w", err)}
	}

	contextStr, sources := retrieval.BuildContext(chunks, g.cfg.MaxContextChars)

	messages := buildMessages(question, contextStr, history)

	answerText, err := retry.Do(ctx, retry.Policy{
		MaxAttempts: g.cfg.MaxAttempts,
		Backoff:     retry.Linear(g.cfg.RetryBaseDelay),
		Retryable:   retryableChatError,
		Sleep:       g.sleep,
	}, func(ctx context.Context) (string, error) {
		return g.chat.Chat(ctx, messages, g.cfg.MaxTokens, g.cfg.Temperature)
	})
	if err != nil {
		return Result{}, &GenerationError{Err: err}
	}

	if sources == nil {
		sources = []string{}
	}
	return Result{Answer: answerText, Sources: sources}, nil
}

func retryableChatError(err error) bool {
	var st interface{ HTTPStatus() int }
	if errors.As(err, &st) {
		return st.HTTPStatus() == http.StatusTooManyRequests
	}
	// Transport-level failures share the same retry budget
	return true
}

const systemPrompt = `You are an assistant that answers vendor RFP and compliance questions.
Decide how to answer based on the kind of question:
1. For conversational greetings, reply briefly and politely without using the document context.
2. For domain or compliance questions, answer strictly from the provided context. If the context does not contain the answer, reply exactly: "I could not find this information in the provided documents."
3. For general-knowledge questions unrelated to the context, answer from your own knowledge.
4. For follow-up questions, stay consistent with the prior conversation shown below.`

func buildMessages(question, contextStr string, history []Turn) []Message {
	var b strings.Builder

	if contextStr != "" {
		b.WriteString("Context:\n")
		b.WriteString(contextStr)
		b.WriteString("\n\n")
	}

	if len(history) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, t := range history {
			b.WriteString("User: ")
			b.WriteString(t.Question)
			b.WriteString("\nAI: ")
			b.WriteString(t.Answer)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("Question: ")
	b.WriteString(question)

	return []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: b.String()},
	}
}
