// Package openai talks to OpenAI-compatible embedding and chat-completion
// endpoints. The base URL is injectable so tests can point the client at a
// stub server.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"bidwise/backend/internal/answer"
)

type Config struct {
	BaseURL    string
	APIKey     string
	EmbedModel string
	ChatModel  string
}

type Client struct {
	cfg    Config
	client *http.Client
}

func NewClient(cfg Config) *Client {
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

// EmbeddingError signals a failed or malformed embedding call. The client
// does not retry; callers that need a retry policy add their own.
type EmbeddingError struct {
	Status int
	Reason string
}

func (e *EmbeddingError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("embedding service: status %d: %s", e.Status, e.Reason)
	}
	return fmt.Sprintf("embedding service: %s", e.Reason)
}

// StatusError is a non-2xx response from the chat endpoint.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chat endpoint: status %d: %s", e.Status, e.Body)
}

func (e *StatusError) HTTPStatus() int { return e.Status }

func (e *StatusError) RateLimited() bool { return e.Status == http.StatusTooManyRequests }

// Embed turns text into a fixed-length vector via the embeddings endpoint.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBody := map[string]interface{}{
		"model": c.cfg.EmbedModel,
		"input": text,
	}

	body, status, err := c.post(ctx, "/embeddings", reqBody)
	if err != nil {
		return nil, &EmbeddingError{Reason: err.Error()}
	}
	if status < 200 || status >= 300 {
		return nil, &EmbeddingError{Status: status, Reason: string(body)}
	}

	var resp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &EmbeddingError{Reason: "malformed response: " + err.Error()}
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, &EmbeddingError{Reason: "malformed response: missing embedding vector"}
	}

	return resp.Data[0].Embedding, nil
}

// Chat sends the conversation to the chat-completions endpoint and returns
// the model's text verbatim. 429 and other non-2xx statuses surface as
// *StatusError for the caller's retry policy to inspect.
func (c *Client) Chat(ctx context.Context, messages []answer.Message, maxTokens int, temperature float32) (string, error) {
	reqBody := map[string]interface{}{
		"model":       c.cfg.ChatModel,
		"messages":    messages,
		"max_tokens":  maxTokens,
		"temperature": temperature,
	}

	body, status, err := c.post(ctx, "/chat/completions", reqBody)
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	if status < 200 || status >= 300 {
		return "", &StatusError{Status: status, Body: string(body)}
	}

	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("chat decode: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat decode: empty choices")
	}

	return resp.Choices[0].Message.Content, nil
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) ([]byte, int, error) {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}
