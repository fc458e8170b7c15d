// Package gemini is the alternate embedding provider. It is selected by
// EMBEDDER_PROVIDER=gemini and plugs into the same retrieval.Embedder seam
// as the OpenAI client.
package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"bidwise/backend/internal/settings"
)

const embeddingModel = "gemini-embedding-001"

type Embedder struct {
	client *genai.Client
}

func NewEmbedder(ctx context.Context, apiKey string) (*Embedder, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Embedder{client: client}, nil
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	res, err := e.client.EmbeddingModel(embeddingModel).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("gemini embed: empty embedding received")
	}
	return res.Embedding.Values, nil
}

// DynamicEmbedder resolves the API key from the settings table on every
// call, so a key saved through the settings endpoint takes effect without
// a restart. The genai client is rebuilt only when the key changes.
type DynamicEmbedder struct {
	settingsSvc *settings.Service
	clientOpts  []option.ClientOption

	mu         sync.RWMutex
	client     *genai.Client
	currentKey string
}

func NewDynamicEmbedder(svc *settings.Service, opts ...option.ClientOption) *DynamicEmbedder {
	return &DynamicEmbedder{settingsSvc: svc, clientOpts: opts}
}

func (e *DynamicEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	s, err := e.settingsSvc.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if s.GeminiAPIKey == "" {
		return nil, fmt.Errorf("gemini api key not configured")
	}

	client, err := e.clientFor(ctx, s.GeminiAPIKey)
	if err != nil {
		return nil, err
	}

	res, err := client.EmbeddingModel(embeddingModel).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("gemini embed: empty embedding received")
	}
	return res.Embedding.Values, nil
}

func (e *DynamicEmbedder) clientFor(ctx context.Context, key string) (*genai.Client, error) {
	e.mu.RLock()
	if e.client != nil && e.currentKey == key {
		defer e.mu.RUnlock()
		return e.client, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil && e.currentKey == key {
		return e.client, nil
	}

	if e.client != nil {
		if err := e.client.Close(); err != nil {
			slog.WarnContext(ctx, "closing stale genai client", "error", err)
		}
	}

	opts := append([]option.ClientOption{}, e.clientOpts...)
	opts = append(opts, option.WithAPIKey(key))
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	e.client = client
	e.currentKey = key
	return client, nil
}
