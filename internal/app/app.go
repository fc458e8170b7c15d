// Package app wires the features, adapters and workers together and runs
// the HTTP server. Which surfaces start is driven by the Enable* toggles,
// so the same binary runs as API, index worker, answer worker, or all
// three.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/nsqio/go-nsq"

	"bidwise/backend/features/chat"
	"bidwise/backend/features/document"
	"bidwise/backend/features/job"
	"bidwise/backend/features/rfp"
	"bidwise/backend/features/stats"
	"bidwise/backend/internal/adapter/gemini"
	"bidwise/backend/internal/adapter/openai"
	wstore "bidwise/backend/internal/adapter/weaviate"
	"bidwise/backend/internal/answer"
	"bidwise/backend/internal/config"
	"bidwise/backend/internal/middleware"
	"bidwise/backend/internal/retrieval"
	"bidwise/backend/internal/settings"
	"bidwise/backend/internal/worker"
)

type App struct {
	cfg       *config.Config
	deps      *Deps
	server    *http.Server
	consumers []*nsq.Consumer
}

func New(ctx context.Context, cfg *config.Config, deps *Deps) (*App, error) {
	a := &App{cfg: cfg, deps: deps}

	// Repositories
	settingsRepo := settings.NewPostgresRepo(deps.DB)
	settingsService := settings.NewService(settingsRepo)
	documentRepo := document.NewPostgresRepo(deps.DB)
	rfpRepo := rfp.NewPostgresRepo(deps.DB)
	jobRepo := job.NewPostgresRepo(deps.DB)

	// Vector store and embedder
	vecStore := wstore.NewStore(deps.Weaviate)
	openaiClient := openai.NewClient(openai.Config{
		BaseURL:    cfg.OpenAIBaseURL,
		APIKey:     cfg.OpenAIAPIKey,
		EmbedModel: cfg.EmbedModel,
		ChatModel:  cfg.ChatModel,
	})
	embedder, err := buildEmbedder(ctx, cfg, openaiClient, settingsService)
	if err != nil {
		return nil, err
	}

	// Retrieval and answering
	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}
	retrievalService := retrieval.NewService(embedder, vecStore, settingsService, queryLogger, retrieval.Defaults{
		TopK:  cfg.SearchTopK,
		Widen: cfg.SearchWiden,
		Alpha: cfg.SearchAlpha,
	})

	generator := answer.NewGenerator(retrievalService, openaiClient, answer.Config{
		TopK:            cfg.SearchTopK,
		Widen:           cfg.SearchWiden,
		Alpha:           cfg.SearchAlpha,
		MaxContextChars: cfg.MaxContextChars,
		MaxTokens:       cfg.AnswerMaxTokens,
		Temperature:     cfg.AnswerTemperature,
		MaxAttempts:     cfg.LLMMaxAttempts,
		RetryBaseDelay:  time.Duration(cfg.LLMRetryBaseMS) * time.Millisecond,
	})

	// Features
	documentService := document.NewService(documentRepo, deps.NSQProducer, vecStore)
	rfpService := rfp.NewService(rfpRepo, deps.NSQProducer, generator)
	jobService := job.NewService(jobRepo, deps.NSQProducer)

	if cfg.EnableAPI {
		a.server = a.buildServer(
			document.NewHandler(documentService),
			rfp.NewHandler(rfpService),
			chat.NewHandler(generator),
			settings.NewHandler(settingsService),
			job.NewHandler(jobService),
			stats.NewHandler(documentRepo, jobRepo, rfpRepo, vecStore),
		)
	}

	if cfg.EnableIndexWorker {
		indexConsumer := worker.NewIndexConsumer(documentRepo, embedder, vecStore, jobRepo, cfg.ChunkSize, cfg.ChunkOverlap)
		if err := a.addConsumer(config.TopicDocumentIndex, indexConsumer); err != nil {
			return nil, err
		}
	}

	if cfg.EnableAnswerWorker {
		processor := answer.NewProcessor(generator, time.Duration(cfg.BatchDelayMS)*time.Millisecond)
		batchConsumer := worker.NewBatchConsumer(rfpRepo, processor, jobRepo)
		if err := a.addConsumer(config.TopicAnswerBatch, batchConsumer); err != nil {
			return nil, err
		}
	}

	return a, nil
}

// buildEmbedder picks the embedding provider. OpenAI reads its key from
// env config. Gemini uses the env key when one is set; otherwise keys are
// resolved live from the settings table so they can be rotated without a
// restart.
func buildEmbedder(ctx context.Context, cfg *config.Config, openaiClient *openai.Client, settingsService *settings.Service) (retrieval.Embedder, error) {
	switch cfg.EmbedderProvider {
	case "openai", "":
		return openaiClient, nil
	case "gemini":
		if cfg.GeminiAPIKey != "" {
			return gemini.NewEmbedder(ctx, cfg.GeminiAPIKey)
		}
		return gemini.NewDynamicEmbedder(settingsService), nil
	default:
		return nil, fmt.Errorf("unknown embedder provider %q", cfg.EmbedderProvider)
	}
}

func (a *App) buildServer(
	documentHandler *document.Handler,
	rfpHandler *rfp.Handler,
	chatHandler *chat.Handler,
	settingsHandler *settings.Handler,
	jobHandler *job.Handler,
	statsHandler *stats.Handler,
) *http.Server {
	mux := http.NewServeMux()

	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}
	route := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, middleware.CorrelationID(enableCORS(h)))
	}

	route("POST /documents", documentHandler.Create)
	route("GET /documents", documentHandler.List)
	route("GET /documents/{id}", documentHandler.Get)
	route("DELETE /documents/{id}", documentHandler.Delete)
	route("POST /documents/{id}/reindex", documentHandler.Reindex)

	route("POST /rfps", rfpHandler.Create)
	route("GET /rfps", rfpHandler.List)
	route("GET /rfps/{id}", rfpHandler.Get)
	route("POST /rfps/{id}/answers", rfpHandler.GenerateAnswers)
	route("POST /rfps/questions/{questionId}/regenerate", rfpHandler.Regenerate)
	route("PUT /rfps/questions/{questionId}/accept", rfpHandler.Accept)

	route("POST /chat", chatHandler.Ask)

	route("GET /settings", settingsHandler.GetSettings)
	route("PUT /settings", settingsHandler.UpdateSettings)

	route("GET /jobs/failed", jobHandler.List)
	route("POST /jobs/{id}/retry", jobHandler.Retry)

	route("GET /stats", statsHandler.GetStats)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (a *App) addConsumer(topic string, handler nsq.Handler) error {
	consumer, err := nsq.NewConsumer(topic, "backend", nsq.NewConfig())
	if err != nil {
		return fmt.Errorf("consumer for %s: %w", topic, err)
	}
	consumer.AddHandler(handler)
	if err := consumer.ConnectToNSQLookupd(a.cfg.NSQLookupd); err != nil {
		return fmt.Errorf("connect %s consumer to lookupd: %w", topic, err)
	}
	slog.Info("consumer connected", "topic", topic)
	a.consumers = append(a.consumers, consumer)
	return nil
}

// Run serves until ctx is cancelled, then drains the consumers and shuts
// the HTTP server down.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	if a.server != nil {
		go func() {
			slog.Info("server starting", "addr", a.server.Addr)
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	for _, c := range a.consumers {
		c.Stop()
	}
	for _, c := range a.consumers {
		<-c.StopChan
	}

	if a.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
	}
	return nil
}
