package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"bidwise"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"bidwise"`

	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	// LLM providers
	OpenAIBaseURL    string `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
	OpenAIAPIKey     string `envconfig:"OPENAI_API_KEY"`
	EmbedModel       string `envconfig:"EMBED_MODEL" default:"text-embedding-3-small"`
	ChatModel        string `envconfig:"CHAT_MODEL" default:"gpt-4o-mini"`
	EmbedderProvider string `envconfig:"EMBEDDER_PROVIDER" default:"openai"`
	GeminiAPIKey     string `envconfig:"GEMINI_API_KEY"`

	// Retrieval
	SearchTopK      int     `envconfig:"SEARCH_TOP_K" default:"6"`
	SearchWiden     int     `envconfig:"SEARCH_WIDEN" default:"40"`
	SearchAlpha     float32 `envconfig:"SEARCH_ALPHA" default:"0.7"`
	MaxContextChars int     `envconfig:"MAX_CONTEXT_CHARS" default:"4000"`
	ChunkSize       int     `envconfig:"CHUNK_SIZE" default:"1000"`
	ChunkOverlap    int     `envconfig:"CHUNK_OVERLAP" default:"150"`

	// Answer generation
	AnswerMaxTokens   int     `envconfig:"ANSWER_MAX_TOKENS" default:"700"`
	AnswerTemperature float32 `envconfig:"ANSWER_TEMPERATURE" default:"0.2"`
	LLMMaxAttempts    int     `envconfig:"LLM_MAX_ATTEMPTS" default:"3"`
	LLMRetryBaseMS    int     `envconfig:"LLM_RETRY_BASE_MS" default:"2000"`
	BatchDelayMS      int     `envconfig:"BATCH_DELAY_MS" default:"1000"`

	EnableAPI          bool   `envconfig:"ENABLE_API" default:"true"`
	EnableIndexWorker  bool   `envconfig:"ENABLE_INDEX_WORKER" default:"true"`
	EnableAnswerWorker bool   `envconfig:"ENABLE_ANSWER_WORKER" default:"true"`
	MigrationPath      string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Server
	ServerPort   int    `envconfig:"SERVER_PORT" default:"8081"`
	QueryLogPath string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Try loading .env from current dir and repo root
	// Ignore errors, as env vars might be set in the shell
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	rootEnv := filepath.Join(cwd, "../../.env")
	_ = godotenv.Load(rootEnv)

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: CHUNK_OVERLAP must be smaller than CHUNK_SIZE", ErrMissingRequired)
	}
	if c.SearchAlpha < 0 || c.SearchAlpha > 1 {
		return fmt.Errorf("%w: SEARCH_ALPHA must be within [0,1]", ErrMissingRequired)
	}
	return nil
}
