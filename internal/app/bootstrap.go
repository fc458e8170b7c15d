package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"bidwise/backend/internal/config"
)

// Deps holds the external connections the application runs on.
type Deps struct {
	DB          *sql.DB
	Weaviate    *weaviate.Client
	NSQProducer *nsq.Producer
}

// Bootstrap opens and verifies all external dependencies: postgres (with a
// ping retry loop and migrations), weaviate, and the NSQ producer. Topic
// pre-creation runs in the background because nsqd may come up after us.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Deps, error) {
	db, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}

	if err := runMigrations(db, cfg.MigrationPath); err != nil {
		db.Close()
		return nil, err
	}

	wClient, err := weaviate.NewClient(weaviate.Config{
		Host:   cfg.WeaviateHost,
		Scheme: cfg.WeaviateScheme,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("weaviate client: %w", err)
	}
	if err := waitForWeaviate(ctx, wClient, cfg); err != nil {
		db.Close()
		return nil, err
	}

	producer, err := nsq.NewProducer(cfg.NSQDHost, nsq.NewConfig())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("nsq producer: %w", err)
	}

	go preCreateTopics(cfg.NSQDHTTP)

	return &Deps{DB: db, Weaviate: wClient, NSQProducer: producer}, nil
}

func (d *Deps) Close() {
	if d.NSQProducer != nil {
		d.NSQProducer.Stop()
	}
	if d.DB != nil {
		d.DB.Close()
	}
}

func openDatabase(cfg *config.Config) (*sql.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPass, cfg.DBName)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	var pingErr error
	for i := 0; i < cfg.BootstrapRetryAttempts; i++ {
		if pingErr = db.Ping(); pingErr == nil {
			return db, nil
		}
		slog.Warn("failed to ping db, retrying", "attempt", i+1, "max_attempts", cfg.BootstrapRetryAttempts)
		time.Sleep(time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second)
	}

	db.Close()
	return nil, fmt.Errorf("ping db: %w", pingErr)
}

// The chunk collection itself is created lazily, once the first embedding
// reveals the vector dimension. Bootstrap only waits for the instance.
func waitForWeaviate(ctx context.Context, client *weaviate.Client, cfg *config.Config) error {
	var err error
	for i := 0; i < cfg.BootstrapRetryAttempts; i++ {
		var ready bool
		ready, err = client.Misc().ReadyChecker().Do(ctx)
		if err == nil && ready {
			return nil
		}
		slog.Warn("weaviate not ready, retrying", "attempt", i+1, "error", err)
		time.Sleep(time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second)
	}
	if err != nil {
		return fmt.Errorf("weaviate not ready: %w", err)
	}
	return fmt.Errorf("weaviate not ready after %d attempts", cfg.BootstrapRetryAttempts)
}

func runMigrations(db *sql.DB, path string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(path, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migration instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("migrations applied")
	return nil
}

// preCreateTopics pokes nsqd's HTTP port so both topics exist before any
// consumer queries lookupd. NSQ creates topics lazily on publish, and a
// consumer subscribed to a topic no one has published to yet gets 404s.
func preCreateTopics(nsqdHTTP string) {
	time.Sleep(2 * time.Second)

	for _, topic := range []string{config.TopicDocumentIndex, config.TopicAnswerBatch} {
		url := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, topic)
		resp, err := http.Post(url, "application/json", nil)
		if err != nil {
			slog.Warn("failed to pre-create topic", "topic", topic, "error", err)
			continue
		}
		resp.Body.Close()
		slog.Info("topic pre-created", "topic", topic)
	}
}
