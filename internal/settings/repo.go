package settings

import (
	"context"
	"database/sql"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Get(ctx context.Context) (*Settings, error) {
	s := &Settings{}
	query := `SELECT id, openai_api_key, gemini_api_key, search_alpha, search_top_k, search_widen FROM settings WHERE id = 1`
	err := r.db.QueryRowContext(ctx, query).Scan(&s.ID, &s.OpenAIAPIKey, &s.GeminiAPIKey, &s.SearchAlpha, &s.SearchTopK, &s.SearchWiden)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *PostgresRepo) Update(ctx context.Context, s *Settings) error {
	query := `
		UPDATE settings
		SET openai_api_key = $1, gemini_api_key = $2, search_alpha = $3, search_top_k = $4, search_widen = $5, updated_at = NOW()
		WHERE id = 1
	`
	_, err := r.db.ExecContext(ctx, query, s.OpenAIAPIKey, s.GeminiAPIKey, s.SearchAlpha, s.SearchTopK, s.SearchWiden)
	return err
}
