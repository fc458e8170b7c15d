package rfp

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) SaveRFP(ctx context.Context, rfp *RFP) error {
	query := `INSERT INTO rfps (name, status) VALUES ($1, $2) RETURNING id, created_at, updated_at`
	return r.db.QueryRowContext(ctx, query, rfp.Name, rfp.Status).Scan(&rfp.ID, &rfp.CreatedAt, &rfp.UpdatedAt)
}

func (r *PostgresRepo) GetRFP(ctx context.Context, id string) (*RFP, error) {
	rfp := &RFP{}
	query := `SELECT id, name, status, created_at, updated_at FROM rfps WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&rfp.ID, &rfp.Name, &rfp.Status, &rfp.CreatedAt, &rfp.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return rfp, nil
}

func (r *PostgresRepo) ListRFPs(ctx context.Context) ([]RFP, error) {
	query := `SELECT id, name, status, created_at, updated_at FROM rfps ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rfps []RFP
	for rows.Next() {
		var rfp RFP
		if err := rows.Scan(&rfp.ID, &rfp.Name, &rfp.Status, &rfp.CreatedAt, &rfp.UpdatedAt); err != nil {
			return nil, err
		}
		rfps = append(rfps, rfp)
	}
	return rfps, rows.Err()
}

func (r *PostgresRepo) UpdateRFPStatus(ctx context.Context, id, status string) error {
	query := `UPDATE rfps SET status = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, status, id)
	return err
}

// BulkCreateQuestions inserts all rows in one multi-value statement and
// fills the generated ids back in, keeping upload order via position.
func (r *PostgresRepo) BulkCreateQuestions(ctx context.Context, questions []Question) error {
	if len(questions) == 0 {
		return nil
	}

	values := make([]string, 0, len(questions))
	args := make([]interface{}, 0, len(questions)*4)
	for i, q := range questions {
		base := i * 4
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4))
		args = append(args, q.RFPID, q.Position, q.Text, q.Status)
	}

	query := `INSERT INTO rfp_questions (rfp_id, position, text, status) VALUES ` +
		strings.Join(values, ", ") + ` RETURNING id`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for i := 0; rows.Next(); i++ {
		if err := rows.Scan(&questions[i].ID); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (r *PostgresRepo) GetQuestions(ctx context.Context, rfpID string) ([]Question, error) {
	query := `SELECT id, rfp_id, position, text, answer, sources, status, accepted FROM rfp_questions WHERE rfp_id = $1 ORDER BY position ASC`
	rows, err := r.db.QueryContext(ctx, query, rfpID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []Question
	for rows.Next() {
		var q Question
		if err := rows.Scan(&q.ID, &q.RFPID, &q.Position, &q.Text, &q.Answer, pq.Array(&q.Sources), &q.Status, &q.Accepted); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

func (r *PostgresRepo) GetQuestion(ctx context.Context, id string) (*Question, error) {
	q := &Question{}
	query := `SELECT id, rfp_id, position, text, answer, sources, status, accepted FROM rfp_questions WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&q.ID, &q.RFPID, &q.Position, &q.Text, &q.Answer, pq.Array(&q.Sources), &q.Status, &q.Accepted)
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (r *PostgresRepo) UpdateQuestionAnswer(ctx context.Context, q *Question) error {
	query := `UPDATE rfp_questions SET answer = $1, sources = $2, status = $3, accepted = $4, updated_at = NOW() WHERE id = $5`
	_, err := r.db.ExecContext(ctx, query, q.Answer, pq.Array(q.Sources), q.Status, q.Accepted, q.ID)
	return err
}

func (r *PostgresRepo) SetAccepted(ctx context.Context, id string, accepted bool) error {
	query := `UPDATE rfp_questions SET accepted = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, accepted, id)
	return err
}

func (r *PostgresRepo) CountQuestionsByStatus(ctx context.Context) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM rfp_questions GROUP BY status`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}
