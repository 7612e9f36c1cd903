package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/opinioncore/internal/domain"
)

// questionStore implements domain.QuestionStore.
type questionStore struct {
	q         querier
	forUpdate bool
}

const questionCols = `
	id, creator, owner, text, description, categories,
	current_answer, current_answer_owner,
	last_price, next_price, total_volume, is_active,
	created_at, updated_at`

func (s *questionStore) Create(ctx context.Context, q domain.Question) (int64, error) {
	const query = `
		INSERT INTO questions (
			creator, owner, text, description, categories,
			current_answer, current_answer_owner,
			last_price, next_price, total_volume, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	var id int64
	err := s.q.QueryRow(ctx, query,
		q.Creator, q.Owner, q.Text, q.Description, q.Categories,
		q.CurrentAnswer, q.CurrentAnswerOwner,
		q.LastPrice, q.NextPrice, q.TotalVolume, q.IsActive,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert question: %w", err)
	}
	return id, nil
}

func (s *questionStore) Get(ctx context.Context, id int64) (domain.Question, error) {
	query := `SELECT` + questionCols + ` FROM questions WHERE id = $1`
	if s.forUpdate {
		query += ` FOR UPDATE`
	}
	q, err := scanQuestion(s.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Question{}, fmt.Errorf("%w: question %d", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.Question{}, fmt.Errorf("postgres: get question %d: %w", id, err)
	}
	return q, nil
}

func (s *questionStore) Update(ctx context.Context, q domain.Question) error {
	const query = `
		UPDATE questions SET
			owner                = $2,
			text                 = $3,
			description          = $4,
			categories           = $5,
			current_answer       = $6,
			current_answer_owner = $7,
			last_price           = $8,
			next_price           = $9,
			total_volume         = $10,
			is_active            = $11,
			updated_at           = NOW()
		WHERE id = $1`

	tag, err := s.q.Exec(ctx, query,
		q.ID, q.Owner, q.Text, q.Description, q.Categories,
		q.CurrentAnswer, q.CurrentAnswerOwner,
		q.LastPrice, q.NextPrice, q.TotalVolume, q.IsActive,
	)
	if err != nil {
		return fmt.Errorf("postgres: update question %d: %w", q.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: question %d", domain.ErrNotFound, q.ID)
	}
	return nil
}

func (s *questionStore) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE questions SET is_active = $2, updated_at = NOW() WHERE id = $1`,
		id, active)
	if err != nil {
		return fmt.Errorf("postgres: set question %d active: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: question %d", domain.ErrNotFound, id)
	}
	return nil
}

func (s *questionStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Question, error) {
	limit, offset := pageArgs(opts)
	query := `SELECT` + questionCols + `
		FROM questions WHERE is_active ORDER BY id DESC LIMIT $1 OFFSET $2`

	rows, err := s.q.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active questions: %w", err)
	}
	defer rows.Close()

	var out []domain.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan question: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *questionStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM questions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count questions: %w", err)
	}
	return n, nil
}

func scanQuestion(row pgx.Row) (domain.Question, error) {
	var q domain.Question
	err := row.Scan(
		&q.ID, &q.Creator, &q.Owner, &q.Text, &q.Description, &q.Categories,
		&q.CurrentAnswer, &q.CurrentAnswerOwner,
		&q.LastPrice, &q.NextPrice, &q.TotalVolume, &q.IsActive,
		&q.CreatedAt, &q.UpdatedAt,
	)
	return q, err
}
