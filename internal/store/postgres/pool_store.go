package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/opinioncore/internal/domain"
)

// poolStore implements domain.PoolStore.
type poolStore struct {
	q         querier
	forUpdate bool
}

const poolCols = `
	id, question_id, creator, name, proposed_answer, deadline, status,
	total_contributed, penalty_reserve,
	created_at, updated_at, executed_at, expired_at`

func (s *poolStore) Create(ctx context.Context, p domain.Pool) (int64, error) {
	const query = `
		INSERT INTO pools (
			question_id, creator, name, proposed_answer, deadline, status,
			total_contributed, penalty_reserve
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	var id int64
	err := s.q.QueryRow(ctx, query,
		p.QuestionID, p.Creator, p.Name, p.ProposedAnswer, p.Deadline,
		string(p.Status), p.TotalContributed, p.PenaltyReserve,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert pool: %w", err)
	}
	return id, nil
}

func (s *poolStore) Get(ctx context.Context, id int64) (domain.Pool, error) {
	query := `SELECT` + poolCols + ` FROM pools WHERE id = $1`
	if s.forUpdate {
		query += ` FOR UPDATE`
	}
	p, err := scanPool(s.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Pool{}, fmt.Errorf("%w: pool %d", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.Pool{}, fmt.Errorf("postgres: get pool %d: %w", id, err)
	}
	if p.Contributions, err = s.contributions(ctx, id); err != nil {
		return domain.Pool{}, err
	}
	return p, nil
}

// Update persists the pool's scalar fields; contributions move only through
// AddContribution, SetContributionWithdrawn, and MarkRefunded.
func (s *poolStore) Update(ctx context.Context, p domain.Pool) error {
	const query = `
		UPDATE pools SET
			deadline          = $2,
			status            = $3,
			total_contributed = $4,
			penalty_reserve   = $5,
			executed_at       = $6,
			expired_at        = $7,
			updated_at        = NOW()
		WHERE id = $1`

	tag, err := s.q.Exec(ctx, query,
		p.ID, p.Deadline, string(p.Status),
		p.TotalContributed, p.PenaltyReserve, p.ExecutedAt, p.ExpiredAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update pool %d: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: pool %d", domain.ErrNotFound, p.ID)
	}
	return nil
}

func (s *poolStore) AddContribution(ctx context.Context, poolID int64, contributor string, amount int64) error {
	const query = `
		INSERT INTO pool_contributions (pool_id, contributor, amount)
		VALUES ($1, $2, $3)
		ON CONFLICT (pool_id, contributor) DO UPDATE SET
			amount     = pool_contributions.amount + EXCLUDED.amount,
			updated_at = NOW()`

	if _, err := s.q.Exec(ctx, query, poolID, contributor, amount); err != nil {
		return fmt.Errorf("postgres: add contribution to pool %d: %w", poolID, err)
	}
	return nil
}

func (s *poolStore) SetContributionWithdrawn(ctx context.Context, poolID int64, contributor string) error {
	const query = `
		UPDATE pool_contributions
		SET amount = 0, withdrawn = TRUE, updated_at = NOW()
		WHERE pool_id = $1 AND contributor = $2 AND NOT withdrawn`

	tag, err := s.q.Exec(ctx, query, poolID, contributor)
	if err != nil {
		return fmt.Errorf("postgres: withdraw contribution from pool %d: %w", poolID, err)
	}
	if tag.RowsAffected() == 0 {
		return s.flagConflict(ctx, poolID, contributor, domain.ErrAlreadyWithdrawn)
	}
	return nil
}

func (s *poolStore) MarkRefunded(ctx context.Context, poolID int64, contributor string) error {
	const query = `
		UPDATE pool_contributions
		SET refunded = TRUE, updated_at = NOW()
		WHERE pool_id = $1 AND contributor = $2 AND NOT refunded`

	tag, err := s.q.Exec(ctx, query, poolID, contributor)
	if err != nil {
		return fmt.Errorf("postgres: mark refund in pool %d: %w", poolID, err)
	}
	if tag.RowsAffected() == 0 {
		return s.flagConflict(ctx, poolID, contributor, domain.ErrAlreadyRefunded)
	}
	return nil
}

// flagConflict distinguishes a missing contribution from a flag already set.
func (s *poolStore) flagConflict(ctx context.Context, poolID int64, contributor string, set error) error {
	var exists bool
	err := s.q.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM pool_contributions WHERE pool_id = $1 AND contributor = $2)`,
		poolID, contributor).Scan(&exists)
	if err != nil {
		return fmt.Errorf("postgres: check contribution in pool %d: %w", poolID, err)
	}
	if !exists {
		return fmt.Errorf("%w: no contribution by %s in pool %d", domain.ErrNotFound, contributor, poolID)
	}
	return set
}

func (s *poolStore) ListByQuestion(ctx context.Context, questionID int64, opts domain.ListOpts) ([]domain.Pool, error) {
	limit, offset := pageArgs(opts)
	query := `SELECT` + poolCols + `
		FROM pools WHERE question_id = $1 ORDER BY id DESC LIMIT $2 OFFSET $3`

	rows, err := s.q.Query(ctx, query, questionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pools for question %d: %w", questionID, err)
	}
	defer rows.Close()

	var out []domain.Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan pool: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Contributions, err = s.contributions(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *poolStore) contributions(ctx context.Context, poolID int64) ([]domain.Contribution, error) {
	const query = `
		SELECT pool_id, contributor, amount, refunded, withdrawn, created_at, updated_at
		FROM pool_contributions
		WHERE pool_id = $1
		ORDER BY created_at, contributor`

	rows, err := s.q.Query(ctx, query, poolID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list contributions for pool %d: %w", poolID, err)
	}
	defer rows.Close()

	var out []domain.Contribution
	for rows.Next() {
		var c domain.Contribution
		if err := rows.Scan(
			&c.PoolID, &c.Contributor, &c.Amount, &c.Refunded, &c.Withdrawn,
			&c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan contribution: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanPool(row pgx.Row) (domain.Pool, error) {
	var p domain.Pool
	var status string
	err := row.Scan(
		&p.ID, &p.QuestionID, &p.Creator, &p.Name, &p.ProposedAnswer,
		&p.Deadline, &status,
		&p.TotalContributed, &p.PenaltyReserve,
		&p.CreatedAt, &p.UpdatedAt, &p.ExecutedAt, &p.ExpiredAt,
	)
	p.Status = domain.PoolStatus(status)
	return p, err
}
