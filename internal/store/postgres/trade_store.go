package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/opinioncore/internal/domain"
)

// tradeStore implements domain.TradeStore over the append-only trades table.
type tradeStore struct {
	q querier
}

func (s *tradeStore) Insert(ctx context.Context, t domain.Trade) (int64, error) {
	const query = `
		INSERT INTO trades (
			question_id, seq, trader, answer, description,
			price, next_price, classification, regime, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	var id int64
	err := s.q.QueryRow(ctx, query,
		t.QuestionID, t.Seq, t.Trader, t.Answer, t.Description,
		t.Price, t.NextPrice, string(t.Classification), string(t.Regime), t.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert trade: %w", err)
	}
	return id, nil
}

func (s *tradeStore) CountByQuestion(ctx context.Context, questionID int64) (int64, error) {
	var n int64
	err := s.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM trades WHERE question_id = $1`, questionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count trades for question %d: %w", questionID, err)
	}
	return n, nil
}

func (s *tradeStore) ListByQuestion(ctx context.Context, questionID int64, opts domain.ListOpts) ([]domain.Trade, error) {
	limit, offset := pageArgs(opts)
	const query = `
		SELECT id, question_id, seq, trader, answer, description,
		       price, next_price, classification, regime, created_at
		FROM trades
		WHERE question_id = $1
		ORDER BY seq DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.q.Query(ctx, query, questionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades for question %d: %w", questionID, err)
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var class, regime string
		if err := rows.Scan(
			&t.ID, &t.QuestionID, &t.Seq, &t.Trader, &t.Answer, &t.Description,
			&t.Price, &t.NextPrice, &class, &regime, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		t.Classification = domain.Classification(class)
		t.Regime = domain.Regime(regime)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *tradeStore) RecentTraders(ctx context.Context, questionID int64, since time.Time) ([]domain.TraderStamp, error) {
	const query = `
		SELECT trader, MAX(created_at) AS last_at
		FROM trades
		WHERE question_id = $1 AND created_at > $2
		GROUP BY trader
		ORDER BY last_at DESC`

	rows, err := s.q.Query(ctx, query, questionID, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent traders for question %d: %w", questionID, err)
	}
	defer rows.Close()

	var out []domain.TraderStamp
	for rows.Next() {
		var ts domain.TraderStamp
		if err := rows.Scan(&ts.Trader, &ts.At); err != nil {
			return nil, fmt.Errorf("postgres: scan trader stamp: %w", err)
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}
