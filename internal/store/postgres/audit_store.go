package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/opinioncore/internal/domain"
)

// auditStore implements domain.AuditStore over the append-only audit_log
// table. Detail is stored as JSONB.
type auditStore struct {
	q querier
}

func (s *auditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	payload, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail: %w", err)
	}
	if _, err := s.q.Exec(ctx,
		`INSERT INTO audit_log (event, detail) VALUES ($1, $2)`,
		event, payload); err != nil {
		return fmt.Errorf("postgres: insert audit entry: %w", err)
	}
	return nil
}

func (s *auditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	limit, offset := pageArgs(opts)
	const query = `
		SELECT id, event, detail, created_at
		FROM audit_log
		ORDER BY id DESC
		LIMIT $1 OFFSET $2`

	rows, err := s.q.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	defer rows.Close()

	return scanAuditRows(rows)
}

func (s *auditStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = math.MaxInt32
	}
	const query = `
		SELECT id, event, detail, created_at
		FROM audit_log
		WHERE created_at < $1
		ORDER BY id
		LIMIT $2`

	rows, err := s.q.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries before %v: %w", before, err)
	}
	defer rows.Close()

	return scanAuditRows(rows)
}

func (s *auditStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.q.Exec(ctx,
		`DELETE FROM audit_log WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete audit entries before %v: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

func scanAuditRows(rows pgx.Rows) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var payload []byte
		if err := rows.Scan(&e.ID, &e.Event, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit entry: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: decode audit detail: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
