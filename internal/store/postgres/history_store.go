package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/varalabs/dexmetrics/internal/domain"
)

// HistoryStore implements domain.HistoryStore on the refresh_cycles table.
type HistoryStore struct {
	pool *pgxpool.Pool
}

// NewHistoryStore creates a HistoryStore backed by the given client.
func NewHistoryStore(c *Client) *HistoryStore {
	return &HistoryStore{pool: c.Pool()}
}

// RecordCycle inserts one completed refresh-cycle record.
func (s *HistoryStore) RecordCycle(ctx context.Context, rec domain.CycleRecord) error {
	const q = `
INSERT INTO refresh_cycles
	(id, started_at, duration_ms, tokens, zero_price_tokens, pairs, total_tvl, total_votes)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, q,
		rec.ID,
		rec.StartedAt,
		rec.Duration.Milliseconds(),
		rec.Tokens,
		rec.ZeroPriceTokens,
		rec.Pairs,
		rec.TotalTVL,
		rec.TotalVotes,
	)
	if err != nil {
		return fmt.Errorf("postgres: record cycle %s: %w", rec.ID, err)
	}
	return nil
}

// RecentCycles returns the most recent cycle records, newest first.
func (s *HistoryStore) RecentCycles(ctx context.Context, limit int) ([]domain.CycleRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	const q = `
SELECT id, started_at, duration_ms, tokens, zero_price_tokens, pairs, total_tvl, total_votes
FROM refresh_cycles
ORDER BY started_at DESC
LIMIT $1`

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent cycles: %w", err)
	}
	defer rows.Close()

	var out []domain.CycleRecord
	for rows.Next() {
		var (
			rec        domain.CycleRecord
			durationMs int64
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.StartedAt,
			&durationMs,
			&rec.Tokens,
			&rec.ZeroPriceTokens,
			&rec.Pairs,
			&rec.TotalTVL,
			&rec.TotalVotes,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan cycle: %w", err)
		}
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: recent cycles rows: %w", err)
	}
	return out, nil
}

var _ domain.HistoryStore = (*HistoryStore)(nil)
