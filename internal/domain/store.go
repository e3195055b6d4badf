package domain

import (
	"context"
	"io"
	"time"
)

// SnapshotCache is the key-value store the refresh pipeline writes its
// aggregates to and the read API serves from. Each Set replaces the whole key
// atomically with a fully built JSON document plus expiry, so readers never
// observe a half-updated snapshot.
type SnapshotCache interface {
	SetAssets(ctx context.Context, data []byte) error
	Assets(ctx context.Context) ([]byte, error)

	SetPairs(ctx context.Context, data []byte) error
	Pairs(ctx context.Context) ([]byte, error)

	SetVoters(ctx context.Context, data []byte) error
	Voters(ctx context.Context) ([]byte, error)

	// SetPositionCount / PositionCount track the last known number of
	// governance positions, used as a fallback when the live count cannot
	// be fetched from the chain.
	SetPositionCount(ctx context.Context, count uint64) error
	PositionCount(ctx context.Context) (uint64, error)
}

// CycleRecord describes one completed refresh cycle.
type CycleRecord struct {
	ID              string
	StartedAt       time.Time
	Duration        time.Duration
	Tokens          int
	ZeroPriceTokens int
	Pairs           int
	TotalTVL        float64
	TotalVotes      float64
}

// HistoryStore persists refresh-cycle records for operational inspection.
type HistoryStore interface {
	RecordCycle(ctx context.Context, rec CycleRecord) error
	RecentCycles(ctx context.Context, limit int) ([]CycleRecord, error)
}

// BlobWriter uploads snapshot archives to cold storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
