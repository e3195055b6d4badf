// Package pipeline drives the periodic refresh: token ingestion, price
// resolution, pool aggregation, vote tally, cache writes, and snapshot
// archival.
package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/varalabs/dexmetrics/internal/domain"
	"github.com/varalabs/dexmetrics/internal/pools"
	"github.com/varalabs/dexmetrics/internal/pricing"
	"github.com/varalabs/dexmetrics/internal/tokenlist"
	"github.com/varalabs/dexmetrics/internal/votes"
)

// snapshotDocument is the wire shape of the assets and pairs snapshots.
type snapshotDocument struct {
	Data any `json:"data"`
}

// Refresher runs one full recomputation cycle: the token universe is
// ingested and priced, pools are rebuilt, the vote tally is recomputed, and
// each aggregate is written to the cache as a whole key. Nothing in a cycle
// is fatal; failures degrade to the documented zero/fallback values.
type Refresher struct {
	ingestor *tokenlist.Ingestor
	resolver *pricing.Resolver
	pools    *pools.Aggregator
	tally    *votes.Tally
	cache    domain.SnapshotCache
	history  domain.HistoryStore // optional
	workers  int
	logger   *slog.Logger
}

// NewRefresher creates a Refresher. history may be nil when cycle records are
// not persisted.
func NewRefresher(
	ingestor *tokenlist.Ingestor,
	resolver *pricing.Resolver,
	aggregator *pools.Aggregator,
	tally *votes.Tally,
	cache domain.SnapshotCache,
	history domain.HistoryStore,
	workers int,
	logger *slog.Logger,
) *Refresher {
	if workers <= 0 {
		workers = 4
	}
	return &Refresher{
		ingestor: ingestor,
		resolver: resolver,
		pools:    aggregator,
		tally:    tally,
		cache:    cache,
		history:  history,
		workers:  workers,
		logger:   logger.With(slog.String("component", "refresher")),
	}
}

// RunCycle executes one refresh cycle. Pool aggregation starts only after
// every token's price resolution has completed, because TVL needs both
// constituent prices settled.
func (r *Refresher) RunCycle(ctx context.Context) {
	start := time.Now()
	r.resolver.ResetDiagnostics()

	tokens := r.ingestor.FetchAll(ctx)
	if len(tokens) == 0 {
		// Keep the previous snapshots rather than clobbering them with an
		// empty universe when every token list failed.
		r.logger.Warn("no tokens ingested, skipping cycle")
		return
	}
	registry := domain.NewTokenRegistry(tokens)

	r.resolvePrices(ctx, registry)
	r.writeSnapshot(ctx, "assets", registry.Tokens(), r.cache.SetAssets)

	poolList := r.syncPools(ctx, registry)
	if poolList != nil {
		r.writeSnapshot(ctx, "pairs", poolList, r.cache.SetPairs)
	}

	snapshot := r.tallyVotes(ctx, poolList)

	elapsed := time.Since(start)
	r.logger.Info("refresh cycle complete",
		slog.Int("tokens", registry.Len()),
		slog.Int("zero_price_tokens", len(r.resolver.ZeroPriceTokens())),
		slog.Int("pairs", len(poolList)),
		slog.Duration("elapsed", elapsed),
	)

	r.recordHistory(ctx, start, elapsed, registry, poolList, snapshot)
}

// RunLoop runs a cycle immediately and then on every tick until the context
// is cancelled.
func (r *Refresher) RunLoop(ctx context.Context, interval time.Duration) error {
	r.logger.Info("refresh loop starting", slog.Duration("interval", interval))

	r.RunCycle(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("refresh loop stopped")
			return ctx.Err()
		case <-ticker.C:
			r.RunCycle(ctx)
		}
	}
}

// resolvePrices fans price resolution out over the bounded worker pool and
// waits for every token to finish, successful or exhausted.
func (r *Refresher) resolvePrices(ctx context.Context, registry *domain.TokenRegistry) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	for _, tok := range registry.Tokens() {
		g.Go(func() error {
			r.resolver.Resolve(ctx, tok, registry)
			return nil
		})
	}
	_ = g.Wait()
}

// syncPools rebuilds every pool concurrently. Individual pool failures are
// skipped; a nil return means the address listing itself failed.
func (r *Refresher) syncPools(ctx context.Context, registry *domain.TokenRegistry) []*domain.Pool {
	addrs, err := r.pools.PoolAddresses(ctx)
	if err != nil {
		r.logger.Error("pool address listing failed", slog.String("error", err.Error()))
		return nil
	}

	var (
		mu   sync.Mutex
		out  = make([]*domain.Pool, 0, len(addrs))
		g, _ = errgroup.WithContext(ctx)
	)
	g.SetLimit(r.workers)

	for _, addr := range addrs {
		g.Go(func() error {
			pool, err := r.pools.Sync(ctx, addr, registry)
			if err != nil {
				r.logger.Warn("pool sync failed",
					slog.String("address", addr.Hex()),
					slog.String("error", err.Error()),
				)
				return nil
			}
			mu.Lock()
			out = append(out, pool)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// tallyVotes recomputes the vote snapshot and writes it to the cache.
func (r *Refresher) tallyVotes(ctx context.Context, poolList []*domain.Pool) domain.VoteSnapshot {
	total := r.tally.TotalVotes(poolList)
	cast, balances := r.tally.VotesCast(ctx)

	snapshot := domain.VoteSnapshot{
		TotalVotes:    total,
		VotesCast:     cast,
		VotedBalances: balances,
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		r.logger.Error("vote snapshot marshal failed", slog.String("error", err.Error()))
		return snapshot
	}
	if err := r.cache.SetVoters(ctx, data); err != nil {
		r.logger.Error("vote snapshot write failed", slog.String("error", err.Error()))
	}
	return snapshot
}

// writeSnapshot marshals the payload into the {"data": ...} envelope and
// replaces the cache key in one write.
func (r *Refresher) writeSnapshot(ctx context.Context, name string, payload any, set func(context.Context, []byte) error) {
	data, err := json.Marshal(snapshotDocument{Data: payload})
	if err != nil {
		r.logger.Error("snapshot marshal failed",
			slog.String("snapshot", name),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := set(ctx, data); err != nil {
		r.logger.Error("snapshot write failed",
			slog.String("snapshot", name),
			slog.String("error", err.Error()),
		)
		return
	}
	r.logger.Debug("snapshot updated", slog.String("snapshot", name))
}

func (r *Refresher) recordHistory(
	ctx context.Context,
	start time.Time,
	elapsed time.Duration,
	registry *domain.TokenRegistry,
	poolList []*domain.Pool,
	snapshot domain.VoteSnapshot,
) {
	if r.history == nil {
		return
	}

	var totalTVL float64
	for _, pool := range poolList {
		totalTVL += pool.TVL
	}

	rec := domain.CycleRecord{
		ID:              uuid.NewString(),
		StartedAt:       start.UTC(),
		Duration:        elapsed,
		Tokens:          registry.Len(),
		ZeroPriceTokens: len(r.resolver.ZeroPriceTokens()),
		Pairs:           len(poolList),
		TotalTVL:        totalTVL,
		TotalVotes:      snapshot.TotalVotes,
	}
	if err := r.history.RecordCycle(ctx, rec); err != nil {
		r.logger.Warn("cycle history write failed", slog.String("error", err.Error()))
	}
}
