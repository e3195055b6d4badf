// Package votes computes the governance voting summary: total vote weight
// across pool gauges and the lock-balance-weighted count of positions that
// voted in the active epoch.
package votes

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/varalabs/dexmetrics/internal/chain"
	"github.com/varalabs/dexmetrics/internal/domain"
)

// Config holds the governance contract addresses and the fallback values
// substituted when a recomputation fails.
type Config struct {
	VoterAddress  common.Address
	EscrowAddress common.Address
	MinterAddress common.Address

	// FallbackTotalVotes replaces the total when it cannot be computed.
	FallbackTotalVotes float64
	// FallbackVotesCast replaces the votes-cast figure when the batched
	// pipeline fails.
	FallbackVotesCast float64
	// EscrowDecimals scales lock balances; voting escrows use 18.
	EscrowDecimals int
}

// Tally computes vote aggregates. The snapshot cache supplies the last known
// position count as a fallback when the live count is unavailable.
type Tally struct {
	caller chain.BatchCaller
	cache  domain.SnapshotCache
	cfg    Config
	logger *slog.Logger
}

// NewTally creates a Tally.
func NewTally(caller chain.BatchCaller, cache domain.SnapshotCache, cfg Config, logger *slog.Logger) *Tally {
	if cfg.EscrowDecimals <= 0 {
		cfg.EscrowDecimals = domain.DefaultDecimals
	}
	return &Tally{
		caller: caller,
		cache:  cache,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "votes")),
	}
}

// TotalVotes sums gauge vote weight across all pools. Pools without a gauge
// or with an unusable vote figure are skipped, never fatal. A nil pool list
// means the pool sync itself failed, so the configured fallback is returned
// instead of a misleading zero.
func (t *Tally) TotalVotes(pools []*domain.Pool) float64 {
	if pools == nil {
		t.logger.Warn("no pool data for vote total, using fallback",
			slog.Float64("fallback", t.cfg.FallbackTotalVotes),
		)
		return t.cfg.FallbackTotalVotes
	}

	var total float64
	for _, pool := range pools {
		if pool == nil || pool.Gauge == nil {
			continue
		}
		votes := pool.Gauge.Votes
		if math.IsNaN(votes) || math.IsInf(votes, 0) || votes < 0 {
			t.logger.Debug("skipping malformed gauge votes",
				slog.String("pool", pool.Address),
			)
			continue
		}
		total += votes
	}
	return total
}

// VotesCast runs the three-stage batched pipeline: (1) position count and
// active epoch start, (2) last-voted timestamp per position, (3) lock balance
// for only the positions that voted within the active epoch. It returns the
// balance sum and the per-position balance map. On any failure it returns the
// configured fallback and an empty map; it never propagates an error.
func (t *Tally) VotesCast(ctx context.Context) (float64, map[uint64]float64) {
	count, epochStart, err := t.fetchEpochState(ctx)
	if err != nil {
		t.logger.Warn("votes-cast pipeline failed",
			slog.String("stage", "epoch state"),
			slog.String("error", err.Error()),
		)
		return t.cfg.FallbackVotesCast, map[uint64]float64{}
	}

	votedIDs, err := t.fetchVotedPositions(ctx, count, epochStart)
	if err != nil {
		t.logger.Warn("votes-cast pipeline failed",
			slog.String("stage", "last voted"),
			slog.String("error", err.Error()),
		)
		return t.cfg.FallbackVotesCast, map[uint64]float64{}
	}
	if len(votedIDs) == 0 {
		return 0, map[uint64]float64{}
	}

	balances, err := t.fetchBalances(ctx, votedIDs)
	if err != nil {
		t.logger.Warn("votes-cast pipeline failed",
			slog.String("stage", "balances"),
			slog.String("error", err.Error()),
		)
		return t.cfg.FallbackVotesCast, map[uint64]float64{}
	}

	var total float64
	for _, balance := range balances {
		total += balance
	}
	return total, balances
}

// fetchEpochState batches the position count and the active epoch boundary.
// A fetched count refreshes the cached fallback; a missing count falls back
// to the cached value.
func (t *Tally) fetchEpochState(ctx context.Context) (count uint64, epochStart uint64, err error) {
	res, execErr := t.caller.Execute(ctx, []chain.Call{
		{Target: t.cfg.EscrowAddress, Method: "tokenId()(uint256)", Fields: []string{"count"}},
		{Target: t.cfg.MinterAddress, Method: "active_period()(uint256)", Fields: []string{"epoch_start"}},
	})
	if execErr != nil {
		return 0, 0, execErr
	}

	count, haveCount := res.Uint64("count")
	if haveCount {
		if cacheErr := t.cache.SetPositionCount(ctx, count); cacheErr != nil {
			t.logger.Debug("caching position count failed",
				slog.String("error", cacheErr.Error()),
			)
		}
	} else {
		cached, cacheErr := t.cache.PositionCount(ctx)
		if cacheErr != nil || cached == 0 {
			return 0, 0, fmt.Errorf("position count unavailable")
		}
		t.logger.Debug("using cached position count",
			slog.Uint64("count", cached),
		)
		count = cached
	}

	epochStart, haveEpoch := res.Uint64("epoch_start")
	if !haveEpoch {
		return 0, 0, fmt.Errorf("active epoch boundary unavailable")
	}
	return count, epochStart, nil
}

// fetchVotedPositions batches the last-voted timestamp of every position and
// keeps only the ids that voted at or after the epoch boundary, so the
// balance stage never issues calls for stale voters.
func (t *Tally) fetchVotedPositions(ctx context.Context, count, epochStart uint64) ([]uint64, error) {
	calls := make([]chain.Call, 0, count)
	for id := uint64(1); id <= count; id++ {
		calls = append(calls, chain.Call{
			Target: t.cfg.VoterAddress,
			Method: "lastVoted(uint256)(uint256)",
			Args:   []any{id},
			Fields: []string{positionField(id)},
		})
	}

	res, err := t.caller.Execute(ctx, calls)
	if err != nil {
		return nil, err
	}

	voted := make([]uint64, 0, count)
	for id := uint64(1); id <= count; id++ {
		lastVoted, ok := res.Uint64(positionField(id))
		if !ok || lastVoted < epochStart {
			continue
		}
		voted = append(voted, id)
	}
	return voted, nil
}

// fetchBalances batches the lock balance of the voted positions.
func (t *Tally) fetchBalances(ctx context.Context, ids []uint64) (map[uint64]float64, error) {
	calls := make([]chain.Call, 0, len(ids))
	for _, id := range ids {
		calls = append(calls, chain.Call{
			Target: t.cfg.EscrowAddress,
			Method: "balanceOfNFT(uint256)(uint256)",
			Args:   []any{id},
			Fields: []string{positionField(id)},
		})
	}

	res, err := t.caller.Execute(ctx, calls)
	if err != nil {
		return nil, err
	}

	balances := make(map[uint64]float64, len(ids))
	for _, id := range ids {
		balance, ok := res.BigInt(positionField(id))
		if !ok {
			continue
		}
		balances[id] = chain.ToUnits(balance, t.cfg.EscrowDecimals)
	}
	return balances, nil
}

func positionField(id uint64) string {
	return "id" + strconv.FormatUint(id, 10)
}
