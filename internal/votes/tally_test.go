package votes

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varalabs/dexmetrics/internal/chain"
	"github.com/varalabs/dexmetrics/internal/domain"
)

type step struct {
	res chain.Result
	err error
}

// scriptedCaller replays a queue of batch results and records every batch.
type scriptedCaller struct {
	queue   []step
	batches [][]chain.Call
}

func (s *scriptedCaller) Execute(_ context.Context, calls []chain.Call) (chain.Result, error) {
	s.batches = append(s.batches, calls)
	if len(s.queue) == 0 {
		return chain.Result{}, nil
	}
	next := s.queue[0]
	s.queue = s.queue[1:]
	return next.res, next.err
}

// memoryCache is an in-memory SnapshotCache for the position-count fallback.
type memoryCache struct {
	assets, pairs, voters []byte
	positionCount         uint64
	havePositionCount     bool
}

func (m *memoryCache) SetAssets(_ context.Context, data []byte) error { m.assets = data; return nil }
func (m *memoryCache) Assets(_ context.Context) ([]byte, error)      { return m.assets, nil }
func (m *memoryCache) SetPairs(_ context.Context, data []byte) error { m.pairs = data; return nil }
func (m *memoryCache) Pairs(_ context.Context) ([]byte, error)       { return m.pairs, nil }
func (m *memoryCache) SetVoters(_ context.Context, data []byte) error {
	m.voters = data
	return nil
}
func (m *memoryCache) Voters(_ context.Context) ([]byte, error) { return m.voters, nil }
func (m *memoryCache) SetPositionCount(_ context.Context, count uint64) error {
	m.positionCount = count
	m.havePositionCount = true
	return nil
}
func (m *memoryCache) PositionCount(_ context.Context) (uint64, error) {
	if !m.havePositionCount {
		return 0, domain.ErrNotFound
	}
	return m.positionCount, nil
}

var _ domain.SnapshotCache = (*memoryCache)(nil)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testConfig() Config {
	return Config{
		VoterAddress:       common.HexToAddress("0x1"),
		EscrowAddress:      common.HexToAddress("0x2"),
		MinterAddress:      common.HexToAddress("0x3"),
		FallbackTotalVotes: 10,
		FallbackVotesCast:  0,
		EscrowDecimals:     18,
	}
}

func TestTotalVotes(t *testing.T) {
	tally := NewTally(&scriptedCaller{}, &memoryCache{}, testConfig(), testLogger())

	pools := []*domain.Pool{
		{Address: "0xa", Gauge: &domain.Gauge{Votes: 40}},
		{Address: "0xb", Gauge: &domain.Gauge{Votes: 2.5}},
		{Address: "0xc"}, // no gauge
		nil,
		{Address: "0xd", Gauge: &domain.Gauge{Votes: math.NaN()}},
		{Address: "0xe", Gauge: &domain.Gauge{Votes: -3}},
	}
	assert.InDelta(t, 42.5, tally.TotalVotes(pools), 1e-9)
}

func TestTotalVotesNilPoolsUsesFallback(t *testing.T) {
	tally := NewTally(&scriptedCaller{}, &memoryCache{}, testConfig(), testLogger())
	assert.InDelta(t, 10, tally.TotalVotes(nil), 1e-9)
}

func TestTotalVotesEmptyPoolsIsZero(t *testing.T) {
	tally := NewTally(&scriptedCaller{}, &memoryCache{}, testConfig(), testLogger())
	assert.Zero(t, tally.TotalVotes([]*domain.Pool{}))
}

func TestVotesCast(t *testing.T) {
	twoTokens := new(big.Int).Mul(big.NewInt(2), chain.Pow10(18))
	caller := &scriptedCaller{queue: []step{
		{res: chain.Result{"count": big.NewInt(3), "epoch_start": big.NewInt(100)}},
		// id1 voted this epoch, id2 is stale, id3's read reverted.
		{res: chain.Result{"id1": big.NewInt(150), "id2": big.NewInt(50)}},
		{res: chain.Result{"id1": twoTokens}},
	}}
	cache := &memoryCache{}
	tally := NewTally(caller, cache, testConfig(), testLogger())

	total, balances := tally.VotesCast(context.Background())

	assert.InDelta(t, 2.0, total, 1e-9)
	assert.Equal(t, map[uint64]float64{1: 2.0}, balances)

	require.Len(t, caller.batches, 3)
	assert.Len(t, caller.batches[1], 3, "every position gets a last-voted lookup")
	assert.Len(t, caller.batches[2], 1, "stale and unreadable positions get no balance lookup")

	assert.Equal(t, uint64(3), cache.positionCount, "a fetched count refreshes the cached fallback")
}

func TestVotesCastNoVoters(t *testing.T) {
	caller := &scriptedCaller{queue: []step{
		{res: chain.Result{"count": big.NewInt(2), "epoch_start": big.NewInt(100)}},
		{res: chain.Result{"id1": big.NewInt(10), "id2": big.NewInt(99)}},
	}}
	tally := NewTally(caller, &memoryCache{}, testConfig(), testLogger())

	total, balances := tally.VotesCast(context.Background())
	assert.Zero(t, total)
	assert.Empty(t, balances)
	assert.Len(t, caller.batches, 2, "no balance batch without voters")
}

func TestVotesCastUsesCachedPositionCount(t *testing.T) {
	caller := &scriptedCaller{queue: []step{
		// Count read reverted; epoch is available.
		{res: chain.Result{"epoch_start": big.NewInt(100)}},
		{res: chain.Result{"id1": big.NewInt(200)}},
		{res: chain.Result{"id1": chain.Pow10(18)}},
	}}
	cache := &memoryCache{positionCount: 1, havePositionCount: true}
	tally := NewTally(caller, cache, testConfig(), testLogger())

	total, balances := tally.VotesCast(context.Background())
	assert.InDelta(t, 1.0, total, 1e-9)
	assert.Len(t, balances, 1)
}

func TestVotesCastFallbacks(t *testing.T) {
	cfg := testConfig()
	cfg.FallbackVotesCast = 7

	t.Run("epoch state transport failure", func(t *testing.T) {
		caller := &scriptedCaller{queue: []step{{err: errors.New("rpc down")}}}
		tally := NewTally(caller, &memoryCache{}, cfg, testLogger())

		total, balances := tally.VotesCast(context.Background())
		assert.InDelta(t, 7, total, 1e-9)
		assert.Empty(t, balances)
	})

	t.Run("count unavailable and no cached fallback", func(t *testing.T) {
		caller := &scriptedCaller{queue: []step{
			{res: chain.Result{"epoch_start": big.NewInt(100)}},
		}}
		tally := NewTally(caller, &memoryCache{}, cfg, testLogger())

		total, balances := tally.VotesCast(context.Background())
		assert.InDelta(t, 7, total, 1e-9)
		assert.Empty(t, balances)
	})

	t.Run("balance stage failure", func(t *testing.T) {
		caller := &scriptedCaller{queue: []step{
			{res: chain.Result{"count": big.NewInt(1), "epoch_start": big.NewInt(100)}},
			{res: chain.Result{"id1": big.NewInt(150)}},
			{err: errors.New("rpc down")},
		}}
		tally := NewTally(caller, &memoryCache{}, cfg, testLogger())

		total, balances := tally.VotesCast(context.Background())
		assert.InDelta(t, 7, total, 1e-9)
		assert.Empty(t, balances)
	})
}

// Recomputing the tally from the same chain state must be idempotent.
func TestVotesCastIdempotent(t *testing.T) {
	script := func() []step {
		return []step{
			{res: chain.Result{"count": big.NewInt(1), "epoch_start": big.NewInt(100)}},
			{res: chain.Result{"id1": big.NewInt(150)}},
			{res: chain.Result{"id1": chain.Pow10(18)}},
		}
	}

	cache := &memoryCache{}
	tally := NewTally(&scriptedCaller{queue: script()}, cache, testConfig(), testLogger())
	first, _ := tally.VotesCast(context.Background())

	tally = NewTally(&scriptedCaller{queue: script()}, cache, testConfig(), testLogger())
	second, _ := tally.VotesCast(context.Background())

	assert.Equal(t, first, second)
}
