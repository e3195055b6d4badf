package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varalabs/dexmetrics/internal/chain"
	"github.com/varalabs/dexmetrics/internal/domain"
	"github.com/varalabs/dexmetrics/internal/feed"
	"github.com/varalabs/dexmetrics/internal/pools"
	"github.com/varalabs/dexmetrics/internal/pricing"
	"github.com/varalabs/dexmetrics/internal/tokenlist"
	"github.com/varalabs/dexmetrics/internal/votes"
)

const (
	stableAddr = "0x00000000000000000000000000000000000000aa"
	tokenAddr  = "0x00000000000000000000000000000000000000bb"
	pairAddr   = "0x00000000000000000000000000000000000000dd"
)

// routedCaller dispatches batches by the method of their first call,
// simulating a healthy chain for one full cycle.
type routedCaller struct{}

func (routedCaller) Execute(_ context.Context, calls []chain.Call) (chain.Result, error) {
	if len(calls) == 0 {
		return chain.Result{}, nil
	}
	res := chain.Result{}

	switch method := calls[0].Method; {
	case strings.HasPrefix(method, "getAmountOut("):
		for _, call := range calls {
			tok := call.Args[1].(common.Address)
			switch strings.ToLower(tok.Hex()) {
			case stableAddr:
				res[call.Fields[0]] = big.NewInt(1_000_000) // $1.00
			case tokenAddr:
				res[call.Fields[0]] = big.NewInt(2_000_000) // $2.00
			}
		}
	case strings.HasPrefix(method, "allPairsLength("):
		res["count"] = big.NewInt(1)
	case strings.HasPrefix(method, "allPairs("):
		res["pair0"] = common.HexToAddress(pairAddr)
	case strings.HasPrefix(method, "getReserves("):
		res["reserve0"] = new(big.Int).Mul(big.NewInt(100), chain.Pow10(18))
		res["reserve1"] = new(big.Int).Mul(big.NewInt(200), chain.Pow10(6))
		res["token0"] = common.HexToAddress(tokenAddr)
		res["token1"] = common.HexToAddress(stableAddr)
		res["total_supply"] = new(big.Int).Mul(big.NewInt(140), chain.Pow10(18))
		res["symbol"] = "vAMM-TKA/USDT"
		res["decimals"] = uint8(18)
		res["stable"] = false
		res["gauge"] = common.Address{}
	case strings.HasPrefix(method, "tokenId("):
		res["count"] = big.NewInt(1)
		res["epoch_start"] = big.NewInt(100)
	case strings.HasPrefix(method, "lastVoted("):
		res["id1"] = big.NewInt(150)
	case strings.HasPrefix(method, "balanceOfNFT("):
		res["id1"] = new(big.Int).Mul(big.NewInt(5), chain.Pow10(18))
	}
	return res, nil
}

// memoryCache is an in-memory SnapshotCache.
type memoryCache struct {
	assets, pairs, voters []byte
	positionCount         uint64
	havePositionCount     bool
}

func (m *memoryCache) SetAssets(_ context.Context, data []byte) error { m.assets = data; return nil }
func (m *memoryCache) Assets(_ context.Context) ([]byte, error) {
	if m.assets == nil {
		return nil, domain.ErrNotFound
	}
	return m.assets, nil
}
func (m *memoryCache) SetPairs(_ context.Context, data []byte) error { m.pairs = data; return nil }
func (m *memoryCache) Pairs(_ context.Context) ([]byte, error) {
	if m.pairs == nil {
		return nil, domain.ErrNotFound
	}
	return m.pairs, nil
}
func (m *memoryCache) SetVoters(_ context.Context, data []byte) error {
	m.voters = data
	return nil
}
func (m *memoryCache) Voters(_ context.Context) ([]byte, error) {
	if m.voters == nil {
		return nil, domain.ErrNotFound
	}
	return m.voters, nil
}
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

// recordingHistory captures cycle records.
type recordingHistory struct {
	records []domain.CycleRecord
}

func (r *recordingHistory) RecordCycle(_ context.Context, rec domain.CycleRecord) error {
	r.records = append(r.records, rec)
	return nil
}

func (r *recordingHistory) RecentCycles(_ context.Context, _ int) ([]domain.CycleRecord, error) {
	return r.records, nil
}

// nullFeed never returns a price.
type nullFeed struct{}

func (nullFeed) Price(_ context.Context, _ feed.Source, _ string) float64 { return 0 }

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func serveTokenList(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestRefresher(t *testing.T, listURL string, caller chain.BatchCaller, cache domain.SnapshotCache, history domain.HistoryStore) *Refresher {
	t.Helper()
	logger := testLogger()

	ingestor := tokenlist.NewIngestor(tokenlist.Config{
		Sources: []string{listURL},
		ChainID: 2222,
	}, logger)

	resolver := pricing.NewResolver(caller, nullFeed{}, pricing.Config{
		InternalFirst:      true,
		InternalOrder:      []string{pricing.StrategyDirect},
		RouterAddress:      common.HexToAddress("0x1"),
		StableTokenAddress: stableAddr,
	}, logger)

	aggregator := pools.NewAggregator(caller, pools.Config{
		FactoryAddress:       common.HexToAddress("0x2"),
		VoterAddress:         common.HexToAddress("0x3"),
		RewardTokenAddress:   tokenAddr,
		SingleSidedTVLFactor: 2,
	}, logger)

	tally := votes.NewTally(caller, cache, votes.Config{
		VoterAddress:       common.HexToAddress("0x3"),
		EscrowAddress:      common.HexToAddress("0x4"),
		MinterAddress:      common.HexToAddress("0x5"),
		FallbackTotalVotes: 10,
		EscrowDecimals:     18,
	}, logger)

	return NewRefresher(ingestor, resolver, aggregator, tally, cache, history, 4, logger)
}

func TestRunCycle(t *testing.T) {
	srv := serveTokenList(t, `{"tokens":[
		{"address":"`+stableAddr+`","chainId":2222,"name":"Tether","symbol":"USDT","decimals":6,"tags":["stablecoin"]},
		{"address":"`+tokenAddr+`","chainId":2222,"name":"Alpha","symbol":"TKA","decimals":18}
	]}`)

	cache := &memoryCache{}
	history := &recordingHistory{}
	r := newTestRefresher(t, srv.URL, routedCaller{}, cache, history)

	r.RunCycle(context.Background())

	// Assets snapshot carries resolved prices.
	require.NotNil(t, cache.assets)
	var assets struct {
		Data []domain.Token `json:"data"`
	}
	require.NoError(t, json.Unmarshal(cache.assets, &assets))
	require.Len(t, assets.Data, 2)
	byAddr := map[string]domain.Token{}
	for _, tok := range assets.Data {
		byAddr[tok.Address] = tok
	}
	assert.InDelta(t, 1.0, byAddr[stableAddr].Price, 1e-9)
	assert.InDelta(t, 2.0, byAddr[tokenAddr].Price, 1e-9)

	// Pairs snapshot carries the synced pool with TVL from both sides.
	require.NotNil(t, cache.pairs)
	var pairs struct {
		Data []domain.Pool `json:"data"`
	}
	require.NoError(t, json.Unmarshal(cache.pairs, &pairs))
	require.Len(t, pairs.Data, 1)
	pool := pairs.Data[0]
	assert.Equal(t, pairAddr, pool.Address)
	// 100 TKA * $2 + 200 USDT * $1
	assert.InDelta(t, 400, pool.TVL, 1e-9)

	// Voters snapshot carries the recomputed tally.
	require.NotNil(t, cache.voters)
	var snapshot domain.VoteSnapshot
	require.NoError(t, json.Unmarshal(cache.voters, &snapshot))
	assert.Zero(t, snapshot.TotalVotes, "no gauges means zero weight, not the fallback")
	assert.InDelta(t, 5.0, snapshot.VotesCast, 1e-9)

	// One cycle record was persisted.
	require.Len(t, history.records, 1)
	rec := history.records[0]
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, 2, rec.Tokens)
	assert.Equal(t, 1, rec.Pairs)
	assert.Zero(t, rec.ZeroPriceTokens)
	assert.InDelta(t, 400, rec.TotalTVL, 1e-9)
}

func TestRunCycleSkipsOnEmptyUniverse(t *testing.T) {
	srv := serveTokenList(t, `{"tokens":[]}`)

	cache := &memoryCache{
		assets: []byte(`{"data":["previous"]}`),
		pairs:  []byte(`{"data":["previous"]}`),
		voters: []byte(`{"total_votes":1}`),
	}
	history := &recordingHistory{}
	r := newTestRefresher(t, srv.URL, routedCaller{}, cache, history)

	r.RunCycle(context.Background())

	assert.Equal(t, []byte(`{"data":["previous"]}`), cache.assets, "stale data beats an empty overwrite")
	assert.Equal(t, []byte(`{"data":["previous"]}`), cache.pairs)
	assert.Equal(t, []byte(`{"total_votes":1}`), cache.voters)
	assert.Empty(t, history.records)
}

// errorCaller fails every batch, simulating a dead RPC endpoint.
type errorCaller struct{}

func (errorCaller) Execute(_ context.Context, _ []chain.Call) (chain.Result, error) {
	return nil, context.DeadlineExceeded
}

func TestRunCycleDegradesOnChainFailure(t *testing.T) {
	srv := serveTokenList(t, `{"tokens":[
		{"address":"`+tokenAddr+`","chainId":2222,"name":"Alpha","symbol":"TKA","decimals":18}
	]}`)

	cache := &memoryCache{pairs: []byte(`{"data":["previous"]}`)}
	r := newTestRefresher(t, srv.URL, errorCaller{}, cache, nil)

	r.RunCycle(context.Background())

	// Assets are still written, with zero prices.
	require.NotNil(t, cache.assets)
	var assets struct {
		Data []domain.Token `json:"data"`
	}
	require.NoError(t, json.Unmarshal(cache.assets, &assets))
	require.Len(t, assets.Data, 1)
	assert.Zero(t, assets.Data[0].Price)

	// The pool listing failed, so the previous pairs snapshot survives.
	assert.Equal(t, []byte(`{"data":["previous"]}`), cache.pairs)

	// The vote tally degrades to the configured fallbacks.
	require.NotNil(t, cache.voters)
	var snapshot domain.VoteSnapshot
	require.NoError(t, json.Unmarshal(cache.voters, &snapshot))
	assert.InDelta(t, 10, snapshot.TotalVotes, 1e-9, "nil pools trigger the fallback total")
	assert.Zero(t, snapshot.VotesCast)
}
