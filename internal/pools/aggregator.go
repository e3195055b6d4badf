// Package pools rebuilds liquidity pool records from chain state and derives
// their economic metrics: TVL from resolved token prices and reserves, APR
// from gauge reward emission.
package pools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/varalabs/dexmetrics/internal/chain"
	"github.com/varalabs/dexmetrics/internal/domain"
)

const secondsPerDay = 24 * 60 * 60

// Config holds the protocol contract addresses and the aggregation policy
// knobs.
type Config struct {
	FactoryAddress common.Address
	VoterAddress   common.Address

	// RewardTokenAddress is the token gauges emit; its resolved price
	// converts emission to USD for APR.
	RewardTokenAddress string
	// FallbackRewardTokenPrice substitutes when the reward token itself
	// resolved to 0 this cycle.
	FallbackRewardTokenPrice float64
	// SingleSidedTVLFactor scales the one-sided TVL contribution when only
	// one of the two pool tokens has a resolved price. The classic
	// balanced-pool approximation doubles it.
	SingleSidedTVLFactor float64
}

// Aggregator fetches pools via batched chain reads and computes TVL and APR.
type Aggregator struct {
	caller chain.BatchCaller
	cfg    Config
	logger *slog.Logger
}

// NewAggregator creates an Aggregator.
func NewAggregator(caller chain.BatchCaller, cfg Config, logger *slog.Logger) *Aggregator {
	if cfg.SingleSidedTVLFactor <= 0 {
		cfg.SingleSidedTVLFactor = 2
	}
	return &Aggregator{
		caller: caller,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "pools")),
	}
}

// PoolAddresses lists every pair registered in the factory: one call for the
// count, then a single batch for all indexed lookups.
func (a *Aggregator) PoolAddresses(ctx context.Context) ([]common.Address, error) {
	res, err := a.caller.Execute(ctx, []chain.Call{{
		Target: a.cfg.FactoryAddress,
		Method: "allPairsLength()(uint256)",
		Fields: []string{"count"},
	}})
	if err != nil {
		return nil, fmt.Errorf("pools: fetch pair count: %w", err)
	}
	count, ok := res.Uint64("count")
	if !ok {
		return nil, fmt.Errorf("pools: pair count unavailable")
	}

	calls := make([]chain.Call, 0, count)
	for i := uint64(0); i < count; i++ {
		calls = append(calls, chain.Call{
			Target: a.cfg.FactoryAddress,
			Method: "allPairs(uint256)(address)",
			Args:   []any{i},
			Fields: []string{indexField(i)},
		})
	}

	indexed, err := a.caller.Execute(ctx, calls)
	if err != nil {
		return nil, fmt.Errorf("pools: fetch pair addresses: %w", err)
	}

	addrs := make([]common.Address, 0, count)
	for i := uint64(0); i < count; i++ {
		if addr, ok := indexed.Address(indexField(i)); ok {
			addrs = append(addrs, addr)
		}
	}
	return addrs, nil
}

// Sync rebuilds one pool record from chain state. Reserves are normalized to
// each constituent token's precision, TVL is computed from the registry's
// resolved prices, and the gauge (when present and alive) contributes reward
// emission, vote weight, and APR. The returned record fully supersedes any
// previous one.
func (a *Aggregator) Sync(ctx context.Context, address common.Address, reg *domain.TokenRegistry) (*domain.Pool, error) {
	res, err := a.caller.Execute(ctx, []chain.Call{
		{Target: address, Method: "getReserves()(uint256,uint256)", Fields: []string{"reserve0", "reserve1"}},
		{Target: address, Method: "token0()(address)", Fields: []string{"token0"}},
		{Target: address, Method: "token1()(address)", Fields: []string{"token1"}},
		{Target: address, Method: "totalSupply()(uint256)", Fields: []string{"total_supply"}},
		{Target: address, Method: "symbol()(string)", Fields: []string{"symbol"}},
		{Target: address, Method: "decimals()(uint8)", Fields: []string{"decimals"}},
		{Target: address, Method: "stable()(bool)", Fields: []string{"stable"}},
		{Target: a.cfg.VoterAddress, Method: "gauges(address)(address)", Args: []any{address}, Fields: []string{"gauge"}},
	})
	if err != nil {
		return nil, fmt.Errorf("pools: fetch pair %s: %w", address.Hex(), err)
	}

	symbol, ok := res.String("symbol")
	if !ok {
		return nil, fmt.Errorf("pools: pair %s metadata unavailable", address.Hex())
	}
	decimals, ok := res.Uint64("decimals")
	if !ok || decimals == 0 {
		decimals = domain.DefaultDecimals
	}

	pool := &domain.Pool{
		Address:  strings.ToLower(address.Hex()),
		Symbol:   symbol,
		Decimals: int(decimals),
	}
	if stable, ok := res.Bool("stable"); ok {
		pool.Stable = stable
	}
	if supply, ok := res.BigInt("total_supply"); ok {
		pool.TotalSupply = chain.ToUnits(supply, pool.Decimals)
	}

	token0Addr, _ := res.Address("token0")
	token1Addr, _ := res.Address("token1")
	pool.Token0Address = strings.ToLower(token0Addr.Hex())
	pool.Token1Address = strings.ToLower(token1Addr.Hex())

	token0 := reg.Find(pool.Token0Address)
	token1 := reg.Find(pool.Token1Address)

	if reserve0, ok := res.BigInt("reserve0"); ok {
		pool.Reserve0 = chain.ToUnits(reserve0, tokenDecimals(token0))
	}
	if reserve1, ok := res.BigInt("reserve1"); ok {
		pool.Reserve1 = chain.ToUnits(reserve1, tokenDecimals(token1))
	}

	var singleSided bool
	pool.TVL, singleSided = ComputeTVL(
		pool.Reserve0, pool.Reserve1,
		tokenPrice(token0), tokenPrice(token1),
		a.cfg.SingleSidedTVLFactor,
	)
	if singleSided {
		a.logger.Debug("pool priced single-sided",
			slog.String("symbol", pool.Symbol),
			slog.String("address", pool.Address),
		)
	}

	if gaugeAddr, ok := res.Address("gauge"); ok && gaugeAddr != (common.Address{}) {
		pool.GaugeAddress = strings.ToLower(gaugeAddr.Hex())
		a.syncGauge(ctx, pool, gaugeAddr, reg)
	}

	return pool, nil
}

// syncGauge fetches the pool's gauge state and derives APR. A dead gauge (or
// any fetch failure) leaves the pool with no gauge and APR 0.
func (a *Aggregator) syncGauge(ctx context.Context, pool *domain.Pool, gaugeAddr common.Address, reg *domain.TokenRegistry) {
	rewardToken := reg.Find(a.cfg.RewardTokenAddress)
	rewardDecimals := tokenDecimals(rewardToken)

	res, err := a.caller.Execute(ctx, []chain.Call{
		{
			Target: gaugeAddr,
			Method: "rewardRate(address)(uint256)",
			Args:   []any{common.HexToAddress(a.cfg.RewardTokenAddress)},
			Fields: []string{"reward_rate"},
		},
		{
			Target: a.cfg.VoterAddress,
			Method: "weights(address)(uint256)",
			Args:   []any{common.HexToAddress(pool.Address)},
			Fields: []string{"weight"},
		},
		{
			Target: a.cfg.VoterAddress,
			Method: "isAlive(address)(bool)",
			Args:   []any{gaugeAddr},
			Fields: []string{"alive"},
		},
	})
	if err != nil {
		a.logger.Warn("gauge fetch failed",
			slog.String("pool", pool.Symbol),
			slog.String("gauge", pool.GaugeAddress),
			slog.String("error", err.Error()),
		)
		return
	}

	if alive, ok := res.Bool("alive"); !ok || !alive {
		a.logger.Debug("gauge not alive",
			slog.String("pool", pool.Symbol),
			slog.String("gauge", pool.GaugeAddress),
		)
		return
	}

	gauge := &domain.Gauge{Address: pool.GaugeAddress}
	if rate, ok := res.BigInt("reward_rate"); ok {
		gauge.Reward = chain.ToUnits(rate, rewardDecimals) * secondsPerDay
	}
	if weight, ok := res.BigInt("weight"); ok {
		gauge.Votes = chain.ToUnits(weight, rewardDecimals)
	}
	pool.Gauge = gauge

	rewardPrice := tokenPrice(rewardToken)
	if rewardPrice <= 0 {
		rewardPrice = a.cfg.FallbackRewardTokenPrice
	}
	pool.APR = ComputeAPR(gauge.Reward, rewardPrice, pool.TVL)
}

// ComputeTVL sums the USD value of both reserves using only tokens with a
// strictly-positive resolved price. When exactly one side is priced the
// contribution is scaled by factor (the balanced-pool approximation); when
// neither side is priced TVL is 0. The second return reports whether the
// single-sided scaling applied.
func ComputeTVL(reserve0, reserve1, price0, price1, factor float64) (float64, bool) {
	var tvl float64
	if price0 > 0 {
		tvl += reserve0 * price0
	}
	if price1 > 0 {
		tvl += reserve1 * price1
	}

	if tvl > 0 && (price0 <= 0 || price1 <= 0) {
		return tvl * factor, true
	}
	return tvl, false
}

// ComputeAPR converts a daily reward emission to an annualized percentage
// rate against TVL. A pool with no TVL keeps APR 0 regardless of gauge state.
func ComputeAPR(dailyReward, rewardPrice, tvl float64) float64 {
	if tvl <= 0 {
		return 0
	}
	dailyRate := (dailyReward * rewardPrice) / tvl * 100
	return dailyRate * 365
}

func tokenDecimals(tok *domain.Token) int {
	if tok == nil || tok.Decimals <= 0 {
		return domain.DefaultDecimals
	}
	return tok.Decimals
}

func tokenPrice(tok *domain.Token) float64 {
	if tok == nil {
		return 0
	}
	return tok.Price
}

func indexField(i uint64) string {
	return fmt.Sprintf("pair%d", i)
}
