// Package pricing resolves a USD price per token by trying an ordered
// sequence of internal (on-chain routed) and external (price feed) strategies
// and accepting the first strictly-positive result.
package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/varalabs/dexmetrics/internal/chain"
	"github.com/varalabs/dexmetrics/internal/domain"
	"github.com/varalabs/dexmetrics/internal/feed"
)

// Internal strategy names. Config validation only admits names from this set.
const (
	StrategyDirect           = "direct"
	StrategyBridgedBluechips = "bridged_bluechips"
	StrategyBluechips        = "bluechip_tokens"
	StrategyNativeToken      = "native_token"
)

// KnownInternalStrategy reports whether name is a supported internal routing
// strategy.
func KnownInternalStrategy(name string) bool {
	switch name {
	case StrategyDirect, StrategyBridgedBluechips, StrategyBluechips, StrategyNativeToken:
		return true
	}
	return false
}

const getAmountOutSig = "getAmountOut(uint256,address,address)(uint256,bool)"

// PriceFeed is the external feed surface the resolver consumes.
type PriceFeed interface {
	Price(ctx context.Context, source feed.Source, address string) float64
}

// Config controls strategy ordering and the chain addresses the internal
// strategies route through.
type Config struct {
	// InternalFirst selects which strategy family runs first.
	InternalFirst bool
	// InternalOrder and ExternalOrder are validated name lists; strategies
	// run in the configured order within each family.
	InternalOrder []string
	ExternalOrder []string

	RouterAddress      common.Address
	StableTokenAddress string
	NativeTokenAddress string
	BridgedBluechips   []string
	Bluechips          []string
	IgnoredTokens      []string
}

// Resolver resolves token prices. It is safe for concurrent use across the
// refresh worker pool.
type Resolver struct {
	caller  chain.BatchCaller
	feeds   PriceFeed
	cfg     Config
	ignored map[string]bool
	logger  *slog.Logger

	mu        sync.Mutex
	zeroPrice []string
}

// NewResolver creates a Resolver.
func NewResolver(caller chain.BatchCaller, feeds PriceFeed, cfg Config, logger *slog.Logger) *Resolver {
	ignored := make(map[string]bool, len(cfg.IgnoredTokens))
	for _, addr := range cfg.IgnoredTokens {
		ignored[strings.ToLower(addr)] = true
	}
	return &Resolver{
		caller:  caller,
		feeds:   feeds,
		cfg:     cfg,
		ignored: ignored,
		logger:  logger.With(slog.String("component", "pricing")),
	}
}

// Resolve determines the USD price for tok, stores it on the token, and
// returns it. Ignore-listed tokens resolve to 0 without trying any strategy.
// When every strategy fails the price is 0 and the token is recorded for
// zero-price diagnostics. The previous resolved price is always overwritten.
func (r *Resolver) Resolve(ctx context.Context, tok *domain.Token, reg *domain.TokenRegistry) float64 {
	start := time.Now()
	tok.Normalize()

	if r.ignored[tok.Address] {
		tok.Price = 0
		r.logger.Debug("token ignore-listed",
			slog.String("symbol", tok.Symbol),
			slog.String("address", tok.Address),
		)
		return 0
	}

	type family struct {
		name    string
		attempt func(context.Context, *domain.Token, *domain.TokenRegistry) (float64, string)
	}
	families := []family{
		{"internal", r.resolveInternal},
		{"external", r.resolveExternal},
	}
	if !r.cfg.InternalFirst {
		families[0], families[1] = families[1], families[0]
	}

	for _, fam := range families {
		if price, strategy := fam.attempt(ctx, tok, reg); price > 0 {
			tok.Price = price
			r.logger.Debug("price resolved",
				slog.String("symbol", tok.Symbol),
				slog.String("family", fam.name),
				slog.String("strategy", strategy),
				slog.Float64("price", price),
				slog.Duration("elapsed", time.Since(start)),
			)
			return price
		}
	}

	tok.Price = 0
	r.recordZeroPrice(tok)
	r.logger.Debug("price resolution exhausted",
		slog.String("symbol", tok.Symbol),
		slog.String("address", tok.Address),
		slog.Duration("elapsed", time.Since(start)),
	)
	return 0
}

// resolveInternal walks the configured internal strategies against the
// reference stable token.
func (r *Resolver) resolveInternal(ctx context.Context, tok *domain.Token, reg *domain.TokenRegistry) (float64, string) {
	stable := reg.Find(r.cfg.StableTokenAddress)
	if stable == nil {
		r.logger.Warn("stable token missing from registry",
			slog.String("address", r.cfg.StableTokenAddress),
		)
		return 0, ""
	}

	for _, name := range r.cfg.InternalOrder {
		var price float64
		switch name {
		case StrategyDirect:
			price = r.directPrice(ctx, tok, stable)
		case StrategyBridgedBluechips:
			price = r.priceThroughTokens(ctx, tok, stable, r.cfg.BridgedBluechips)
		case StrategyBluechips:
			price = r.priceThroughTokens(ctx, tok, stable, r.cfg.Bluechips)
		case StrategyNativeToken:
			price = r.priceThroughTokens(ctx, tok, stable, []string{r.cfg.NativeTokenAddress})
		default:
			r.logger.Warn("unknown internal strategy", slog.String("strategy", name))
			continue
		}
		if price > 0 {
			return price, name
		}
	}
	return 0, ""
}

// resolveExternal walks the configured feed backends in order.
func (r *Resolver) resolveExternal(ctx context.Context, tok *domain.Token, _ *domain.TokenRegistry) (float64, string) {
	for _, name := range r.cfg.ExternalOrder {
		if price := r.feeds.Price(ctx, feed.Source(name), tok.Address); price > 0 {
			return price, name
		}
	}
	return 0, ""
}

// directPrice quotes one unit of tok against the stable token through the
// protocol router.
func (r *Resolver) directPrice(ctx context.Context, tok *domain.Token, stable *domain.Token) float64 {
	res, err := r.caller.Execute(ctx, []chain.Call{{
		Target: r.cfg.RouterAddress,
		Method: getAmountOutSig,
		Args: []any{
			chain.Pow10(tok.Decimals),
			common.HexToAddress(tok.Address),
			common.HexToAddress(stable.Address),
		},
		Fields: []string{"amount", "stable_route"},
	}})
	if err != nil {
		r.logger.Debug("direct quote failed",
			slog.String("symbol", tok.Symbol),
			slog.String("error", err.Error()),
		)
		return 0
	}

	amount, ok := res.BigInt("amount")
	if !ok {
		return 0
	}
	return chain.ToUnits(amount, stable.Decimals)
}

// priceThroughTokens quotes tok through every intermediate in addrs
// (tok -> intermediate -> stable) and sums the USD value of the routes that
// yield a positive result. Invalid intermediate addresses are skipped with a
// diagnostic; a failing route never poisons its siblings.
func (r *Resolver) priceThroughTokens(ctx context.Context, tok *domain.Token, stable *domain.Token, addrs []string) float64 {
	intermediates := make([]common.Address, 0, len(addrs))
	for _, addr := range addrs {
		if addr == "" {
			continue
		}
		if !common.IsHexAddress(addr) {
			r.logger.Warn("invalid intermediate address",
				slog.String("address", addr),
			)
			continue
		}
		intermediates = append(intermediates, common.HexToAddress(addr))
	}
	if len(intermediates) == 0 {
		return 0
	}

	// First leg: tok -> intermediate, batched across all intermediates.
	legOne := make([]chain.Call, 0, len(intermediates))
	for i, mid := range intermediates {
		legOne = append(legOne, chain.Call{
			Target: r.cfg.RouterAddress,
			Method: getAmountOutSig,
			Args: []any{
				chain.Pow10(tok.Decimals),
				common.HexToAddress(tok.Address),
				mid,
			},
			Fields: []string{quoteField(i), ""},
		})
	}

	legOneRes, err := r.caller.Execute(ctx, legOne)
	if err != nil {
		r.logger.Debug("routed quote leg one failed",
			slog.String("symbol", tok.Symbol),
			slog.String("error", err.Error()),
		)
		return 0
	}

	// Second leg: intermediate -> stable, only for routes with liquidity.
	legTwo := make([]chain.Call, 0, len(intermediates))
	for i, mid := range intermediates {
		amount, ok := legOneRes.BigInt(quoteField(i))
		if !ok || amount.Sign() <= 0 {
			continue
		}
		legTwo = append(legTwo, chain.Call{
			Target: r.cfg.RouterAddress,
			Method: getAmountOutSig,
			Args: []any{
				amount,
				mid,
				common.HexToAddress(stable.Address),
			},
			Fields: []string{quoteField(i), ""},
		})
	}
	if len(legTwo) == 0 {
		return 0
	}

	legTwoRes, err := r.caller.Execute(ctx, legTwo)
	if err != nil {
		r.logger.Debug("routed quote leg two failed",
			slog.String("symbol", tok.Symbol),
			slog.String("error", err.Error()),
		)
		return 0
	}

	var total float64
	for i := range intermediates {
		amount, ok := legTwoRes.BigInt(quoteField(i))
		if !ok || amount.Sign() <= 0 {
			continue
		}
		total += chain.ToUnits(amount, stable.Decimals)
	}
	return total
}

func quoteField(i int) string {
	return "q" + strconv.Itoa(i)
}

func (r *Resolver) recordZeroPrice(tok *domain.Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, addr := range r.zeroPrice {
		if addr == tok.Address {
			return
		}
	}
	r.zeroPrice = append(r.zeroPrice, tok.Address)
}

// ZeroPriceTokens returns the addresses that exhausted every strategy since
// the last reset.
func (r *Resolver) ZeroPriceTokens() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.zeroPrice))
	copy(out, r.zeroPrice)
	return out
}

// ResetDiagnostics clears the zero-price record at the start of a cycle.
func (r *Resolver) ResetDiagnostics() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.zeroPrice = nil
}

// Describe returns a short human-readable summary of the configured strategy
// ordering, used in startup logging.
func (r *Resolver) Describe() string {
	first, second := "internal", "external"
	if !r.cfg.InternalFirst {
		first, second = second, first
	}
	return fmt.Sprintf("%s(%s) then %s(%s)",
		first, strings.Join(r.orderFor(first), ","),
		second, strings.Join(r.orderFor(second), ","),
	)
}

func (r *Resolver) orderFor(family string) []string {
	if family == "internal" {
		return r.cfg.InternalOrder
	}
	return r.cfg.ExternalOrder
}
