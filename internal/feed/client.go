// Package feed queries third-party price APIs for single-token USD prices.
// Any backend failure (transport error, malformed JSON, missing keys,
// non-positive value) normalizes to "no price" (0); nothing here is fatal to
// the caller.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Source names one of the supported price feed backends.
type Source string

const (
	SourceDexScreener Source = "dexscreener"
	SourceDefiLlama   Source = "defillama"
	SourceDeBank      Source = "debank"
	SourceDexGuru     Source = "dexguru"
)

// KnownSource reports whether name identifies a supported backend.
func KnownSource(name string) bool {
	switch Source(name) {
	case SourceDexScreener, SourceDefiLlama, SourceDeBank, SourceDexGuru:
		return true
	}
	return false
}

// Config holds the per-backend URL templates and the chain qualifiers some
// backends need. Zero-value fields fall back to the public endpoints.
type Config struct {
	DexScreenerURL string
	DefiLlamaURL   string
	DeBankURL      string
	DexGuruURL     string

	// ChainSlug qualifies coin ids on DefiLlama and DeBank (e.g. "kava").
	ChainSlug string
	// ChainID qualifies the DexGuru path.
	ChainID int

	Timeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.DexScreenerURL == "" {
		c.DexScreenerURL = "https://api.dexscreener.com/latest/dex/tokens/"
	}
	if c.DefiLlamaURL == "" {
		c.DefiLlamaURL = "https://coins.llama.fi/prices/current/"
	}
	if c.DeBankURL == "" {
		c.DeBankURL = "https://api.debank.com/history/token_price"
	}
	if c.DexGuruURL == "" {
		c.DexGuruURL = "https://api.dev.dex.guru/v1/chain/%d/tokens/%s/market"
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
}

// Client fetches token prices from the configured backends.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a feed client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With(slog.String("component", "feed")),
	}
}

// Price returns the USD price of the token at address from the given backend,
// or 0 when the backend has no usable price.
func (c *Client) Price(ctx context.Context, source Source, address string) float64 {
	address = strings.ToLower(address)

	var price float64
	switch source {
	case SourceDexScreener:
		price = c.fromDexScreener(ctx, address)
	case SourceDefiLlama:
		price = c.fromDefiLlama(ctx, address)
	case SourceDeBank:
		price = c.fromDeBank(ctx, address)
	case SourceDexGuru:
		price = c.fromDexGuru(ctx, address)
	default:
		c.logger.Warn("unknown price feed source", slog.String("source", string(source)))
		return 0
	}

	if price <= 0 {
		return 0
	}
	return price
}

// fromDexScreener extracts the first trading pair entry and its quoted USD
// price.
func (c *Client) fromDexScreener(ctx context.Context, address string) float64 {
	body, ok := c.get(ctx, SourceDexScreener, c.cfg.DexScreenerURL+address)
	if !ok {
		return 0
	}

	var payload struct {
		Pairs []struct {
			PriceUsd string `json:"priceUsd"`
		} `json:"pairs"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Pairs) == 0 {
		return 0
	}

	raw := strings.ReplaceAll(payload.Pairs[0].PriceUsd, ",", "")
	price, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return price
}

// fromDefiLlama extracts the price keyed by the chain-qualified coin id.
func (c *Client) fromDefiLlama(ctx context.Context, address string) float64 {
	url := c.cfg.DefiLlamaURL + c.cfg.ChainSlug + ":" + address
	body, ok := c.get(ctx, SourceDefiLlama, url)
	if !ok {
		return 0
	}

	var payload struct {
		Coins map[string]struct {
			Price float64 `json:"price"`
		} `json:"coins"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0
	}

	for _, coin := range payload.Coins {
		if coin.Price > 0 {
			return coin.Price
		}
	}
	return 0
}

// fromDeBank extracts the nested data -> price field.
func (c *Client) fromDeBank(ctx context.Context, address string) float64 {
	url := fmt.Sprintf("%s?chain=%s&token_id=%s", c.cfg.DeBankURL, c.cfg.ChainSlug, address)
	body, ok := c.get(ctx, SourceDeBank, url)
	if !ok {
		return 0
	}

	var payload struct {
		Data struct {
			Price float64 `json:"price"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0
	}
	return payload.Data.Price
}

// fromDexGuru extracts the flat price_usd field.
func (c *Client) fromDexGuru(ctx context.Context, address string) float64 {
	url := fmt.Sprintf(c.cfg.DexGuruURL, c.cfg.ChainID, address)
	body, ok := c.get(ctx, SourceDexGuru, url)
	if !ok {
		return 0
	}

	var payload struct {
		PriceUsd float64 `json:"price_usd"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0
	}
	return payload.PriceUsd
}

func (c *Client) get(ctx context.Context, source Source, url string) ([]byte, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.logger.Debug("feed request build failed",
			slog.String("source", string(source)),
			slog.String("error", err.Error()),
		)
		return nil, false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("feed request failed",
			slog.String("source", string(source)),
			slog.String("error", err.Error()),
		)
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("feed returned non-200",
			slog.String("source", string(source)),
			slog.Int("status", resp.StatusCode),
		)
		return nil, false
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false
	}
	return body, true
}
