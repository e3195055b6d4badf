// Package tokenlist ingests the configured token-list documents into domain
// tokens, filtering out foreign-chain and ignore-listed entries.
package tokenlist

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/varalabs/dexmetrics/internal/domain"
)

// Config selects the token-list sources and the chain filter.
type Config struct {
	Sources       []string
	ChainID       int
	IgnoredTokens []string
	Timeout       time.Duration
}

// listDocument is the standard token-list JSON shape.
type listDocument struct {
	Tokens []listToken `json:"tokens"`
}

type listToken struct {
	Address             string   `json:"address"`
	ChainID             int      `json:"chainId"`
	Name                string   `json:"name"`
	Symbol              string   `json:"symbol"`
	Decimals            int      `json:"decimals"`
	LogoURI             string   `json:"logoURI"`
	Tags                []string `json:"tags"`
	LiquidStakedAddress string   `json:"liquid_staked_address"`
	Tax                 float64  `json:"tax"`
}

// Ingestor fetches and merges token lists.
type Ingestor struct {
	cfg        Config
	httpClient *http.Client
	ignored    map[string]bool
	logger     *slog.Logger
	now        func() time.Time
}

// NewIngestor creates an Ingestor.
func NewIngestor(cfg Config, logger *slog.Logger) *Ingestor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	ignored := make(map[string]bool, len(cfg.IgnoredTokens))
	for _, addr := range cfg.IgnoredTokens {
		ignored[strings.ToLower(addr)] = true
	}
	return &Ingestor{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		ignored:    ignored,
		logger:     logger.With(slog.String("component", "tokenlist")),
		now:        time.Now,
	}
}

// FetchAll fetches every configured source concurrently and merges the valid
// tokens. A failing source is logged and skipped; duplicates across lists
// keep the first occurrence.
func (i *Ingestor) FetchAll(ctx context.Context) []*domain.Token {
	var (
		mu     sync.Mutex
		merged []*domain.Token
	)

	g, ctx := errgroup.WithContext(ctx)
	for _, source := range i.cfg.Sources {
		g.Go(func() error {
			tokens, err := i.fetchList(ctx, source)
			if err != nil {
				i.logger.Error("token list fetch failed",
					slog.String("source", source),
					slog.String("error", err.Error()),
				)
				return nil
			}
			mu.Lock()
			merged = append(merged, tokens...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	seen := make(map[string]bool, len(merged))
	out := make([]*domain.Token, 0, len(merged))
	for _, tok := range merged {
		if seen[tok.Address] {
			continue
		}
		seen[tok.Address] = true
		out = append(out, tok)
	}
	return out
}

func (i *Ingestor) fetchList(ctx context.Context, source string) ([]*domain.Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("tokenlist: build request: %w", err)
	}

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tokenlist: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tokenlist: fetch: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tokenlist: read body: %w", err)
	}

	var doc listDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("tokenlist: decode: %w", err)
	}

	tokens := make([]*domain.Token, 0, len(doc.Tokens))
	for _, entry := range doc.Tokens {
		tok, ok := i.toToken(entry)
		if !ok {
			continue
		}
		tokens = append(tokens, tok)
	}

	i.logger.Debug("token list loaded",
		slog.String("source", source),
		slog.Int("tokens", len(tokens)),
	)
	return tokens, nil
}

// toToken validates and converts one list entry. Entries from other chains,
// with empty addresses, or on the ignore list are dropped.
func (i *Ingestor) toToken(entry listToken) (*domain.Token, bool) {
	address := strings.ToLower(strings.TrimSpace(entry.Address))
	if address == "" || entry.ChainID != i.cfg.ChainID || i.ignored[address] {
		return nil, false
	}

	tok := &domain.Token{
		Address:             address,
		Name:                entry.Name,
		Symbol:              entry.Symbol,
		Decimals:            entry.Decimals,
		LogoURI:             entry.LogoURI,
		LiquidStakedAddress: strings.ToLower(entry.LiquidStakedAddress),
		Tax:                 entry.Tax,
		CreatedAt:           i.now().Unix(),
	}
	if len(entry.Tags) > 0 && strings.Contains(entry.Tags[0], "stablecoin") {
		tok.Stable = true
	}
	if len(entry.Tags) > 1 && strings.Contains(entry.Tags[1], "taxed") {
		tok.Taxed = true
	}
	tok.Normalize()
	return tok, true
}
