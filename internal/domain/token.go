// Package domain defines the core entities of the DEX metrics backend and the
// interfaces its infrastructure layers (cache, history store, blob storage)
// must implement.
package domain

import (
	"sort"
	"strings"
)

// DefaultDecimals is assumed for tokens whose list entry carries no usable
// decimal precision.
const DefaultDecimals = 18

// Token is a tradeable asset observed in a token-list ingestion. Address is
// the lowercase hex chain address and acts as the unique key. Price is the
// USD price resolved on the last refresh cycle; 0 means "not yet resolved",
// never a real market price.
type Token struct {
	Address             string  `json:"address"`
	Name                string  `json:"name"`
	Symbol              string  `json:"symbol"`
	Decimals            int     `json:"decimals"`
	LogoURI             string  `json:"logoURI"`
	Price               float64 `json:"price"`
	Stable              bool    `json:"stable"`
	LiquidStakedAddress string  `json:"liquid_staked_address,omitempty"`
	Taxed               bool    `json:"taxed"`
	Tax                 float64 `json:"tax"`
	CreatedAt           int64   `json:"created_at"`
}

// Normalize fills in placeholder metadata so a partially described token can
// still flow through price resolution and pool aggregation.
func (t *Token) Normalize() {
	t.Address = strings.ToLower(t.Address)
	if t.Name == "" {
		t.Name = "UNKNOWN"
	}
	if t.Symbol == "" {
		t.Symbol = "UNKNOWN"
	}
	if t.Decimals <= 0 {
		t.Decimals = DefaultDecimals
	}
	if t.LiquidStakedAddress != "" {
		t.LiquidStakedAddress = strings.ToLower(t.LiquidStakedAddress)
	}
}

// TokenRegistry is the per-cycle view of the token universe, keyed by
// lowercase address. It is built once per refresh and passed explicitly to
// the pool aggregator and vote tally so lookups never touch hidden global
// state.
type TokenRegistry struct {
	byAddress map[string]*Token
}

// NewTokenRegistry builds a registry from the given tokens. Duplicate
// addresses keep the first occurrence.
func NewTokenRegistry(tokens []*Token) *TokenRegistry {
	reg := &TokenRegistry{byAddress: make(map[string]*Token, len(tokens))}
	for _, tok := range tokens {
		reg.Add(tok)
	}
	return reg
}

// Add inserts a token unless its address is already present.
func (r *TokenRegistry) Add(tok *Token) {
	if tok == nil {
		return
	}
	addr := strings.ToLower(tok.Address)
	if addr == "" {
		return
	}
	if _, ok := r.byAddress[addr]; ok {
		return
	}
	r.byAddress[addr] = tok
}

// Find returns the token with the given address, or nil when unknown.
// Lookup is case-insensitive.
func (r *TokenRegistry) Find(address string) *Token {
	if r == nil || address == "" {
		return nil
	}
	return r.byAddress[strings.ToLower(address)]
}

// Tokens returns every registered token sorted by address for deterministic
// serialization.
func (r *TokenRegistry) Tokens() []*Token {
	out := make([]*Token, 0, len(r.byAddress))
	for _, tok := range r.byAddress {
		out = append(out, tok)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Len reports the number of registered tokens.
func (r *TokenRegistry) Len() int {
	return len(r.byAddress)
}
