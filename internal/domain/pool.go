package domain

// Pool is a liquidity pair. TVL and APR are derived values recomputed from
// current token prices and reserves on every refresh; they are never set by
// hand and stay 0 while their inputs are unavailable. The whole record is
// rebuilt from chain state each cycle, there is no incremental patching.
type Pool struct {
	Address       string  `json:"address"`
	Symbol        string  `json:"symbol"`
	Decimals      int     `json:"decimals"`
	Stable        bool    `json:"stable"`
	TotalSupply   float64 `json:"total_supply"`
	Reserve0      float64 `json:"reserve0"`
	Reserve1      float64 `json:"reserve1"`
	Token0Address string  `json:"token0_address"`
	Token1Address string  `json:"token1_address"`
	GaugeAddress  string  `json:"gauge_address,omitempty"`
	TVL           float64 `json:"tvl"`
	APR           float64 `json:"apr"`
	Gauge         *Gauge  `json:"gauge,omitempty"`
}

// Gauge carries the reward emission and vote weight of one pool's gauge for
// the active epoch. It is fetched fresh with its pool on every sync and never
// persisted on its own.
type Gauge struct {
	Address string  `json:"address"`
	Reward  float64 `json:"reward"`
	Votes   float64 `json:"votes"`
}
