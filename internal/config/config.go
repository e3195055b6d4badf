// Package config defines the top-level configuration for the dexmetrics
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/varalabs/dexmetrics/internal/feed"
	"github.com/varalabs/dexmetrics/internal/pricing"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by DEXMETRICS_* environment variables.
type Config struct {
	Chain    ChainConfig    `toml:"chain"`
	Pricing  PricingConfig  `toml:"pricing"`
	Votes    VotesConfig    `toml:"votes"`
	Redis    RedisConfig    `toml:"redis"`
	Postgres PostgresConfig `toml:"postgres"`
	S3       S3Config       `toml:"s3"`
	Sync     SyncConfig     `toml:"sync"`
	Server   ServerConfig   `toml:"server"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ChainConfig holds RPC endpoint and contract addresses for the target chain.
type ChainConfig struct {
	RPCURL           string `toml:"rpc_url"`
	ChainID          int    `toml:"chain_id"`
	ChainSlug        string `toml:"chain_slug"`
	MulticallAddress string `toml:"multicall_address"`
	RouterAddress    string `toml:"router_address"`
	FactoryAddress   string `toml:"factory_address"`
	VoterAddress     string `toml:"voter_address"`
	EscrowAddress    string `toml:"escrow_address"`
	MinterAddress    string `toml:"minter_address"`

	StableTokenAddress string `toml:"stable_token_address"`
	NativeTokenAddress string `toml:"native_token_address"`
	RewardTokenAddress string `toml:"reward_token_address"`

	BridgedBluechips []string `toml:"bridged_bluechips"`
	Bluechips        []string `toml:"bluechips"`
	IgnoredTokens    []string `toml:"ignored_tokens"`
	Tokenlists       []string `toml:"tokenlists"`
}

// PricingConfig holds price-resolution parameters.
type PricingConfig struct {
	InternalFirst            bool     `toml:"internal_first"`
	InternalOrder            []string `toml:"internal_order"`
	ExternalOrder            []string `toml:"external_order"`
	FeedTimeout              duration `toml:"feed_timeout"`
	SingleSidedTVLFactor     float64  `toml:"single_sided_tvl_factor"`
	FallbackRewardTokenPrice float64  `toml:"fallback_reward_token_price"`
}

// VotesConfig holds fallback values for the governance tally when chain reads
// are unavailable.
type VotesConfig struct {
	FallbackTotalVotes float64 `toml:"fallback_total_votes"`
	FallbackVotesCast  float64 `toml:"fallback_votes_cast"`
	EscrowDecimals     int     `toml:"escrow_decimals"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	SnapshotTL duration `toml:"snapshot_ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters for the refresh-cycle
// history store. Leaving Host and DSN empty disables history recording.
type PostgresConfig struct {
	DSN          string `toml:"dsn"`
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Database     string `toml:"database"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	SSLMode      string `toml:"ssl_mode"`
	PoolMaxConns int    `toml:"pool_max_conns"`
	PoolMinConns int    `toml:"pool_min_conns"`
}

// Enabled reports whether a Postgres connection is configured.
func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.DSN) != "" || p.Host != ""
}

// S3Config holds S3-compatible object storage parameters for snapshot
// archival. Leaving Bucket empty disables the archiver.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
	ArchiveCron    string `toml:"archive_cron"`
}

// Enabled reports whether snapshot archival is configured.
func (s S3Config) Enabled() bool {
	return s.Bucket != ""
}

// SyncConfig holds refresh-loop parameters.
type SyncConfig struct {
	Interval duration `toml:"interval"`
	Workers  int      `toml:"workers"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port int `toml:"port"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			ChainID:          1,
			ChainSlug:        "ethereum",
			MulticallAddress: "0xcA11bde05977b3631167028862bE2a173976CA11",
		},
		Pricing: PricingConfig{
			InternalFirst: true,
			InternalOrder: []string{
				pricing.StrategyDirect,
				pricing.StrategyBridgedBluechips,
				pricing.StrategyBluechips,
				pricing.StrategyNativeToken,
			},
			ExternalOrder: []string{
				string(feed.SourceDexScreener),
				string(feed.SourceDefiLlama),
				string(feed.SourceDeBank),
				string(feed.SourceDexGuru),
			},
			FeedTimeout:              duration{10 * time.Second},
			SingleSidedTVLFactor:     2,
			FallbackRewardTokenPrice: 0,
		},
		Votes: VotesConfig{
			FallbackTotalVotes: 10,
			FallbackVotesCast:  0,
			EscrowDecimals:     18,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
			SnapshotTL: duration{30 * time.Minute},
		},
		Postgres: PostgresConfig{
			Port:         5432,
			Database:     "dexmetrics",
			User:         "postgres",
			SSLMode:      "disable",
			PoolMaxConns: 10,
			PoolMinConns: 2,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			ForcePathStyle: true,
			Prefix:         "snapshots",
			ArchiveCron:    "0 * * * *",
		},
		Sync: SyncConfig{
			Interval: duration{10 * time.Minute},
			Workers:  8,
		},
		Server: ServerConfig{
			Port: 8000,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve": true,
	"sync":  true,
	"full":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, sync, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chain: sync and full modes perform on-chain reads.
	needsChain := c.Mode == "sync" || c.Mode == "full"
	if needsChain {
		if c.Chain.RPCURL == "" {
			errs = append(errs, "chain: rpc_url must not be empty for mode "+c.Mode)
		}
		if c.Chain.ChainID <= 0 {
			errs = append(errs, fmt.Sprintf("chain: chain_id must be positive, got %d", c.Chain.ChainID))
		}
		for name, addr := range map[string]string{
			"multicall_address":    c.Chain.MulticallAddress,
			"router_address":       c.Chain.RouterAddress,
			"factory_address":      c.Chain.FactoryAddress,
			"voter_address":        c.Chain.VoterAddress,
			"stable_token_address": c.Chain.StableTokenAddress,
		} {
			if addr == "" {
				errs = append(errs, "chain: "+name+" must not be empty for mode "+c.Mode)
			} else if !common.IsHexAddress(addr) {
				errs = append(errs, fmt.Sprintf("chain: %s %q is not a hex address", name, addr))
			}
		}
		for _, addr := range []string{c.Chain.EscrowAddress, c.Chain.MinterAddress, c.Chain.NativeTokenAddress, c.Chain.RewardTokenAddress} {
			if addr != "" && !common.IsHexAddress(addr) {
				errs = append(errs, fmt.Sprintf("chain: %q is not a hex address", addr))
			}
		}
		if len(c.Chain.Tokenlists) == 0 {
			errs = append(errs, "chain: at least one tokenlist URL is required for mode "+c.Mode)
		}
	}

	// Pricing: strategy and source names must be known.
	for _, name := range c.Pricing.InternalOrder {
		if !pricing.KnownInternalStrategy(name) {
			errs = append(errs, fmt.Sprintf("pricing: unknown internal strategy %q", name))
		}
	}
	for _, name := range c.Pricing.ExternalOrder {
		if !feed.KnownSource(name) {
			errs = append(errs, fmt.Sprintf("pricing: unknown external source %q", name))
		}
	}
	if c.Pricing.SingleSidedTVLFactor <= 0 {
		errs = append(errs, "pricing: single_sided_tvl_factor must be > 0")
	}
	if c.Pricing.FallbackRewardTokenPrice < 0 {
		errs = append(errs, "pricing: fallback_reward_token_price must be >= 0")
	}

	// Votes
	if c.Votes.FallbackTotalVotes < 0 {
		errs = append(errs, "votes: fallback_total_votes must be >= 0")
	}
	if c.Votes.EscrowDecimals < 0 || c.Votes.EscrowDecimals > 36 {
		errs = append(errs, fmt.Sprintf("votes: escrow_decimals must be 0-36, got %d", c.Votes.EscrowDecimals))
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}
	if c.Redis.SnapshotTL.Duration <= 0 {
		errs = append(errs, "redis: snapshot_ttl must be > 0")
	}

	// Postgres: only when configured.
	if c.Postgres.Enabled() {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// S3: only when configured.
	if c.S3.Enabled() {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when bucket is set")
		}
		if c.S3.ArchiveCron == "" {
			errs = append(errs, "s3: archive_cron must not be empty when bucket is set")
		}
	}

	// Sync
	if needsChain {
		if c.Sync.Interval.Duration <= 0 {
			errs = append(errs, "sync: interval must be > 0")
		}
		if c.Sync.Workers < 1 {
			errs = append(errs, "sync: workers must be >= 1")
		}
	}

	// Server
	if c.Mode == "serve" || c.Mode == "full" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
