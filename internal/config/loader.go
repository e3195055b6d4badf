package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies DEXMETRICS_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known DEXMETRICS_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "DEXMETRICS_CHAIN_RPC_URL")
	setInt(&cfg.Chain.ChainID, "DEXMETRICS_CHAIN_ID")
	setStr(&cfg.Chain.ChainSlug, "DEXMETRICS_CHAIN_SLUG")
	setStr(&cfg.Chain.MulticallAddress, "DEXMETRICS_CHAIN_MULTICALL_ADDRESS")
	setStr(&cfg.Chain.RouterAddress, "DEXMETRICS_CHAIN_ROUTER_ADDRESS")
	setStr(&cfg.Chain.FactoryAddress, "DEXMETRICS_CHAIN_FACTORY_ADDRESS")
	setStr(&cfg.Chain.VoterAddress, "DEXMETRICS_CHAIN_VOTER_ADDRESS")
	setStr(&cfg.Chain.EscrowAddress, "DEXMETRICS_CHAIN_ESCROW_ADDRESS")
	setStr(&cfg.Chain.MinterAddress, "DEXMETRICS_CHAIN_MINTER_ADDRESS")
	setStr(&cfg.Chain.StableTokenAddress, "DEXMETRICS_CHAIN_STABLE_TOKEN_ADDRESS")
	setStr(&cfg.Chain.NativeTokenAddress, "DEXMETRICS_CHAIN_NATIVE_TOKEN_ADDRESS")
	setStr(&cfg.Chain.RewardTokenAddress, "DEXMETRICS_CHAIN_REWARD_TOKEN_ADDRESS")
	setStringSlice(&cfg.Chain.BridgedBluechips, "DEXMETRICS_CHAIN_BRIDGED_BLUECHIPS")
	setStringSlice(&cfg.Chain.Bluechips, "DEXMETRICS_CHAIN_BLUECHIPS")
	setStringSlice(&cfg.Chain.IgnoredTokens, "DEXMETRICS_CHAIN_IGNORED_TOKENS")
	setStringSlice(&cfg.Chain.Tokenlists, "DEXMETRICS_CHAIN_TOKENLISTS")

	// ── Pricing ──
	setBool(&cfg.Pricing.InternalFirst, "DEXMETRICS_PRICING_INTERNAL_FIRST")
	setStringSlice(&cfg.Pricing.InternalOrder, "DEXMETRICS_PRICING_INTERNAL_ORDER")
	setStringSlice(&cfg.Pricing.ExternalOrder, "DEXMETRICS_PRICING_EXTERNAL_ORDER")
	setDuration(&cfg.Pricing.FeedTimeout, "DEXMETRICS_PRICING_FEED_TIMEOUT")
	setFloat64(&cfg.Pricing.SingleSidedTVLFactor, "DEXMETRICS_PRICING_SINGLE_SIDED_TVL_FACTOR")
	setFloat64(&cfg.Pricing.FallbackRewardTokenPrice, "DEXMETRICS_PRICING_FALLBACK_REWARD_TOKEN_PRICE")

	// ── Votes ──
	setFloat64(&cfg.Votes.FallbackTotalVotes, "DEXMETRICS_VOTES_FALLBACK_TOTAL_VOTES")
	setFloat64(&cfg.Votes.FallbackVotesCast, "DEXMETRICS_VOTES_FALLBACK_VOTES_CAST")
	setInt(&cfg.Votes.EscrowDecimals, "DEXMETRICS_VOTES_ESCROW_DECIMALS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "DEXMETRICS_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DEXMETRICS_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DEXMETRICS_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DEXMETRICS_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DEXMETRICS_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DEXMETRICS_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.SnapshotTL, "DEXMETRICS_REDIS_SNAPSHOT_TTL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DEXMETRICS_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "DEXMETRICS_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DEXMETRICS_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DEXMETRICS_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DEXMETRICS_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DEXMETRICS_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DEXMETRICS_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "DEXMETRICS_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "DEXMETRICS_POSTGRES_POOL_MIN_CONNS")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "DEXMETRICS_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DEXMETRICS_S3_REGION")
	setStr(&cfg.S3.Bucket, "DEXMETRICS_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DEXMETRICS_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DEXMETRICS_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "DEXMETRICS_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "DEXMETRICS_S3_PREFIX")
	setStr(&cfg.S3.ArchiveCron, "DEXMETRICS_S3_ARCHIVE_CRON")

	// ── Sync ──
	setDuration(&cfg.Sync.Interval, "DEXMETRICS_SYNC_INTERVAL")
	setInt(&cfg.Sync.Workers, "DEXMETRICS_SYNC_WORKERS")

	// ── Server ──
	setInt(&cfg.Server.Port, "DEXMETRICS_SERVER_PORT")

	// ── Top-level ──
	setStr(&cfg.Mode, "DEXMETRICS_MODE")
	setStr(&cfg.LogLevel, "DEXMETRICS_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
