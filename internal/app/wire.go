package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/varalabs/dexmetrics/internal/blob/s3"
	"github.com/varalabs/dexmetrics/internal/cache/redis"
	"github.com/varalabs/dexmetrics/internal/chain"
	"github.com/varalabs/dexmetrics/internal/config"
	"github.com/varalabs/dexmetrics/internal/domain"
	"github.com/varalabs/dexmetrics/internal/feed"
	"github.com/varalabs/dexmetrics/internal/pipeline"
	"github.com/varalabs/dexmetrics/internal/pools"
	"github.com/varalabs/dexmetrics/internal/pricing"
	"github.com/varalabs/dexmetrics/internal/server"
	"github.com/varalabs/dexmetrics/internal/server/handler"
	"github.com/varalabs/dexmetrics/internal/store/postgres"
	"github.com/varalabs/dexmetrics/internal/tokenlist"
	"github.com/varalabs/dexmetrics/internal/votes"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Cache domain.SnapshotCache

	// Orchestrator is nil in serve mode.
	Orchestrator *pipeline.Orchestrator
	// Server is nil in sync mode.
	Server *server.Server
}

// needsChain returns true for modes that perform on-chain reads.
func needsChain(mode string) bool {
	return mode == "sync" || mode == "full"
}

// needsServer returns true for modes that expose the read API.
func needsServer(mode string) bool {
	return mode == "serve" || mode == "full"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Redis (all modes read or write snapshots) ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	snapshotCache := redis.NewSnapshotCache(redisClient, cfg.Redis.SnapshotTL.Duration)
	deps.Cache = snapshotCache

	// --- Refresh pipeline (only for modes that read the chain) ---
	if needsChain(cfg.Mode) {
		chainClient, err := chain.NewClient(ctx, cfg.Chain.RPCURL)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: chain: %w", err)
		}
		closers = append(closers, chainClient.Close)

		caller, err := chain.NewCaller(chainClient, common.HexToAddress(cfg.Chain.MulticallAddress), logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: multicall: %w", err)
		}

		feedClient := feed.NewClient(feed.Config{
			ChainSlug: cfg.Chain.ChainSlug,
			ChainID:   cfg.Chain.ChainID,
			Timeout:   cfg.Pricing.FeedTimeout.Duration,
		}, logger)

		resolver := pricing.NewResolver(caller, feedClient, pricing.Config{
			InternalFirst:      cfg.Pricing.InternalFirst,
			InternalOrder:      cfg.Pricing.InternalOrder,
			ExternalOrder:      cfg.Pricing.ExternalOrder,
			RouterAddress:      common.HexToAddress(cfg.Chain.RouterAddress),
			StableTokenAddress: cfg.Chain.StableTokenAddress,
			NativeTokenAddress: cfg.Chain.NativeTokenAddress,
			BridgedBluechips:   cfg.Chain.BridgedBluechips,
			Bluechips:          cfg.Chain.Bluechips,
			IgnoredTokens:      cfg.Chain.IgnoredTokens,
		}, logger)

		aggregator := pools.NewAggregator(caller, pools.Config{
			FactoryAddress:           common.HexToAddress(cfg.Chain.FactoryAddress),
			VoterAddress:             common.HexToAddress(cfg.Chain.VoterAddress),
			RewardTokenAddress:       cfg.Chain.RewardTokenAddress,
			FallbackRewardTokenPrice: cfg.Pricing.FallbackRewardTokenPrice,
			SingleSidedTVLFactor:     cfg.Pricing.SingleSidedTVLFactor,
		}, logger)

		tally := votes.NewTally(caller, snapshotCache, votes.Config{
			VoterAddress:       common.HexToAddress(cfg.Chain.VoterAddress),
			EscrowAddress:      common.HexToAddress(cfg.Chain.EscrowAddress),
			MinterAddress:      common.HexToAddress(cfg.Chain.MinterAddress),
			FallbackTotalVotes: cfg.Votes.FallbackTotalVotes,
			FallbackVotesCast:  cfg.Votes.FallbackVotesCast,
			EscrowDecimals:     cfg.Votes.EscrowDecimals,
		}, logger)

		ingestor := tokenlist.NewIngestor(tokenlist.Config{
			Sources:       cfg.Chain.Tokenlists,
			ChainID:       cfg.Chain.ChainID,
			IgnoredTokens: cfg.Chain.IgnoredTokens,
			Timeout:       cfg.Pricing.FeedTimeout.Duration,
		}, logger)

		// --- PostgreSQL cycle history (optional) ---
		var history domain.HistoryStore
		if cfg.Postgres.Enabled() {
			pgClient, err := postgres.New(ctx, postgres.ClientConfig{
				DSN:      cfg.Postgres.DSN,
				Host:     cfg.Postgres.Host,
				Port:     cfg.Postgres.Port,
				Database: cfg.Postgres.Database,
				User:     cfg.Postgres.User,
				Password: cfg.Postgres.Password,
				SSLMode:  cfg.Postgres.SSLMode,
				MaxConns: cfg.Postgres.PoolMaxConns,
				MinConns: cfg.Postgres.PoolMinConns,
			})
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres: %w", err)
			}
			closers = append(closers, pgClient.Close)

			if err := pgClient.EnsureSchema(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres schema: %w", err)
			}
			history = postgres.NewHistoryStore(pgClient)
		}

		refresher := pipeline.NewRefresher(
			ingestor, resolver, aggregator, tally,
			snapshotCache, history,
			cfg.Sync.Workers, logger,
		)

		// --- S3 snapshot archival (optional) ---
		var archiver *pipeline.Archiver
		if cfg.S3.Enabled() {
			s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
				Endpoint:       cfg.S3.Endpoint,
				Region:         cfg.S3.Region,
				Bucket:         cfg.S3.Bucket,
				AccessKey:      cfg.S3.AccessKey,
				SecretKey:      cfg.S3.SecretKey,
				ForcePathStyle: cfg.S3.ForcePathStyle,
			})
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: s3: %w", err)
			}
			archiver = pipeline.NewArchiver(snapshotCache, s3blob.NewWriter(s3Client), cfg.S3.Prefix, logger)
		}

		deps.Orchestrator = pipeline.NewOrchestrator(
			refresher, archiver,
			cfg.Sync.Interval.Duration, cfg.S3.ArchiveCron,
			logger,
		)
	}

	// --- Read API server ---
	if needsServer(cfg.Mode) {
		deps.Server = server.NewServer(
			server.Config{Port: cfg.Server.Port},
			server.Handlers{
				Health: handler.NewHealthHandler(),
				Snapshots: handler.NewSnapshotHandler(snapshotCache, domain.VoteSnapshot{
					TotalVotes: cfg.Votes.FallbackTotalVotes,
					VotesCast:  cfg.Votes.FallbackVotesCast,
				}, logger),
			},
			logger,
		)
	}

	return deps, cleanup, nil
}
