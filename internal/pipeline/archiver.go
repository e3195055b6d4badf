package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/varalabs/dexmetrics/internal/domain"
)

// Archiver copies the cached snapshots into cold storage on a cron schedule,
// keeping a dated history of the served aggregates.
type Archiver struct {
	cache  domain.SnapshotCache
	blob   domain.BlobWriter
	prefix string
	logger *slog.Logger
}

// NewArchiver creates an Archiver writing under the given key prefix.
func NewArchiver(cache domain.SnapshotCache, blob domain.BlobWriter, prefix string, logger *slog.Logger) *Archiver {
	return &Archiver{
		cache:  cache,
		blob:   blob,
		prefix: prefix,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// Archive uploads the current assets, pairs, and voters snapshots under a
// date-stamped prefix. A snapshot missing from the cache is skipped, not an
// error.
func (a *Archiver) Archive(ctx context.Context) error {
	day := time.Now().UTC().Format("2006-01-02")

	snapshots := []struct {
		name string
		read func(context.Context) ([]byte, error)
	}{
		{"assets.json", a.cache.Assets},
		{"pairs.json", a.cache.Pairs},
		{"voters.json", a.cache.Voters},
	}

	var uploaded int
	for _, snap := range snapshots {
		data, err := snap.read(ctx)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("pipeline: read snapshot %s: %w", snap.name, err)
		}

		key := path.Join(a.prefix, day, snap.name)
		if err := a.blob.Put(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
			return fmt.Errorf("pipeline: archive %s: %w", snap.name, err)
		}
		uploaded++
	}

	a.logger.Info("snapshots archived",
		slog.String("day", day),
		slog.Int("uploaded", uploaded),
	)
	return nil
}

// RunCron archives on the given cron schedule until the context is cancelled.
func (a *Archiver) RunCron(ctx context.Context, spec string) error {
	scheduler := cron.New()
	_, err := scheduler.AddFunc(spec, func() {
		if err := a.Archive(ctx); err != nil {
			a.logger.Error("snapshot archive failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("pipeline: parse cron %q: %w", spec, err)
	}

	a.logger.Info("archiver cron started", slog.String("cron", spec))
	scheduler.Start()
	<-ctx.Done()

	stopCtx := scheduler.Stop()
	<-stopCtx.Done()

	a.logger.Info("archiver cron stopped")
	return ctx.Err()
}
