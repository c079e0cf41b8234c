package services

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/mediasync/internal/client/metrics"
	"github.com/dmitrijs2005/mediasync/internal/client/models"
	"github.com/dmitrijs2005/mediasync/internal/common"
)

// Janitor keeps the cache free of orphans and reclaims uploaded originals.
type Janitor interface {
	// CleanOrphans deletes every cache entry no record refers to. It waits
	// for in-flight creations and uploads and blocks new ones while running.
	CleanOrphans(ctx context.Context) (int, error)
	// ReclaimUploaded deletes the cached original of every uploaded record
	// that has a remote URL. Thumbnails are kept.
	ReclaimUploaded(ctx context.Context) (int, error)
	// Run cleans orphans every interval until ctx is done.
	Run(ctx context.Context, interval time.Duration)
}

type janitor struct {
	*Engine
}

func NewJanitor(e *Engine) Janitor {
	return &janitor{Engine: e}
}

func (j *janitor) CleanOrphans(ctx context.Context) (removed int, err error) {
	start := time.Now()
	defer func() { j.observe("clean_orphans", start, err) }()

	release, err := j.barrier.Exclusive(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	if n, err := j.cache.PurgeTemp(ctx); err != nil {
		j.log.Warn(ctx, "failed to purge temp files", "error", err)
	} else if n > 0 {
		j.log.Debug(ctx, "purged temp files", "count", n)
	}

	records, err := j.repo.ListAll(ctx)
	if err != nil {
		return 0, err
	}
	expected := make(map[string]bool, 2*len(records))
	for _, m := range records {
		for _, p := range []string{m.LocalPath, m.ThumbnailPath} {
			if key, ok := j.cacheKey(p); ok {
				expected[key] = true
			}
		}
	}

	keys, err := j.cache.Keys(ctx)
	if err != nil {
		return 0, err
	}
	for _, key := range keys {
		if expected[key] {
			continue
		}
		if err := j.cache.Delete(ctx, key); err != nil {
			if ctx.Err() != nil {
				return removed, ctx.Err()
			}
			j.log.Warn(ctx, "failed to delete orphan", "key", key, "error", err)
			continue
		}
		removed++
	}

	j.metrics.AddCacheRemovals(metrics.ReasonOrphan, removed)
	if removed > 0 {
		j.log.Info(ctx, "orphans removed", "count", removed)
	}
	return removed, nil
}

func (j *janitor) ReclaimUploaded(ctx context.Context) (reclaimed int, err error) {
	start := time.Now()
	defer func() { j.observe("reclaim", start, err) }()

	records, err := j.repo.ListByState(ctx, models.UploadStateUploaded)
	if err != nil {
		return 0, err
	}

	for _, m := range records {
		if m.RemoteURL == "" || m.LocalPath == "" {
			continue
		}
		ok, err := j.reclaim(ctx, m.LocalID)
		if err != nil {
			if ctx.Err() != nil {
				return reclaimed, ctx.Err()
			}
			j.log.Warn(ctx, "failed to reclaim original", "local_id", m.LocalID, "error", err)
			continue
		}
		if ok {
			reclaimed++
		}
	}

	j.metrics.AddCacheRemovals(metrics.ReasonReclaim, reclaimed)
	return reclaimed, nil
}

func (j *janitor) reclaim(ctx context.Context, localID string) (bool, error) {
	unlock := j.locks.Lock(localID)
	defer unlock()

	m, err := j.repo.GetByID(ctx, localID)
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if m.UploadState != models.UploadStateUploaded || m.RemoteURL == "" || m.LocalPath == "" {
		return false, nil
	}

	if key, ok := j.cacheKey(m.LocalPath); ok {
		if err := j.cache.Delete(ctx, key); err != nil {
			return false, err
		}
	}
	m.LocalPath = ""
	if err := j.repo.Update(ctx, m); err != nil {
		return false, err
	}
	return true, nil
}

func (j *janitor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.CleanOrphans(ctx); err != nil && ctx.Err() == nil {
				j.log.Error(ctx, "orphan cleaning failed", "error", err)
			}
		}
	}
}
