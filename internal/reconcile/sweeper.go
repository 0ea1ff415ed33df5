// Package reconcile removes stored objects whose asset no longer has a
// metadata row: leftovers of failed deletes and of ingestions rolled back
// after their upload.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/therealutkarshpriyadarshi/vodpipe/internal/config"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/logging"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/metrics"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/storage"
	"github.com/therealutkarshpriyadarshi/vodpipe/pkg/models"
)

const lockName = "orphan-sweep"

// AssetChecker reports whether an asset row exists
type AssetChecker interface {
	AssetExists(ctx context.Context, contentID string) (bool, error)
}

// ObjectStore is the part of the storage adapter the sweep uses
type ObjectStore interface {
	ListByPrefix(ctx context.Context, prefix string) ([]storage.ObjectInfo, error)
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)
}

// Locker keeps concurrent sweeps on several instances from overlapping
type Locker interface {
	AcquireLock(ctx context.Context, resource string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, resource, token string) (bool, error)
}

// Result summarizes one sweep
type Result struct {
	Assets  int
	Orphans []string
	Deleted int
	Skipped bool
}

// Sweeper periodically collects orphaned asset prefixes
type Sweeper struct {
	assets   AssetChecker
	store    ObjectStore
	locker   Locker
	interval time.Duration
	grace    time.Duration
	now      func() time.Time
	logger   *logging.Logger
}

// NewSweeper creates a sweeper. locker may be nil.
func NewSweeper(cfg config.ReconcileConfig, assets AssetChecker, store ObjectStore, locker Locker, logger *logging.Logger) *Sweeper {
	if logger == nil {
		logger = logging.Nop()
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}

	return &Sweeper{
		assets:   assets,
		store:    store,
		locker:   locker,
		interval: interval,
		grace:    cfg.GracePeriod,
		now:      time.Now,
		logger:   logger.WithComponent("reconcile"),
	}
}

// Start runs a sweep every interval until ctx is cancelled
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Infof("Orphan sweep started (interval %s, grace %s)", s.interval, s.grace)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Orphan sweep stopped")
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.WithError(err).Error("Orphan sweep failed")
			}
		}
	}
}

// RunOnce lists the bucket, groups objects by content id and removes every
// group without an asset row. Groups with an object newer than the grace
// period are left alone: an ingestion uploads its original before the row
// commits.
func (s *Sweeper) RunOnce(ctx context.Context) (result Result, err error) {
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.RecordOrphanSweep(status, result.Deleted)
	}()

	if s.locker != nil {
		token, acquired, err := s.locker.AcquireLock(ctx, lockName, s.interval)
		if err != nil {
			return result, fmt.Errorf("failed to acquire sweep lock: %w", err)
		}
		if !acquired {
			result.Skipped = true
			return result, nil
		}
		defer func() {
			released, err := s.locker.ReleaseLock(context.WithoutCancel(ctx), lockName, token)
			switch {
			case err != nil:
				s.logger.WithError(err).Warn("Failed to release sweep lock")
			case !released:
				s.logger.Warn("Sweep lock expired before the sweep finished")
			}
		}()
	}

	objects, err := s.store.ListByPrefix(ctx, "")
	if err != nil {
		return result, err
	}

	newest := make(map[string]time.Time)
	for _, obj := range objects {
		id, ok := models.ContentIDFromKey(obj.Key)
		if !ok {
			continue
		}
		if t, seen := newest[id]; !seen || obj.LastModified.After(t) {
			newest[id] = obj.LastModified
		}
	}
	result.Assets = len(newest)

	ids := make([]string, 0, len(newest))
	for id := range newest {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	cutoff := s.now().Add(-s.grace)
	for _, id := range ids {
		if newest[id].After(cutoff) {
			continue
		}

		exists, err := s.assets.AssetExists(ctx, id)
		if err != nil {
			return result, fmt.Errorf("failed to check asset %s: %w", id, err)
		}
		if exists {
			continue
		}

		removed, err := s.store.DeleteByPrefix(ctx, models.AssetPrefix(id))
		result.Deleted += removed
		if err != nil {
			return result, err
		}
		result.Orphans = append(result.Orphans, id)
		s.logger.WithContentID(id).Infof("Removed %d orphaned objects", removed)
	}

	return result, nil
}
