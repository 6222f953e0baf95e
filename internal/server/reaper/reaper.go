// Package reaper removes expired payloads and, later, their records.
package reaper

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/dmitrijs2005/attachkeeper/internal/logging"
	"github.com/dmitrijs2005/attachkeeper/internal/server/blobstore"
	"github.com/dmitrijs2005/attachkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/attachkeeper/internal/server/quota"
	"github.com/dmitrijs2005/attachkeeper/internal/server/repositories/attachments"
)

type Config struct {
	// Retention is how long a record is kept after creation, deleted or not.
	Retention         time.Duration
	ExpiryInterval    time.Duration
	RetentionInterval time.Duration
}

type Reaper struct {
	repo    attachments.Repository
	blobs   blobstore.Store
	quota   quota.Gateway
	cfg     Config
	now     func() time.Time
	logger  logging.Logger
	metrics *metrics.Metrics
}

func New(repo attachments.Repository, blobs blobstore.Store, gw quota.Gateway, cfg Config,
	m *metrics.Metrics, logger logging.Logger) *Reaper {
	return &Reaper{
		repo:    repo,
		blobs:   blobs,
		quota:   gw,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger.With("module", "reaper"),
		metrics: m,
	}
}

// ExpiryResult summarizes one expiry sweep.
type ExpiryResult struct {
	Reaped          int
	Failed          int
	ReleaseFailures int
	// Released is the byte total confirmed by the quota service, per owner.
	Released map[string]int64
}

// SweepExpired deletes the payload of every expired live record and marks
// the record deleted. Quota is then released once per owner for the sum of
// that owner's reaped sizes. A failing record is logged and skipped; a
// failing release is logged and counted, never retried.
func (r *Reaper) SweepExpired(ctx context.Context) (ExpiryResult, error) {
	res := ExpiryResult{Released: make(map[string]int64)}

	expired, err := r.repo.SelectExpired(ctx, r.now())
	if err != nil {
		return res, fmt.Errorf("select expired: %w", err)
	}

	freed := make(map[string]int64)
	for _, a := range expired {
		if err := r.blobs.Delete(ctx, blobstore.Key{Owner: a.Owner, Handle: a.Handle}); err != nil {
			r.logger.Error(ctx, "payload delete failed", "handle", a.Handle, "error", err)
			res.Failed++
			continue
		}
		if err := r.repo.MarkDeleted(ctx, a.Handle); err != nil {
			r.logger.Error(ctx, "mark deleted failed", "handle", a.Handle, "error", err)
			res.Failed++
			continue
		}
		freed[a.Owner] += a.SizeBytes
		res.Reaped++
	}

	owners := make([]string, 0, len(freed))
	for o := range freed {
		owners = append(owners, o)
	}
	slices.Sort(owners)

	for _, owner := range owners {
		size := freed[owner]
		remaining, err := r.quota.Release(ctx, owner, size)
		if err != nil {
			r.metrics.ReleaseFailed()
			r.logger.Error(ctx, "quota release failed", "owner", owner, "bytes", size, "error", err)
			res.ReleaseFailures++
			continue
		}
		res.Released[owner] = size
		r.logger.Debug(ctx, "quota released", "owner", owner, "bytes", size, "remaining", remaining)
	}

	r.metrics.Reaped(res.Reaped)
	if res.Reaped > 0 || res.Failed > 0 {
		r.logger.Info(ctx, "expiry sweep done", "reaped", res.Reaped, "failed", res.Failed, "owners", len(owners))
	}
	return res, nil
}

// SweepRetention permanently removes records created at or before now
// minus the retention, whatever their deleted flag. It returns how many
// were removed.
func (r *Reaper) SweepRetention(ctx context.Context) (int, error) {
	old, err := r.repo.SelectCreatedBefore(ctx, r.now().Add(-r.cfg.Retention))
	if err != nil {
		return 0, fmt.Errorf("select retained: %w", err)
	}

	purged := 0
	for _, a := range old {
		if err := r.repo.Delete(ctx, a.Handle); err != nil {
			r.logger.Error(ctx, "record purge failed", "handle", a.Handle, "error", err)
			continue
		}
		purged++
	}

	r.metrics.Purged(purged)
	if purged > 0 {
		r.logger.Info(ctx, "retention sweep done", "purged", purged)
	}
	return purged, nil
}

// Run drives both sweeps on their own intervals until ctx is done. Sweep
// errors are logged and the schedule continues.
func (r *Reaper) Run(ctx context.Context) error {
	expiry := time.NewTicker(r.cfg.ExpiryInterval)
	defer expiry.Stop()
	retention := time.NewTicker(r.cfg.RetentionInterval)
	defer retention.Stop()

	r.logger.Info(ctx, "reaper started",
		"expiry_interval", r.cfg.ExpiryInterval, "retention_interval", r.cfg.RetentionInterval)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-expiry.C:
			if _, err := r.SweepExpired(ctx); err != nil {
				r.logger.Error(ctx, "expiry sweep failed", "error", err)
			}
		case <-retention.C:
			if _, err := r.SweepRetention(ctx); err != nil {
				r.logger.Error(ctx, "retention sweep failed", "error", err)
			}
		}
	}
}
