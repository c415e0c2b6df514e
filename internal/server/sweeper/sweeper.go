// Package sweeper runs the retention system: a periodic pass that emits
// pre-expiry notifications and soft-deletes records past their deadline,
// plus an on-demand instant check for records that read paths discover
// expired between passes.
package sweeper

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cipherdrop/cipherdrop/internal/common"
	"github.com/cipherdrop/cipherdrop/internal/logging"
	"github.com/cipherdrop/cipherdrop/internal/server/blob"
	"github.com/cipherdrop/cipherdrop/internal/server/models"
	"github.com/cipherdrop/cipherdrop/internal/server/notify"
	"github.com/cipherdrop/cipherdrop/internal/server/repositories/records"
	"github.com/cipherdrop/cipherdrop/internal/timex"
)

// Result summarizes one sweep pass.
type Result struct {
	TotalExpired int
	DeletedCount int
	Notified     int
	Errors       []error
}

type Sweeper struct {
	records   records.Repository
	blobs     blob.Store
	notifier  notify.Notifier
	logger    logging.Logger
	clock     timex.Clock
	metrics   *Metrics
	interval  time.Duration
	lookahead time.Duration

	running atomic.Bool
}

func New(rc records.Repository, bs blob.Store, n notify.Notifier, logger logging.Logger, clock timex.Clock, metrics *Metrics, interval, lookahead time.Duration) *Sweeper {
	return &Sweeper{
		records:   rc,
		blobs:     bs,
		notifier:  n,
		logger:    logger.With("module", "sweeper"),
		clock:     clock,
		metrics:   metrics,
		interval:  interval,
		lookahead: lookahead,
	}
}

// Run executes sweep passes on the configured interval until ctx is
// cancelled. One pass runs immediately on startup to clear anything that
// expired while the server was down.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info(ctx, "sweeper started", "interval", s.interval, "lookahead", s.lookahead)

	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error(ctx, "initial sweep failed", "error", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error(ctx, "sweep failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single notify-then-expire pass. Overlapping calls are
// skipped: a second caller gets a nil Result while a pass is in flight.
// The pass is idempotent, running it twice over the same records changes
// nothing the second time.
func (s *Sweeper) RunOnce(ctx context.Context) (*Result, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Debug(ctx, "sweep already in progress, skipping")
		return nil, nil
	}
	defer s.running.Store(false)

	started := time.Now()
	now := s.clock.Now().UTC()
	res := &Result{}

	s.notifyExpiring(ctx, now, res)
	if err := s.expire(ctx, now, res); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.SweepRuns.Inc()
		s.metrics.SweepDuration.Observe(time.Since(started).Seconds())
		s.metrics.Expired.Add(float64(res.TotalExpired))
		s.metrics.Deleted.Add(float64(res.DeletedCount))
		s.metrics.Notified.Add(float64(res.Notified))
		s.metrics.Errors.Add(float64(len(res.Errors)))
	}

	if res.TotalExpired > 0 || res.Notified > 0 || len(res.Errors) > 0 {
		s.logger.Info(ctx, "sweep completed",
			"expired", res.TotalExpired, "deleted", res.DeletedCount,
			"notified", res.Notified, "errors", len(res.Errors))
	}
	return res, nil
}

// notifyExpiring emits a one-shot notification for records that will
// expire within the lookahead window. MarkNotified only runs after a
// successful emit, so a failed notification is retried next pass.
func (s *Sweeper) notifyExpiring(ctx context.Context, now time.Time, res *Result) {
	expiring, err := s.records.FindExpiring(ctx, now, now.Add(s.lookahead))
	if err != nil {
		res.Errors = append(res.Errors, err)
		s.logger.Error(ctx, "listing expiring records failed", "error", err)
		return
	}
	for _, rec := range expiring {
		if err := s.notifier.NotifyExpiring(ctx, rec.ID, rec.ExpiresAt); err != nil {
			res.Errors = append(res.Errors, err)
			s.logger.Warn(ctx, "pre-expiry notification failed", "file_id", rec.ID, "error", err)
			continue
		}
		if err := s.records.MarkNotified(ctx, rec.ID); err != nil {
			res.Errors = append(res.Errors, err)
			s.logger.Warn(ctx, "marking record notified failed", "file_id", rec.ID, "error", err)
			continue
		}
		res.Notified++
	}
}

// expire soft-deletes every record past its deadline and removes its blob.
// A blob delete failure does not block the metadata transition: the record
// is gone from the public surface either way, and the next pass will not
// see it again.
func (s *Sweeper) expire(ctx context.Context, now time.Time, res *Result) error {
	expired, err := s.records.FindExpired(ctx, now)
	if err != nil {
		return err
	}
	res.TotalExpired = len(expired)

	for _, rec := range expired {
		if err := s.records.MarkDeleted(ctx, rec.ID); err != nil {
			res.Errors = append(res.Errors, err)
			s.logger.Error(ctx, "marking record deleted failed", "file_id", rec.ID, "error", err)
			continue
		}
		if err := s.deleteBlob(ctx, rec.BlobRef); err != nil {
			res.Errors = append(res.Errors, err)
			s.logger.Warn(ctx, "deleting expired blob failed", "file_id", rec.ID, "error", err)
		}
		res.DeletedCount++
	}
	return nil
}

// InstantCheck re-evaluates a single record immediately. Called from read
// paths that encountered an expired record outside the sweep cadence.
// Unknown or already-deleted records are not an error.
func (s *Sweeper) InstantCheck(ctx context.Context, fileID string) error {
	rec, err := s.records.FindByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil
		}
		return err
	}
	if rec.State(s.clock.Now().UTC()) != models.StateExpired {
		return nil
	}
	if err := s.records.MarkDeleted(ctx, rec.ID); err != nil {
		return err
	}
	if err := s.deleteBlob(ctx, rec.BlobRef); err != nil {
		s.logger.Warn(ctx, "deleting blob on instant check failed", "file_id", rec.ID, "error", err)
	}
	s.logger.Info(ctx, "record expired on instant check", "file_id", rec.ID)
	return nil
}

func (s *Sweeper) deleteBlob(ctx context.Context, ref string) error {
	err := s.blobs.Delete(ctx, ref)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return err
	}
	return nil
}
