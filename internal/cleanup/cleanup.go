package cleanup

import (
	"context"
	"time"

	"cafepos/internal/logger"
)

const (
	cleanupHour       = 2   // 2 AM local time
	retentionHours    = 720 // 30 days
	maxDeletionPerRun = 25  // rows deleted per statement
	maxBatchesPerRun  = 40
)

// Purger deletes resolved reconciliation records.
type Purger interface {
	PurgeResolved(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// Service removes pending-adjustment rows the reconciler has already resolved
// once they are older than the retention window.
type Service struct {
	store     Purger
	retention time.Duration
	loc       *time.Location
	now       func() time.Time
}

func NewService(store Purger, loc *time.Location) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		store:     store,
		retention: retentionHours * time.Hour,
		loc:       loc,
		now:       time.Now,
	}
}

// NextRun is the next cleanupHour strictly after now, in the shop's zone.
func (s *Service) NextRun(now time.Time) time.Time {
	local := now.In(s.loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), cleanupHour, 0, 0, 0, s.loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Run performs the cleanup daily at cleanupHour until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	logger.LogInfo("Cleanup routine started - will run daily at %d:00", cleanupHour)

	for {
		next := s.NextRun(s.now())
		wait := next.Sub(s.now())
		logger.LogInfo("Next cleanup scheduled for %v (in %v)", next.Format("2006-01-02 15:04:05"), wait.Round(time.Second))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.LogInfo("Cleanup routine stopped")
			return
		case <-timer.C:
		}

		if _, err := s.RunOnce(ctx); err != nil {
			logger.LogError("Cleanup failed: %v", err)
		}
	}
}

// RunOnce deletes resolved records older than the retention window in small
// batches so a large backlog never holds the write lock for long.
func (s *Service) RunOnce(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.retention)
	logger.LogInfo("Cleaning resolved adjustments older than %v (before %v)",
		s.retention, cutoff.In(s.loc).Format("2006-01-02 15:04:05"))

	total := 0
	for batch := 0; batch < maxBatchesPerRun; batch++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := s.store.PurgeResolved(ctx, cutoff, maxDeletionPerRun)
		if err != nil {
			return total, err
		}
		total += n
		if n < maxDeletionPerRun {
			break
		}
	}

	if total == 0 {
		logger.LogInfo("Cleanup completed - nothing to remove")
	} else {
		logger.LogInfo("Cleanup completed - %d resolved adjustments removed", total)
	}
	return total, nil
}
