// maintenance.go implements the periodic maintenance jobs of the register: audit
// trail expiry, stale lock hygiene, purging soft-deleted objects past their
// retention, and search log garbage collection. None of them is needed for
// correctness (readers already ignore expired locks and deleted objects); they
// keep the tables from growing without bound.
package jobs

import (
	"context"
	"log"
	"time"

	"github.com/openregister/openregister/internal/config"
	"github.com/openregister/openregister/internal/telemetry"
)

// Job names, used as the "job" label of the job metrics
const (
	AuditExpiryJobName = "audit_trail_expiry"
	LockSweepJobName   = "lock_sweep"
	PurgeJobName       = "object_purge"
	SearchLogGCJobName = "search_log_gc"
)

// AuditTrailStore deletes expired audit trails. Implemented by repositories.AuditTrailRepository.
type AuditTrailStore interface {
	DeleteExpiredAuditTrails(ctx context.Context, now time.Time, limit int) (int64, error)
}

// ObjectStore clears stale locks and purges deleted objects. Implemented by repositories.ObjectRepository.
type ObjectStore interface {
	ClearExpiredLocks(ctx context.Context, now time.Time) (int64, error)
	PurgeDeleted(ctx context.Context, now time.Time, limit int) (int64, error)
}

// SearchLogStore deletes old search logs. Implemented by repositories.SearchLogRepository.
type SearchLogStore interface {
	DeleteSearchLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// sweepFunc performs one pass and reports how many rows it affected
type sweepFunc func(ctx context.Context, now time.Time) (int64, error)

// Sweeper runs one maintenance pass on a fixed interval
type Sweeper struct {
	name     string
	interval time.Duration
	sweep    sweepFunc
	now      func() time.Time
	stopChan chan struct{}
}

func newSweeper(name string, interval, fallback time.Duration, sweep sweepFunc) *Sweeper {
	if interval <= 0 {
		interval = fallback
	}
	return &Sweeper{
		name:     name,
		interval: interval,
		sweep:    sweep,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Name returns the job name
func (s *Sweeper) Name() string { return s.name }

// Start runs a pass immediately, then on every tick until ctx is cancelled or
// Stop is called
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("%s job started with interval: %v", s.name, s.interval)

	s.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-s.stopChan:
			log.Printf("%s job stopped", s.name)
			return
		case <-ctx.Done():
			log.Printf("%s job context cancelled", s.name)
			return
		}
	}
}

// Stop signals the loop to exit
func (s *Sweeper) Stop() {
	close(s.stopChan)
}

// RunOnce performs a single pass, recording its outcome in the job metrics
func (s *Sweeper) RunOnce(ctx context.Context) int64 {
	n, err := s.sweep(ctx, s.now().UTC())
	if n > 0 {
		telemetry.JobItemsProcessedTotal.WithLabelValues(s.name).Add(float64(n))
	}
	if err != nil {
		telemetry.JobRunsTotal.WithLabelValues(s.name, "error").Inc()
		log.Printf("%s job: run failed after %d rows: %v", s.name, n, err)
		return n
	}
	telemetry.JobRunsTotal.WithLabelValues(s.name, "ok").Inc()
	if n > 0 {
		log.Printf("%s job: %d rows affected", s.name, n)
	}
	return n
}

// batched repeats a limited delete until a batch comes back short, so one run
// drains the backlog without holding a long transaction
func batched(limit int, del func(ctx context.Context, now time.Time, limit int) (int64, error)) sweepFunc {
	if limit <= 0 {
		limit = 500
	}
	return func(ctx context.Context, now time.Time) (int64, error) {
		var total int64
		for {
			if err := ctx.Err(); err != nil {
				return total, err
			}
			n, err := del(ctx, now, limit)
			total += n
			if err != nil {
				return total, err
			}
			if n < int64(limit) {
				return total, nil
			}
		}
	}
}

// NewAuditTrailExpiryJob deletes audit trails whose retention has passed
func NewAuditTrailExpiryJob(store AuditTrailStore, cfg config.JobsConfig) *Sweeper {
	return newSweeper(AuditExpiryJobName, cfg.AuditExpiryInterval, time.Hour,
		batched(cfg.BatchSize, store.DeleteExpiredAuditTrails))
}

// NewLockSweepJob clears locks whose expiry has passed
func NewLockSweepJob(store ObjectStore, cfg config.JobsConfig) *Sweeper {
	return newSweeper(LockSweepJobName, cfg.LockSweepInterval, 5*time.Minute, store.ClearExpiredLocks)
}

// NewPurgeJob hard-deletes soft-deleted objects whose purge date has passed
func NewPurgeJob(store ObjectStore, cfg config.JobsConfig) *Sweeper {
	return newSweeper(PurgeJobName, cfg.PurgeInterval, time.Hour,
		batched(cfg.BatchSize, store.PurgeDeleted))
}

// NewSearchLogGCJob deletes search logs older than retention. A zero
// retention keeps search logs forever and the job does nothing.
func NewSearchLogGCJob(store SearchLogStore, retention time.Duration, cfg config.JobsConfig) *Sweeper {
	return newSweeper(SearchLogGCJobName, cfg.SearchLogGCInterval, 24*time.Hour,
		func(ctx context.Context, now time.Time) (int64, error) {
			if retention <= 0 {
				return 0, nil
			}
			return store.DeleteSearchLogsBefore(ctx, now.Add(-retention))
		})
}
