package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/openregister/openregister/internal/config"
	"github.com/openregister/openregister/internal/db/repositories"
	"github.com/openregister/openregister/internal/telemetry"
)

var testNow = time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet sqlmock expectations: %v", err)
		}
		db.Close()
	})
	return sqlx.NewDb(db, "sqlmock"), mock
}

func fixClock(s *Sweeper) *Sweeper {
	s.now = func() time.Time { return testNow }
	return s
}

type fakeObjects struct {
	mu      sync.Mutex
	batches []int64
	calls   int
	limits  []int
	err     error
}

func (f *fakeObjects) ClearExpiredLocks(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeObjects) PurgeDeleted(_ context.Context, _ time.Time, limit int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limits = append(f.limits, limit)
	if f.calls >= len(f.batches) {
		return 0, f.err
	}
	n := f.batches[f.calls]
	f.calls++
	return n, nil
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNewJobs_DefaultIntervals(t *testing.T) {
	var cfg config.JobsConfig
	tests := []struct {
		job  *Sweeper
		name string
		want time.Duration
	}{
		{NewAuditTrailExpiryJob(nil, cfg), AuditExpiryJobName, time.Hour},
		{NewLockSweepJob(&fakeObjects{}, cfg), LockSweepJobName, 5 * time.Minute},
		{NewPurgeJob(&fakeObjects{}, cfg), PurgeJobName, time.Hour},
		{NewSearchLogGCJob(nil, time.Hour, cfg), SearchLogGCJobName, 24 * time.Hour},
	}
	for _, tt := range tests {
		if tt.job.Name() != tt.name {
			t.Errorf("Name() = %q, want %q", tt.job.Name(), tt.name)
		}
		if tt.job.interval != tt.want {
			t.Errorf("%s interval = %v, want %v", tt.name, tt.job.interval, tt.want)
		}
	}
}

func TestNewJobs_ConfiguredInterval(t *testing.T) {
	j := NewLockSweepJob(&fakeObjects{}, config.JobsConfig{LockSweepInterval: 30 * time.Second})
	if j.interval != 30*time.Second {
		t.Errorf("interval = %v, want 30s", j.interval)
	}
}

// ---------------------------------------------------------------------------
// Runs against the repositories
// ---------------------------------------------------------------------------

func TestAuditTrailExpiryJob_DrainsInBatches(t *testing.T) {
	db, mock := newMockDB(t)
	const query = "DELETE FROM audit_trails WHERE id IN"
	mock.ExpectExec(query).WithArgs(testNow, 2).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(query).WithArgs(testNow, 2).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(query).WithArgs(testNow, 2).WillReturnResult(sqlmock.NewResult(0, 1))

	job := fixClock(NewAuditTrailExpiryJob(repositories.NewAuditTrailRepository(db), config.JobsConfig{BatchSize: 2}))
	before := testutil.ToFloat64(telemetry.JobItemsProcessedTotal.WithLabelValues(AuditExpiryJobName))

	if n := job.RunOnce(context.Background()); n != 5 {
		t.Errorf("RunOnce() = %d, want 5", n)
	}
	after := testutil.ToFloat64(telemetry.JobItemsProcessedTotal.WithLabelValues(AuditExpiryJobName))
	if after-before != 5 {
		t.Errorf("items processed metric grew by %v, want 5", after-before)
	}
}

func TestLockSweepJob(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("UPDATE objects SET lock_user = NULL").
		WithArgs(testNow).
		WillReturnResult(sqlmock.NewResult(0, 3))

	job := fixClock(NewLockSweepJob(repositories.NewObjectRepository(db), config.JobsConfig{}))
	okBefore := testutil.ToFloat64(telemetry.JobRunsTotal.WithLabelValues(LockSweepJobName, "ok"))

	if n := job.RunOnce(context.Background()); n != 3 {
		t.Errorf("RunOnce() = %d, want 3", n)
	}
	if got := testutil.ToFloat64(telemetry.JobRunsTotal.WithLabelValues(LockSweepJobName, "ok")); got != okBefore+1 {
		t.Errorf("ok runs = %v, want %v", got, okBefore+1)
	}
}

func TestSearchLogGCJob(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("DELETE FROM search_logs WHERE created < \\$1").
		WithArgs(testNow.Add(-48 * time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 7))

	job := fixClock(NewSearchLogGCJob(repositories.NewSearchLogRepository(db), 48*time.Hour, config.JobsConfig{}))
	if n := job.RunOnce(context.Background()); n != 7 {
		t.Errorf("RunOnce() = %d, want 7", n)
	}
}

func TestSearchLogGCJob_ZeroRetentionKeepsEverything(t *testing.T) {
	db, _ := newMockDB(t) // no expectations: any query fails the test
	job := fixClock(NewSearchLogGCJob(repositories.NewSearchLogRepository(db), 0, config.JobsConfig{}))
	if n := job.RunOnce(context.Background()); n != 0 {
		t.Errorf("RunOnce() = %d, want 0", n)
	}
}

// ---------------------------------------------------------------------------
// Batching and failures
// ---------------------------------------------------------------------------

func TestPurgeJob_StopsOnShortBatch(t *testing.T) {
	store := &fakeObjects{batches: []int64{10, 10, 4, 10}}
	job := fixClock(NewPurgeJob(store, config.JobsConfig{BatchSize: 10}))

	if n := job.RunOnce(context.Background()); n != 24 {
		t.Errorf("RunOnce() = %d, want 24", n)
	}
	if store.calls != 3 {
		t.Errorf("PurgeDeleted called %d times, want 3", store.calls)
	}
}

func TestPurgeJob_DefaultBatchSize(t *testing.T) {
	store := &fakeObjects{}
	fixClock(NewPurgeJob(store, config.JobsConfig{})).RunOnce(context.Background())
	if len(store.limits) != 1 || store.limits[0] != 500 {
		t.Errorf("limits = %v, want [500]", store.limits)
	}
}

func TestPurgeJob_ErrorCountsRowsSoFar(t *testing.T) {
	store := &fakeObjects{batches: []int64{10}, err: errors.New("connection reset")}
	job := fixClock(NewPurgeJob(store, config.JobsConfig{BatchSize: 10}))
	errBefore := testutil.ToFloat64(telemetry.JobRunsTotal.WithLabelValues(PurgeJobName, "error"))

	if n := job.RunOnce(context.Background()); n != 10 {
		t.Errorf("RunOnce() = %d, want 10", n)
	}
	if got := testutil.ToFloat64(telemetry.JobRunsTotal.WithLabelValues(PurgeJobName, "error")); got != errBefore+1 {
		t.Errorf("error runs = %v, want %v", got, errBefore+1)
	}
}

func TestBatched_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	sweep := batched(5, func(context.Context, time.Time, int) (int64, error) {
		calls++
		return 5, nil
	})
	if _, err := sweep(ctx, testNow); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func TestSweeper_StartRunsImmediatelyAndStops(t *testing.T) {
	ran := make(chan struct{}, 1)
	s := newSweeper("test", time.Hour, time.Hour, func(context.Context, time.Time) (int64, error) {
		select {
		case ran <- struct{}{}:
		default:
		}
		return 0, nil
	})

	sched := NewScheduler(s, nil)
	sched.Start(context.Background())

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run on start")
	}

	done := make(chan struct{})
	go func() {
		sched.Stop()
		sched.Stop() // second call must not panic on a closed channel
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestSweeper_ContextCancelStops(t *testing.T) {
	s := newSweeper("test", time.Hour, time.Hour, func(context.Context, time.Time) (int64, error) { return 0, nil })
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not stop on context cancellation")
	}
}
