package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ignite/sqp-sync/internal/config"
	"github.com/ignite/sqp-sync/internal/domain"
	"github.com/ignite/sqp-sync/internal/syncer"
	"github.com/ignite/sqp-sync/internal/validate"
)

type fakeRunner struct {
	mu       sync.Mutex
	calls    int
	failures int
	result   *syncer.Result
	block    chan struct{}

	hasDeadline bool
	deadline    time.Time
}

func (f *fakeRunner) SyncPeriodData(ctx context.Context, pt domain.PeriodType, start, end time.Time, opts syncer.Options) (*syncer.Result, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.deadline, f.hasDeadline = ctx.Deadline()
	f.mu.Unlock()

	if f.block != nil {
		<-f.block
	}
	if call <= f.failures {
		return &syncer.Result{}, errors.New("snowflake unreachable")
	}
	if f.result != nil {
		return f.result, nil
	}
	return &syncer.Result{
		Success:          true,
		Window:           domain.NewWindow(start, end, pt),
		RecordsProcessed: 10,
		RecordsInserted:  8,
		RecordsUpdated:   2,
		RecordsSynced:    10,
	}, nil
}

type fakeAudit struct {
	mu sync.Mutex

	lastEnd  time.Time
	haveLast bool

	created   int
	completed []int // retry counts passed to CompleteSyncLog
	failed    []int
	checks    []domain.QualityCheck
	refreshes int

	completedProcessed int
}

func (f *fakeAudit) CreateSyncLog(ctx context.Context, syncType, src, dst string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	return "log-1", nil
}

func (f *fakeAudit) CompleteSyncLog(ctx context.Context, id string, processed, inserted, updated, failedRows, retryCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, retryCount)
	f.completedProcessed = processed
	return nil
}

func (f *fakeAudit) FailSyncLog(ctx context.Context, id, errMsg, errDetails string, retryCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, retryCount)
	return nil
}

func (f *fakeAudit) LatestSyncedPeriodEnd(ctx context.Context, pt domain.PeriodType) (time.Time, bool, error) {
	return f.lastEnd, f.haveLast, nil
}

func (f *fakeAudit) RecordQualityCheck(ctx context.Context, c domain.QualityCheck) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks = append(f.checks, c)
	return nil
}

func (f *fakeAudit) RefreshMaterializedViews(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return nil
}

type fakeLock struct {
	available bool
	extends   int
	releases  int
}

func (f *fakeLock) Acquire(ctx context.Context) (bool, error) { return f.available, nil }
func (f *fakeLock) Extend(ctx context.Context) error {
	f.extends++
	return nil
}
func (f *fakeLock) Release(ctx context.Context) error {
	f.releases++
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Warehouse: config.WarehouseConfig{SourceTable: "SEARCH_QUERY_PERFORMANCE"},
		Sync: config.SyncConfig{
			PeriodType:   "weekly",
			LookbackDays: 90,
			SummaryTable: "sqp_weekly_summary",
		},
		Scheduler: config.SchedulerConfig{
			CronExpression:     "0 6 * * 1",
			RetryAttempts:      3,
			RetryDelayMs:       5,
			AttemptTimeoutMins: 30,
		},
	}
}

// Wednesday; most recent completed Saturday is 2025-01-11.
var testNow = time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC)

func newTestScheduler(t *testing.T, runner SyncRunner, audit AuditStore, cfg *config.Config) (*Scheduler, *[]time.Duration, *fakeLock) {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	lock := &fakeLock{available: true}
	s, err := New(cfg, runner, audit, lock)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	s.now = func() time.Time { return testNow }
	var delays []time.Duration
	s.sleep = func(d time.Duration) { delays = append(delays, d) }
	return s, &delays, lock
}

func TestNew_InvalidCronIsFatal(t *testing.T) {
	cfg := testConfig()
	cfg.Scheduler.CronExpression = "not a cron line"
	if _, err := New(cfg, &fakeRunner{}, &fakeAudit{}, &fakeLock{available: true}); err == nil {
		t.Fatal("invalid cron expression must fail construction")
	}
}

func TestTriggerNow_RetriesThenSucceeds(t *testing.T) {
	runner := &fakeRunner{failures: 2}
	audit := &fakeAudit{}
	s, delays, lock := newTestScheduler(t, runner, audit, nil)

	res, err := s.TriggerNow(context.Background(), "manual")
	if err != nil {
		t.Fatalf("TriggerNow() error: %v", err)
	}
	if !res.Success {
		t.Error("third attempt succeeded, result should too")
	}
	if runner.calls != 3 {
		t.Errorf("runner called %d times, want 3", runner.calls)
	}
	if len(audit.completed) != 1 || audit.completed[0] != 2 {
		t.Errorf("completed retry counts = %v, want [2]", audit.completed)
	}
	// Backoff doubles between attempts.
	if len(*delays) != 2 || (*delays)[0] != 5*time.Millisecond || (*delays)[1] != 10*time.Millisecond {
		t.Errorf("backoff delays = %v, want [5ms 10ms]", *delays)
	}
	// The lock is re-armed before each backoff so it outlives the retries.
	if lock.extends != 2 {
		t.Errorf("lock extended %d times, want 2", lock.extends)
	}
}

func TestTriggerNow_ExhaustedRetriesFail(t *testing.T) {
	runner := &fakeRunner{failures: 99}
	audit := &fakeAudit{}
	s, _, _ := newTestScheduler(t, runner, audit, nil)

	_, err := s.TriggerNow(context.Background(), "scheduled")
	if err == nil {
		t.Fatal("exhausted retries must return an error")
	}
	if runner.calls != 3 {
		t.Errorf("runner called %d times, want 3", runner.calls)
	}
	if len(audit.failed) != 1 || audit.failed[0] != 2 {
		t.Errorf("failed retry counts = %v, want [2]", audit.failed)
	}
	if len(audit.completed) != 0 {
		t.Error("a failed run must not be marked completed")
	}
}

func TestTriggerNow_RejectsConcurrentTrigger(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	audit := &fakeAudit{}
	s, _, _ := newTestScheduler(t, runner, audit, nil)

	done := make(chan error, 1)
	go func() {
		_, err := s.TriggerNow(context.Background(), "scheduled")
		done <- err
	}()

	deadline := time.After(2 * time.Second)
	for !s.IsRunning() {
		select {
		case <-deadline:
			t.Fatal("first trigger never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if _, err := s.TriggerNow(context.Background(), "manual"); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("concurrent trigger error = %v, want ErrAlreadyRunning", err)
	}

	close(runner.block)
	if err := <-done; err != nil {
		t.Fatalf("first trigger failed: %v", err)
	}
	// The rejected trigger must not have opened an audit row.
	if audit.created != 1 {
		t.Errorf("sync logs created = %d, want 1", audit.created)
	}
}

func TestTriggerNow_LockHeldElsewhere(t *testing.T) {
	cfg := testConfig()
	s, err := New(cfg, &fakeRunner{}, &fakeAudit{}, &fakeLock{available: false})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	s.now = func() time.Time { return testNow }

	if _, err := s.TriggerNow(context.Background(), "manual"); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("error = %v, want ErrAlreadyRunning when another host holds the lock", err)
	}
}

func TestTriggerNow_NoOpWhenCaughtUp(t *testing.T) {
	runner := &fakeRunner{}
	audit := &fakeAudit{
		lastEnd:  time.Date(2025, 1, 11, 0, 0, 0, 0, time.UTC), // the latest completed Saturday
		haveLast: true,
	}
	s, _, _ := newTestScheduler(t, runner, audit, nil)

	res, err := s.TriggerNow(context.Background(), "scheduled")
	if err != nil {
		t.Fatalf("TriggerNow() error: %v", err)
	}
	if !res.Success {
		t.Error("a caught-up store is a successful no-op")
	}
	if runner.calls != 0 {
		t.Error("nothing should be extracted when the store is caught up")
	}
	if audit.created != 1 || len(audit.completed) != 1 || audit.completedProcessed != 0 {
		t.Errorf("no-op should still leave a completed audit row: created=%d completed=%v",
			audit.created, audit.completed)
	}
}

func TestTriggerNow_PersistsQualityChecksAndRefreshesViews(t *testing.T) {
	cfg := testConfig()
	cfg.Scheduler.RunQualityChecks = true
	cfg.Scheduler.RefreshViews = true

	runner := &fakeRunner{result: &syncer.Result{
		Success:          true,
		RecordsProcessed: 5,
		RecordsSynced:    5,
		Validation: &validate.Report{
			Checks: []validate.CheckResult{
				{Type: "row_count_match", Passed: true, Severity: domain.SeverityCritical},
				{Type: "outlier_scan", Passed: false, Severity: domain.SeverityWarning},
			},
			Score:  85,
			Passed: true,
		},
	}}
	audit := &fakeAudit{}
	s, _, _ := newTestScheduler(t, runner, audit, cfg)

	if _, err := s.TriggerNow(context.Background(), "scheduled"); err != nil {
		t.Fatalf("TriggerNow() error: %v", err)
	}
	if len(audit.checks) != 2 {
		t.Fatalf("persisted %d quality checks, want 2", len(audit.checks))
	}
	if audit.checks[0].SyncLogID != "log-1" {
		t.Errorf("checks must be tied to the run: %+v", audit.checks[0])
	}
	if audit.refreshes != 1 {
		t.Errorf("view refreshes = %d, want 1", audit.refreshes)
	}
}

func TestTriggerNow_ZeroAttemptTimeoutGetsFloor(t *testing.T) {
	cfg := testConfig()
	cfg.Scheduler.AttemptTimeoutMins = 0

	runner := &fakeRunner{}
	s, _, _ := newTestScheduler(t, runner, &fakeAudit{}, cfg)

	if _, err := s.TriggerNow(context.Background(), "manual"); err != nil {
		t.Fatalf("TriggerNow() error: %v", err)
	}
	// An unset timeout must fall back to a real deadline, not expire the
	// attempt immediately.
	if !runner.hasDeadline {
		t.Fatal("attempt context should carry a deadline")
	}
	if runner.deadline.Before(time.Now().Add(time.Minute)) {
		t.Errorf("attempt deadline %s is too close, floor not applied", runner.deadline)
	}
}

func TestLastCompletedBoundary(t *testing.T) {
	cases := []struct {
		name string
		now  time.Time
		pt   domain.PeriodType
		want time.Time
	}{
		{"weekly midweek", testNow, domain.PeriodWeekly,
			time.Date(2025, 1, 11, 0, 0, 0, 0, time.UTC)},
		{"weekly on saturday looks back a full week",
			time.Date(2025, 1, 11, 12, 0, 0, 0, time.UTC), domain.PeriodWeekly,
			time.Date(2025, 1, 4, 0, 0, 0, 0, time.UTC)},
		{"monthly", testNow, domain.PeriodMonthly,
			time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)},
		{"quarterly", time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC), domain.PeriodQuarterly,
			time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)},
		{"yearly", testNow, domain.PeriodYearly,
			time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := LastCompletedBoundary(tc.now, tc.pt); !got.Equal(tc.want) {
				t.Errorf("LastCompletedBoundary(%s, %s) = %s, want %s",
					tc.now.Format("2006-01-02"), tc.pt, got.Format("2006-01-02"), tc.want.Format("2006-01-02"))
			}
		})
	}
}

func TestNextWindow(t *testing.T) {
	lastEnd := time.Date(2025, 1, 7, 0, 0, 0, 0, time.UTC)
	w, ok := nextWindow(testNow, domain.PeriodWeekly, lastEnd, true, 90)
	if !ok {
		t.Fatal("window expected")
	}
	if !w.Start.Equal(time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Start = %s, want 2025-01-08", w.Start.Format("2006-01-02"))
	}
	if !w.End.Equal(time.Date(2025, 1, 11, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("End = %s, want 2025-01-11", w.End.Format("2006-01-02"))
	}
}

func TestNextWindow_FirstRunUsesLookback(t *testing.T) {
	w, ok := nextWindow(testNow, domain.PeriodWeekly, time.Time{}, false, 90)
	if !ok {
		t.Fatal("window expected")
	}
	if !w.Start.Equal(domain.DateOnly(testNow).AddDate(0, 0, -90)) {
		t.Errorf("first run should start at the lookback horizon, got %s", w.Start.Format("2006-01-02"))
	}
}
