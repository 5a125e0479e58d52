package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ignite/sqp-sync/internal/domain"
)

func setupStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, "sqp_weekly_summary"), mock
}

func sampleRecord(asin string) domain.SummaryRecord {
	return domain.SummaryRecord{
		PeriodStart: time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2025, 1, 11, 0, 0, 0, 0, time.UTC),
		PeriodType:  domain.PeriodWeekly,
		SearchQuery: "wireless earbuds",
		ASIN:        asin,
		Impressions: 1000, Clicks: 50, CartAdds: 10, Purchases: 5,
		CTR: 0.05, CVR: 0.1,
	}
}

func TestUpsertBatch_InsertAndUpdate(t *testing.T) {
	s, mock := setupStore(t)

	mock.ExpectQuery("INSERT INTO sqp_weekly_summary").
		WillReturnRows(sqlmock.NewRows([]string{"inserted"}).AddRow(true))
	mock.ExpectQuery("INSERT INTO sqp_weekly_summary").
		WillReturnRows(sqlmock.NewRows([]string{"inserted"}).AddRow(false))

	res, err := s.UpsertBatch(context.Background(), []domain.SummaryRecord{
		sampleRecord("B000000001"),
		sampleRecord("B000000002"),
	})
	if err != nil {
		t.Fatalf("UpsertBatch() error: %v", err)
	}
	if res.Inserted != 1 || res.Updated != 1 {
		t.Errorf("Inserted=%d Updated=%d, want 1/1", res.Inserted, res.Updated)
	}
	if len(res.Failed) != 0 {
		t.Errorf("Failed = %v, want none", res.Failed)
	}
}

func TestUpsertBatch_RowFailureNotFatal(t *testing.T) {
	s, mock := setupStore(t)

	mock.ExpectQuery("INSERT INTO sqp_weekly_summary").
		WillReturnRows(sqlmock.NewRows([]string{"inserted"}).AddRow(true))
	mock.ExpectQuery("INSERT INTO sqp_weekly_summary").
		WillReturnError(fmt.Errorf("value too long for type character varying"))
	mock.ExpectQuery("INSERT INTO sqp_weekly_summary").
		WillReturnRows(sqlmock.NewRows([]string{"inserted"}).AddRow(true))

	res, err := s.UpsertBatch(context.Background(), []domain.SummaryRecord{
		sampleRecord("B000000001"),
		sampleRecord("B000000002"),
		sampleRecord("B000000003"),
	})
	if err != nil {
		t.Fatalf("UpsertBatch() error: %v", err)
	}
	if res.Inserted != 2 {
		t.Errorf("Inserted = %d, want 2 despite the failed row", res.Inserted)
	}
	if len(res.Failed) != 1 {
		t.Fatalf("Failed = %v, want exactly one", res.Failed)
	}
	if res.Failed[0].Key == "" {
		t.Error("Failed row must carry its natural key")
	}
}

func TestLatestSyncedPeriodEnd(t *testing.T) {
	s, mock := setupStore(t)

	end := time.Date(2025, 1, 11, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT MAX\\(period_end\\)").
		WithArgs("weekly").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(end))

	got, ok, err := s.LatestSyncedPeriodEnd(context.Background(), domain.PeriodWeekly)
	if err != nil {
		t.Fatalf("LatestSyncedPeriodEnd() error: %v", err)
	}
	if !ok || !got.Equal(end) {
		t.Errorf("got %v ok=%v, want %v ok=true", got, ok, end)
	}
}

func TestLatestSyncedPeriodEnd_NeverSynced(t *testing.T) {
	s, mock := setupStore(t)

	mock.ExpectQuery("SELECT MAX\\(period_end\\)").
		WithArgs("weekly").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))

	_, ok, err := s.LatestSyncedPeriodEnd(context.Background(), domain.PeriodWeekly)
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	if ok {
		t.Error("ok should be false when nothing has been synced")
	}
}

func TestSyncLogLifecycle(t *testing.T) {
	s, mock := setupStore(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO sqp_sync_log").
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := s.CreateSyncLog(ctx, "weekly", "SEARCH_QUERY_PERFORMANCE", "sqp_weekly_summary")
	if err != nil {
		t.Fatalf("CreateSyncLog() error: %v", err)
	}
	if id == "" {
		t.Fatal("CreateSyncLog() returned empty id")
	}

	mock.ExpectExec("UPDATE sqp_sync_log").
		WithArgs(id, 1000, 990, 8, 2, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.CompleteSyncLog(ctx, id, 1000, 990, 8, 2, 1); err != nil {
		t.Fatalf("CompleteSyncLog() error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestFailSyncLog(t *testing.T) {
	s, mock := setupStore(t)

	mock.ExpectExec("UPDATE sqp_sync_log").
		WithArgs("abc", "warehouse timeout", `{"attempts":3}`, 3).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.FailSyncLog(context.Background(), "abc", "warehouse timeout", `{"attempts":3}`, 3); err != nil {
		t.Fatalf("FailSyncLog() error: %v", err)
	}
}

func TestWindowAggregates(t *testing.T) {
	s, mock := setupStore(t)

	mock.ExpectQuery("COUNT\\(DISTINCT search_query\\)").
		WillReturnRows(sqlmock.NewRows([]string{"c", "q", "a", "i", "cl", "p"}).
			AddRow(int64(100), int64(40), int64(10), int64(50000), int64(2500), int64(120)))

	w := domain.NewWindow(
		time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 11, 0, 0, 0, 0, time.UTC),
		domain.PeriodWeekly)

	agg, err := s.WindowAggregates(context.Background(), w)
	if err != nil {
		t.Fatalf("WindowAggregates() error: %v", err)
	}
	if agg.RowCount != 100 || agg.TotalClicks != 2500 {
		t.Errorf("aggregates = %+v", agg)
	}
}

func TestRefreshMaterializedViews(t *testing.T) {
	s, mock := setupStore(t)

	mock.ExpectExec("REFRESH MATERIALIZED VIEW CONCURRENTLY sqp_query_totals").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("REFRESH MATERIALIZED VIEW CONCURRENTLY sqp_asin_totals").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.RefreshMaterializedViews(context.Background()); err != nil {
		t.Fatalf("RefreshMaterializedViews() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRecordQualityCheck(t *testing.T) {
	s, mock := setupStore(t)

	mock.ExpectExec("INSERT INTO sqp_data_quality_checks").
		WithArgs("log-1", "row_count", "failed", "store is missing 12 rows", "warning", `{"warehouse":100,"store":88}`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.RecordQualityCheck(context.Background(), domain.QualityCheck{
		SyncLogID: "log-1",
		CheckType: "row_count",
		Status:    domain.CheckFailed,
		Message:   "store is missing 12 rows",
		Severity:  domain.SeverityWarning,
		Metadata:  `{"warehouse":100,"store":88}`,
	})
	if err != nil {
		t.Fatalf("RecordQualityCheck() error: %v", err)
	}
}
