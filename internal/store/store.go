// Package store implements the operational Postgres repository for synced
// search performance summaries and their audit trail.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // Postgres driver

	"github.com/ignite/sqp-sync/internal/domain"
)

// DefaultSummaryTable is the period summary table unless configured otherwise.
const DefaultSummaryTable = "sqp_weekly_summary"

// Store is a thin repository over the operational database.
type Store struct {
	db           *sql.DB
	summaryTable string
}

// New creates a Store over an existing database handle.
func New(db *sql.DB, summaryTable string) *Store {
	if summaryTable == "" {
		summaryTable = DefaultSummaryTable
	}
	return &Store{db: db, summaryTable: summaryTable}
}

// Open connects to Postgres and verifies the connection.
func Open(databaseURL, summaryTable string, maxOpen, maxIdle int) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}
	return New(db, summaryTable), nil
}

// DB exposes the underlying handle for advisory locks and tooling.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Ping tests store connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// SummaryTable returns the configured summary table name.
func (s *Store) SummaryTable() string { return s.summaryTable }

// RowError records one row that failed to upsert, with its natural key.
type RowError struct {
	Key string `json:"key"`
	Err string `json:"error"`
}

// UpsertResult summarizes one batch write.
type UpsertResult struct {
	Inserted int
	Updated  int
	Failed   []RowError
}

// UpsertBatch writes records keyed by (search_query, asin, period_start,
// period_end). Re-running a window is idempotent. Individual row failures
// are collected, never fatal to the batch; rows are written outside a
// transaction so one poisoned row cannot abort its neighbours.
func (s *Store) UpsertBatch(ctx context.Context, records []domain.SummaryRecord) (UpsertResult, error) {
	query := `
		INSERT INTO ` + s.summaryTable + ` (
			period_start, period_end, period_type, search_query, asin,
			impressions, clicks, cart_adds, purchases,
			ctr, cvr, cart_add_rate, purchase_rate,
			impression_share, click_share, purchase_share, synced_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,NOW())
		ON CONFLICT (search_query, asin, period_start, period_end) DO UPDATE SET
			period_type = EXCLUDED.period_type,
			impressions = EXCLUDED.impressions,
			clicks = EXCLUDED.clicks,
			cart_adds = EXCLUDED.cart_adds,
			purchases = EXCLUDED.purchases,
			ctr = EXCLUDED.ctr,
			cvr = EXCLUDED.cvr,
			cart_add_rate = EXCLUDED.cart_add_rate,
			purchase_rate = EXCLUDED.purchase_rate,
			impression_share = EXCLUDED.impression_share,
			click_share = EXCLUDED.click_share,
			purchase_share = EXCLUDED.purchase_share,
			synced_at = NOW()
		RETURNING (xmax = 0) AS inserted`

	var res UpsertResult
	for _, r := range records {
		var inserted bool
		err := s.db.QueryRowContext(ctx, query,
			r.PeriodStart, r.PeriodEnd, string(r.PeriodType), r.SearchQuery, r.ASIN,
			r.Impressions, r.Clicks, r.CartAdds, r.Purchases,
			r.CTR, r.CVR, r.CartAddRate, r.PurchaseRate,
			r.ImpressionShare, r.ClickShare, r.PurchaseShare,
		).Scan(&inserted)
		if err != nil {
			res.Failed = append(res.Failed, RowError{Key: r.Key(), Err: err.Error()})
			continue
		}
		if inserted {
			res.Inserted++
		} else {
			res.Updated++
		}
	}
	return res, nil
}

// LatestSyncedPeriodEnd returns the most recent fully-synced period_end for
// the period type, or ok=false when nothing has been synced yet.
func (s *Store) LatestSyncedPeriodEnd(ctx context.Context, pt domain.PeriodType) (time.Time, bool, error) {
	var end sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(period_end) FROM `+s.summaryTable+` WHERE period_type = $1`,
		string(pt),
	).Scan(&end)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("latest synced period end: %w", err)
	}
	if !end.Valid {
		return time.Time{}, false, nil
	}
	return domain.DateOnly(end.Time), true, nil
}

// Aggregates are store-side totals for a window, the counterpart of the
// warehouse aggregates used by the comparator.
type Aggregates struct {
	RowCount         int64 `json:"row_count"`
	QueryCount       int64 `json:"query_count"`
	ASINCount        int64 `json:"asin_count"`
	TotalImpressions int64 `json:"total_impressions"`
	TotalClicks      int64 `json:"total_clicks"`
	TotalPurchases   int64 `json:"total_purchases"`
}

// WindowAggregates returns totals for rows inside the window.
func (s *Store) WindowAggregates(ctx context.Context, w domain.Window) (Aggregates, error) {
	var agg Aggregates
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(DISTINCT search_query),
		       COUNT(DISTINCT asin),
		       COALESCE(SUM(impressions), 0),
		       COALESCE(SUM(clicks), 0),
		       COALESCE(SUM(purchases), 0)
		FROM `+s.summaryTable+`
		WHERE period_start >= $1 AND period_end <= $2`,
		w.Start, w.End,
	).Scan(&agg.RowCount, &agg.QueryCount, &agg.ASINCount,
		&agg.TotalImpressions, &agg.TotalClicks, &agg.TotalPurchases)
	if err != nil {
		return Aggregates{}, fmt.Errorf("store aggregates: %w", err)
	}
	return agg, nil
}

// NullViolations counts rows in the window with NULLs in columns that must
// always be populated. The schema constrains these, so a non-zero count
// means the schema contract itself has drifted.
func (s *Store) NullViolations(ctx context.Context, w domain.Window) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM `+s.summaryTable+`
		WHERE period_start >= $1 AND period_end <= $2
		  AND (search_query IS NULL OR asin IS NULL OR impressions IS NULL OR clicks IS NULL)`,
		w.Start, w.End,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("null violations: %w", err)
	}
	return n, nil
}

// DuplicateKeys counts natural keys appearing more than once in the window.
func (s *Store) DuplicateKeys(ctx context.Context, w domain.Window) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM (
			SELECT search_query, asin, period_start, period_end
			FROM `+s.summaryTable+`
			WHERE period_start >= $1 AND period_end <= $2
			GROUP BY search_query, asin, period_start, period_end
			HAVING COUNT(*) > 1
		) dup`,
		w.Start, w.End,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("duplicate keys: %w", err)
	}
	return n, nil
}

// OutlierCount counts rows whose impression volume exceeds 50x the window
// average, usually a sign of a double-loaded export upstream.
func (s *Store) OutlierCount(ctx context.Context, w domain.Window) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM `+s.summaryTable+`
		WHERE period_start >= $1 AND period_end <= $2
		  AND impressions > 50 * (
			SELECT COALESCE(AVG(impressions), 0) FROM `+s.summaryTable+`
			WHERE period_start >= $1 AND period_end <= $2
		  )`,
		w.Start, w.End,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("outlier count: %w", err)
	}
	return n, nil
}

// RefreshMaterializedViews refreshes the derived rollup views after a sync.
// Concurrent refresh keeps readers unblocked.
func (s *Store) RefreshMaterializedViews(ctx context.Context) error {
	for _, view := range []string{"sqp_query_totals", "sqp_asin_totals"} {
		if _, err := s.db.ExecContext(ctx, "REFRESH MATERIALIZED VIEW CONCURRENTLY "+view); err != nil {
			return fmt.Errorf("refresh %s: %w", view, err)
		}
	}
	return nil
}
