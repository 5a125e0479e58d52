// Package validate implements post-sync data quality checks and the
// warehouse-vs-store comparator. Nothing here mutates data; results are
// advisory signals for the alerting layer.
package validate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ignite/sqp-sync/internal/domain"
	"github.com/ignite/sqp-sync/internal/store"
	"github.com/ignite/sqp-sync/internal/warehouse"
)

// StoreReader is the slice of the operational store the checks need.
type StoreReader interface {
	WindowAggregates(ctx context.Context, w domain.Window) (store.Aggregates, error)
	NullViolations(ctx context.Context, w domain.Window) (int64, error)
	DuplicateKeys(ctx context.Context, w domain.Window) (int64, error)
	OutlierCount(ctx context.Context, w domain.Window) (int64, error)
}

// WarehouseReader is the slice of the warehouse the checks need.
type WarehouseReader interface {
	WindowAggregates(ctx context.Context, w domain.Window, asins []string) (warehouse.Aggregates, error)
}

// CheckResult is the outcome of one quality check.
type CheckResult struct {
	Type     string                 `json:"type"`
	Passed   bool                   `json:"passed"`
	Severity domain.AlertSeverity   `json:"severity"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`
}

// ToQualityCheck converts a result into its persisted form.
func (r CheckResult) ToQualityCheck(syncLogID string) domain.QualityCheck {
	status := domain.CheckPassed
	if !r.Passed {
		status = domain.CheckFailed
	}
	meta, _ := json.Marshal(r.Details)
	return domain.QualityCheck{
		SyncLogID: syncLogID,
		CheckType: r.Type,
		Status:    status,
		Message:   r.Message,
		Severity:  r.Severity,
		Metadata:  string(meta),
	}
}

// Report aggregates all checks for a window with a composite quality score
// in [0,100].
type Report struct {
	Window domain.Window `json:"window"`
	Checks []CheckResult `json:"checks"`
	Score  float64       `json:"score"`
	Passed bool          `json:"passed"`
}

// Validator runs the post-sync checks for a window.
type Validator struct {
	store     StoreReader
	warehouse WarehouseReader
}

// New creates a Validator over the two data surfaces.
func New(st StoreReader, wh WarehouseReader) *Validator {
	return &Validator{store: st, warehouse: wh}
}

// ValidateRowCount compares warehouse and store row counts for the window.
// A window that is empty on both sides passes: zero volume alone is never
// an alert.
func (v *Validator) ValidateRowCount(ctx context.Context, w domain.Window, asins []string) (CheckResult, error) {
	whAgg, err := v.warehouse.WindowAggregates(ctx, w, asins)
	if err != nil {
		return CheckResult{}, fmt.Errorf("row count check: %w", err)
	}
	stAgg, err := v.store.WindowAggregates(ctx, w)
	if err != nil {
		return CheckResult{}, fmt.Errorf("row count check: %w", err)
	}

	res := CheckResult{
		Type:     "row_count",
		Severity: domain.SeverityCritical,
		Details: map[string]interface{}{
			"warehouse_rows": whAgg.RowCount,
			"store_rows":     stAgg.RowCount,
		},
	}
	switch {
	case whAgg.RowCount == 0 && stAgg.RowCount == 0:
		res.Passed = true
		res.Severity = domain.SeverityInfo
		res.Message = "window is empty on both sides"
	case whAgg.RowCount == stAgg.RowCount:
		res.Passed = true
		res.Message = fmt.Sprintf("row counts match (%d)", stAgg.RowCount)
	default:
		res.Message = fmt.Sprintf("row count mismatch: warehouse=%d store=%d", whAgg.RowCount, stAgg.RowCount)
	}
	return res, nil
}

// ValidateSumTotals compares impression/click/purchase sums between the two
// sides for the window.
func (v *Validator) ValidateSumTotals(ctx context.Context, w domain.Window, asins []string) (CheckResult, error) {
	whAgg, err := v.warehouse.WindowAggregates(ctx, w, asins)
	if err != nil {
		return CheckResult{}, fmt.Errorf("sum totals check: %w", err)
	}
	stAgg, err := v.store.WindowAggregates(ctx, w)
	if err != nil {
		return CheckResult{}, fmt.Errorf("sum totals check: %w", err)
	}

	res := CheckResult{
		Type:     "sum_totals",
		Severity: domain.SeverityCritical,
		Details: map[string]interface{}{
			"warehouse_impressions": whAgg.TotalImpressions,
			"store_impressions":     stAgg.TotalImpressions,
			"warehouse_clicks":      whAgg.TotalClicks,
			"store_clicks":          stAgg.TotalClicks,
			"warehouse_purchases":   whAgg.TotalPurchases,
			"store_purchases":       stAgg.TotalPurchases,
		},
	}
	if whAgg.TotalImpressions == stAgg.TotalImpressions &&
		whAgg.TotalClicks == stAgg.TotalClicks &&
		whAgg.TotalPurchases == stAgg.TotalPurchases {
		res.Passed = true
		res.Message = "sum totals match"
	} else {
		res.Message = "sum totals diverge between warehouse and store"
	}
	return res, nil
}

// ValidateNoNulls checks for NULLs in columns the schema requires.
func (v *Validator) ValidateNoNulls(ctx context.Context, w domain.Window) (CheckResult, error) {
	n, err := v.store.NullViolations(ctx, w)
	if err != nil {
		return CheckResult{}, fmt.Errorf("null check: %w", err)
	}
	res := CheckResult{
		Type:     "no_nulls",
		Severity: domain.SeverityCritical,
		Passed:   n == 0,
		Details:  map[string]interface{}{"null_rows": n},
	}
	if n == 0 {
		res.Message = "no null violations"
	} else {
		res.Message = fmt.Sprintf("%d rows with nulls in required columns", n)
	}
	return res, nil
}

// ValidateNoDuplicates checks for repeated natural keys in the window.
func (v *Validator) ValidateNoDuplicates(ctx context.Context, w domain.Window) (CheckResult, error) {
	n, err := v.store.DuplicateKeys(ctx, w)
	if err != nil {
		return CheckResult{}, fmt.Errorf("duplicate check: %w", err)
	}
	res := CheckResult{
		Type:     "no_duplicates",
		Severity: domain.SeverityCritical,
		Passed:   n == 0,
		Details:  map[string]interface{}{"duplicate_keys": n},
	}
	if n == 0 {
		res.Message = "no duplicate natural keys"
	} else {
		res.Message = fmt.Sprintf("%d natural keys appear more than once", n)
	}
	return res, nil
}

// ValidateOutliers flags rows whose volume is implausibly far above the
// window average. Outliers are a warning, not a failure of the sync itself.
func (v *Validator) ValidateOutliers(ctx context.Context, w domain.Window) (CheckResult, error) {
	n, err := v.store.OutlierCount(ctx, w)
	if err != nil {
		return CheckResult{}, fmt.Errorf("outlier check: %w", err)
	}
	res := CheckResult{
		Type:     "outliers",
		Severity: domain.SeverityWarning,
		Passed:   n == 0,
		Details:  map[string]interface{}{"outlier_rows": n},
	}
	if n == 0 {
		res.Message = "no volume outliers"
	} else {
		res.Message = fmt.Sprintf("%d rows with outlier volume", n)
	}
	return res, nil
}

// Run executes every check and computes the composite score. A check that
// cannot run (query error) fails the whole Run; individual failed checks do
// not.
func (v *Validator) Run(ctx context.Context, w domain.Window, asins []string) (*Report, error) {
	report := &Report{Window: w}

	rowCount, err := v.ValidateRowCount(ctx, w, asins)
	if err != nil {
		return nil, err
	}
	sums, err := v.ValidateSumTotals(ctx, w, asins)
	if err != nil {
		return nil, err
	}
	nulls, err := v.ValidateNoNulls(ctx, w)
	if err != nil {
		return nil, err
	}
	dups, err := v.ValidateNoDuplicates(ctx, w)
	if err != nil {
		return nil, err
	}
	outliers, err := v.ValidateOutliers(ctx, w)
	if err != nil {
		return nil, err
	}

	report.Checks = []CheckResult{rowCount, sums, nulls, dups, outliers}
	report.Score = scoreChecks(report.Checks)
	report.Passed = true
	for _, c := range report.Checks {
		if !c.Passed && c.Severity == domain.SeverityCritical {
			report.Passed = false
		}
	}
	return report, nil
}

// scoreChecks converts check outcomes into a 0-100 quality score.
func scoreChecks(checks []CheckResult) float64 {
	score := 100.0
	for _, c := range checks {
		if c.Passed {
			continue
		}
		switch c.Severity {
		case domain.SeverityCritical:
			score -= 40
		case domain.SeverityWarning:
			score -= 15
		default:
			score -= 5
		}
	}
	if score < 0 {
		score = 0
	}
	return score
}
