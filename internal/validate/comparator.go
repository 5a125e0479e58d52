package validate

import (
	"context"
	"fmt"
	"math"

	"github.com/ignite/sqp-sync/internal/domain"
)

// DefaultThresholdPct is the discrepancy percentage above which a metric is
// flagged, unless configured otherwise.
const DefaultThresholdPct = 5.0

// Discrepancy is one metric compared across the two surfaces.
type Discrepancy struct {
	Metric    string  `json:"metric"`
	Warehouse int64   `json:"warehouse"`
	Store     int64   `json:"store"`
	DiffPct   float64 `json:"diff_pct"`
	Flagged   bool    `json:"flagged"`
}

// Comparison is the full comparator output for a window.
type Comparison struct {
	Window        domain.Window `json:"window"`
	Discrepancies []Discrepancy `json:"discrepancies"`
	Flagged       bool          `json:"flagged"`
	ThresholdPct  float64       `json:"threshold_pct"`
}

// Comparator independently compares aggregate counts between the warehouse
// and the operational store. It shares the readers with the Validator but
// answers a different question: not "is the store internally consistent"
// but "does the store still agree with the source".
type Comparator struct {
	store        StoreReader
	warehouse    WarehouseReader
	ThresholdPct float64
}

// NewComparator builds a comparator with the given flagging threshold;
// thresholdPct <= 0 selects the default.
func NewComparator(st StoreReader, wh WarehouseReader, thresholdPct float64) *Comparator {
	if thresholdPct <= 0 {
		thresholdPct = DefaultThresholdPct
	}
	return &Comparator{store: st, warehouse: wh, ThresholdPct: thresholdPct}
}

// Compare collects aggregates from both sides and flags metrics whose
// relative difference exceeds the threshold.
func (c *Comparator) Compare(ctx context.Context, w domain.Window, asins []string) (*Comparison, error) {
	whAgg, err := c.warehouse.WindowAggregates(ctx, w, asins)
	if err != nil {
		return nil, fmt.Errorf("compare warehouse side: %w", err)
	}
	stAgg, err := c.store.WindowAggregates(ctx, w)
	if err != nil {
		return nil, fmt.Errorf("compare store side: %w", err)
	}

	cmp := &Comparison{Window: w, ThresholdPct: c.ThresholdPct}
	pairs := []struct {
		metric string
		wh, st int64
	}{
		{"row_count", whAgg.RowCount, stAgg.RowCount},
		{"query_count", whAgg.QueryCount, stAgg.QueryCount},
		{"asin_count", whAgg.ASINCount, stAgg.ASINCount},
		{"total_impressions", whAgg.TotalImpressions, stAgg.TotalImpressions},
		{"total_clicks", whAgg.TotalClicks, stAgg.TotalClicks},
		{"total_purchases", whAgg.TotalPurchases, stAgg.TotalPurchases},
	}
	for _, p := range pairs {
		d := Discrepancy{
			Metric:    p.metric,
			Warehouse: p.wh,
			Store:     p.st,
			DiffPct:   diffPct(p.wh, p.st),
		}
		d.Flagged = d.DiffPct > c.ThresholdPct
		if d.Flagged {
			cmp.Flagged = true
		}
		cmp.Discrepancies = append(cmp.Discrepancies, d)
	}
	return cmp, nil
}

// diffPct is the relative difference in percent, against the warehouse side
// as the reference. Both sides zero means no difference; a zero reference
// with a non-zero store is a full 100% discrepancy.
func diffPct(reference, actual int64) float64 {
	if reference == 0 {
		if actual == 0 {
			return 0
		}
		return 100
	}
	return math.Abs(float64(actual-reference)) / float64(reference) * 100
}
