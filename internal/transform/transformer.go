// Package transform maps raw warehouse rows into operational summary rows.
// Everything in this package is pure: no I/O, no clocks, no globals.
package transform

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/ignite/sqp-sync/internal/domain"
)

// RateScale is the rounding precision for all rate and share fields.
// Counts are never rounded.
const RateScale = 6

// ToRecord normalizes one raw warehouse row into a SummaryRecord for the
// given window. Count parsing is defensive: non-numeric or missing values
// become 0, never an error. CTR/CVR are taken from the warehouse when
// present and derived otherwise. Share fields are left at zero; they are
// assigned by ComputeGroupShares once the whole window has been extracted.
func ToRecord(raw domain.RawRecord, w domain.Window) domain.SummaryRecord {
	rec := domain.SummaryRecord{
		PeriodStart: w.Start,
		PeriodEnd:   w.End,
		PeriodType:  w.PeriodType,
		SearchQuery: NormalizeQuery(raw.SearchQuery),
		ASIN:        NormalizeASIN(raw.ASIN),
		Impressions: parseCount(raw.Impressions),
		Clicks:      parseCount(raw.Clicks),
		CartAdds:    parseCount(raw.CartAdds),
		Purchases:   parseCount(raw.Purchases),
	}

	rec.CTR = parseRateOr(raw.CTR, func() float64 { return ratio(rec.Clicks, rec.Impressions) })
	rec.CVR = parseRateOr(raw.CVR, func() float64 { return ratio(rec.Purchases, rec.Clicks) })
	rec.CartAddRate = ratio(rec.CartAdds, rec.Clicks)
	rec.PurchaseRate = ratio(rec.Purchases, rec.Impressions)

	return rec
}

// NormalizeQuery trims and lower-cases a search query for join stability
// across warehouse exports, collapsing internal whitespace runs.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// NormalizeASIN trims and upper-cases an ASIN. Malformed codes are kept
// as-is after normalization; validation flags them advisorily.
func NormalizeASIN(a string) string {
	return strings.ToUpper(strings.TrimSpace(a))
}

// parseCount parses a count column. Missing, malformed, or negative values
// collapse to 0 rather than erroring; the warehouse export layer is not
// trusted to be numerically clean.
func parseCount(s string) int64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		// Some exports render counts as "123.0"
		if f, ferr := strconv.ParseFloat(s, 64); ferr == nil {
			n = int64(f)
		} else {
			return 0
		}
	}
	if n < 0 {
		return 0
	}
	return n
}

// parseRateOr parses an upstream rate column, falling back to derive() when
// the column is absent or unusable. Out-of-range parses also fall back: an
// upstream rate above 1 means the source sent percentages, which this store
// never persists.
func parseRateOr(s string, derive func() float64) float64 {
	s = strings.TrimSpace(s)
	if s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 && f <= 1 && !math.IsNaN(f) {
			return Round6(f)
		}
	}
	return Round6(derive())
}

// ratio returns num/den as a fraction, 0 when the denominator is 0.
func ratio(num, den int64) float64 {
	if den <= 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// Round6 rounds a rate to RateScale decimal places.
func Round6(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	const scale = 1e6
	return math.Round(f*scale) / scale
}

// ComputeGroupShares groups records by normalized query and assigns each
// record its share of the group's impression/click/purchase totals. A group
// with a zero total gets all-zero shares; division by zero never produces
// NaN. The input order is preserved.
func ComputeGroupShares(records []domain.SummaryRecord) []domain.SummaryRecord {
	type totals struct {
		impressions int64
		clicks      int64
		purchases   int64
	}
	groups := make(map[string]*totals)
	for _, r := range records {
		t := groups[r.SearchQuery]
		if t == nil {
			t = &totals{}
			groups[r.SearchQuery] = t
		}
		t.impressions += r.Impressions
		t.clicks += r.Clicks
		t.purchases += r.Purchases
	}

	out := make([]domain.SummaryRecord, len(records))
	for i, r := range records {
		t := groups[r.SearchQuery]
		r.ImpressionShare = Round6(ratio(r.Impressions, t.impressions))
		r.ClickShare = Round6(ratio(r.Clicks, t.clicks))
		r.PurchaseShare = Round6(ratio(r.Purchases, t.purchases))
		out[i] = r
	}
	return out
}

// Severity of a validation finding. Errors make a row ineligible for
// writing; warnings are advisory and travel with the sync result.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Violation describes one failed row-level invariant with enough context to
// identify the offending query/ASIN/period.
type Violation struct {
	Field    string   `json:"field"`
	Rule     string   `json:"rule"`
	Severity Severity `json:"severity"`
	Query    string   `json:"query"`
	ASIN     string   `json:"asin"`
	Period   string   `json:"period"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s (query=%q asin=%s period=%s)", v.Field, v.Rule, v.Query, v.ASIN, v.Period)
}

// Validate checks the row-level invariants. Used both for pre-write
// filtering and for post-write validation.
//
// Hard invariants (errors): clicks ≤ impressions, purchases ≤ clicks,
// cart adds ≤ clicks, rates within [0,1], non-empty query.
// Advisory (warnings): malformed ASIN. Kept, not rejected.
func Validate(rec domain.SummaryRecord) []Violation {
	period := rec.PeriodStart.Format("2006-01-02")
	v := func(field, rule string, sev Severity) Violation {
		return Violation{Field: field, Rule: rule, Severity: sev, Query: rec.SearchQuery, ASIN: rec.ASIN, Period: period}
	}

	var out []Violation
	if rec.SearchQuery == "" {
		out = append(out, v("search_query", "must not be empty", SeverityError))
	}
	if !domain.ValidASIN(rec.ASIN) {
		out = append(out, v("asin", "not a 10-character uppercase code", SeverityWarning))
	}
	if rec.Clicks > rec.Impressions {
		out = append(out, v("clicks", "clicks exceed impressions", SeverityError))
	}
	if rec.Purchases > rec.Clicks {
		out = append(out, v("purchases", "purchases exceed clicks", SeverityError))
	}
	if rec.CartAdds > rec.Clicks {
		out = append(out, v("cart_adds", "cart adds exceed clicks", SeverityError))
	}
	for _, rate := range []struct {
		name string
		val  float64
	}{
		{"ctr", rec.CTR},
		{"cvr", rec.CVR},
		{"cart_add_rate", rec.CartAddRate},
		{"purchase_rate", rec.PurchaseRate},
		{"impression_share", rec.ImpressionShare},
		{"click_share", rec.ClickShare},
		{"purchase_share", rec.PurchaseShare},
	} {
		if math.IsNaN(rate.val) || rate.val < 0 || rate.val > 1 {
			out = append(out, v(rate.name, "rate outside [0,1]", SeverityError))
		}
	}
	return out
}

// HasErrors reports whether any violation is severity error (as opposed to
// advisory warnings like a malformed ASIN).
func HasErrors(violations []Violation) bool {
	for _, v := range violations {
		if v.Severity == SeverityError {
			return true
		}
	}
	return false
}

// GroupQueries returns the distinct normalized queries present in records,
// sorted for deterministic iteration.
func GroupQueries(records []domain.SummaryRecord) []string {
	seen := make(map[string]struct{})
	for _, r := range records {
		seen[r.SearchQuery] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for q := range seen {
		out = append(out, q)
	}
	sort.Strings(out)
	return out
}
