package domain

import (
	"strings"
	"time"
)

// RawRecord is one warehouse row, keyed by (search query, ASIN, date).
// Count columns arrive as strings because the warehouse export layer is not
// consistent about numeric types; the transformer parses them defensively.
// Rate columns are nullable upstream; empty string means "derive it".
type RawRecord struct {
	SearchQuery string
	ASIN        string
	StartDate   time.Time
	EndDate     time.Time
	Impressions string
	Clicks      string
	CartAdds    string
	Purchases   string
	CTR         string
	CVR         string
}

// SummaryRecord is the row written to the operational store, keyed by
// (SearchQuery, ASIN, PeriodStart, PeriodEnd). Rates are fractions in [0,1],
// never percentages. Share fields are relative to the query group total
// within the same window.
type SummaryRecord struct {
	PeriodStart time.Time  `json:"period_start" db:"period_start"`
	PeriodEnd   time.Time  `json:"period_end" db:"period_end"`
	PeriodType  PeriodType `json:"period_type" db:"period_type"`
	SearchQuery string     `json:"search_query" db:"search_query"`
	ASIN        string     `json:"asin" db:"asin"`

	Impressions int64 `json:"impressions" db:"impressions"`
	Clicks      int64 `json:"clicks" db:"clicks"`
	CartAdds    int64 `json:"cart_adds" db:"cart_adds"`
	Purchases   int64 `json:"purchases" db:"purchases"`

	CTR          float64 `json:"ctr" db:"ctr"`
	CVR          float64 `json:"cvr" db:"cvr"`
	CartAddRate  float64 `json:"cart_add_rate" db:"cart_add_rate"`
	PurchaseRate float64 `json:"purchase_rate" db:"purchase_rate"`

	ImpressionShare float64 `json:"impression_share" db:"impression_share"`
	ClickShare      float64 `json:"click_share" db:"click_share"`
	PurchaseShare   float64 `json:"purchase_share" db:"purchase_share"`
}

// Key returns the natural upsert key for the record.
func (r SummaryRecord) Key() string {
	return strings.Join([]string{
		r.SearchQuery,
		r.ASIN,
		r.PeriodStart.Format("2006-01-02"),
		r.PeriodEnd.Format("2006-01-02"),
	}, "|")
}

// ValidASIN reports whether s is a well-formed 10-character uppercase
// alphanumeric ASIN. Malformed ASINs are advisory violations, not rejects.
func ValidASIN(s string) bool {
	if len(s) != 10 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
