package warehouse

import "time"

// Config holds Snowflake connection settings and the source table contract.
type Config struct {
	Account     string
	User        string
	Password    string
	Database    string
	Schema      string
	Warehouse   string
	SourceTable string

	MaxConnections int
	IdleTimeout    time.Duration
	QueryTimeout   time.Duration
}

// ASINVolume is one candidate product with its impression volume over a
// window, used by filter strategies to rank and sample.
type ASINVolume struct {
	ASIN        string `json:"asin"`
	Impressions int64  `json:"impressions"`
}

// Aggregates are warehouse-side totals for a window, compared against the
// operational store by the comparator.
type Aggregates struct {
	RowCount         int64 `json:"row_count"`
	QueryCount       int64 `json:"query_count"`
	ASINCount        int64 `json:"asin_count"`
	TotalImpressions int64 `json:"total_impressions"`
	TotalClicks      int64 `json:"total_clicks"`
	TotalPurchases   int64 `json:"total_purchases"`
}
