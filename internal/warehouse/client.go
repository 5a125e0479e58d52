package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/snowflakedb/gosnowflake" // Snowflake driver

	"github.com/ignite/sqp-sync/internal/domain"
)

// Client provides read-only access to the search performance warehouse.
// All queries go through the bounded Pool so validation reads issued after
// the main extraction cannot exceed the connection cap.
type Client struct {
	config Config
	db     *sql.DB
	pool   *Pool
}

// NewClient opens a Snowflake connection and verifies credentials with an
// immediate ping. Authentication failure is fatal here, never deferred to
// first use.
func NewClient(cfg Config) (*Client, error) {
	// Format: user:password@account/database/schema?warehouse=xxx
	dsn := fmt.Sprintf("%s:%s@%s/%s/%s",
		cfg.User,
		cfg.Password,
		cfg.Account,
		cfg.Database,
		cfg.Schema,
	)
	if cfg.Warehouse != "" {
		dsn += "?warehouse=" + cfg.Warehouse
	}

	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("open snowflake connection: %w", err)
	}

	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 5
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxConnections)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("warehouse authentication failed: %w", err)
	}

	return &Client{
		config: cfg,
		db:     db,
		pool:   NewPool(db, cfg.MaxConnections, cfg.IdleTimeout),
	}, nil
}

// NewClientWithDB wires a client over an existing handle. Used by tests and
// by tooling that manages its own connection.
func NewClientWithDB(db *sql.DB, cfg Config) *Client {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 5
	}
	return &Client{config: cfg, db: db, pool: NewPool(db, cfg.MaxConnections, cfg.IdleTimeout)}
}

// Pool exposes the connection pool for lifecycle management.
func (c *Client) Pool() *Pool { return c.pool }

// Close drains the pool and closes the database handle.
func (c *Client) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.pool.Drain(ctx); err != nil {
		return err
	}
	return c.db.Close()
}

// Ping tests warehouse connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) table() string {
	if c.config.SourceTable != "" {
		return c.config.SourceTable
	}
	return "SEARCH_QUERY_PERFORMANCE"
}

// asinPredicate renders an optional "AND ASIN IN (...)" clause. An empty
// set means no ASIN restriction.
func asinPredicate(asins []string) (string, []interface{}) {
	if len(asins) == 0 {
		return "", nil
	}
	placeholders := make([]string, len(asins))
	args := make([]interface{}, len(asins))
	for i, a := range asins {
		placeholders[i] = "?"
		args[i] = a
	}
	return " AND ASIN IN (" + strings.Join(placeholders, ",") + ")", args
}

// FetchPage returns one page of raw rows for the window, restricted to the
// given ASIN set (empty = all). Pages are ordered by (query, ASIN) so the
// extraction is deterministic and restartable.
func (c *Client) FetchPage(ctx context.Context, w domain.Window, asins []string, limit, offset int) ([]domain.RawRecord, error) {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer c.pool.Release(conn)

	query := `
		SELECT SEARCH_QUERY, ASIN, START_DATE, END_DATE,
		       IMPRESSIONS, CLICKS, CART_ADDS, PURCHASES, CTR, CVR
		FROM ` + c.table() + `
		WHERE START_DATE >= ? AND END_DATE <= ?`
	args := []interface{}{w.Start.Format("2006-01-02"), w.End.Format("2006-01-02")}

	pred, predArgs := asinPredicate(asins)
	query += pred
	args = append(args, predArgs...)

	query += `
		ORDER BY SEARCH_QUERY, ASIN, START_DATE
		LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch page at offset %d: %w", offset, err)
	}
	defer rows.Close()

	var out []domain.RawRecord
	for rows.Next() {
		var (
			rec        domain.RawRecord
			start, end time.Time
			imp, clk   sql.NullString
			cart, pur  sql.NullString
			ctr, cvr   sql.NullString
		)
		if err := rows.Scan(&rec.SearchQuery, &rec.ASIN, &start, &end, &imp, &clk, &cart, &pur, &ctr, &cvr); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		rec.StartDate = start
		rec.EndDate = end
		rec.Impressions = imp.String
		rec.Clicks = clk.String
		rec.CartAdds = cart.String
		rec.Purchases = pur.String
		rec.CTR = ctr.String
		rec.CVR = cvr.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CandidateDistribution returns every ASIN seen in the window with its total
// impression volume, descending. This is the input to filter strategies.
func (c *Client) CandidateDistribution(ctx context.Context, w domain.Window) ([]ASINVolume, error) {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer c.pool.Release(conn)

	query := `
		SELECT ASIN, SUM(IMPRESSIONS) as total_impressions
		FROM ` + c.table() + `
		WHERE START_DATE >= ? AND END_DATE <= ?
		GROUP BY ASIN
		ORDER BY total_impressions DESC, ASIN`

	rows, err := conn.QueryContext(ctx, query, w.Start.Format("2006-01-02"), w.End.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("candidate distribution: %w", err)
	}
	defer rows.Close()

	var out []ASINVolume
	for rows.Next() {
		var v ASINVolume
		if err := rows.Scan(&v.ASIN, &v.Impressions); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// WindowAggregates returns warehouse-side totals for the window and ASIN
// set, used by the comparator against the operational store.
func (c *Client) WindowAggregates(ctx context.Context, w domain.Window, asins []string) (Aggregates, error) {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return Aggregates{}, err
	}
	defer c.pool.Release(conn)

	query := `
		SELECT COUNT(*),
		       COUNT(DISTINCT SEARCH_QUERY),
		       COUNT(DISTINCT ASIN),
		       COALESCE(SUM(IMPRESSIONS), 0),
		       COALESCE(SUM(CLICKS), 0),
		       COALESCE(SUM(PURCHASES), 0)
		FROM ` + c.table() + `
		WHERE START_DATE >= ? AND END_DATE <= ?`
	args := []interface{}{w.Start.Format("2006-01-02"), w.End.Format("2006-01-02")}

	pred, predArgs := asinPredicate(asins)
	query += pred
	args = append(args, predArgs...)

	var agg Aggregates
	err = conn.QueryRowContext(ctx, query, args...).Scan(
		&agg.RowCount, &agg.QueryCount, &agg.ASINCount,
		&agg.TotalImpressions, &agg.TotalClicks, &agg.TotalPurchases,
	)
	if err != nil {
		return Aggregates{}, fmt.Errorf("window aggregates: %w", err)
	}
	return agg, nil
}
