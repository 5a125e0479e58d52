package syncer

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/osteele/liquid"

	"github.com/ignite/sqp-sync/internal/domain"
	"github.com/ignite/sqp-sync/internal/transform"
)

// QueryStat is one query group's totals within an inspection.
type QueryStat struct {
	Query       string  `json:"query"`
	ASINs       int     `json:"asins"`
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	Purchases   int64   `json:"purchases"`
	AvgCTR      float64 `json:"avg_ctr"`
}

// VolumeBucket is one log10 impression bucket of the ASIN distribution,
// the same bucketing the representative filter samples from.
type VolumeBucket struct {
	Label string `json:"label"`
	ASINs int    `json:"asins"`
}

// Inspection is a read-only statistical summary of a transformed record
// set. It has no side effects on sync state.
type Inspection struct {
	TotalRecords int `json:"total_records"`
	QueryGroups  int `json:"query_groups"`
	UniqueASINs  int `json:"unique_asins"`

	TotalImpressions int64 `json:"total_impressions"`
	TotalClicks      int64 `json:"total_clicks"`
	TotalCartAdds    int64 `json:"total_cart_adds"`
	TotalPurchases   int64 `json:"total_purchases"`

	MeanCTR   float64 `json:"mean_ctr"`
	MeanCVR   float64 `json:"mean_cvr"`
	MedianCTR float64 `json:"median_ctr"`

	TopQueries    []QueryStat    `json:"top_queries"`
	VolumeBuckets []VolumeBucket `json:"volume_buckets"`

	// BrokenShareGroups counts query groups whose impression shares do not
	// sum to 1 despite non-zero volume. Always 0 after a full-pass share
	// computation; non-zero means the records came from somewhere else.
	BrokenShareGroups int `json:"broken_share_groups"`
}

// Inspect computes distribution statistics over records. Pure; safe on an
// empty slice.
func Inspect(records []domain.SummaryRecord) *Inspection {
	insp := &Inspection{TotalRecords: len(records)}
	if len(records) == 0 {
		return insp
	}

	type group struct {
		asins       map[string]struct{}
		impressions int64
		clicks      int64
		purchases   int64
		ctrSum      float64
		shareSum    float64
	}
	groups := make(map[string]*group)
	asins := make(map[string]int64)
	var ctrs []float64

	for _, r := range records {
		g := groups[r.SearchQuery]
		if g == nil {
			g = &group{asins: make(map[string]struct{})}
			groups[r.SearchQuery] = g
		}
		g.asins[r.ASIN] = struct{}{}
		g.impressions += r.Impressions
		g.clicks += r.Clicks
		g.purchases += r.Purchases
		g.ctrSum += r.CTR
		g.shareSum += r.ImpressionShare

		asins[r.ASIN] += r.Impressions
		insp.TotalImpressions += r.Impressions
		insp.TotalClicks += r.Clicks
		insp.TotalCartAdds += r.CartAdds
		insp.TotalPurchases += r.Purchases
		insp.MeanCTR += r.CTR
		insp.MeanCVR += r.CVR
		ctrs = append(ctrs, r.CTR)
	}

	insp.QueryGroups = len(groups)
	insp.UniqueASINs = len(asins)
	insp.MeanCTR = transform.Round6(insp.MeanCTR / float64(len(records)))
	insp.MeanCVR = transform.Round6(insp.MeanCVR / float64(len(records)))

	sort.Float64s(ctrs)
	insp.MedianCTR = transform.Round6(ctrs[len(ctrs)/2])

	for q, g := range groups {
		insp.TopQueries = append(insp.TopQueries, QueryStat{
			Query:       q,
			ASINs:       len(g.asins),
			Impressions: g.impressions,
			Clicks:      g.clicks,
			Purchases:   g.purchases,
			AvgCTR:      transform.Round6(g.ctrSum / float64(len(g.asins))),
		})
		if g.impressions > 0 && math.Abs(g.shareSum-1) > 1e-6 {
			insp.BrokenShareGroups++
		}
	}
	sort.Slice(insp.TopQueries, func(i, j int) bool {
		if insp.TopQueries[i].Impressions != insp.TopQueries[j].Impressions {
			return insp.TopQueries[i].Impressions > insp.TopQueries[j].Impressions
		}
		return insp.TopQueries[i].Query < insp.TopQueries[j].Query
	})
	if len(insp.TopQueries) > 10 {
		insp.TopQueries = insp.TopQueries[:10]
	}

	// Log-scale ASIN volume buckets: head, mid, tail.
	bucketCounts := make(map[int]int)
	maxBucket := 0
	for _, imp := range asins {
		b := 0
		if imp > 0 {
			b = int(math.Log10(float64(imp))) + 1
		}
		bucketCounts[b]++
		if b > maxBucket {
			maxBucket = b
		}
	}
	for b := maxBucket; b >= 0; b-- {
		n, ok := bucketCounts[b]
		if !ok {
			continue
		}
		label := "0"
		if b > 0 {
			label = fmt.Sprintf("10^%d-10^%d", b-1, b)
		}
		insp.VolumeBuckets = append(insp.VolumeBuckets, VolumeBucket{Label: label, ASINs: n})
	}

	return insp
}

// RenderMarkdown renders an inspection as a human-readable markdown report.
func (i *Inspection) RenderMarkdown(w domain.Window) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Search Performance Inspection\n\n")
	fmt.Fprintf(&b, "**Window:** %s to %s (%s)\n\n",
		w.Start.Format("2006-01-02"), w.End.Format("2006-01-02"), w.PeriodType)
	fmt.Fprintf(&b, "| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Records | %d |\n", i.TotalRecords)
	fmt.Fprintf(&b, "| Query groups | %d |\n", i.QueryGroups)
	fmt.Fprintf(&b, "| Unique ASINs | %d |\n", i.UniqueASINs)
	fmt.Fprintf(&b, "| Impressions | %d |\n", i.TotalImpressions)
	fmt.Fprintf(&b, "| Clicks | %d |\n", i.TotalClicks)
	fmt.Fprintf(&b, "| Cart adds | %d |\n", i.TotalCartAdds)
	fmt.Fprintf(&b, "| Purchases | %d |\n", i.TotalPurchases)
	fmt.Fprintf(&b, "| Mean CTR | %.6f |\n", i.MeanCTR)
	fmt.Fprintf(&b, "| Mean CVR | %.6f |\n", i.MeanCVR)

	if len(i.TopQueries) > 0 {
		fmt.Fprintf(&b, "\n## Top queries by impressions\n\n")
		fmt.Fprintf(&b, "| Query | ASINs | Impressions | Clicks | Purchases |\n|---|---|---|---|---|\n")
		for _, q := range i.TopQueries {
			fmt.Fprintf(&b, "| %s | %d | %d | %d | %d |\n", q.Query, q.ASINs, q.Impressions, q.Clicks, q.Purchases)
		}
	}
	if len(i.VolumeBuckets) > 0 {
		fmt.Fprintf(&b, "\n## ASIN volume distribution\n\n")
		fmt.Fprintf(&b, "| Impression bucket | ASINs |\n|---|---|\n")
		for _, vb := range i.VolumeBuckets {
			fmt.Fprintf(&b, "| %s | %d |\n", vb.Label, vb.ASINs)
		}
	}
	if i.BrokenShareGroups > 0 {
		fmt.Fprintf(&b, "\n**WARNING:** %d query groups have shares that do not sum to 1.\n", i.BrokenShareGroups)
	}
	return b.String()
}

const htmlReportTemplate = `<!DOCTYPE html>
<html>
<head><title>Search Performance Inspection</title>
<style>
body { font-family: -apple-system, sans-serif; margin: 2rem; color: #1a1a2e; }
table { border-collapse: collapse; margin: 1rem 0; }
th, td { border: 1px solid #ddd; padding: 6px 12px; text-align: left; }
th { background: #f4f4f8; }
.warn { color: #b00020; font-weight: bold; }
</style>
</head>
<body>
<h1>Search Performance Inspection</h1>
<p>Window: {{ window_start }} to {{ window_end }} ({{ period_type }})</p>
<table>
<tr><th>Metric</th><th>Value</th></tr>
<tr><td>Records</td><td>{{ total_records }}</td></tr>
<tr><td>Query groups</td><td>{{ query_groups }}</td></tr>
<tr><td>Unique ASINs</td><td>{{ unique_asins }}</td></tr>
<tr><td>Impressions</td><td>{{ total_impressions }}</td></tr>
<tr><td>Clicks</td><td>{{ total_clicks }}</td></tr>
<tr><td>Purchases</td><td>{{ total_purchases }}</td></tr>
<tr><td>Mean CTR</td><td>{{ mean_ctr }}</td></tr>
<tr><td>Mean CVR</td><td>{{ mean_cvr }}</td></tr>
</table>
{% if top_queries.size > 0 %}
<h2>Top queries</h2>
<table>
<tr><th>Query</th><th>ASINs</th><th>Impressions</th><th>Clicks</th><th>Purchases</th></tr>
{% for q in top_queries %}
<tr><td>{{ q.query }}</td><td>{{ q.asins }}</td><td>{{ q.impressions }}</td><td>{{ q.clicks }}</td><td>{{ q.purchases }}</td></tr>
{% endfor %}
</table>
{% endif %}
{% if broken_share_groups > 0 %}
<p class="warn">{{ broken_share_groups }} query groups have shares that do not sum to 1.</p>
{% endif %}
</body>
</html>`

// RenderHTML renders an inspection through the Liquid template engine.
func (i *Inspection) RenderHTML(w domain.Window) (string, error) {
	engine := liquid.NewEngine()

	topQueries := make([]map[string]interface{}, len(i.TopQueries))
	for idx, q := range i.TopQueries {
		topQueries[idx] = map[string]interface{}{
			"query":       q.Query,
			"asins":       q.ASINs,
			"impressions": q.Impressions,
			"clicks":      q.Clicks,
			"purchases":   q.Purchases,
		}
	}

	bindings := map[string]interface{}{
		"window_start":        w.Start.Format("2006-01-02"),
		"window_end":          w.End.Format("2006-01-02"),
		"period_type":         string(w.PeriodType),
		"total_records":       i.TotalRecords,
		"query_groups":        i.QueryGroups,
		"unique_asins":        i.UniqueASINs,
		"total_impressions":   i.TotalImpressions,
		"total_clicks":        i.TotalClicks,
		"total_purchases":     i.TotalPurchases,
		"mean_ctr":            fmt.Sprintf("%.6f", i.MeanCTR),
		"mean_cvr":            fmt.Sprintf("%.6f", i.MeanCVR),
		"top_queries":         topQueries,
		"broken_share_groups": i.BrokenShareGroups,
	}

	out, err := engine.ParseAndRenderString(htmlReportTemplate, bindings)
	if err != nil {
		return "", fmt.Errorf("render inspection html: %w", err)
	}
	return out, nil
}
