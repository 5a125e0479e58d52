// Package syncer orchestrates one extraction-transformation-load pass from
// the warehouse into the operational store.
package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/sqp-sync/internal/domain"
	"github.com/ignite/sqp-sync/internal/pkg/logger"
	"github.com/ignite/sqp-sync/internal/store"
	"github.com/ignite/sqp-sync/internal/transform"
	"github.com/ignite/sqp-sync/internal/validate"
	"github.com/ignite/sqp-sync/internal/warehouse"
)

// Warehouse is the extraction surface the service needs.
type Warehouse interface {
	FetchPage(ctx context.Context, w domain.Window, asins []string, limit, offset int) ([]domain.RawRecord, error)
	CandidateDistribution(ctx context.Context, w domain.Window) ([]warehouse.ASINVolume, error)
}

// Writer is the load surface the service needs.
type Writer interface {
	UpsertBatch(ctx context.Context, records []domain.SummaryRecord) (store.UpsertResult, error)
}

// WindowValidator runs post-sync checks over a just-written window.
type WindowValidator interface {
	Run(ctx context.Context, w domain.Window, asins []string) (*validate.Report, error)
}

// Options control one sync invocation.
type Options struct {
	DryRun       bool
	ValidateData bool
	Inspect      bool
	Strategy     FilterStrategy
}

// Result reports one sync invocation. Row-level failures live in Errors and
// RecordsFailed; they do not clear Success. Only a warehouse or store error
// that aborts the pass does.
type Result struct {
	Success  bool          `json:"success"`
	Window   domain.Window `json:"window"`
	Strategy string        `json:"strategy"`

	RecordsProcessed int `json:"records_processed"`
	RecordsSynced    int `json:"records_synced"`
	RecordsInserted  int `json:"records_inserted"`
	RecordsUpdated   int `json:"records_updated"`
	RecordsFailed    int `json:"records_failed"`
	WouldSync        int `json:"would_sync,omitempty"`

	Errors     []string         `json:"errors,omitempty"`
	Validation *validate.Report `json:"validation,omitempty"`
	Inspection *Inspection      `json:"inspection,omitempty"`

	Duration time.Duration `json:"duration"`
}

// Service runs ETL passes. It is stateless: all per-run state lives on the
// stack of SyncPeriodData.
type Service struct {
	warehouse Warehouse
	writer    Writer
	validator WindowValidator
	batchSize int
}

// New creates a Service. validator may be nil when validation is never
// requested (e.g. dry-run tooling).
func New(wh Warehouse, writer Writer, validator WindowValidator, batchSize int) *Service {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Service{warehouse: wh, writer: writer, validator: validator, batchSize: batchSize}
}

// SyncPeriodData extracts, transforms, and loads one window.
//
// Extraction is paged at the batch size, but shares are computed in a full
// pass over the window's accumulated rows: a query group can never straddle
// a share computation. The returned error is non-nil only for pass-fatal
// failures (warehouse or store unreachable); the same failure is also
// recorded on the Result for audit.
func (s *Service) SyncPeriodData(ctx context.Context, pt domain.PeriodType, start, end time.Time, opts Options) (*Result, error) {
	began := time.Now()
	w := domain.NewWindow(start, end, pt)

	strategy := opts.Strategy
	if strategy == nil {
		strategy = AllASINs{}
	}
	res := &Result{Window: w, Strategy: strategy.Name()}

	if !w.IsValid() {
		err := fmt.Errorf("invalid window %s", w)
		res.Errors = append(res.Errors, err.Error())
		return res, err
	}

	asins, err := s.resolveASINs(ctx, w, strategy)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		return res, err
	}

	logger.Info("sync pass starting",
		"window", w.String(), "strategy", strategy.Name(), "asin_filter", len(asins))

	// Extract and transform, page by page.
	var records []domain.SummaryRecord
	offset := 0
	for {
		page, err := s.warehouse.FetchPage(ctx, w, asins, s.batchSize, offset)
		if err != nil {
			wrapped := fmt.Errorf("warehouse extraction failed at offset %d: %w", offset, err)
			res.Errors = append(res.Errors, wrapped.Error())
			return res, wrapped
		}
		for _, raw := range page {
			res.RecordsProcessed++
			rec := transform.ToRecord(raw, w)
			violations := transform.Validate(rec)
			if transform.HasErrors(violations) {
				res.RecordsFailed++
				for _, v := range violations {
					res.Errors = append(res.Errors, v.String())
				}
				continue
			}
			// Advisory findings (malformed ASINs) travel with the result
			// but do not drop the row.
			for _, v := range violations {
				res.Errors = append(res.Errors, v.String())
			}
			records = append(records, rec)
		}
		if len(page) < s.batchSize {
			break
		}
		offset += s.batchSize
	}

	// Full-pass share computation over the complete window.
	records = transform.ComputeGroupShares(records)

	if opts.Inspect {
		res.Inspection = Inspect(records)
	}

	if opts.DryRun {
		res.WouldSync = len(records)
		res.Success = true
		res.Duration = time.Since(began)
		logger.Info("dry run complete", "window", w.String(), "would_sync", res.WouldSync)
		return res, nil
	}

	// Load in batches; row failures collect, batch failures abort.
	for i := 0; i < len(records); i += s.batchSize {
		endIdx := i + s.batchSize
		if endIdx > len(records) {
			endIdx = len(records)
		}
		up, err := s.writer.UpsertBatch(ctx, records[i:endIdx])
		if err != nil {
			wrapped := fmt.Errorf("store write failed at batch %d: %w", i/s.batchSize, err)
			res.Errors = append(res.Errors, wrapped.Error())
			return res, wrapped
		}
		res.RecordsInserted += up.Inserted
		res.RecordsUpdated += up.Updated
		res.RecordsFailed += len(up.Failed)
		for _, f := range up.Failed {
			res.Errors = append(res.Errors, fmt.Sprintf("upsert %s: %s", f.Key, f.Err))
		}
	}
	res.RecordsSynced = res.RecordsInserted + res.RecordsUpdated

	if opts.ValidateData && s.validator != nil {
		report, err := s.validator.Run(ctx, w, asins)
		if err != nil {
			// Validation is advisory; a validator that cannot run is noted
			// but does not undo a completed load.
			res.Errors = append(res.Errors, fmt.Sprintf("validation did not run: %v", err))
		} else {
			res.Validation = report
		}
	}

	res.Success = true
	res.Duration = time.Since(began)
	logger.Info("sync pass complete",
		"window", w.String(),
		"processed", res.RecordsProcessed,
		"synced", res.RecordsSynced,
		"failed", res.RecordsFailed)
	return res, nil
}

// resolveASINs turns the strategy into a warehouse predicate. AllASINs maps
// to no predicate at all, skipping the distribution query entirely.
func (s *Service) resolveASINs(ctx context.Context, w domain.Window, strategy FilterStrategy) ([]string, error) {
	if _, ok := strategy.(AllASINs); ok {
		return nil, nil
	}
	dist, err := s.warehouse.CandidateDistribution(ctx, w)
	if err != nil {
		return nil, fmt.Errorf("resolve asin filter: %w", err)
	}
	return strategy.Resolve(dist), nil
}
