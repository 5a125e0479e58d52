package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/sqp-sync/internal/domain"
)

// CreateSyncLog opens the audit row for one scheduler invocation. The
// returned ID identifies the run across retries.
func (s *Store) CreateSyncLog(ctx context.Context, syncType, sourceTable, targetTable string) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sqp_sync_log (id, sync_type, sync_status, source_table, target_table, started_at)
		VALUES ($1, $2, 'started', $3, $4, NOW())`,
		id, syncType, sourceTable, targetTable)
	if err != nil {
		return "", fmt.Errorf("create sync log: %w", err)
	}
	return id, nil
}

// CompleteSyncLog moves the entry to its terminal completed state with
// final counters. Terminal rows are never mutated again.
func (s *Store) CompleteSyncLog(ctx context.Context, id string, processed, inserted, updated, failed, retryCount int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sqp_sync_log
		SET sync_status = 'completed', completed_at = NOW(),
		    records_processed = $2, records_inserted = $3,
		    records_updated = $4, records_failed = $5, retry_count = $6
		WHERE id = $1 AND sync_status = 'started'`,
		id, processed, inserted, updated, failed, retryCount)
	if err != nil {
		return fmt.Errorf("complete sync log: %w", err)
	}
	return nil
}

// FailSyncLog moves the entry to its terminal failed state with the last
// error and the number of retries spent. errDetails is a JSON document
// (typically the collected error list); empty means no detail.
func (s *Store) FailSyncLog(ctx context.Context, id, errMsg, errDetails string, retryCount int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sqp_sync_log
		SET sync_status = 'failed', completed_at = NOW(),
		    error_message = $2, error_details = NULLIF($3, '')::jsonb, retry_count = $4
		WHERE id = $1 AND sync_status = 'started'`,
		id, errMsg, errDetails, retryCount)
	if err != nil {
		return fmt.Errorf("fail sync log: %w", err)
	}
	return nil
}

// GetSyncLog fetches one audit row.
func (s *Store) GetSyncLog(ctx context.Context, id string) (*domain.SyncLogEntry, error) {
	e := &domain.SyncLogEntry{}
	var completedAt sql.NullTime
	var errMsg, errDetails sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, sync_type, sync_status, source_table, target_table,
		       started_at, completed_at, records_processed, records_inserted,
		       records_updated, records_failed, retry_count, error_message, error_details
		FROM sqp_sync_log WHERE id = $1`, id).Scan(
		&e.ID, &e.SyncType, &e.Status, &e.SourceTable, &e.TargetTable,
		&e.StartedAt, &completedAt, &e.RecordsProcessed, &e.RecordsInserted,
		&e.RecordsUpdated, &e.RecordsFailed, &e.RetryCount, &errMsg, &errDetails)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sync log %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get sync log: %w", err)
	}
	if completedAt.Valid {
		e.CompletedAt = &completedAt.Time
	}
	e.ErrorMessage = errMsg.String
	e.ErrorDetails = errDetails.String
	return e, nil
}

// RecentSyncLogs lists the newest audit rows for the status API.
func (s *Store) RecentSyncLogs(ctx context.Context, limit int) ([]domain.SyncLogEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sync_type, sync_status, source_table, target_table,
		       started_at, completed_at, records_processed, records_inserted,
		       records_updated, records_failed, retry_count, error_message, error_details
		FROM sqp_sync_log ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent sync logs: %w", err)
	}
	defer rows.Close()

	var out []domain.SyncLogEntry
	for rows.Next() {
		var e domain.SyncLogEntry
		var completedAt sql.NullTime
		var errMsg, errDetails sql.NullString
		if err := rows.Scan(
			&e.ID, &e.SyncType, &e.Status, &e.SourceTable, &e.TargetTable,
			&e.StartedAt, &completedAt, &e.RecordsProcessed, &e.RecordsInserted,
			&e.RecordsUpdated, &e.RecordsFailed, &e.RetryCount, &errMsg, &errDetails,
		); err != nil {
			return nil, fmt.Errorf("scan sync log: %w", err)
		}
		if completedAt.Valid {
			e.CompletedAt = &completedAt.Time
		}
		e.ErrorMessage = errMsg.String
		e.ErrorDetails = errDetails.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// LastCompletedSync returns the newest completed audit row, or nil when no
// sync has ever completed. The status API uses this for freshness.
func (s *Store) LastCompletedSync(ctx context.Context) (*domain.SyncLogEntry, error) {
	rows, err := s.RecentSyncLogs(ctx, 50)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		if rows[i].Status == domain.SyncCompleted {
			return &rows[i], nil
		}
	}
	return nil, nil
}

// RecordQualityCheck persists one post-sync check result.
func (s *Store) RecordQualityCheck(ctx context.Context, c domain.QualityCheck) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sqp_data_quality_checks
			(sync_log_id, check_type, check_status, check_message, severity, check_metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		c.SyncLogID, c.CheckType, string(c.Status), c.Message, string(c.Severity), c.Metadata)
	if err != nil {
		return fmt.Errorf("record quality check: %w", err)
	}
	return nil
}

// QualityChecksFor lists the checks recorded for one sync run.
func (s *Store) QualityChecksFor(ctx context.Context, syncLogID string) ([]domain.QualityCheck, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sync_log_id, check_type, check_status, check_message, severity, check_metadata, created_at
		FROM sqp_data_quality_checks WHERE sync_log_id = $1 ORDER BY id`, syncLogID)
	if err != nil {
		return nil, fmt.Errorf("quality checks: %w", err)
	}
	defer rows.Close()

	var out []domain.QualityCheck
	for rows.Next() {
		var c domain.QualityCheck
		var created time.Time
		if err := rows.Scan(&c.ID, &c.SyncLogID, &c.CheckType, &c.Status, &c.Message, &c.Severity, &c.Metadata, &created); err != nil {
			return nil, fmt.Errorf("scan quality check: %w", err)
		}
		c.CreatedAt = created
		out = append(out, c)
	}
	return out, rows.Err()
}
