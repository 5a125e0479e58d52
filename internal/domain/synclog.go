package domain

import "time"

// SyncStatus enumerates the lifecycle states of a sync invocation.
type SyncStatus string

const (
	SyncStarted   SyncStatus = "started"
	SyncCompleted SyncStatus = "completed"
	SyncFailed    SyncStatus = "failed"
)

// SyncLogEntry is the durable audit row for one scheduler invocation.
// Append-only: once the status reaches a terminal value the row is never
// mutated again. It is the sole source of truth for where the last sync
// left off.
type SyncLogEntry struct {
	ID               string     `json:"id" db:"id"`
	SyncType         string     `json:"sync_type" db:"sync_type"`
	Status           SyncStatus `json:"sync_status" db:"sync_status"`
	SourceTable      string     `json:"source_table" db:"source_table"`
	TargetTable      string     `json:"target_table" db:"target_table"`
	StartedAt        time.Time  `json:"started_at" db:"started_at"`
	CompletedAt      *time.Time `json:"completed_at" db:"completed_at"`
	RecordsProcessed int        `json:"records_processed" db:"records_processed"`
	RecordsInserted  int        `json:"records_inserted" db:"records_inserted"`
	RecordsUpdated   int        `json:"records_updated" db:"records_updated"`
	RecordsFailed    int        `json:"records_failed" db:"records_failed"`
	RetryCount       int        `json:"retry_count" db:"retry_count"`
	ErrorMessage     string     `json:"error_message" db:"error_message"`
	ErrorDetails     string     `json:"error_details" db:"error_details"`
}

// IsTerminal returns true once the entry has reached a final status.
func (e SyncLogEntry) IsTerminal() bool {
	return e.Status == SyncCompleted || e.Status == SyncFailed
}

// CheckStatus enumerates quality check outcomes.
type CheckStatus string

const (
	CheckPassed CheckStatus = "passed"
	CheckFailed CheckStatus = "failed"
)

// AlertSeverity classifies a failed quality check for the alerting layer.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// QualityCheck is one post-sync data quality result. Advisory only: a failed
// check never rolls back the sync it belongs to.
type QualityCheck struct {
	ID        int64         `json:"id" db:"id"`
	SyncLogID string        `json:"sync_log_id" db:"sync_log_id"`
	CheckType string        `json:"check_type" db:"check_type"`
	Status    CheckStatus   `json:"check_status" db:"check_status"`
	Message   string        `json:"check_message" db:"check_message"`
	Severity  AlertSeverity `json:"severity" db:"severity"`
	Metadata  string        `json:"check_metadata" db:"check_metadata"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
}
