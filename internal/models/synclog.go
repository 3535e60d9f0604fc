package models

import "time"

// TriggerKind distinguishes who started a sync run.
type TriggerKind string

const (
	TriggerManual    TriggerKind = "manual"
	TriggerScheduled TriggerKind = "scheduled"
)

// Run statuses. A log row is created running and updated exactly once to a
// terminal status; it is append-only thereafter.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

// SyncRunLog records one synchronization attempt end to end.
type SyncRunLog struct {
	ID           string      `json:"id"`
	UserID       int64       `json:"user_id"`
	DataSource   string      `json:"data_source"`
	Category     Category    `json:"category"`
	Trigger      TriggerKind `json:"trigger"`
	Status       RunStatus   `json:"status"`
	StartTime    time.Time   `json:"start_time"`
	EndTime      *time.Time  `json:"end_time,omitempty"`
	DurationMS   int64       `json:"duration_ms"`
	RecordCount  int         `json:"record_count"`
	ErrorMessage string      `json:"error_message,omitempty"`
}

// RunLogFilter narrows run-log listings.
type RunLogFilter struct {
	UserID     int64
	DataSource string
	Category   Category
	Status     RunStatus
	From       time.Time
	To         time.Time
	Page       int
	PageSize   int
}

// Limit returns the effective page size (default 20, cap 200).
func (f RunLogFilter) Limit() int {
	if f.PageSize <= 0 {
		return 20
	}
	if f.PageSize > 200 {
		return 200
	}
	return f.PageSize
}

// Offset returns the row offset for the requested page.
func (f RunLogFilter) Offset() int {
	page := f.Page
	if page < 1 {
		page = 1
	}
	return (page - 1) * f.Limit()
}
