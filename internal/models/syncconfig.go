package models

import (
	"fmt"
	"time"
)

// ScheduleKind selects how a recurring job fires.
type ScheduleKind string

const (
	ScheduleInterval  ScheduleKind = "interval"
	ScheduleDailyCron ScheduleKind = "daily_cron"
)

// Lookback describes the time window a sync run requests from the platform.
// Days == 0 is the all-time sentinel.
type Lookback struct {
	Days          int  `json:"days"`
	YesterdayOnly bool `json:"yesterday_only"`
}

// Window resolves the lookback into a concrete [start, end] range.
func (lb Lookback) Window(now time.Time) (time.Time, time.Time) {
	if lb.YesterdayOnly {
		y := now.AddDate(0, 0, -1)
		start := time.Date(y.Year(), y.Month(), y.Day(), 0, 0, 0, 0, now.Location())
		end := start.Add(24*time.Hour - time.Nanosecond)
		return start, end
	}
	if lb.Days == 0 {
		return time.Unix(1, 0), now
	}
	return now.AddDate(0, 0, -lb.Days), now
}

// String describes the window for run summaries.
func (lb Lookback) String() string {
	switch {
	case lb.YesterdayOnly:
		return "yesterday"
	case lb.Days == 0:
		return "all time"
	default:
		return fmt.Sprintf("last %d days", lb.Days)
	}
}

// MergeFlags enables local-merge per category.
type MergeFlags struct {
	Weight   bool `json:"weight" yaml:"weight"`
	Sleep    bool `json:"sleep" yaml:"sleep"`
	Exercise bool `json:"exercise" yaml:"exercise"`
}

// Enabled reports whether merge is on for the given category.
func (m MergeFlags) Enabled(c Category) bool {
	switch c {
	case CategoryWeight:
		return m.Weight
	case CategorySleep:
		return m.Sleep
	case CategoryExercise:
		return m.Exercise
	}
	return false
}

// SyncJobConfig drives scheduler registration 1:1: one recurring job per
// enabled config.
type SyncJobConfig struct {
	ID               string       `json:"id"`
	UserID           int64        `json:"user_id"`
	DataSource       string       `json:"data_source"`
	Category         Category     `json:"category"`
	Enabled          bool         `json:"enabled"`
	Schedule         ScheduleKind `json:"schedule"`
	IntervalSeconds  int          `json:"interval_seconds"`
	CronHour         int          `json:"cron_hour"`
	CronMinute       int          `json:"cron_minute"`
	Lookback         Lookback     `json:"lookback"`
	AutoMergeToLocal bool         `json:"auto_merge_to_local"`
	MergeFlags       MergeFlags   `json:"merge_flags"`
	LastRunAt        *time.Time   `json:"last_run_at,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// Validate checks schedule parameters before registration.
func (c *SyncJobConfig) Validate() error {
	if c.UserID <= 0 {
		return fmt.Errorf("user_id is required")
	}
	if c.DataSource == "" {
		return fmt.Errorf("data_source is required")
	}
	if _, err := ParseCategory(string(c.Category)); err != nil {
		return err
	}
	switch c.Schedule {
	case ScheduleInterval:
		if c.IntervalSeconds < 60 {
			return fmt.Errorf("interval_seconds must be at least 60, got %d", c.IntervalSeconds)
		}
	case ScheduleDailyCron:
		if c.CronHour < 0 || c.CronHour > 23 {
			return fmt.Errorf("cron_hour out of range: %d", c.CronHour)
		}
		if c.CronMinute < 0 || c.CronMinute > 59 {
			return fmt.Errorf("cron_minute out of range: %d", c.CronMinute)
		}
	default:
		return fmt.Errorf("unknown schedule kind: %s", c.Schedule)
	}
	if c.Lookback.Days < 0 {
		return fmt.Errorf("lookback days must not be negative")
	}
	return nil
}
