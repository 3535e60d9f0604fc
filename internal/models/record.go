package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Metrics holds the normalized numeric fields of one external record, keyed by
// the canonical field names of the category mapping table.
type Metrics map[string]float64

// NormalizedRecord is one external measurement or session after field mapping.
// It is immutable once built; the fingerprint is the sole deduplication key
// across repeated fetches of overlapping windows.
type NormalizedRecord struct {
	ID           string    `json:"id"`
	UserID       int64     `json:"user_id"`
	DataSource   string    `json:"data_source"`
	Category     Category  `json:"category"`
	Fingerprint  string    `json:"fingerprint"`
	SourceID     string    `json:"source_id"`
	RecordDate   string    `json:"record_date"` // civil date, "2006-01-02"
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	ExerciseType string    `json:"exercise_type,omitempty"`
	Metrics      Metrics   `json:"metrics"`
	Raw          string    `json:"raw"` // canonical raw payload
	CreatedAt    time.Time `json:"created_at"`
}

// Metric returns a named metric, or 0 when absent.
func (r *NormalizedRecord) Metric(name string) float64 {
	return r.Metrics[name]
}

// Fingerprint computes the content hash of a raw platform item. The item is
// round-tripped through a map so key order cannot influence the digest: two
// fetches of the same underlying event always hash identically.
func Fingerprint(rawItem []byte) (string, error) {
	var decoded map[string]any
	if err := json.Unmarshal(rawItem, &decoded); err != nil {
		return "", err
	}
	canonical, err := json.Marshal(decoded)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// CivilDate formats a timestamp as the record-date key used across the store
// and the merge layer.
func CivilDate(t time.Time) string {
	return t.Format("2006-01-02")
}
