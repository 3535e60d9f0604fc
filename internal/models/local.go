package models

import "time"

// Local records are the user-editable rows the reconciler projects external
// data into. ExternalOrigin is the back-reference to the NormalizedRecord a
// row came from; nil means the row was authored by the user and reconciliation
// must never touch it.

// LocalWeightRecord holds at most one row per user per date.
type LocalWeightRecord struct {
	ID             string     `json:"id"`
	UserID         int64      `json:"user_id"`
	RecordDate     string     `json:"record_date"`
	ExternalOrigin *string    `json:"external_origin,omitempty"`
	Weight         float64    `json:"weight"`
	MorningWeight  float64    `json:"morning_weight"`
	EveningWeight  float64    `json:"evening_weight"`
	BodyFat        float64    `json:"body_fat"`
	BMI            float64    `json:"bmi"`
	Note           string     `json:"note,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// LocalSleepRecord holds one row per external sleep session (or user entry).
type LocalSleepRecord struct {
	ID             string    `json:"id"`
	UserID         int64     `json:"user_id"`
	RecordDate     string    `json:"record_date"` // wake date, not bed date
	ExternalOrigin *string   `json:"external_origin,omitempty"`
	SleepTime      time.Time `json:"sleep_time"`
	WakeTime       time.Time `json:"wake_time"`
	DurationHours  float64   `json:"duration_hours"`
	Quality        string    `json:"quality,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// LocalExerciseRecord holds one row per external workout (or user entry).
type LocalExerciseRecord struct {
	ID              string    `json:"id"`
	UserID          int64     `json:"user_id"`
	RecordDate      string    `json:"record_date"`
	ExternalOrigin  *string   `json:"external_origin,omitempty"`
	ExerciseType    string    `json:"exercise_type"`
	DurationMinutes int       `json:"duration_minutes"`
	Calories        float64   `json:"calories"`
	DistanceKM      float64   `json:"distance_km"`
	Note            string    `json:"note,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// UserAuthored reports whether a row belongs to the user rather than a sync.
func UserAuthored(externalOrigin *string) bool {
	return externalOrigin == nil || *externalOrigin == ""
}
