package store

import (
	"time"

	"github.com/phqovo/slimming/internal/models"
)

// Store is the persistence boundary of the sync engine. One implementation
// backs the service (SQLite); the in-memory variant backs unit tests.
type Store interface {
	// Credentials
	GetCredential(userID int64, dataSource string) (*models.Credential, error)
	PutCredential(cred *models.Credential) error
	DeleteCredential(userID int64, dataSource string) error

	// External records
	ExistingFingerprints(userID int64, category models.Category, fingerprints []string) (map[string]bool, error)
	BulkInsertExternal(records []models.NormalizedRecord) (int, error)
	ListExternalByWindow(userID int64, category models.Category, start, end time.Time) ([]models.NormalizedRecord, error)
	ListExternalByDate(userID int64, category models.Category, date string) ([]models.NormalizedRecord, error)

	// Run logs
	CreateRunLog(log *models.SyncRunLog) error
	FinishRunLog(id string, status models.RunStatus, recordCount int, errorMessage string) error
	GetRunLog(id string) (*models.SyncRunLog, error)
	ListRunLogs(filter models.RunLogFilter) ([]models.SyncRunLog, int, error)
	PurgeRunLogs(olderThan time.Time) (int64, error)

	// Sync job configs
	GetSyncConfig(id string) (*models.SyncJobConfig, error)
	ListSyncConfigs(userID int64) ([]models.SyncJobConfig, error)
	ListEnabledSyncConfigs() ([]models.SyncJobConfig, error)
	UpsertSyncConfig(cfg *models.SyncJobConfig) error
	DeleteSyncConfig(id string) error
	UpdateLastRunAt(configID string, at time.Time) error

	// Local records
	GetLocalWeight(userID int64, date string) (*models.LocalWeightRecord, error)
	UpsertLocalWeight(rec *models.LocalWeightRecord) error
	ListLocalSleep(userID int64, date string) ([]models.LocalSleepRecord, error)
	UpsertLocalSleep(rec *models.LocalSleepRecord) error
	ListLocalExercise(userID int64, date string) ([]models.LocalExerciseRecord, error)
	UpsertLocalExercise(rec *models.LocalExerciseRecord) error

	// RecomputeDailySummary rebuilds the per-day aggregate row after local
	// records change.
	RecomputeDailySummary(userID int64, date string) error

	Close() error
}
