package store

import (
	stderrors "errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/phqovo/slimming/internal/errors"
	"github.com/phqovo/slimming/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStores runs the same assertions against both implementations so the
// in-memory variant cannot drift from the real one.
func testStores(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"sqlite": sqlite,
		"memory": NewMemoryStore(),
	}
}

func externalRecord(userID int64, category models.Category, fingerprint string, start time.Time) models.NormalizedRecord {
	return models.NormalizedRecord{
		UserID:      userID,
		DataSource:  "mi_health",
		Category:    category,
		Fingerprint: fingerprint,
		SourceID:    "1700000000",
		RecordDate:  start.Format("2006-01-02"),
		StartTime:   start,
		EndTime:     start.Add(time.Hour),
		Metrics:     models.Metrics{"weight_kg": 72.5},
		Raw:         `{"time":1700000000}`,
	}
}

func TestCredentialRoundTrip(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.GetCredential(7, "mi_health")
			var missing *errors.ErrCredentialMissing
			require.True(t, stderrors.As(err, &missing))

			cred := &models.Credential{
				UserID:      7,
				DataSource:  "mi_health",
				Token:       "8214650001:pass-token",
				SecurityKey: []byte("security-key-1234"),
				Cookies:     "serviceToken=abc; userId=8214650001",
				Verified:    true,
			}
			require.NoError(t, s.PutCredential(cred))

			got, err := s.GetCredential(7, "mi_health")
			require.NoError(t, err)
			assert.Equal(t, cred.Token, got.Token)
			assert.Equal(t, cred.SecurityKey, got.SecurityKey)
			assert.True(t, got.Verified)

			// Overwrite on re-put.
			cred.Token = "8214650001:rotated"
			require.NoError(t, s.PutCredential(cred))
			got, err = s.GetCredential(7, "mi_health")
			require.NoError(t, err)
			assert.Equal(t, "8214650001:rotated", got.Token)

			require.NoError(t, s.DeleteCredential(7, "mi_health"))
			_, err = s.GetCredential(7, "mi_health")
			assert.Error(t, err)
		})
	}
}

func TestBulkInsertDeduplicates(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			base := time.Date(2025, 3, 9, 8, 0, 0, 0, time.UTC)
			batch := []models.NormalizedRecord{
				externalRecord(7, models.CategoryWeight, "fp-1", base),
				externalRecord(7, models.CategoryWeight, "fp-2", base.Add(time.Hour)),
			}

			n, err := s.BulkInsertExternal(batch)
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			// Second insert of the same batch is a no-op.
			n, err = s.BulkInsertExternal(batch)
			require.NoError(t, err)
			assert.Equal(t, 0, n)

			// Same fingerprint under another category still inserts.
			n, err = s.BulkInsertExternal([]models.NormalizedRecord{
				externalRecord(7, models.CategorySteps, "fp-1", base),
			})
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}
}

func TestExistingFingerprints(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			base := time.Date(2025, 3, 9, 8, 0, 0, 0, time.UTC)
			_, err := s.BulkInsertExternal([]models.NormalizedRecord{
				externalRecord(7, models.CategoryWeight, "fp-1", base),
			})
			require.NoError(t, err)

			existing, err := s.ExistingFingerprints(7, models.CategoryWeight, []string{"fp-1", "fp-2"})
			require.NoError(t, err)
			assert.Equal(t, map[string]bool{"fp-1": true}, existing)

			// Other users never collide.
			existing, err = s.ExistingFingerprints(8, models.CategoryWeight, []string{"fp-1"})
			require.NoError(t, err)
			assert.Empty(t, existing)

			existing, err = s.ExistingFingerprints(7, models.CategoryWeight, nil)
			require.NoError(t, err)
			assert.Empty(t, existing)
		})
	}
}

func TestListExternalByWindow(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			base := time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC)
			_, err := s.BulkInsertExternal([]models.NormalizedRecord{
				externalRecord(7, models.CategoryWeight, "fp-b", base.Add(26*time.Hour)),
				externalRecord(7, models.CategoryWeight, "fp-a", base.Add(2*time.Hour)),
				externalRecord(7, models.CategoryWeight, "fp-out", base.Add(80*time.Hour)),
			})
			require.NoError(t, err)

			records, err := s.ListExternalByWindow(7, models.CategoryWeight, base, base.Add(48*time.Hour))
			require.NoError(t, err)
			require.Len(t, records, 2)
			assert.Equal(t, "fp-a", records[0].Fingerprint)
			assert.Equal(t, "fp-b", records[1].Fingerprint)
			assert.Equal(t, 72.5, records[0].Metric("weight_kg"))
		})
	}
}

func TestListExternalByDate(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			base := time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC)
			_, err := s.BulkInsertExternal([]models.NormalizedRecord{
				externalRecord(7, models.CategoryWeight, "fp-evening", base.Add(21*time.Hour)),
				externalRecord(7, models.CategoryWeight, "fp-morning", base.Add(7*time.Hour)),
				externalRecord(7, models.CategoryWeight, "fp-next-day", base.Add(31*time.Hour)),
				externalRecord(7, models.CategorySleep, "fp-sleep", base.Add(8*time.Hour)),
			})
			require.NoError(t, err)

			records, err := s.ListExternalByDate(7, models.CategoryWeight, "2025-03-09")
			require.NoError(t, err)
			require.Len(t, records, 2)
			assert.Equal(t, "fp-morning", records[0].Fingerprint)
			assert.Equal(t, "fp-evening", records[1].Fingerprint)
		})
	}
}

func TestRunLogLifecycle(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			log := &models.SyncRunLog{
				UserID:     7,
				DataSource: "mi_health",
				Category:   models.CategoryWeight,
				Trigger:    models.TriggerManual,
			}
			require.NoError(t, s.CreateRunLog(log))
			require.NotEmpty(t, log.ID)

			got, err := s.GetRunLog(log.ID)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, models.RunStatusRunning, got.Status)
			assert.Nil(t, got.EndTime)

			require.NoError(t, s.FinishRunLog(log.ID, models.RunStatusSuccess, 42, ""))
			got, err = s.GetRunLog(log.ID)
			require.NoError(t, err)
			assert.Equal(t, models.RunStatusSuccess, got.Status)
			assert.Equal(t, 42, got.RecordCount)
			require.NotNil(t, got.EndTime)

			// Finishing twice never overwrites a terminal status.
			require.NoError(t, s.FinishRunLog(log.ID, models.RunStatusFailed, 0, "late failure"))
			got, err = s.GetRunLog(log.ID)
			require.NoError(t, err)
			assert.Equal(t, models.RunStatusSuccess, got.Status)
			assert.Equal(t, 42, got.RecordCount)

			missing, err := s.GetRunLog("no-such-id")
			require.NoError(t, err)
			assert.Nil(t, missing)
		})
	}
}

func TestListRunLogsFiltering(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			for i, category := range []models.Category{models.CategoryWeight, models.CategorySleep, models.CategoryWeight} {
				log := &models.SyncRunLog{
					UserID:     7,
					DataSource: "mi_health",
					Category:   category,
					Trigger:    models.TriggerScheduled,
					StartTime:  time.Date(2025, 3, 9, 8+i, 0, 0, 0, time.UTC),
				}
				require.NoError(t, s.CreateRunLog(log))
				require.NoError(t, s.FinishRunLog(log.ID, models.RunStatusSuccess, i, ""))
			}

			logs, total, err := s.ListRunLogs(models.RunLogFilter{UserID: 7, Category: models.CategoryWeight})
			require.NoError(t, err)
			assert.Equal(t, 2, total)
			require.Len(t, logs, 2)
			// Newest first.
			assert.True(t, logs[0].StartTime.After(logs[1].StartTime))

			logs, total, err = s.ListRunLogs(models.RunLogFilter{UserID: 7, PageSize: 1, Page: 2})
			require.NoError(t, err)
			assert.Equal(t, 3, total)
			require.Len(t, logs, 1)

			_, total, err = s.ListRunLogs(models.RunLogFilter{UserID: 99})
			require.NoError(t, err)
			assert.Equal(t, 0, total)
		})
	}
}

func TestPurgeRunLogs(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			old := &models.SyncRunLog{
				UserID: 7, DataSource: "mi_health", Category: models.CategoryWeight,
				Trigger: models.TriggerScheduled, StartTime: time.Now().Add(-100 * 24 * time.Hour),
			}
			require.NoError(t, s.CreateRunLog(old))
			require.NoError(t, s.FinishRunLog(old.ID, models.RunStatusSuccess, 1, ""))

			stale := &models.SyncRunLog{
				UserID: 7, DataSource: "mi_health", Category: models.CategoryWeight,
				Trigger: models.TriggerScheduled, StartTime: time.Now().Add(-100 * 24 * time.Hour),
			}
			require.NoError(t, s.CreateRunLog(stale))
			// Still running, must survive the purge.

			recent := &models.SyncRunLog{
				UserID: 7, DataSource: "mi_health", Category: models.CategoryWeight,
				Trigger: models.TriggerScheduled,
			}
			require.NoError(t, s.CreateRunLog(recent))

			purged, err := s.PurgeRunLogs(time.Now().Add(-90 * 24 * time.Hour))
			require.NoError(t, err)
			assert.Equal(t, int64(1), purged)

			got, err := s.GetRunLog(stale.ID)
			require.NoError(t, err)
			assert.NotNil(t, got)
		})
	}
}

func TestSyncConfigCRUD(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			cfg := &models.SyncJobConfig{
				UserID:          7,
				DataSource:      "mi_health",
				Category:        models.CategoryWeight,
				Enabled:         true,
				Schedule:        models.ScheduleInterval,
				IntervalSeconds: 3600,
				Lookback:        models.Lookback{Days: 7},
				MergeFlags:      models.MergeFlags{Weight: true},
			}
			require.NoError(t, s.UpsertSyncConfig(cfg))
			require.NotEmpty(t, cfg.ID)

			got, err := s.GetSyncConfig(cfg.ID)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, 3600, got.IntervalSeconds)
			assert.Equal(t, 7, got.Lookback.Days)
			assert.True(t, got.MergeFlags.Weight)
			assert.Nil(t, got.LastRunAt)

			cfg.Enabled = false
			require.NoError(t, s.UpsertSyncConfig(cfg))
			enabled, err := s.ListEnabledSyncConfigs()
			require.NoError(t, err)
			assert.Empty(t, enabled)

			ranAt := time.Date(2025, 3, 9, 6, 0, 0, 0, time.UTC)
			require.NoError(t, s.UpdateLastRunAt(cfg.ID, ranAt))
			got, err = s.GetSyncConfig(cfg.ID)
			require.NoError(t, err)
			require.NotNil(t, got.LastRunAt)
			assert.Equal(t, ranAt.Unix(), got.LastRunAt.Unix())

			require.NoError(t, s.DeleteSyncConfig(cfg.ID))
			got, err = s.GetSyncConfig(cfg.ID)
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestLocalWeightOneRowPerDay(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			origin := "ext-1"
			rec := &models.LocalWeightRecord{
				UserID:         7,
				RecordDate:     "2025-03-09",
				ExternalOrigin: &origin,
				Weight:         72.5,
				MorningWeight:  72.5,
				EveningWeight:  72.5,
			}
			require.NoError(t, s.UpsertLocalWeight(rec))

			update := &models.LocalWeightRecord{
				UserID:         7,
				RecordDate:     "2025-03-09",
				ExternalOrigin: &origin,
				Weight:         72.1,
				MorningWeight:  72.1,
				EveningWeight:  71.8,
			}
			require.NoError(t, s.UpsertLocalWeight(update))

			got, err := s.GetLocalWeight(7, "2025-03-09")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, 72.1, got.Weight)
			assert.Equal(t, 71.8, got.EveningWeight)

			missing, err := s.GetLocalWeight(7, "2025-03-10")
			require.NoError(t, err)
			assert.Nil(t, missing)
		})
	}
}

func TestLocalSleepUpsertByOrigin(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			origin := "ext-sleep-1"
			rec := &models.LocalSleepRecord{
				UserID:         7,
				RecordDate:     "2025-03-09",
				ExternalOrigin: &origin,
				SleepTime:      time.Date(2025, 3, 8, 23, 0, 0, 0, time.UTC),
				WakeTime:       time.Date(2025, 3, 9, 7, 0, 0, 0, time.UTC),
				DurationHours:  8,
			}
			require.NoError(t, s.UpsertLocalSleep(rec))
			require.NoError(t, s.UpsertLocalSleep(&models.LocalSleepRecord{
				UserID:         7,
				RecordDate:     "2025-03-09",
				ExternalOrigin: &origin,
				SleepTime:      rec.SleepTime,
				WakeTime:       rec.WakeTime,
				DurationHours:  8.5,
			}))

			records, err := s.ListLocalSleep(7, "2025-03-09")
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, 8.5, records[0].DurationHours)

			// A user-authored row (no origin) always appends.
			require.NoError(t, s.UpsertLocalSleep(&models.LocalSleepRecord{
				UserID:        7,
				RecordDate:    "2025-03-09",
				SleepTime:     time.Date(2025, 3, 9, 13, 0, 0, 0, time.UTC),
				WakeTime:      time.Date(2025, 3, 9, 14, 0, 0, 0, time.UTC),
				DurationHours: 1,
			}))
			records, err = s.ListLocalSleep(7, "2025-03-09")
			require.NoError(t, err)
			assert.Len(t, records, 2)
		})
	}
}

func TestLocalExerciseUpsertByOrigin(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			origin := "ext-run-1"
			require.NoError(t, s.UpsertLocalExercise(&models.LocalExerciseRecord{
				UserID:          7,
				RecordDate:      "2025-03-09",
				ExternalOrigin:  &origin,
				ExerciseType:    "Outdoor Running",
				DurationMinutes: 30,
				DistanceKM:      5,
				Calories:        320,
			}))
			require.NoError(t, s.UpsertLocalExercise(&models.LocalExerciseRecord{
				UserID:          7,
				RecordDate:      "2025-03-09",
				ExternalOrigin:  &origin,
				ExerciseType:    "Outdoor Running",
				DurationMinutes: 31,
				DistanceKM:      5.2,
				Calories:        330,
			}))

			records, err := s.ListLocalExercise(7, "2025-03-09")
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, 31, records[0].DurationMinutes)
		})
	}
}

func TestRecomputeDailySummary(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			origin := "ext-1"
			require.NoError(t, s.UpsertLocalWeight(&models.LocalWeightRecord{
				UserID: 7, RecordDate: "2025-03-09", ExternalOrigin: &origin, Weight: 72.5,
			}))
			require.NoError(t, s.UpsertLocalExercise(&models.LocalExerciseRecord{
				UserID: 7, RecordDate: "2025-03-09", ExternalOrigin: &origin,
				ExerciseType: "Walking", DurationMinutes: 45, Calories: 180,
			}))
			require.NoError(t, s.RecomputeDailySummary(7, "2025-03-09"))
			// Recompute of an empty day is also fine.
			require.NoError(t, s.RecomputeDailySummary(7, "2025-03-10"))
		})
	}
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")

	s, err := NewSQLiteStore(path, 0)
	require.NoError(t, err)
	require.NoError(t, s.PutCredential(&models.Credential{
		UserID: 7, DataSource: "mi_health", Token: "1:t", SecurityKey: []byte("k"),
	}))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path, 0)
	require.NoError(t, err)
	defer s.Close()

	cred, err := s.GetCredential(7, "mi_health")
	require.NoError(t, err)
	assert.Equal(t, "1:t", cred.Token)
}
