package integration

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phqovo/slimming/internal/lock"
	"github.com/phqovo/slimming/internal/logging"
	"github.com/phqovo/slimming/internal/merge"
	"github.com/phqovo/slimming/internal/mihealth"
	"github.com/phqovo/slimming/internal/models"
	"github.com/phqovo/slimming/internal/store"
	syncrun "github.com/phqovo/slimming/internal/sync"
	"github.com/phqovo/slimming/test/mocks"
)

const localUserID = int64(42)

type env struct {
	platform *mocks.PlatformServer
	store    *store.SQLiteStore
	locker   *lock.MemoryLocker
	auth     *mihealth.Authenticator
	orch     *syncrun.Orchestrator
}

// setupEnv starts a mock platform, opens a fresh SQLite store and wires the
// full sync pipeline against them. The platform account is already bound.
func setupEnv(t *testing.T) *env {
	t.Helper()

	platform := mocks.NewPlatformServer()
	t.Cleanup(platform.Close)

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "sync.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := logging.NewLogger(logging.WithLevel(logging.LevelError))
	httpClient := mihealth.NewHTTPClient(5*time.Second, false)
	auth := mihealth.NewAuthenticator(httpClient, platform.URL(), logger)

	session, err := auth.Login(context.Background(), platform.Username, platform.Password)
	require.NoError(t, err)
	require.NoError(t, st.PutCredential(&models.Credential{
		UserID:      localUserID,
		DataSource:  models.DataSourceMiHealth,
		Token:       session.Token,
		SecurityKey: session.Security,
		Cookies:     session.Cookies,
		Verified:    true,
		UpdatedAt:   time.Now().UTC(),
	}))

	locker := lock.NewMemoryLocker()
	factory := syncrun.PlatformSource(httpClient, platform.URL(), auth.Refresh, 50, logger)
	orch := syncrun.NewOrchestrator(st, locker, factory, syncrun.Options{
		BatchSize:  100,
		LockTTL:    time.Hour,
		RunTimeout: time.Minute,
	}, logger)
	orch.SetMerger(merge.NewReconciler(st, logger))

	return &env{platform: platform, store: st, locker: locker, auth: auth, orch: orch}
}

func weightRequest(mergeOn bool) syncrun.Request {
	var flags models.MergeFlags
	if mergeOn {
		flags.Weight = true
	}
	return syncrun.Request{
		UserID:     localUserID,
		DataSource: models.DataSourceMiHealth,
		Category:   models.CategoryWeight,
		Trigger:    models.TriggerManual,
		Lookback:   models.Lookback{Days: 7},
		MergeFlags: flags,
	}
}

func TestWeightSyncEndToEnd(t *testing.T) {
	e := setupEnv(t)

	day := time.Now().AddDate(0, 0, -1)
	morning := time.Date(day.Year(), day.Month(), day.Day(), 7, 30, 0, 0, time.Local)
	evening := time.Date(day.Year(), day.Month(), day.Day(), 21, 15, 0, 0, time.Local)
	e.platform.AddRecord("weight", morning.Unix(), "", map[string]any{"weight": 72.5, "bmi": 22.1})
	e.platform.AddRecord("weight", evening.Unix(), "", map[string]any{"weight": 71.8, "bmi": 21.9})

	result := e.orch.RunSync(context.Background(), weightRequest(true))
	require.Empty(t, result.Error)
	assert.Equal(t, models.RunStatusSuccess, result.Status)
	assert.Equal(t, 2, result.Fetched)
	assert.Equal(t, 2, result.Inserted)
	assert.Equal(t, 1, result.Merged)

	log, err := e.store.GetRunLog(result.RunID)
	require.NoError(t, err)
	require.NotNil(t, log)
	assert.Equal(t, models.RunStatusSuccess, log.Status)
	assert.Equal(t, 2, log.RecordCount)

	local, err := e.store.GetLocalWeight(localUserID, models.CivilDate(morning))
	require.NoError(t, err)
	require.NotNil(t, local)
	assert.InDelta(t, 72.5, local.MorningWeight, 0.001)
	assert.InDelta(t, 71.8, local.EveningWeight, 0.001)
	assert.InDelta(t, 72.5, local.Weight, 0.001)
	require.NotNil(t, local.ExternalOrigin)
}

func TestResyncIsIdempotent(t *testing.T) {
	e := setupEnv(t)
	e.platform.AddRecord("weight", time.Now().Add(-2*time.Hour).Unix(), "", map[string]any{"weight": 70.0})

	first := e.orch.RunSync(context.Background(), weightRequest(false))
	require.Equal(t, models.RunStatusSuccess, first.Status)
	assert.Equal(t, 1, first.Inserted)

	second := e.orch.RunSync(context.Background(), weightRequest(false))
	require.Equal(t, models.RunStatusSuccess, second.Status)
	assert.Equal(t, 1, second.Fetched)
	assert.Equal(t, 0, second.Inserted)

	_, total, err := e.store.ListRunLogs(models.RunLogFilter{UserID: localUserID})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestSessionRotationIsPersisted(t *testing.T) {
	e := setupEnv(t)
	e.platform.AddRecord("weight", time.Now().Add(-time.Hour).Unix(), "", map[string]any{"weight": 70.0})

	before, err := e.store.GetCredential(localUserID, models.DataSourceMiHealth)
	require.NoError(t, err)

	e.platform.ExpireSession()

	result := e.orch.RunSync(context.Background(), weightRequest(false))
	require.Equal(t, models.RunStatusSuccess, result.Status)
	assert.Equal(t, 1, e.platform.RefreshCount)

	after, err := e.store.GetCredential(localUserID, models.DataSourceMiHealth)
	require.NoError(t, err)
	assert.NotEqual(t, before.Token, after.Token)
	assert.True(t, after.Verified)
}

func TestSleepSyncFilesUnderWakeDate(t *testing.T) {
	e := setupEnv(t)

	bed := time.Now().AddDate(0, 0, -2)
	bedtime := time.Date(bed.Year(), bed.Month(), bed.Day(), 23, 0, 0, 0, time.Local)
	wake := bedtime.Add(8 * time.Hour)
	e.platform.AddRecord("sleep", bedtime.Unix(), "", map[string]any{
		"bedtime":      bedtime.Unix(),
		"wake_up_time": wake.Unix(),
		"duration":     480,
	})

	req := weightRequest(false)
	req.Category = models.CategorySleep
	req.MergeFlags = models.MergeFlags{Sleep: true}

	result := e.orch.RunSync(context.Background(), req)
	require.Empty(t, result.Error)
	assert.Equal(t, 1, result.Inserted)
	assert.Equal(t, 1, result.Merged)

	rows, err := e.store.ListLocalSleep(localUserID, models.CivilDate(wake))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.InDelta(t, 8.0, rows[0].DurationHours, 0.001)
	assert.Equal(t, bedtime.Unix(), rows[0].SleepTime.Unix())
}

func TestExerciseSyncConvertsUnits(t *testing.T) {
	e := setupEnv(t)

	start := time.Now().Add(-26 * time.Hour)
	e.platform.AddRecord("sport", start.Unix(), "outdoor_running", map[string]any{
		"start_time": start.Unix(),
		"duration":   1800,
		"distance":   5200,
		"calories":   320,
	})

	req := weightRequest(false)
	req.Category = models.CategoryExercise
	req.MergeFlags = models.MergeFlags{Exercise: true}

	result := e.orch.RunSync(context.Background(), req)
	require.Empty(t, result.Error)
	assert.Equal(t, 1, result.Merged)

	rows, err := e.store.ListLocalExercise(localUserID, models.CivilDate(start))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Outdoor Running", rows[0].ExerciseType)
	assert.InDelta(t, 5.2, rows[0].DistanceKM, 0.001)
	assert.Equal(t, 30, rows[0].DurationMinutes)
}

func TestMergeNeverOverwritesUserRows(t *testing.T) {
	e := setupEnv(t)

	day := time.Now().AddDate(0, 0, -1)
	noon := time.Date(day.Year(), day.Month(), day.Day(), 12, 0, 0, 0, time.Local)
	e.platform.AddRecord("weight", noon.Unix(), "", map[string]any{"weight": 72.5})

	require.NoError(t, e.store.UpsertLocalWeight(&models.LocalWeightRecord{
		UserID:     localUserID,
		RecordDate: models.CivilDate(noon),
		Weight:     68.0,
	}))

	result := e.orch.RunSync(context.Background(), weightRequest(true))
	require.Equal(t, models.RunStatusSuccess, result.Status)
	assert.Equal(t, 0, result.Merged)

	local, err := e.store.GetLocalWeight(localUserID, models.CivilDate(noon))
	require.NoError(t, err)
	require.NotNil(t, local)
	assert.InDelta(t, 68.0, local.Weight, 0.001)
	assert.Nil(t, local.ExternalOrigin)
}
