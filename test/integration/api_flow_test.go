package integration

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phqovo/slimming/internal/api"
	"github.com/phqovo/slimming/internal/config"
	"github.com/phqovo/slimming/internal/models"
	"github.com/phqovo/slimming/internal/scheduler"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type apiEnv struct {
	*env
	server *api.Server
	sched  *scheduler.Scheduler
}

// setupAPIEnv layers the HTTP server and scheduler on top of the sync
// pipeline from setupEnv.
func setupAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	e := setupEnv(t)
	sched := scheduler.New(e.store, e.orch, nil)
	t.Cleanup(sched.Stop)

	server := api.NewServer(config.ServerConfig{}, config.APIConfig{
		Enabled:  true,
		BasePath: "/api/v1",
	}, e.store, e.orch, sched, e.auth)

	return &apiEnv{env: e, server: server, sched: sched}
}

func (a *apiEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.server.Router().ServeHTTP(w, req)
	return w
}

func TestBindAndTriggerOverHTTP(t *testing.T) {
	a := setupAPIEnv(t)

	day := time.Now().AddDate(0, 0, -1)
	noon := time.Date(day.Year(), day.Month(), day.Day(), 12, 0, 0, 0, time.Local)
	a.platform.AddRecord("weight", noon.Unix(), "", map[string]any{"weight": 72.5})

	// Re-bind over the API for a second local user.
	w := a.do(t, http.MethodPost, "/api/v1/auth/bind", gin.H{
		"user_id":  int64(99),
		"username": a.platform.Username,
		"password": a.platform.Password,
	})
	require.Equal(t, http.StatusOK, w.Code)

	cred, err := a.store.GetCredential(99, models.DataSourceMiHealth)
	require.NoError(t, err)
	assert.True(t, cred.Verified)

	w = a.do(t, http.MethodPost, "/api/v1/sync/trigger", gin.H{
		"user_id":       int64(99),
		"category":      "weight",
		"lookback_days": 7,
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	require.Eventually(t, func() bool {
		logs, _, err := a.store.ListRunLogs(models.RunLogFilter{UserID: 99})
		if err != nil || len(logs) == 0 {
			return false
		}
		return logs[0].Status == models.RunStatusSuccess
	}, 5*time.Second, 20*time.Millisecond)

	logs, total, err := a.store.ListRunLogs(models.RunLogFilter{UserID: 99})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, logs[0].RecordCount)

	w = a.do(t, http.MethodGet, "/api/v1/sync/runs/"+logs[0].ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, http.MethodGet, "/api/v1/sync/status?user_id=99&category=weight", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, false, status["running"])
}

func TestSyncConfigDrivesScheduler(t *testing.T) {
	a := setupAPIEnv(t)

	w := a.do(t, http.MethodPost, "/api/v1/sync-configs", gin.H{
		"user_id":          localUserID,
		"category":         "weight",
		"enabled":          true,
		"schedule":         "interval",
		"interval_seconds": 3600,
		"lookback":         gin.H{"days": 1},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var cfg models.SyncJobConfig
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cfg))
	assert.Equal(t, 1, a.sched.Jobs())

	w = a.do(t, http.MethodDelete, "/api/v1/sync-configs/"+cfg.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, a.sched.Jobs())

	stored, err := a.store.GetSyncConfig(cfg.ID)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestUnbindOverHTTP(t *testing.T) {
	a := setupAPIEnv(t)

	w := a.do(t, http.MethodDelete, "/api/v1/auth/bind?user_id=42", nil)
	require.Equal(t, http.StatusOK, w.Code)

	_, err := a.store.GetCredential(localUserID, models.DataSourceMiHealth)
	assert.Error(t, err)
}
