package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/phqovo/slimming/internal/models"
	syncrun "github.com/phqovo/slimming/internal/sync"
)

const defaultDataSource = "mi_health"

// TriggerSyncRequest starts one ad-hoc sync run.
type TriggerSyncRequest struct {
	UserID        int64  `json:"user_id" binding:"required"`
	DataSource    string `json:"data_source,omitempty"`
	Category      string `json:"category" binding:"required"`
	LookbackDays  int    `json:"lookback_days,omitempty"`
	YesterdayOnly bool   `json:"yesterday_only,omitempty"`

	Merge models.MergeFlags `json:"merge,omitempty"`
}

// handleTriggerSync accepts a run and executes it in the background. A run
// already in flight for the same key is surfaced as a conflict.
func (s *Server) handleTriggerSync(c *gin.Context) {
	var req TriggerSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.DataSource == "" {
		req.DataSource = defaultDataSource
	}
	category, err := models.ParseCategory(req.Category)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if s.syncSvc.Status(req.UserID, req.DataSource, category) {
		s.metrics.RecordBusy(category)
		c.JSON(http.StatusConflict, gin.H{
			"status": "busy",
			"error":  "sync already in progress",
		})
		return
	}

	runReq := syncrun.Request{
		UserID:     req.UserID,
		DataSource: req.DataSource,
		Category:   category,
		Trigger:    models.TriggerManual,
		Lookback:   models.Lookback{Days: req.LookbackDays, YesterdayOnly: req.YesterdayOnly},
		MergeFlags: req.Merge,
	}

	s.logger.InfoWithContext(c.Request.Context(), "sync triggered",
		"user_id", req.UserID, "category", req.Category)

	go s.syncSvc.RunSync(context.Background(), runReq)

	c.JSON(http.StatusAccepted, gin.H{
		"status":   "accepted",
		"category": string(category),
	})
}

// handleSyncStatus reports whether a sync is running for the key.
func (s *Server) handleSyncStatus(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	dataSource := c.DefaultQuery("data_source", defaultDataSource)
	category, err := models.ParseCategory(c.Query("category"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"running": s.syncSvc.Status(userID, dataSource, category),
	})
}

// handleListRunLogs lists run logs with filters and pagination.
func (s *Server) handleListRunLogs(c *gin.Context) {
	filter := models.RunLogFilter{
		DataSource: c.Query("data_source"),
		Category:   models.Category(c.Query("category")),
		Status:     models.RunStatus(c.Query("status")),
	}
	if v := c.Query("user_id"); v != "" {
		userID, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
			return
		}
		filter.UserID = userID
	}
	if v := c.Query("from"); v != "" {
		from, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from timestamp"})
			return
		}
		filter.From = from
	}
	if v := c.Query("to"); v != "" {
		to, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to timestamp"})
			return
		}
		filter.To = to
	}
	filter.Page, _ = strconv.Atoi(c.Query("page"))
	filter.PageSize, _ = strconv.Atoi(c.Query("page_size"))

	logs, total, err := s.store.ListRunLogs(filter)
	if err != nil {
		s.logger.ErrorWithContext(c.Request.Context(), "failed to list run logs", "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if logs == nil {
		logs = []models.SyncRunLog{}
	}

	c.JSON(http.StatusOK, gin.H{
		"items":     logs,
		"total":     total,
		"page_size": filter.Limit(),
	})
}

// handleGetRunLog returns one run log by ID.
func (s *Server) handleGetRunLog(c *gin.Context) {
	log, err := s.store.GetRunLog(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if log == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run log not found"})
		return
	}
	c.JSON(http.StatusOK, log)
}

// handleListSyncConfigs lists the job configs of a user.
func (s *Server) handleListSyncConfigs(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	configs, err := s.store.ListSyncConfigs(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if configs == nil {
		configs = []models.SyncJobConfig{}
	}
	c.JSON(http.StatusOK, configs)
}

// handleCreateSyncConfig creates a job config and registers its job.
func (s *Server) handleCreateSyncConfig(c *gin.Context) {
	var cfg models.SyncJobConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cfg.ID = ""
	if cfg.DataSource == "" {
		cfg.DataSource = defaultDataSource
	}
	if err := cfg.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.store.UpsertSyncConfig(&cfg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.jobs.UpsertJob(&cfg)
	s.metrics.SetScheduledJobs(s.jobs.Jobs())

	s.logger.InfoWithContext(c.Request.Context(), "sync config created",
		"config_id", cfg.ID, "user_id", cfg.UserID, "category", string(cfg.Category))
	c.JSON(http.StatusCreated, cfg)
}

// handleGetSyncConfig returns one job config.
func (s *Server) handleGetSyncConfig(c *gin.Context) {
	cfg, err := s.store.GetSyncConfig(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if cfg == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "sync config not found"})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// handleUpdateSyncConfig updates a job config and re-registers its job.
func (s *Server) handleUpdateSyncConfig(c *gin.Context) {
	existing, err := s.store.GetSyncConfig(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if existing == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "sync config not found"})
		return
	}

	var cfg models.SyncJobConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cfg.ID = existing.ID
	cfg.UserID = existing.UserID
	cfg.DataSource = existing.DataSource
	cfg.CreatedAt = existing.CreatedAt
	if err := cfg.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.store.UpsertSyncConfig(&cfg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.jobs.UpsertJob(&cfg)
	s.metrics.SetScheduledJobs(s.jobs.Jobs())

	c.JSON(http.StatusOK, cfg)
}

// handleDeleteSyncConfig deletes a job config and removes its job.
func (s *Server) handleDeleteSyncConfig(c *gin.Context) {
	id := c.Param("id")
	if err := s.store.DeleteSyncConfig(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.jobs.RemoveJob(id)
	s.metrics.SetScheduledJobs(s.jobs.Jobs())

	s.logger.InfoWithContext(c.Request.Context(), "sync config deleted", "config_id", id)
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
