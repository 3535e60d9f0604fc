package api

import (
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/phqovo/slimming/internal/errors"
	"github.com/phqovo/slimming/internal/models"
)

// BindRequest carries platform account credentials for binding.
type BindRequest struct {
	UserID     int64  `json:"user_id" binding:"required"`
	DataSource string `json:"data_source,omitempty"`
	Username   string `json:"username" binding:"required"`
	Password   string `json:"password" binding:"required"`
}

// handleBind performs the platform login and stores the resulting session
// as a verified credential.
func (s *Server) handleBind(c *gin.Context) {
	var req BindRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.DataSource == "" {
		req.DataSource = defaultDataSource
	}

	session, err := s.binder.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		var secondary *errors.ErrSecondaryVerification
		if stderrors.As(err, &secondary) {
			c.JSON(http.StatusAccepted, gin.H{
				"status":           "secondary_verification_required",
				"notification_url": secondary.NotificationURL,
			})
			return
		}
		var authErr *errors.ErrAuth
		if stderrors.As(err, &authErr) {
			s.logger.WarnWithContext(c.Request.Context(), "platform login rejected",
				"user_id", req.UserID, "stage", authErr.Stage)
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	cred := &models.Credential{
		UserID:      req.UserID,
		DataSource:  req.DataSource,
		Token:       session.Token,
		SecurityKey: session.Security,
		Cookies:     session.Cookies,
		Verified:    true,
		UpdatedAt:   time.Now().UTC(),
	}
	if err := s.store.PutCredential(cred); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.logger.InfoWithContext(c.Request.Context(), "credential bound",
		"user_id", req.UserID, "data_source", req.DataSource)
	c.JSON(http.StatusOK, gin.H{
		"status":           "bound",
		"platform_user_id": session.UserID,
	})
}

// handleVerify re-runs the login handshake to confirm the account is still
// accessible, refreshing the stored credential on success.
func (s *Server) handleVerify(c *gin.Context) {
	s.handleBind(c)
}

// handleUnbind removes the stored credential.
func (s *Server) handleUnbind(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	dataSource := c.DefaultQuery("data_source", defaultDataSource)

	if err := s.store.DeleteCredential(userID, dataSource); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.logger.InfoWithContext(c.Request.Context(), "credential unbound",
		"user_id", userID, "data_source", dataSource)
	c.JSON(http.StatusOK, gin.H{"status": "unbound"})
}
