package api

import (
	"github.com/gin-gonic/gin"

	"github.com/NikhilSetiya/statsbridge/internal/analytics"
	apperrors "github.com/NikhilSetiya/statsbridge/pkg/errors"
)

// SessionHandler exposes the protected upstream session operations
type SessionHandler struct {
	sessions *analytics.SessionService
}

// NewSessionHandler creates a session handler
func NewSessionHandler(sessions *analytics.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// Authenticate establishes a session with the upstream analytics API
// POST /api/v1/sessions
func (h *SessionHandler) Authenticate(c *gin.Context) {
	var req analytics.Credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, apperrors.NewValidationError("invalid request body").WithCause(err))
		return
	}

	token, err := h.sessions.Authenticate(c.Request.Context(), req)
	if err != nil {
		ErrorResponse(c, err)
		return
	}
	SuccessResponse(c, token)
}

// Refresh rotates the upstream session behind an existing token
// POST /api/v1/sessions/refresh
func (h *SessionHandler) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, apperrors.NewValidationError("refresh_token is required").WithCause(err))
		return
	}

	token, err := h.sessions.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		ErrorResponse(c, err)
		return
	}
	SuccessResponse(c, token)
}

// Logout invalidates the upstream session
// POST /api/v1/sessions/logout
func (h *SessionHandler) Logout(c *gin.Context) {
	var req struct {
		SessionID string `json:"session_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, apperrors.NewValidationError("session_id is required").WithCause(err))
		return
	}

	if err := h.sessions.Logout(c.Request.Context(), req.SessionID); err != nil {
		ErrorResponse(c, err)
		return
	}
	SuccessResponse(c, gin.H{"logged_out": true})
}

// Validate checks a bridged session token
// POST /api/v1/sessions/validate
func (h *SessionHandler) Validate(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, apperrors.NewValidationError("token is required").WithCause(err))
		return
	}

	active, err := h.sessions.Validate(c.Request.Context(), req.Token)
	if err != nil {
		ErrorResponse(c, err)
		return
	}
	SuccessResponse(c, gin.H{"active": active})
}
