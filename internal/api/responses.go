package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/NikhilSetiya/statsbridge/pkg/errors"
)

// APIResponse represents a standard API response
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// APIError represents an API error
type APIError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// SuccessResponse sends a successful response
func SuccessResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, APIResponse{
		Success:   true,
		Data:      data,
		RequestID: requestID(c),
		Timestamp: time.Now(),
	})
}

// ErrorResponse sends an error response mapped from the error taxonomy
func ErrorResponse(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	apiErr := &APIError{
		Code:    apperrors.GetCode(err),
		Message: err.Error(),
	}

	if appErr, ok := err.(*apperrors.AppError); ok {
		// The retry executor wraps errors it refused to retry; the caller
		// cares about the underlying failure, not the classification.
		if appErr.Type == apperrors.ErrorTypeNonRetryable {
			if cause, ok := appErr.Cause.(*apperrors.AppError); ok {
				appErr = cause
			}
		}
		apiErr.Code = appErr.Code
		apiErr.Message = appErr.Message
		apiErr.Details = appErr.Details
		status = statusForType(appErr.Type)
	}

	c.JSON(status, APIResponse{
		Success:   false,
		Error:     apiErr,
		RequestID: requestID(c),
		Timestamp: time.Now(),
	})
}

func statusForType(errorType apperrors.ErrorType) int {
	switch errorType {
	case apperrors.ErrorTypeValidation:
		return http.StatusBadRequest
	case apperrors.ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case apperrors.ErrorTypeAuthorization:
		return http.StatusForbidden
	case apperrors.ErrorTypeNotFound:
		return http.StatusNotFound
	case apperrors.ErrorTypeConflict, apperrors.ErrorTypeLockUnavailable:
		return http.StatusConflict
	case apperrors.ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case apperrors.ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	case apperrors.ErrorTypeExternal, apperrors.ErrorTypeBreakerOpen,
		apperrors.ErrorTypeRetryExhausted, apperrors.ErrorTypeFallbackExhausted:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func requestID(c *gin.Context) string {
	if id, ok := c.Get("request_id"); ok {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}
