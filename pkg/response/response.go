package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ksred/perp-api/internal/errs"
	"gorm.io/gorm"
)

// Response represents a standardized API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error represents an error response
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes
const (
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeBadRequest          = "BAD_REQUEST"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeForbidden           = "FORBIDDEN"
	ErrCodeInternalError       = "INTERNAL_ERROR"
	ErrCodeValidationFailed    = "VALIDATION_FAILED"
	ErrCodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	ErrCodeDuplicateResource   = "DUPLICATE_RESOURCE"
	ErrCodeInvalidState        = "INVALID_STATE"
	ErrCodeUnavailable         = "SERVICE_UNAVAILABLE"
)

// Handle maps the domain error taxonomy onto HTTP responses. Every class
// carries a stable reason string; only persistence failures are retryable.
func Handle(c *gin.Context, data interface{}, err error) {
	if err == nil {
		Success(c, data)
		return
	}

	switch {
	case errs.IsValidation(err):
		sendError(c, http.StatusBadRequest, ErrCodeValidationFailed, err.Error())
	case errors.Is(err, errs.ErrInsufficientBalance):
		sendError(c, http.StatusBadRequest, ErrCodeInsufficientBalance, err.Error())
	case errors.Is(err, errs.ErrDuplicatePosition):
		sendError(c, http.StatusConflict, ErrCodeDuplicateResource, err.Error())
	case errors.Is(err, errs.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, "Resource not found")
	case errors.Is(err, errs.ErrInvalidState):
		sendError(c, http.StatusBadRequest, ErrCodeInvalidState, err.Error())
	case errors.Is(err, errs.ErrServiceUnavailable):
		ServiceUnavailable(c, err.Error())
	case errors.Is(err, gorm.ErrDuplicatedKey):
		Conflict(c, "Resource already exists")
	default:
		InternalError(c, "An unexpected error occurred")
	}
}

// Success sends a successful response
func Success(c *gin.Context, data interface{}) {
	status := http.StatusOK
	if c.Request.Method == "POST" {
		status = http.StatusCreated
	}

	c.JSON(status, Response{
		Success: true,
		Data:    data,
	})
}

// NotFound sends a 404 response
func NotFound(c *gin.Context, message string) {
	sendError(c, http.StatusNotFound, ErrCodeNotFound, message)
}

// BadRequest sends a 400 response
func BadRequest(c *gin.Context, message string) {
	sendError(c, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// Unauthorized sends a 401 response
func Unauthorized(c *gin.Context, message string) {
	sendError(c, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// Forbidden sends a 403 response
func Forbidden(c *gin.Context, message string) {
	sendError(c, http.StatusForbidden, ErrCodeForbidden, message)
}

// Conflict sends a 409 response
func Conflict(c *gin.Context, message string) {
	sendError(c, http.StatusConflict, ErrCodeDuplicateResource, message)
}

// ServiceUnavailable sends a 503 response
func ServiceUnavailable(c *gin.Context, message string) {
	sendError(c, http.StatusServiceUnavailable, ErrCodeUnavailable, message)
}

// InternalError sends a 500 response
func InternalError(c *gin.Context, message string) {
	sendError(c, http.StatusInternalServerError, ErrCodeInternalError, message)
}

func sendError(c *gin.Context, status int, code, message string) {
	c.JSON(status, Response{
		Success: false,
		Error: &Error{
			Code:    code,
			Message: message,
		},
	})
}
