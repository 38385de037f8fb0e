package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/ksred/brokerlink-api/internal/types"
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
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeBadRequest        = "BAD_REQUEST"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeValidationFailed  = "VALIDATION_FAILED"
	ErrCodeDuplicateResource = "DUPLICATE_RESOURCE"
	ErrCodeOAuthFlowFailed   = "OAUTH_FLOW_FAILED"
	ErrCodeReauthRequired    = "REAUTHORIZATION_REQUIRED"
	ErrCodeUpstreamFailure   = "UPSTREAM_FAILURE"
)

// Handle maps domain errors onto the response envelope. OAuth flow failures
// and webhook signature failures deliberately map to 400, never 500, so
// callers do not retry requests that can never succeed.
func Handle(c *gin.Context, data interface{}, err error) {
	if err == nil {
		Success(c, data)
		return
	}

	var validationErr *types.ValidationError
	var configErr *types.ConfigurationError
	var unsupportedErr *types.UnsupportedBrokerError

	switch {
	case errors.As(err, &validationErr):
		fail(c, http.StatusBadRequest, ErrCodeValidationFailed, validationErr.Error())
	case errors.As(err, &configErr):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, configErr.Error())
	case errors.As(err, &unsupportedErr):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, unsupportedErr.Error())
	case errors.Is(err, types.ErrStateMismatch),
		errors.Is(err, types.ErrStateExpired),
		errors.Is(err, types.ErrVerifierNotFound):
		fail(c, http.StatusBadRequest, ErrCodeOAuthFlowFailed, err.Error())
	case errors.Is(err, types.ErrSignatureInvalid):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, types.ErrReauthorizationRequired):
		fail(c, http.StatusUnauthorized, ErrCodeReauthRequired, err.Error())
	case errors.Is(err, types.ErrGatewayUnreachable),
		errors.Is(err, types.ErrNotAuthenticated),
		errors.Is(err, types.ErrSessionExpired):
		fail(c, http.StatusBadGateway, ErrCodeUpstreamFailure, err.Error())
	case errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, "Resource not found")
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
	fail(c, http.StatusNotFound, ErrCodeNotFound, message)
}

// BadRequest sends a 400 response
func BadRequest(c *gin.Context, message string) {
	fail(c, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// Unauthorized sends a 401 response
func Unauthorized(c *gin.Context, message string) {
	fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// Forbidden sends a 403 response
func Forbidden(c *gin.Context, message string) {
	fail(c, http.StatusForbidden, ErrCodeForbidden, message)
}

// InternalError sends a 500 response
func InternalError(c *gin.Context, message string) {
	fail(c, http.StatusInternalServerError, ErrCodeInternalError, message)
}

// Conflict sends a 409 response
func Conflict(c *gin.Context, message string) {
	fail(c, http.StatusConflict, ErrCodeDuplicateResource, message)
}

func fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, Response{
		Success: false,
		Error: &Error{
			Code:    code,
			Message: message,
		},
	})
}
