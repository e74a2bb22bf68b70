// Package errors provides error handling and HTTP status code mapping for the
// tenant controller API.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/envfile"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/service"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/variant"
)

// ErrorCode represents application-specific error codes.
type ErrorCode string

const (
	// General errors
	ErrorCodeUnknown        ErrorCode = "UNKNOWN"
	ErrorCodeInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrorCodeInternalError  ErrorCode = "INTERNAL_ERROR"
	ErrorCodeTimeout        ErrorCode = "TIMEOUT"
	ErrorCodeRateLimited    ErrorCode = "RATE_LIMITED"

	// Tenant errors
	ErrorCodeTenantNotFound   ErrorCode = "TENANT_NOT_FOUND"
	ErrorCodeTenantNotRunning ErrorCode = "TENANT_NOT_RUNNING"

	// Asset errors
	ErrorCodeInvalidSourceImage  ErrorCode = "INVALID_SOURCE_IMAGE"
	ErrorCodePartialWriteAborted ErrorCode = "PARTIAL_WRITE_ABORTED"

	// Config errors
	ErrorCodeInvalidConfigKey  ErrorCode = "INVALID_CONFIG_KEY"
	ErrorCodeConfigFileInvalid ErrorCode = "CONFIG_FILE_INVALID"

	// Migration errors
	ErrorCodeMigrationValidationFailed   ErrorCode = "MIGRATION_VALIDATION_FAILED"
	ErrorCodeMigrationVerificationFailed ErrorCode = "MIGRATION_VERIFICATION_FAILED"
	ErrorCodeMigrationCutoverIncomplete  ErrorCode = "MIGRATION_CUTOVER_INCOMPLETE"
	ErrorCodeMigrationConflict           ErrorCode = "MIGRATION_CONFLICT"
	ErrorCodeMigrationNotFound           ErrorCode = "MIGRATION_NOT_FOUND"
)

// ErrorResponse represents the standard error response format.
type ErrorResponse struct {
	Status    string    `json:"status"`
	ErrorCode ErrorCode `json:"error_code"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id,omitempty"`
}

// Handler provides error handling functionality.
type Handler struct {
	logger *zap.Logger
}

// NewHandler creates a new error handler.
func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{
		logger: logger,
	}
}

// HandleError classifies an error and writes the appropriate HTTP response.
func (h *Handler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	statusCode := h.StatusForError(err)
	errorCode := h.CodeForError(err)
	requestID := r.Header.Get("X-Request-ID")

	h.WriteErrorResponse(w, statusCode, errorCode, err.Error(), requestID)
}

// StatusForError maps a domain error to an HTTP status code.
func (h *Handler) StatusForError(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var validationErr *service.MigrationValidationError
	var fileErr *envfile.ValidationError

	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case stderrors.Is(err, service.ErrTenantNotFound):
		return http.StatusNotFound
	case stderrors.Is(err, service.ErrMigrationNotFound):
		return http.StatusNotFound
	case stderrors.Is(err, service.ErrTenantNotRunning):
		return http.StatusConflict
	case stderrors.Is(err, service.ErrMigrationConflict):
		return http.StatusConflict
	case stderrors.Is(err, service.ErrNoBackup):
		return http.StatusConflict
	case stderrors.Is(err, variant.ErrInvalidSourceImage):
		return http.StatusBadRequest
	case stderrors.Is(err, envfile.ErrInvalidKey):
		return http.StatusBadRequest
	case stderrors.Is(err, envfile.ErrInvalidValue):
		return http.StatusBadRequest
	case stderrors.As(err, &fileErr):
		return http.StatusBadRequest
	case stderrors.As(err, &validationErr):
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

// CodeForError maps a domain error to an application error code.
func (h *Handler) CodeForError(err error) ErrorCode {
	if err == nil {
		return ErrorCodeUnknown
	}

	var validationErr *service.MigrationValidationError
	var verificationErr *service.MigrationVerificationError
	var cutoverErr *service.CutoverIncompleteError
	var fileErr *envfile.ValidationError

	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return ErrorCodeTimeout
	case stderrors.Is(err, service.ErrTenantNotFound):
		return ErrorCodeTenantNotFound
	case stderrors.Is(err, service.ErrTenantNotRunning):
		return ErrorCodeTenantNotRunning
	case stderrors.Is(err, service.ErrPartialWriteAborted):
		return ErrorCodePartialWriteAborted
	case stderrors.Is(err, service.ErrMigrationNotFound):
		return ErrorCodeMigrationNotFound
	case stderrors.Is(err, service.ErrMigrationConflict):
		return ErrorCodeMigrationConflict
	case stderrors.Is(err, service.ErrNoBackup):
		return ErrorCodeMigrationConflict
	case stderrors.Is(err, variant.ErrInvalidSourceImage):
		return ErrorCodeInvalidSourceImage
	case stderrors.Is(err, envfile.ErrInvalidKey), stderrors.Is(err, envfile.ErrInvalidValue):
		return ErrorCodeInvalidConfigKey
	case stderrors.As(err, &fileErr):
		return ErrorCodeConfigFileInvalid
	case stderrors.As(err, &validationErr):
		return ErrorCodeMigrationValidationFailed
	case stderrors.As(err, &verificationErr):
		return ErrorCodeMigrationVerificationFailed
	case stderrors.As(err, &cutoverErr):
		return ErrorCodeMigrationCutoverIncomplete
	default:
		return ErrorCodeInternalError
	}
}

// WriteErrorResponse writes a formatted error response to the HTTP response writer.
func (h *Handler) WriteErrorResponse(w http.ResponseWriter, statusCode int, errorCode ErrorCode, message string, requestID string) {
	h.logger.Warn("HTTP error response",
		zap.Int("status_code", statusCode),
		zap.String("error_code", string(errorCode)),
		zap.String("message", message),
		zap.String("request_id", requestID),
	)

	resp := ErrorResponse{
		Status:    "error",
		ErrorCode: errorCode,
		Message:   message,
		RequestID: requestID,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

// WriteValidationError writes a validation error response.
func (h *Handler) WriteValidationError(w http.ResponseWriter, message string, requestID string) {
	h.WriteErrorResponse(w, http.StatusBadRequest, ErrorCodeInvalidRequest, message, requestID)
}

// WriteInternalError writes an internal error response.
func (h *Handler) WriteInternalError(w http.ResponseWriter, message string, requestID string) {
	h.WriteErrorResponse(w, http.StatusInternalServerError, ErrorCodeInternalError, message, requestID)
}

// WriteRateLimitedError writes a rate limit exceeded response.
func (h *Handler) WriteRateLimitedError(w http.ResponseWriter, requestID string) {
	h.WriteErrorResponse(w, http.StatusTooManyRequests, ErrorCodeRateLimited, "rate limit exceeded", requestID)
}
