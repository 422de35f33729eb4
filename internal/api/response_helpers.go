// internal/api/response_helpers.go
package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/Corphon/AdScriptStudio/internal/errors"
)

// APIResponse is the envelope every JSON endpoint answers with.
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// APIError is the error part of APIResponse.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ResponseHelper writes APIResponse envelopes.
type ResponseHelper struct{}

func NewResponseHelper() *ResponseHelper {
	return &ResponseHelper{}
}

// Success answers 200 with data.
func (rh *ResponseHelper) Success(c *gin.Context, data interface{}, message ...string) {
	rh.write(c, http.StatusOK, data, message)
}

// Created answers 201 with data.
func (rh *ResponseHelper) Created(c *gin.Context, data interface{}, message ...string) {
	rh.write(c, http.StatusCreated, data, message)
}

func (rh *ResponseHelper) write(c *gin.Context, status int, data interface{}, message []string) {
	response := &APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	}
	if len(message) > 0 {
		response.Message = message[0]
	}
	c.JSON(status, response)
}

// sanitizeErrorMessage hides messages that may carry credentials.
func sanitizeErrorMessage(message string) string {
	lower := strings.ToLower(message)
	for _, pattern := range []string{"api_key", "apikey", "secret", "token", "bearer", "password"} {
		if strings.Contains(lower, pattern) {
			return "An internal error occurred"
		}
	}
	return message
}

// Error answers with an error envelope.
func (rh *ResponseHelper) Error(c *gin.Context, statusCode int, errorCode, message string, details ...string) {
	apiError := &APIError{
		Code:    errorCode,
		Message: sanitizeErrorMessage(message),
	}
	if len(details) > 0 {
		apiError.Details = sanitizeErrorMessage(details[0])
	}

	c.JSON(statusCode, &APIResponse{
		Success:   false,
		Error:     apiError,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	})
}

func (rh *ResponseHelper) BadRequest(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusBadRequest, ErrorBadRequest, message, details...)
}

// NotFound reports a missing resource such as "script" or "revision".
func (rh *ResponseHelper) NotFound(c *gin.Context, resource string, details ...string) {
	message := "resource not found"
	if resource != "" {
		message = resource + " not found"
	}
	rh.Error(c, http.StatusNotFound, rh.getResourceNotFoundCode(resource), message, details...)
}

func (rh *ResponseHelper) InternalError(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusInternalServerError, ErrorInternalError, message, details...)
}

// FromError maps a service error onto a status code and error code.
func (rh *ResponseHelper) FromError(c *gin.Context, err error) {
	status, code := statusForError(err)

	message := err.Error()
	details := ""
	var appError *apperrors.AppError
	if errors.As(err, &appError) {
		message = appError.Message
		if appError.Err != nil {
			details = appError.Err.Error()
		}
	}
	if status == http.StatusInternalServerError {
		details = ""
	}
	if details != "" {
		rh.Error(c, status, code, message, details)
		return
	}
	rh.Error(c, status, code, message)
}

// FileResponse sends content as a download.
func (rh *ResponseHelper) FileResponse(c *gin.Context, content []byte, filename, contentType string) {
	c.Header("Content-Disposition", "attachment; filename=\""+filename+"\"")
	c.Data(http.StatusOK, contentType, content)
}

func statusForError(err error) (int, string) {
	switch apperrors.TypeOf(err) {
	case apperrors.ErrorTypeValidation:
		return http.StatusBadRequest, ErrorBadRequest
	case apperrors.ErrorTypeNotFound:
		return http.StatusNotFound, ErrorNotFound
	case apperrors.ErrorTypeConflict:
		return http.StatusConflict, ErrorConflict
	case apperrors.ErrorTypeUnavailable:
		return http.StatusServiceUnavailable, ErrorLLMServiceUnavailable
	case apperrors.ErrorTypeAgent:
		return http.StatusBadGateway, ErrorAgentFailed
	case apperrors.ErrorTypeTimeout:
		return http.StatusGatewayTimeout, ErrorAgentTimeout
	}
	if apperrors.IsTimeoutError(err) {
		return http.StatusGatewayTimeout, ErrorAgentTimeout
	}
	return http.StatusInternalServerError, ErrorInternalError
}

func (rh *ResponseHelper) getRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

func (rh *ResponseHelper) getResourceNotFoundCode(resource string) string {
	switch resource {
	case "script":
		return ErrorScriptNotFound
	case "revision":
		return ErrorRevisionNotFound
	default:
		return ErrorNotFound
	}
}
