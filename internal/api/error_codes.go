// internal/api/error_codes.go
package api

// error codes surfaced in APIError.Code
const (
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorConflict      = "CONFLICT"

	ErrorScriptNotFound   = "SCRIPT_NOT_FOUND"
	ErrorRevisionNotFound = "REVISION_NOT_FOUND"
	ErrorInvalidBrief     = "INVALID_BRIEF"
	ErrorInvalidRefine    = "INVALID_REFINE_REQUEST"

	ErrorLLMServiceUnavailable = "LLM_SERVICE_UNAVAILABLE"
	ErrorLLMConfigInvalid      = "LLM_CONFIG_INVALID"
	ErrorConnectionFailed      = "CONNECTION_FAILED"
	ErrorAgentFailed           = "AGENT_ERROR"
	ErrorAgentTimeout          = "AGENT_TIMEOUT"

	ErrorAudioUnavailable = "AUDIO_UNAVAILABLE"
	ErrorExportFailed     = "EXPORT_FAILED"

	ErrorRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
)
