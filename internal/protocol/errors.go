package protocol

import "fmt"

// ErrorType is the top-level classification of an error event.
type ErrorType string

const (
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	ErrorTypeAuthentication ErrorType = "authentication_error"
	ErrorTypeSession        ErrorType = "session_error"
	ErrorTypeRateLimit      ErrorType = "rate_limit_error"
	ErrorTypeServer         ErrorType = "server_error"
)

// Error codes carried in the "code" field.
const (
	CodeInvalidJSON            = "invalid_json"
	CodeInvalidEventType       = "invalid_event_type"
	CodeMissingParameter       = "missing_required_parameter"
	CodeUnknownParameter       = "unknown_parameter"
	CodeInvalidType            = "invalid_type"
	CodeInvalidValue           = "invalid_value"
	CodeInvalidAudio           = "invalid_audio"
	CodeBufferFull             = "input_audio_buffer_full"
	CodeBufferCommitEmpty      = "input_audio_buffer_commit_empty"
	CodeSemanticVADUnavailable = "semantic_vad_unavailable"
	CodeItemNotFound           = "item_not_found"
	CodeItemIDConflict         = "item_id_conflict"
	CodeInvalidItem            = "invalid_item"
	CodeCancelNotActive        = "response_cancel_not_active"
	CodeActiveResponse         = "conversation_already_has_active_response"
	CodeRateLimitExceeded      = "rate_limit_exceeded"
	CodeSessionLimitReached    = "session_limit_reached"
	CodeSessionNotFound        = "session_not_found"
	CodeShuttingDown           = "server_shutting_down"
	CodeInvalidAPIKey          = "invalid_api_key"
	CodeMissingBetaHeader      = "missing_beta_header"
	CodeSessionTerminated      = "session_terminated"
	CodeOutboundQueueOverflow  = "outbound_queue_overflow"
	CodeInternal               = "internal_error"
	CodeTranscriptionFailed    = "transcription_failed"
	CodeProviderUnavailable    = "provider_unavailable"
)

// Error is the canonical error payload. It is both the "error" object of an
// error event and a Go error, so handlers can return it directly.
type Error struct {
	Type    ErrorType `json:"type"`
	Code    string    `json:"code,omitempty"`
	Message string    `json:"message"`
	Param   string    `json:"param,omitempty"`
	EventID string    `json:"event_id,omitempty"`

	// Fatal errors close the connection after the error event is written.
	Fatal bool `json:"-"`

	cause error
}

func (e *Error) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s (%s, param %s): %s", e.Type, e.Code, e.Param, e.Message)
	}
	return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
}

// Unwrap returns the error attached with [Error.Wrap], so package sentinels
// stay matchable with errors.Is.
func (e *Error) Unwrap() error { return e.cause }

// Wrap returns a copy of e that unwraps to cause.
func (e *Error) Wrap(cause error) *Error {
	c := *e
	c.cause = cause
	return &c
}

// WithParam returns a copy of e naming the offending field.
func (e *Error) WithParam(param string) *Error {
	c := *e
	c.Param = param
	return &c
}

// WithEventID returns a copy of e referencing the client event that caused it.
func (e *Error) WithEventID(id string) *Error {
	c := *e
	c.EventID = id
	return &c
}

// AsFatal returns a copy of e that closes the connection.
func (e *Error) AsFatal() *Error {
	c := *e
	c.Fatal = true
	return &c
}

func newError(t ErrorType, code, format string, args ...any) *Error {
	return &Error{Type: t, Code: code, Message: fmt.Sprintf(format, args...)}
}

// InvalidRequest builds an invalid_request_error.
func InvalidRequest(code, format string, args ...any) *Error {
	return newError(ErrorTypeInvalidRequest, code, format, args...)
}

// AuthError builds a fatal authentication_error.
func AuthError(code, format string, args ...any) *Error {
	return newError(ErrorTypeAuthentication, code, format, args...).AsFatal()
}

// SessionError builds a session_error.
func SessionError(code, format string, args ...any) *Error {
	return newError(ErrorTypeSession, code, format, args...)
}

// RateLimited builds a rate_limit_error.
func RateLimited(code, format string, args ...any) *Error {
	return newError(ErrorTypeRateLimit, code, format, args...)
}

// ServerError builds a server_error.
func ServerError(code, format string, args ...any) *Error {
	return newError(ErrorTypeServer, code, format, args...)
}
