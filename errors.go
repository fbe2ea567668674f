package agentpod

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// Sentinel errors. All but ErrEmptyResponse are returned before any backend
// call is made.
var (
	ErrNoMessages    = errors.New("no messages")
	ErrEmptyContent  = errors.New("message content is empty")
	ErrInvalidRole   = errors.New("invalid message role")
	ErrNegativeCost  = errors.New("cost must be a non-negative number")
	ErrEmptyResponse = errors.New("backend returned an empty reply")
)

// Backend error codes. A BackendError always carries one of these.
const (
	ErrCodeAuthentication = "authentication_error"
	ErrCodeRateLimit      = "rate_limit_exceeded"
	ErrCodeModelNotFound  = "model_not_found"
	ErrCodeInvalidRequest = "invalid_request"
	ErrCodeContextLength  = "context_length_exceeded"
	ErrCodeServerError    = "server_error"
	ErrCodeTimeout        = "timeout"
	ErrCodeTransport      = "transport_error"
)

// ConfigurationError reports a missing or invalid client setting.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Message)
}

// BackendError is a failure talking to the LLM backend. No cost is recorded
// for a call the backend rejected or never answered. A reply that arrives
// without usable content is billed and reported with ErrCodeServerError
// wrapping ErrEmptyResponse.
type BackendError struct {
	Code       string
	Message    string
	StatusCode int
	Err        error
}

func (e *BackendError) Error() string {
	msg := "llm backend: " + e.Code
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil && (e.Message == "" || !strings.Contains(e.Err.Error(), e.Message)) {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// EmptyResponseError reports a reply that carried nothing usable.
func EmptyResponseError(detail string) *BackendError {
	return &BackendError{Code: ErrCodeServerError, Message: detail, Err: ErrEmptyResponse}
}

// SearchError is a failure talking to a search backend.
type SearchError struct {
	Backend    string
	StatusCode int
	Err        error
}

func (e *SearchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("search %s: http %d: %v", e.Backend, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("search %s: %v", e.Backend, e.Err)
}

func (e *SearchError) Unwrap() error {
	return e.Err
}

// SchemaValidationError reports a reply that does not fit the requested
// output schema. Raw holds the backend text so callers can log or repair it.
type SchemaValidationError struct {
	Schema string
	Raw    string
	Err    error
}

func (e *SchemaValidationError) Error() string {
	raw := e.Raw
	if len(raw) > 200 {
		raw = raw[:200] + "..."
	}
	return fmt.Sprintf("reply does not match schema %s: %v (raw: %q)", e.Schema, e.Err, raw)
}

func (e *SchemaValidationError) Unwrap() error {
	return e.Err
}

// IsAuthenticationError reports whether err is an authentication failure.
func IsAuthenticationError(err error) bool {
	return hasCode(err, ErrCodeAuthentication)
}

// IsRateLimitError reports whether err is a rate-limit error.
func IsRateLimitError(err error) bool {
	return hasCode(err, ErrCodeRateLimit)
}

// IsContextLengthError reports whether err is a context-length-exceeded error.
func IsContextLengthError(err error) bool {
	return hasCode(err, ErrCodeContextLength)
}

// IsTimeoutError reports whether err is a timeout or cancellation.
func IsTimeoutError(err error) bool {
	return hasCode(err, ErrCodeTimeout)
}

// IsRetryable reports whether the error is transient and the call may succeed on retry.
func IsRetryable(err error) bool {
	var se *SearchError
	if errors.As(err, &se) {
		return se.StatusCode == 0 || se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}
	return IsRateLimitError(err) || hasCode(err, ErrCodeServerError) || IsTimeoutError(err) || hasCode(err, ErrCodeTransport)
}

func hasCode(err error, code string) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Code == code
}

// mapBackendError translates go-openai and network errors into *BackendError.
func mapBackendError(err error) error {
	if err == nil {
		return nil
	}
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &BackendError{Code: ErrCodeTimeout, Message: "request timed out or cancelled", Err: err}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode, apiErr.Type, codeString(apiErr.Code), apiErr.Message, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode, "", "", strings.TrimSpace(string(reqErr.Body)), err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &BackendError{Code: ErrCodeTimeout, Message: "network timeout", Err: err}
	}
	msg := err.Error()
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "dial tcp") {
		return &BackendError{Code: ErrCodeTransport, Message: "backend unreachable", Err: err}
	}
	return &BackendError{Code: ErrCodeTransport, Err: err}
}

func classifyStatus(status int, typ, code, message string, err error) *BackendError {
	lower := strings.ToLower(message)
	be := &BackendError{Message: message, StatusCode: status, Err: err}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		be.Code = ErrCodeAuthentication
	case status == http.StatusTooManyRequests:
		be.Code = ErrCodeRateLimit
	case status == http.StatusNotFound && strings.Contains(lower, "model"):
		be.Code = ErrCodeModelNotFound
	case code == "context_length_exceeded" || typ == "context_length_exceeded" ||
		strings.Contains(lower, "context length"):
		be.Code = ErrCodeContextLength
	case status >= 500:
		be.Code = ErrCodeServerError
	case status >= 400:
		be.Code = ErrCodeInvalidRequest
	default:
		be.Code = ErrCodeTransport
	}
	return be
}

func codeString(code any) string {
	switch v := code.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
