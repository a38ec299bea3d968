package modelstream

import (
	"errors"
	"net/http"
	"strings"
)

// FailoverReason categorizes why a model stream failed, shared by every
// provider adapter so the Turn Loop's retry policy (spec.md §4.8) does not
// need to know each SDK's error shape.
type FailoverReason string

const (
	FailoverBilling          FailoverReason = "billing"
	FailoverRateLimit        FailoverReason = "rate_limit"
	FailoverAuth             FailoverReason = "auth"
	FailoverTimeout          FailoverReason = "timeout"
	FailoverServerError      FailoverReason = "server_error"
	FailoverInvalidRequest   FailoverReason = "invalid_request"
	FailoverModelUnavailable FailoverReason = "model_unavailable"
	FailoverContentFilter    FailoverReason = "content_filter"
	FailoverUnknown          FailoverReason = "unknown"
)

// IsRetryable reports whether a stream error of this reason is worth
// retrying against the same provider.
func (r FailoverReason) IsRetryable() bool {
	switch r {
	case FailoverRateLimit, FailoverTimeout, FailoverServerError:
		return true
	default:
		return false
	}
}

// StreamError wraps a model stream failure with enough context for the
// Turn Loop to decide whether to retry, and with what delay.
type StreamError struct {
	Provider  string
	Model     string
	Status    int
	Code      string
	Message   string
	RequestID string
	Reason    FailoverReason

	// RetryAfter is a provider-hinted delay (e.g. from a Retry-After
	// header); zero means the caller should fall back to its own backoff.
	RetryAfter int64

	Cause error
}

func (e *StreamError) Error() string {
	var parts []string
	parts = append(parts, "["+string(e.Reason)+"]")
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Status != 0 {
		parts = append(parts, http.StatusText(e.Status))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *StreamError) Unwrap() error { return e.Cause }

// NewStreamError classifies cause by message content, then lets status/code
// refine the classification.
func NewStreamError(provider, model string, cause error) *StreamError {
	se := &StreamError{Provider: provider, Model: model, Cause: cause, Reason: FailoverUnknown}
	if cause != nil {
		se.Message = cause.Error()
		se.Reason = ClassifyError(cause)
	}
	return se
}

func (e *StreamError) WithStatus(status int) *StreamError {
	e.Status = status
	e.Reason = classifyStatusCode(status)
	return e
}

func (e *StreamError) WithCode(code string) *StreamError {
	e.Code = code
	if r := classifyErrorCode(code); r != FailoverUnknown {
		e.Reason = r
	}
	return e
}

// ClassifyError inspects an error's message for known patterns when the
// provider SDK doesn't expose a structured status/code (spec.md §4.8's
// "hinted delay, else exponential backoff" retry policy needs at least a
// retryable/non-retryable verdict to act on).
func ClassifyError(err error) FailoverReason {
	if err == nil {
		return FailoverUnknown
	}
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "etimedout"):
		return FailoverTimeout
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "rate_limit"), strings.Contains(msg, "too many requests"), strings.Contains(msg, "429"):
		return FailoverRateLimit
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "invalid api key"), strings.Contains(msg, "authentication"), strings.Contains(msg, "401"), strings.Contains(msg, "403"):
		return FailoverAuth
	case strings.Contains(msg, "billing"), strings.Contains(msg, "payment"), strings.Contains(msg, "quota"), strings.Contains(msg, "402"):
		return FailoverBilling
	case strings.Contains(msg, "content_filter"), strings.Contains(msg, "content policy"), strings.Contains(msg, "blocked"):
		return FailoverContentFilter
	case strings.Contains(msg, "model not found"), strings.Contains(msg, "does not exist"), strings.Contains(msg, "unavailable"):
		return FailoverModelUnavailable
	case strings.Contains(msg, "internal server"), strings.Contains(msg, "server error"), strings.Contains(msg, "500"), strings.Contains(msg, "502"), strings.Contains(msg, "503"), strings.Contains(msg, "504"):
		return FailoverServerError
	default:
		return FailoverUnknown
	}
}

func classifyStatusCode(status int) FailoverReason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return FailoverAuth
	case status == http.StatusPaymentRequired:
		return FailoverBilling
	case status == http.StatusTooManyRequests:
		return FailoverRateLimit
	case status == http.StatusBadRequest:
		return FailoverInvalidRequest
	case status == http.StatusNotFound:
		return FailoverModelUnavailable
	case status >= 500:
		return FailoverServerError
	default:
		return FailoverUnknown
	}
}

func classifyErrorCode(code string) FailoverReason {
	switch strings.ToLower(code) {
	case "rate_limit_error", "rate_limit_exceeded":
		return FailoverRateLimit
	case "authentication_error", "invalid_api_key":
		return FailoverAuth
	case "billing_error", "insufficient_quota":
		return FailoverBilling
	case "model_not_found", "model_not_available":
		return FailoverModelUnavailable
	case "content_policy_violation", "content_filter":
		return FailoverContentFilter
	case "server_error", "internal_error":
		return FailoverServerError
	case "invalid_request_error":
		return FailoverInvalidRequest
	default:
		return FailoverUnknown
	}
}

// IsRetryable reports whether err (a *StreamError or any error) should be
// retried under spec.md §4.8's retry policy.
func IsRetryable(err error) bool {
	var se *StreamError
	if errors.As(err, &se) {
		return se.Reason.IsRetryable()
	}
	return ClassifyError(err).IsRetryable()
}
