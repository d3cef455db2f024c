package jembatan

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error codes assigned when the failure carries no response.
const (
	CodeNetworkError      = "NETWORK_ERROR"
	CodeRequestSetupError = "REQUEST_SETUP_ERROR"
)

const (
	msgNoResponse    = "No response received from server"
	msgRequestFailed = "Request failed"
	msgSetupFailed   = "Request setup failed"
)

// Sentinel errors matched by ClassifiedError.Is, so callers can write
// errors.Is(err, jembatan.ErrNotFound) without inspecting status codes.
var (
	ErrNetwork      = errors.New("jembatan: no response received")
	ErrRequestSetup = errors.New("jembatan: request setup failed")
	ErrUnauthorized = errors.New("jembatan: unauthorized")
	ErrForbidden    = errors.New("jembatan: forbidden")
	ErrNotFound     = errors.New("jembatan: not found")
	ErrRateLimited  = errors.New("jembatan: rate limited")
	ErrServer       = errors.New("jembatan: server error")
)

// ErrorKind names the category a ClassifiedError falls into.
type ErrorKind string

const (
	KindNetwork     ErrorKind = "network"
	KindSetup       ErrorKind = "setup"
	KindAuth        ErrorKind = "auth"
	KindForbidden   ErrorKind = "forbidden"
	KindNotFound    ErrorKind = "not_found"
	KindRateLimited ErrorKind = "rate_limited"
	KindServer      ErrorKind = "server"
	KindClient      ErrorKind = "client"
	KindUnexpected  ErrorKind = "unexpected"
)

// ResponseError is raised by a Transport when the server answered with a
// status the caller must treat as a failure.
type ResponseError struct {
	Response *Response
	Err      error
}

func (e *ResponseError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Response != nil {
		return fmt.Sprintf("request failed with status code %d", e.Response.Status)
	}
	return msgRequestFailed
}

func (e *ResponseError) Unwrap() error { return e.Err }

// NoResponseError is raised when the request was sent but nothing came back
// (connection reset, DNS failure after dial, per-attempt timeout).
type NoResponseError struct {
	Err error
}

func (e *NoResponseError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return msgNoResponse
}

func (e *NoResponseError) Unwrap() error { return e.Err }

// SetupError is raised when the request could not be built or sent at all.
type SetupError struct {
	Err error
}

func (e *SetupError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return msgSetupFailed
}

func (e *SetupError) Unwrap() error { return e.Err }

// Coder is implemented by errors that carry a machine readable code.
type Coder interface {
	Code() string
}

// ClassifiedError is the single normalized failure shape returned to callers.
// Status is zero when no response was received.
type ClassifiedError struct {
	Message string
	Status  int
	Code    string
	Body    []byte
	Header  http.Header
	Err     error
}

// Classify normalizes any transport failure. Response-carrying failures take
// priority, then no-response failures; everything else is a setup failure.
func Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified
	}

	var respErr *ResponseError
	if errors.As(err, &respErr) {
		return classifyResponse(respErr)
	}

	var noResp *NoResponseError
	if errors.As(err, &noResp) {
		return &ClassifiedError{
			Message: msgNoResponse,
			Code:    CodeNetworkError,
			Err:     err,
		}
	}

	message := msgSetupFailed
	var setupErr *SetupError
	if errors.As(err, &setupErr) {
		if setupErr.Err != nil && setupErr.Err.Error() != "" {
			message = setupErr.Err.Error()
		}
	} else if err.Error() != "" {
		message = err.Error()
	}
	return &ClassifiedError{
		Message: message,
		Code:    CodeRequestSetupError,
		Err:     err,
	}
}

func classifyResponse(respErr *ResponseError) *ClassifiedError {
	ce := &ClassifiedError{Err: respErr}

	if resp := respErr.Response; resp != nil {
		ce.Status = resp.Status
		ce.Body = resp.Body
		ce.Header = resp.Header
		ce.Message, ce.Code = bodyMessageAndCode(resp.Body)
	}

	if ce.Message == "" && respErr.Err != nil {
		ce.Message = respErr.Err.Error()
	}
	if ce.Message == "" {
		ce.Message = msgRequestFailed
	}

	if ce.Code == "" && respErr.Err != nil {
		var coder Coder
		if errors.As(respErr.Err, &coder) {
			ce.Code = coder.Code()
		}
	}
	return ce
}

// bodyMessageAndCode extracts the conventional {"message", "code"} fields
// from a JSON error body. Non-JSON bodies yield empty strings.
func bodyMessageAndCode(body []byte) (string, string) {
	if len(body) == 0 {
		return "", ""
	}
	var payload struct {
		Message any `json:"message"`
		Code    any `json:"code"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", ""
	}
	return scalarString(payload.Message), scalarString(payload.Code)
}

func scalarString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64, bool:
		return fmt.Sprint(val)
	default:
		return ""
	}
}

// HasStatus reports whether a response status was received.
func (e *ClassifiedError) HasStatus() bool { return e != nil && e.Status > 0 }

// IsRetryable is true for 5xx and 429, false when no status is present.
func (e *ClassifiedError) IsRetryable() bool {
	return e.HasStatus() && (e.Status >= 500 || e.Status == http.StatusTooManyRequests)
}

func (e *ClassifiedError) IsAuthError() bool {
	return e.HasStatus() && e.Status == http.StatusUnauthorized
}

func (e *ClassifiedError) IsForbidden() bool {
	return e.HasStatus() && e.Status == http.StatusForbidden
}

func (e *ClassifiedError) IsNotFound() bool {
	return e.HasStatus() && e.Status == http.StatusNotFound
}

func (e *ClassifiedError) IsRateLimited() bool {
	return e.HasStatus() && e.Status == http.StatusTooManyRequests
}

// Kind returns the error category, used for logging and metric labels.
func (e *ClassifiedError) Kind() ErrorKind {
	switch {
	case e == nil:
		return KindUnexpected
	case !e.HasStatus() && e.Code == CodeNetworkError:
		return KindNetwork
	case !e.HasStatus():
		return KindSetup
	case e.IsAuthError():
		return KindAuth
	case e.IsForbidden():
		return KindForbidden
	case e.IsNotFound():
		return KindNotFound
	case e.IsRateLimited():
		return KindRateLimited
	case e.Status >= 500:
		return KindServer
	case e.Status >= 400:
		return KindClient
	default:
		return KindUnexpected
	}
}

// Error implements error interface.
func (e *ClassifiedError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var details []string
	if e.HasStatus() {
		details = append(details, fmt.Sprintf("status %d", e.Status))
	}
	if e.Code != "" {
		details = append(details, "code "+e.Code)
	}
	if len(details) == 0 {
		return "jembatan: " + e.Message
	}
	return fmt.Sprintf("jembatan: %s (%s)", e.Message, strings.Join(details, ", "))
}

// Unwrap returns the underlying transport failure.
func (e *ClassifiedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches the package sentinels by category.
func (e *ClassifiedError) Is(target error) bool {
	if e == nil {
		return false
	}
	switch target {
	case ErrNetwork:
		return e.Kind() == KindNetwork
	case ErrRequestSetup:
		return e.Kind() == KindSetup
	case ErrUnauthorized:
		return e.IsAuthError()
	case ErrForbidden:
		return e.IsForbidden()
	case ErrNotFound:
		return e.IsNotFound()
	case ErrRateLimited:
		return e.IsRateLimited()
	case ErrServer:
		return e.HasStatus() && e.Status >= 500
	}
	return false
}

// ConfigError reports a single invalid configuration field.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("jembatan: invalid config %s: %s", e.Field, e.Message)
}
