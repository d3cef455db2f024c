package jembatan

import (
	"net/http"
	"time"
)

// Request describes one logical call. URL may be absolute or relative to
// the client's base address. Query values and Body are serialized by the
// Transport; Body may be []byte, string, io.Reader or any JSON-encodable value.
type Request struct {
	Method  string
	URL     string
	Header  http.Header
	Query   map[string]any
	Body    any
	Timeout time.Duration
	// MaxRetries overrides the client default when non-nil.
	MaxRetries *int
	SkipAuth   bool
	SkipCache  bool
}

// Response is the fully read result of a request.
type Response struct {
	Status     int
	StatusText string
	Header     http.Header
	Body       []byte
	// Cached is true when the body was served from the response cache,
	// either directly or after a 304 revalidation.
	Cached bool
}

// TypedResponse carries a decoded JSON body alongside the raw response.
type TypedResponse[T any] struct {
	*Response
	Data T
}

// RequestOption customizes a Request built by the Client helpers.
type RequestOption func(*Request)

// Option represents a client configuration option.
type Option func(*Client)

// WithQuery adds query parameters; they also participate in the cache key.
func WithQuery(params map[string]any) RequestOption {
	return func(r *Request) {
		if r.Query == nil {
			r.Query = make(map[string]any, len(params))
		}
		for k, v := range params {
			r.Query[k] = v
		}
	}
}

// WithHeader sets a request header.
func WithHeader(key, value string) RequestOption {
	return func(r *Request) {
		if r.Header == nil {
			r.Header = make(http.Header)
		}
		r.Header.Set(key, value)
	}
}

// WithRequestTimeout overrides the per-attempt timeout.
func WithRequestTimeout(d time.Duration) RequestOption {
	return func(r *Request) {
		r.Timeout = d
	}
}

// WithRequestMaxRetries overrides the retry bound for this request only.
func WithRequestMaxRetries(n int) RequestOption {
	return func(r *Request) {
		r.MaxRetries = Retries(n)
	}
}

// WithSkipAuth sends the request without any authorization header.
func WithSkipAuth() RequestOption {
	return func(r *Request) {
		r.SkipAuth = true
	}
}

// WithSkipCache bypasses the response cache for both lookup and write.
func WithSkipCache() RequestOption {
	return func(r *Request) {
		r.SkipCache = true
	}
}

// Retries returns a pointer suitable for Request.MaxRetries.
func Retries(n int) *int {
	return &n
}

func (r *Request) clone() *Request {
	cp := *r
	cp.Header = r.Header.Clone()
	if r.Query != nil {
		cp.Query = make(map[string]any, len(r.Query))
		for k, v := range r.Query {
			cp.Query[k] = v
		}
	}
	return &cp
}
