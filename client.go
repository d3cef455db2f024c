package jembatan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	cachedStatusText = "OK (cached)"
	// CodeDecodeError marks a successful response whose body could not be decoded.
	CodeDecodeError = "DECODE_ERROR"
)

// Client wraps a Transport with credential injection, token refresh,
// response caching with ETag revalidation, retries and error
// classification. It is safe for concurrent use; all state is owned by the
// instance, so separate clients never share credentials or cache entries.
type Client struct {
	cfg        Config
	baseURL    string
	timeout    time.Duration
	maxRetries int

	transport    Transport
	store        *CredentialStore
	kv           KeyValueStore
	cache        *Cache[*Response]
	retry        *RetryController
	refresher    Refresher
	refreshGroup singleflight.Group
	limiter      *rate.Limiter

	metrics   *MetricsCollector
	tracer    trace.Tracer
	logger    Logger
	now       func() time.Time
	requestID func() string
}

// New validates cfg and constructs a Client. Zero durations in cfg take
// their defaults; functional options override the collaborators.
func New(cfg Config, options ...Option) (*Client, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := &Client{
		cfg:        cfg,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		transport:  NewHTTPTransport(&http.Client{}),
		retry:      NewRetryController(cfg.RetryBaseDelay),
		now:        time.Now,
		requestID:  uuid.NewString,
	}

	for _, option := range options {
		option(client)
	}

	if client.logger == nil {
		client.logger = NewConsoleLogger(cfg.LogLevel)
	}
	if client.tracer == nil {
		client.tracer = noop.NewTracerProvider().Tracer(instrumentationName)
	}
	// Work on a copy so a controller shared between clients is never written to.
	retry := *client.retry
	if retry.now == nil {
		retry.now = client.now
	}
	client.retry = &retry

	storeOpts := []StoreOption{WithStoreLogger(client.logger), WithStoreClock(client.now)}
	if cfg.CredentialPersistence == PersistenceEnvironment {
		if client.kv == nil {
			client.kv = EnvStore{}
		}
		storeOpts = append(storeOpts, WithPersistence(client.kv))
	}
	client.store = NewCredentialStore(storeOpts...)

	if cfg.EnableCaching {
		client.cache = NewCache[*Response](cfg.CacheTTL)
		client.cache.now = client.now
	}

	if cfg.EnableTokenRefresh && client.refresher == nil {
		client.refresher = &EndpointRefresher{
			URL:       client.baseURL + "/" + strings.TrimLeft(cfg.RefreshPath, "/"),
			Transport: client.transport,
			Timeout:   client.timeout,
		}
	}

	return client, nil
}

// Execute runs one logical request through cache lookup, authentication,
// the retry loop, a single refresh-and-replay on 401, 304 revalidation and
// cache write-through. Failures are always *ClassifiedError.
func (c *Client) Execute(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, Classify(&SetupError{Err: errors.New("nil request")})
	}

	r, err := c.resolve(req)
	if err != nil {
		return nil, Classify(&SetupError{Err: err})
	}

	start := time.Now()
	endpoint := endpointOf(r.URL)
	requestID := c.requestID()

	ctx, span := startRequestSpan(ctx, c.tracer, r.Method, endpoint, requestID)

	c.logger.Debug("Starting request", "requestID", requestID, "method", r.Method, "url", r.URL, "endpoint", endpoint)
	c.metrics.RecordRequestStart(r.Method, endpoint)
	defer c.metrics.RecordRequestEnd(r.Method, endpoint)

	cacheable := c.cacheable(r)
	if cacheable {
		if entry, ok := c.cache.Entry(r.URL, r.Method, r.Query); ok && !entry.MustRevalidate {
			resp := servedFromCache(entry.Payload)
			c.logger.Debug("Cache hit", "requestID", requestID, "endpoint", endpoint)
			c.metrics.RecordCacheHit(r.Method, endpoint)
			c.metrics.RecordRequest(r.Method, endpoint, resp.Status, time.Since(start))
			span.succeed(resp, 0)
			return resp, nil
		}
		c.logger.Debug("Cache miss", "requestID", requestID, "endpoint", endpoint)
		c.metrics.RecordCacheMiss(r.Method, endpoint)
	}

	resp, attempts, cerr := c.run(ctx, r, requestID, endpoint, cacheable, span)
	if cerr != nil {
		c.logger.Error("Request failed", "requestID", requestID, "method", r.Method, "endpoint", endpoint,
			"kind", cerr.Kind(), "status", cerr.Status, "code", cerr.Code, "attempts", attempts, "error", cerr.Message)
		c.metrics.RecordError(cerr.Kind(), r.Method, endpoint)
		c.metrics.RecordRequest(r.Method, endpoint, cerr.Status, time.Since(start))
		span.fail(cerr, attempts)
		return nil, cerr
	}

	c.metrics.RecordRequest(r.Method, endpoint, resp.Status, time.Since(start))
	span.succeed(resp, attempts)
	return resp, nil
}

// run is the attempt loop. attempt is the retry index; a refresh replay
// reuses the index of the attempt that got the 401.
func (c *Client) run(ctx context.Context, r *Request, requestID, endpoint string, cacheable bool, span *requestSpan) (*Response, int, *ClassifiedError) {
	maxRetries := c.maxRetries
	if r.MaxRetries != nil {
		maxRetries = *r.MaxRetries
	}
	timeout := c.timeout
	if r.Timeout > 0 {
		timeout = r.Timeout
	}

	refreshed := false
	sent := 0
	attempt := 0
	for {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, sent, Classify(&SetupError{Err: fmt.Errorf("rate limiter: %w", err)})
			}
		}

		resp, err := c.send(ctx, r, cacheable, timeout)
		sent++

		if err == nil {
			c.logger.Debug("Response received", "requestID", requestID, "status", resp.Status, "attempt", attempt)
			if cacheable && resp.Status == http.StatusOK {
				c.store200(r, resp, requestID)
			}
			return resp, sent, nil
		}

		cerr := Classify(err)
		c.logger.Debug("Attempt failed", "requestID", requestID, "attempt", attempt, "status", cerr.Status, "kind", cerr.Kind())

		if cerr.IsAuthError() && c.refreshEnabled() && !r.SkipAuth && !refreshed {
			refreshed = true
			if rerr := c.refreshCredential(ctx, requestID); rerr == nil {
				span.event("token.refreshed")
				continue
			}
			span.event("token.refresh_failed")
		}

		if cacheable && isNotModified(cerr.Status) {
			if cached, ok := c.cache.Get(r.URL, r.Method, r.Query); ok {
				c.logger.Debug("Not modified, serving cached response", "requestID", requestID, "endpoint", endpoint)
				c.metrics.RecordCacheRevalidated(r.Method, endpoint)
				return servedFromCache(cached), sent, nil
			}
		}

		if ctx.Err() != nil {
			return nil, sent, cerr
		}

		delay, retry := c.retry.Decide(attempt, maxRetries, cerr)
		if !retry {
			return nil, sent, cerr
		}

		c.logger.Warn("Retry scheduled", "requestID", requestID, "attempt", attempt+1, "maxRetries", maxRetries,
			"delay", delay, "error", cerr.Message)
		c.metrics.RecordRetry(r.Method, endpoint, attempt+1)
		span.event("retry.scheduled",
			attribute.Int("attempt", attempt+1),
			attribute.Int64("delay_ms", delay.Milliseconds()),
		)

		if err := c.retry.Wait(ctx, delay); err != nil {
			return nil, sent, cerr
		}
		attempt++
	}
}

// send performs one transport call with headers recomputed from the current
// credential state.
func (c *Client) send(ctx context.Context, r *Request, cacheable bool, timeout time.Duration) (*Response, error) {
	out := *r
	out.Header = r.Header.Clone()
	if out.Header == nil {
		out.Header = make(http.Header)
	}

	if !r.SkipAuth {
		if auth, ok := c.store.AuthorizationHeader(); ok {
			out.Header.Set("Authorization", auth)
		} else if c.cfg.APIKey != "" {
			out.Header.Set(c.cfg.APIKeyHeader, c.cfg.APIKey)
		}
	}
	if cacheable {
		if token, ok := c.cache.RevalidationToken(r.URL, r.Method, r.Query); ok {
			addConditionalHeader(out.Header, token)
		}
	}
	injectTraceContext(ctx, out.Header)

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.transport.Send(attemptCtx, &out)
}

func (c *Client) store200(r *Request, resp *Response, requestID string) {
	if !storable(resp.Header) {
		c.logger.Debug("Response not cached", "requestID", requestID, "cacheControl", resp.Header.Get("Cache-Control"))
		return
	}
	token := revalidationTokenFrom(resp.Header)
	opts := []CacheSetOption{WithRevalidationToken(token)}
	if mustRevalidate(resp.Header) {
		opts = append(opts, WithMustRevalidate())
	}
	c.cache.Set(r.URL, r.Method, cloneResponse(resp), r.Query, opts...)
	c.metrics.RecordCacheSize(c.cache.Len())
	c.logger.Debug("Response cached", "requestID", requestID, "ttl", c.cfg.CacheTTL, "etag", token)
}

func (c *Client) refreshEnabled() bool {
	return c.cfg.EnableTokenRefresh && c.refresher != nil
}

func (c *Client) cacheable(r *Request) bool {
	return c.cache != nil && !r.SkipCache && r.Method == http.MethodGet
}

// resolve copies req, normalizes the method, makes the URL absolute and
// buffers reader bodies so retries can resend them.
func (c *Client) resolve(req *Request) (*Request, error) {
	r := req.clone()
	r.Method = strings.ToUpper(r.Method)
	if r.Method == "" {
		r.Method = http.MethodGet
	}
	r.URL = c.resolveURL(r.URL)

	if reader, ok := r.Body.(io.Reader); ok {
		raw, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("reading request body: %w", err)
		}
		r.Body = raw
	}
	return r, nil
}

func (c *Client) resolveURL(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.IsAbs() {
		return raw
	}
	if raw == "" {
		return c.baseURL
	}
	return c.baseURL + "/" + strings.TrimLeft(raw, "/")
}

// Get performs a GET.
func (c *Client) Get(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Execute(ctx, newRequest(http.MethodGet, path, nil, opts))
}

// Post performs a POST; body follows the Request.Body encoding rules.
func (c *Client) Post(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return c.Execute(ctx, newRequest(http.MethodPost, path, body, opts))
}

// Put performs a PUT.
func (c *Client) Put(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return c.Execute(ctx, newRequest(http.MethodPut, path, body, opts))
}

// Patch performs a PATCH.
func (c *Client) Patch(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return c.Execute(ctx, newRequest(http.MethodPatch, path, body, opts))
}

// Delete performs a DELETE.
func (c *Client) Delete(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Execute(ctx, newRequest(http.MethodDelete, path, nil, opts))
}

func newRequest(method, path string, body any, opts []RequestOption) *Request {
	r := &Request{Method: method, URL: path, Body: body}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do executes req and decodes a JSON body into T.
func Do[T any](ctx context.Context, c *Client, req *Request) (*TypedResponse[T], error) {
	resp, err := c.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	return DecodeJSON[T](resp)
}

// GetJSON is Do for a GET of path.
func GetJSON[T any](ctx context.Context, c *Client, path string, opts ...RequestOption) (*TypedResponse[T], error) {
	return Do[T](ctx, c, newRequest(http.MethodGet, path, nil, opts))
}

// DecodeJSON decodes resp.Body into T. An empty body yields the zero value.
func DecodeJSON[T any](resp *Response) (*TypedResponse[T], error) {
	typed := &TypedResponse[T]{Response: resp}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return typed, nil
	}
	if err := json.Unmarshal(resp.Body, &typed.Data); err != nil {
		return nil, &ClassifiedError{
			Message: fmt.Sprintf("decoding response body: %v", err),
			Status:  resp.Status,
			Code:    CodeDecodeError,
			Body:    resp.Body,
			Header:  resp.Header,
			Err:     err,
		}
	}
	return typed, nil
}

// SetCredential installs a credential, replacing any previous one.
func (c *Client) SetCredential(cred Credential) {
	c.store.SetCredential(cred)
}

// ClearCredential drops the credential and any persisted copy.
func (c *Client) ClearCredential() {
	c.store.ClearCredential()
}

// Credentials exposes the client's credential store.
func (c *Client) Credentials() *CredentialStore {
	return c.store
}

// Cache returns the response cache, or nil when caching is disabled.
func (c *Client) Cache() *Cache[*Response] {
	return c.cache
}

// ClearCache deletes every cached response.
func (c *Client) ClearCache() {
	if c.cache == nil {
		return
	}
	c.cache.Clear()
	c.metrics.RecordCacheSize(0)
}

// InvalidateCache deletes the cached GET response for path and query.
func (c *Client) InvalidateCache(path string, query map[string]any) {
	if c.cache == nil {
		return
	}
	c.cache.Invalidate(c.resolveURL(path), http.MethodGet, query)
	c.metrics.RecordCacheSize(c.cache.Len())
}

// CleanupCache evicts expired responses and returns how many were removed.
func (c *Client) CleanupCache() int {
	if c.cache == nil {
		return 0
	}
	evicted := c.cache.Cleanup()
	c.metrics.RecordCacheSize(c.cache.Len())
	return evicted
}

func servedFromCache(cached *Response) *Response {
	resp := cloneResponse(cached)
	resp.Status = http.StatusOK
	resp.StatusText = cachedStatusText
	resp.Cached = true
	return resp
}

func cloneResponse(resp *Response) *Response {
	cp := *resp
	cp.Header = resp.Header.Clone()
	cp.Body = bytes.Clone(resp.Body)
	return &cp
}

// endpointOf reduces a URL to host+path for metric labels.
func endpointOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "unknown"
	}

	var builder strings.Builder
	builder.WriteString(u.Host)
	if u.Path != "" && u.Path != "/" {
		builder.WriteString(u.Path)
	} else {
		builder.WriteByte('/')
	}
	return builder.String()
}
