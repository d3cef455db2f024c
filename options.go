package jembatan

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// Default configuration values.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultAPIKeyHeader = "X-API-Key"
	DefaultLogLevel     = "info"
)

// Config is the public configuration surface. Zero durations fall back to
// defaults in New; MaxRetries is taken literally, so use DefaultConfig or
// ConfigFromEnv to get the default of 3.
type Config struct {
	BaseURL               string          `env:"BASE_URL"`
	Timeout               time.Duration   `env:"TIMEOUT" envDefault:"30s"`
	MaxRetries            int             `env:"MAX_RETRIES" envDefault:"3"`
	RetryBaseDelay        time.Duration   `env:"RETRY_BASE_DELAY" envDefault:"1s"`
	APIKey                string          `env:"API_KEY"`
	APIKeyHeader          string          `env:"API_KEY_HEADER" envDefault:"X-API-Key"`
	CredentialPersistence PersistenceMode `env:"CREDENTIAL_PERSISTENCE" envDefault:"memory"`
	EnableCaching         bool            `env:"ENABLE_CACHING" envDefault:"false"`
	CacheTTL              time.Duration   `env:"CACHE_TTL" envDefault:"5m"`
	EnableTokenRefresh    bool            `env:"ENABLE_TOKEN_REFRESH" envDefault:"false"`
	RefreshPath           string          `env:"REFRESH_PATH" envDefault:"/auth/refresh"`
	LogLevel              string          `env:"LOG_LEVEL" envDefault:"info"`
}

// DefaultConfig returns the documented defaults for baseURL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:               baseURL,
		Timeout:               DefaultTimeout,
		MaxRetries:            DefaultMaxRetries,
		RetryBaseDelay:        DefaultRetryBaseDelay,
		APIKeyHeader:          DefaultAPIKeyHeader,
		CredentialPersistence: PersistenceMemory,
		CacheTTL:              DefaultCacheTTL,
		RefreshPath:           DefaultRefreshPath,
		LogLevel:              DefaultLogLevel,
	}
}

// ConfigFromEnv reads Config from the environment. Every variable name is
// prefixed with prefix, e.g. "MYAPI_" reads MYAPI_BASE_URL.
func ConfigFromEnv(prefix string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: prefix}); err != nil {
		return Config{}, fmt.Errorf("parsing environment: %w", err)
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = DefaultAPIKeyHeader
	}
	if cfg.CredentialPersistence == "" {
		cfg.CredentialPersistence = PersistenceMemory
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.RefreshPath == "" {
		cfg.RefreshPath = DefaultRefreshPath
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
}

// Validate reports every invalid field, joined into one error.
func (cfg Config) Validate() error {
	var errs []error

	if cfg.BaseURL == "" {
		errs = append(errs, &ConfigError{Field: "BaseURL", Message: "is required"})
	} else if u, err := url.Parse(cfg.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, &ConfigError{Field: "BaseURL", Message: "must be an absolute http(s) URL"})
	}
	if cfg.Timeout < 0 {
		errs = append(errs, &ConfigError{Field: "Timeout", Message: "must not be negative"})
	}
	if cfg.MaxRetries < 0 {
		errs = append(errs, &ConfigError{Field: "MaxRetries", Message: "must be non-negative"})
	}
	if cfg.RetryBaseDelay < 0 {
		errs = append(errs, &ConfigError{Field: "RetryBaseDelay", Message: "must not be negative"})
	}
	if cfg.CacheTTL < 0 {
		errs = append(errs, &ConfigError{Field: "CacheTTL", Message: "must not be negative"})
	}
	switch cfg.CredentialPersistence {
	case "", PersistenceMemory, PersistenceEnvironment:
	default:
		errs = append(errs, &ConfigError{
			Field:   "CredentialPersistence",
			Message: fmt.Sprintf("unknown mode %q (want memory or environment)", cfg.CredentialPersistence),
		})
	}
	if _, err := parseLogLevel(cfg.LogLevel); err != nil {
		errs = append(errs, &ConfigError{Field: "LogLevel", Message: err.Error()})
	}

	return errors.Join(errs...)
}

// WithTransport replaces the HTTP transport, e.g. with a test double.
func WithTransport(t Transport) Option {
	return func(c *Client) {
		c.transport = t
	}
}

// WithHTTPClient sends requests through a custom *http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.transport = NewHTTPTransport(client)
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics enables Prometheus metrics on the default registerer.
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsRegistry enables Prometheus metrics on registry.
func WithMetricsRegistry(registry prometheus.Registerer) Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollectorWithRegistry(registry)
	}
}

// WithMetricsCollector sets a custom metrics collector
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithTracerProvider enables one span per logical request.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		if tp != nil {
			c.tracer = tp.Tracer(instrumentationName, trace.WithInstrumentationVersion(Version))
		}
	}
}

// WithRateLimit throttles outgoing attempts to r per second with the given burst.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(r, burst)
	}
}

// WithRefresher replaces the default refresh endpoint call.
func WithRefresher(r Refresher) Option {
	return func(c *Client) {
		c.refresher = r
	}
}

// WithKeyValueStore sets where the credential is persisted in environment
// persistence mode. The default is EnvStore{}.
func WithKeyValueStore(kv KeyValueStore) Option {
	return func(c *Client) {
		c.kv = kv
	}
}

// WithClock overrides the time source for credential expiry and cache freshness.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithRequestIDGenerator sets a custom function for generating request IDs
func WithRequestIDGenerator(gen func() string) Option {
	return func(c *Client) {
		if gen != nil {
			c.requestID = gen
		}
	}
}

// WithRetryController replaces the retry decision and wait policy.
func WithRetryController(rc *RetryController) Option {
	return func(c *Client) {
		if rc != nil {
			c.retry = rc
		}
	}
}
