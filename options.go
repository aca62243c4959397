package kunci

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WithCredentialMode selects cookie or storage based credentials
func WithCredentialMode(mode CredentialMode) Option {
	return func(c *Client) {
		c.credentialMode = mode
	}
}

// WithCredentialFetcher sets the accessor for current credentials (storage mode)
func WithCredentialFetcher(fn CredentialFetcher) Option {
	return func(c *Client) {
		c.fetchCredentials = fn
	}
}

// WithAuthExpiredPredicate sets the classifier for expired-credential failures
func WithAuthExpiredPredicate(fn AuthExpiredPredicate) Option {
	return func(c *Client) {
		c.isAuthExpired = fn
	}
}

// WithRenewalURL sets the renewal endpoint. It must use https.
func WithRenewalURL(renewalURL string) Option {
	return func(c *Client) {
		c.renewalURL = renewalURL
	}
}

// WithRenewalMethod overrides the HTTP method of the renewal call (POST)
func WithRenewalMethod(method string) Option {
	return func(c *Client) {
		c.renewalMethod = method
	}
}

// WithRenewalCodec overrides how renewal requests and responses are encoded
func WithRenewalCodec(codec RenewalCodec) Option {
	return func(c *Client) {
		c.renewalCodec = codec
	}
}

// WithRenewalSucceeded sets the callback persisting renewed credentials
func WithRenewalSucceeded(fn RenewalSucceededFunc) Option {
	return func(c *Client) {
		c.onRenewed = fn
	}
}

// WithRenewalFailed sets the callback notified of a failed renewal
func WithRenewalFailed(fn RenewalFailedFunc) Option {
	return func(c *Client) {
		c.onRenewalFailed = fn
	}
}

// WithMissingRequestContextError overrides the error returned for failures
// that carry no request
func WithMissingRequestContextError(err error) Option {
	return func(c *Client) {
		c.missingRequestErr = err
	}
}

// WithEncryption enables the encryption gate. Repeated calls merge their
// non-zero fields, so policy and transforms can come from different places. A
// later ResponseMethodsAll overrides an earlier ResponseMethodsGET.
func WithEncryption(config EncryptionConfig) Option {
	return func(c *Client) {
		if c.encryption == nil {
			c.encryption = &EncryptionConfig{}
		}
		c.encryption.merge(config)
	}
}

// WithStatusValidator sets which response statuses count as success
func WithStatusValidator(fn StatusValidator) Option {
	return func(c *Client) {
		c.statusValidator = fn
	}
}

// WithTimeout sets the request timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
		if c.httpClient != nil {
			c.httpClient.Timeout = d
		}
	}
}

// WithMiddleware adds middleware to the client
func WithMiddleware(middleware ...Middleware) Option {
	return func(c *Client) {
		c.middleware = append(c.middleware, middleware...)
	}
}

// WithHTTPClient sets a custom HTTP client. The client is copied, so the
// configured timeout and the cookie jar installed in web cookie mode never
// reach the caller's client. The transport is shared.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client == nil {
			c.httpClient = nil
			return
		}
		hc := *client
		if c.timeout != 0 {
			hc.Timeout = c.timeout
		}
		c.httpClient = &hc
	}
}

// WithRateLimiter refuses requests beyond maxTokens per refillRate window
func WithRateLimiter(maxTokens int, refillRate time.Duration) Option {
	return func(c *Client) {
		c.rateLimiter = newRateLimiter(maxTokens, refillRate)
	}
}

// WithMetrics enables Prometheus metrics collection on the default registerer
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsRegistry enables Prometheus metrics on the given registerer
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

// WithDebug enables debug logging with default configuration
func WithDebug() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
	}
}

// WithDebugConfig sets custom debug configuration
func WithDebugConfig(config *DebugConfig) Option {
	return func(c *Client) {
		c.debug = config
	}
}

// WithLogger sets a custom logger
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSimpleLogger enables debug logging with a slog text logger on stderr
func WithSimpleLogger() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
		c.logger = NewSimpleLogger()
	}
}

// WithRequestIDGenerator sets a custom function for generating request IDs
func WithRequestIDGenerator(gen func() string) Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.RequestIDGen = gen
	}
}

// ValidateConfiguration validates the client configuration and returns an error if invalid
func (c *Client) ValidateConfiguration() error {
	var errors []string

	errors = append(errors, c.validateRenewalConfig()...)
	errors = append(errors, c.validateCredentialConfig()...)
	errors = append(errors, c.validateEncryptionConfig()...)
	errors = append(errors, c.validateTransportConfig()...)
	errors = append(errors, c.validateDebugConfig()...)

	if len(errors) > 0 {
		return &ClientError{
			Type:      ErrorTypeConfiguration,
			Message:   "configuration validation failed",
			Cause:     fmt.Errorf("validation errors: %v", errors),
			Timestamp: time.Now(),
		}
	}

	return nil
}

func (c *Client) validateRenewalConfig() []string {
	var errors []string

	if c.isAuthExpired == nil {
		errors = append(errors, "auth expired predicate is required")
	}

	if c.renewalURL == "" {
		errors = append(errors, "renewal URL is required")
	} else if u, err := url.Parse(c.renewalURL); err != nil {
		errors = append(errors, fmt.Sprintf("renewal URL is invalid: %v", err))
	} else if !strings.EqualFold(u.Scheme, "https") || u.Host == "" {
		errors = append(errors, "renewal URL must be an absolute https URL")
	}

	if c.renewalMethod == "" {
		errors = append(errors, "renewal method cannot be empty")
	}

	return errors
}

func (c *Client) validateCredentialConfig() []string {
	var errors []string

	switch c.credentialMode {
	case CredentialModeWebCookie:
		if c.fetchCredentials != nil {
			errors = append(errors, "credential fetcher cannot be used with web cookie mode")
		}
	case CredentialModeStorage:
		if c.fetchCredentials == nil {
			errors = append(errors, "credential fetcher is required in storage mode")
		}
		if c.onRenewed == nil {
			errors = append(errors, "renewal succeeded callback is required in storage mode")
		}
		if c.renewalCodec == nil {
			errors = append(errors, "renewal codec is required in storage mode")
		}
	default:
		errors = append(errors, fmt.Sprintf("unknown credential mode %d", c.credentialMode))
	}

	return errors
}

func (c *Client) validateEncryptionConfig() []string {
	var errors []string

	if c.encryption == nil {
		return errors
	}

	marker := c.encryption.EncryptURLMarker
	if marker == "" || strings.Contains(marker, "/") {
		errors = append(errors, "encrypt URL marker must be non-empty and must not contain '/'")
	}
	if c.encryption.RequestTransform == nil {
		errors = append(errors, "encryption request transform is required")
	}
	if c.encryption.ResponseTransform == nil {
		errors = append(errors, "encryption response transform is required")
	}
	switch c.encryption.ResponseMethods {
	case 0, ResponseMethodsAll, ResponseMethodsGET:
	default:
		errors = append(errors, "encryption response methods must be ResponseMethodsAll or ResponseMethodsGET")
	}

	return errors
}

func (c *Client) validateTransportConfig() []string {
	var errors []string

	if c.httpClient == nil {
		errors = append(errors, "HTTP client cannot be nil")
	}

	if c.timeout <= 0 {
		errors = append(errors, "timeout must be positive")
	}

	if c.statusValidator == nil {
		errors = append(errors, "status validator cannot be nil")
	}

	for i, middleware := range c.middleware {
		if middleware == nil {
			errors = append(errors, fmt.Sprintf("middleware[%d] cannot be nil", i))
		}
	}

	if c.rateLimiter != nil {
		if c.rateLimiter.maxTokens <= 0 {
			errors = append(errors, "rateLimiter maxTokens must be positive")
		}
		if c.rateLimiter.refillRate <= 0 {
			errors = append(errors, "rateLimiter refillRate must be positive")
		}
	}

	return errors
}

func (c *Client) validateDebugConfig() []string {
	var errors []string

	if c.debug != nil && c.debug.Enabled && c.logger == nil {
		errors = append(errors, "logger must be set when debug is enabled")
	}

	return errors
}
