package kunci

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

// Client is an HTTP client that encrypts traffic to selected endpoints and
// renews expired credentials transparently. Concurrent requests that fail while
// a renewal is in flight wait for it and are replayed with the new credentials.
// It is safe for concurrent use.
type Client struct {
	httpClient      *http.Client
	timeout         time.Duration
	middleware      []Middleware
	statusValidator StatusValidator
	rateLimiter     *rateLimiter

	credentialMode    CredentialMode
	fetchCredentials  CredentialFetcher
	isAuthExpired     AuthExpiredPredicate
	renewalURL        string
	renewalTarget     *url.URL
	renewalMethod     string
	renewalCodec      RenewalCodec
	onRenewed         RenewalSucceededFunc
	onRenewalFailed   RenewalFailedFunc
	missingRequestErr error

	encryption  *EncryptionConfig
	gate        *EncryptionGate
	coordinator *Coordinator

	metrics *MetricsCollector
	debug   *DebugConfig
	logger  Logger
}

// New constructs a Client using the provided functional options. Invalid
// configuration is reported before any request can be made.
func New(options ...Option) (*Client, error) {
	client := &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		timeout:         30 * time.Second,
		middleware:      []Middleware{},
		statusValidator: DefaultStatusValidator,
		credentialMode:  CredentialModeWebCookie,
		renewalMethod:   http.MethodPost,
		renewalCodec:    JSONRenewalCodec{},
		debug:           DefaultDebugConfig(),
	}

	for _, option := range options {
		option(client)
	}

	if err := client.ValidateConfiguration(); err != nil {
		return nil, err
	}
	if err := client.wire(); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Client) wire() error {
	target, err := url.Parse(c.renewalURL)
	if err != nil {
		return err
	}
	c.renewalTarget = target

	// httpClient is always owned here; WithHTTPClient stores a copy.
	if c.credentialMode == CredentialModeWebCookie && c.httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return err
		}
		c.httpClient.Jar = jar
	}

	if c.encryption != nil {
		verbose := c.debugEnabled() && c.debug.LogTransforms
		c.gate = newEncryptionGate(*c.encryption, c.logger, verbose, c.metrics)
	}

	var renewalLogger Logger
	if c.debugEnabled() && c.debug.LogRenewals {
		renewalLogger = c.logger
	}
	c.coordinator = newCoordinator(coordinatorConfig{
		isAuthExpired:   c.isAuthExpired,
		isRenewalTarget: c.isRenewalURL,
		renew:           c.renew,
		replay:          c.dispatch,
		onFailed:        c.onRenewalFailed,
		missingErr:      c.missingRequestErr,
		metrics:         c.metrics,
		logger:          renewalLogger,
	})
	return nil
}

// Coordinator exposes the client's renewal coordinator.
func (c *Client) Coordinator() *Coordinator {
	return c.coordinator
}

// Get performs an HTTP GET with context.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, url, "", nil)
}

// Post performs an HTTP POST with the given content type.
func (c *Client) Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	return c.do(ctx, http.MethodPost, url, contentType, body)
}

// Put performs an HTTP PUT with the given content type.
func (c *Client) Put(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	return c.do(ctx, http.MethodPut, url, contentType, body)
}

// Patch performs an HTTP PATCH with the given content type.
func (c *Client) Patch(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	return c.do(ctx, http.MethodPatch, url, contentType, body)
}

// Delete performs an HTTP DELETE with context.
func (c *Client) Delete(ctx context.Context, url string) (*http.Response, error) {
	return c.do(ctx, http.MethodDelete, url, "", nil)
}

// Head performs an HTTP HEAD with context.
func (c *Client) Head(ctx context.Context, url string) (*http.Response, error) {
	return c.do(ctx, http.MethodHead, url, "", nil)
}

// Options performs an HTTP OPTIONS with context.
func (c *Client) Options(ctx context.Context, url string) (*http.Response, error) {
	return c.do(ctx, http.MethodOptions, url, "", nil)
}

// Do executes a prepared *http.Request. The request body is buffered so the
// call can be replayed after a renewal.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	pr, err := pendingFromHTTPRequest(req)
	if err != nil {
		return nil, err
	}
	return c.execute(pr)
}

func (c *Client) do(ctx context.Context, method, url, contentType string, body io.Reader) (*http.Response, error) {
	header := make(http.Header)
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	pr, err := newPendingRequest(ctx, method, url, header, body)
	if err != nil {
		return nil, err
	}
	return c.execute(pr)
}

// execute is the entry point of one logical request: it records metrics and
// logs around dispatch.
func (c *Client) execute(pr *PendingRequest) (*http.Response, error) {
	start := time.Now()
	endpoint := getEndpointFromURL(pr.URL)

	if c.debugEnabled() && c.debug.RequestIDGen != nil {
		pr.id = c.debug.RequestIDGen()
	}
	if c.debugEnabled() && c.debug.LogRequests {
		c.logger.Debug("Starting request", "requestID", pr.ID(), "method", pr.Method, "url", pr.URL, "endpoint", endpoint)
	}

	c.metrics.RecordRequestStart(pr.Method, endpoint)
	resp, err := c.dispatch(pr)
	c.metrics.RecordRequestEnd(pr.Method, endpoint)

	statusCode := StatusCodeOf(err)
	if resp != nil {
		statusCode = resp.StatusCode
	}
	c.metrics.RecordRequest(pr.Method, endpoint, statusCode, time.Since(start))

	if err != nil {
		var clientErr *ClientError
		errorType := "Unknown"
		if errors.As(err, &clientErr) {
			errorType = clientErr.Type
		}
		c.metrics.RecordError(errorType, pr.Method, endpoint)
		if c.debugEnabled() && c.debug.LogRequests {
			c.logger.Warn("Request failed", "requestID", pr.ID(), "endpoint", endpoint, "error", err.Error())
		}
	} else if c.debugEnabled() && c.debug.LogRequests {
		c.logger.Debug("Request completed", "requestID", pr.ID(), "statusCode", statusCode, "duration", time.Since(start))
	}

	return resp, err
}

// dispatch sends pr once and hands transport and status failures to the
// coordinator. Replays of queued requests come through here too.
func (c *Client) dispatch(pr *PendingRequest) (*http.Response, error) {
	resp, err := c.send(pr)
	if err == nil {
		return resp, nil
	}

	var clientErr *ClientError
	if !errors.As(err, &clientErr) {
		return nil, err
	}
	switch clientErr.Type {
	case ErrorTypeNetwork, ErrorTypeHTTPStatus:
		return c.coordinator.HandleFailure(&Failure{
			Request:  pr,
			Response: clientErr.Response,
			Err:      err,
		})
	default:
		return nil, err
	}
}

// send runs the pre-send stage, the transport and the post-receive stage.
func (c *Client) send(pr *PendingRequest) (*http.Response, error) {
	req, err := c.prepare(pr)
	if err != nil {
		return nil, err
	}

	if c.rateLimiter != nil {
		allowed := c.rateLimiter.Allow()
		c.metrics.RecordRateLimiterTokens(c.rateLimiter.Tokens())
		if !allowed {
			if c.debugEnabled() {
				c.logger.Warn("Rate limit exceeded", "requestID", pr.ID(), "url", pr.URL)
			}
			return nil, newRequestError(ErrorTypeRateLimit, "rate limit exceeded", nil, pr)
		}
	}

	resp, err := c.executeMiddleware(req)
	if err != nil {
		return nil, newRequestError(ErrorTypeNetwork, ErrNetwork.Message, err, pr)
	}
	return c.receive(pr, resp)
}

// prepare attaches credentials and applies the request transform.
func (c *Client) prepare(pr *PendingRequest) (*http.Request, error) {
	header := pr.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}

	if c.credentialMode == CredentialModeStorage {
		creds, err := c.fetchCredentials(pr.Context())
		if err != nil {
			return nil, newRequestError(ErrorTypeCredentials, ErrCredentials.Message, err, pr)
		}
		if creds.AccessToken != "" {
			header.Set("Authorization", "Bearer "+creds.AccessToken)
		}
	}

	body := pr.Body
	if c.gate != nil {
		transformed, err := c.gate.TransformRequest(pr, body, header)
		if err != nil {
			return nil, err
		}
		body = transformed
	}

	req, err := pr.build(body, header)
	if err != nil {
		return nil, newRequestError(ErrorTypeNetwork, "build request", err, pr)
	}
	return req, nil
}

// receive validates the status and applies the response transform.
func (c *Client) receive(pr *PendingRequest, resp *http.Response) (*http.Response, error) {
	if !c.statusValidator(resp.StatusCode) {
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		resp.Body = io.NopCloser(bytes.NewReader(body))

		// A truncated body is still handed on; the read error says so.
		statusErr := newRequestError(ErrorTypeHTTPStatus, http.StatusText(resp.StatusCode), readErr, pr)
		statusErr.StatusCode = resp.StatusCode
		statusErr.Response = resp
		return nil, statusErr
	}

	if c.gate != nil {
		return c.gate.TransformResponse(pr, resp)
	}
	return resp, nil
}

func (c *Client) executeMiddleware(req *http.Request) (*http.Response, error) {
	if len(c.middleware) == 0 {
		return c.httpClient.Do(req)
	}

	current := RoundTripperFunc(c.httpClient.Do)

	for i := len(c.middleware) - 1; i >= 0; i-- {
		middleware := c.middleware[i]
		next := current
		current = RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			return middleware(r, next)
		})
	}

	return current.RoundTrip(req)
}

// isRenewalURL reports whether raw addresses the renewal endpoint. Query and
// fragment are ignored.
func (c *Client) isRenewalURL(raw string) bool {
	if raw == c.renewalURL {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil || c.renewalTarget == nil {
		return false
	}
	return strings.EqualFold(u.Scheme, c.renewalTarget.Scheme) &&
		strings.EqualFold(u.Host, c.renewalTarget.Host) &&
		strings.TrimSuffix(u.Path, "/") == strings.TrimSuffix(c.renewalTarget.Path, "/")
}

func (c *Client) debugEnabled() bool {
	return c.debug != nil && c.debug.Enabled && c.logger != nil
}

func getEndpointFromURL(raw string) string {
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
