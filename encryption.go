package kunci

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// RequestTransform rewrites an outgoing body, typically by encrypting it. It may
// adjust header (content type, key identifiers).
type RequestTransform func(body []byte, header http.Header) ([]byte, error)

// ResponseTransform rewrites an incoming body, typically by decrypting it.
type ResponseTransform func(body []byte, header http.Header) ([]byte, error)

// ResponseMethods restricts which request methods get their responses passed
// through the response transform. The zero value is unset and behaves like
// ResponseMethodsAll.
type ResponseMethods int

const (
	// ResponseMethodsAll transforms responses regardless of method.
	ResponseMethodsAll ResponseMethods = iota + 1
	// ResponseMethodsGET only transforms responses to GET requests.
	ResponseMethodsGET
)

// EncryptionConfig configures the encryption gate.
type EncryptionConfig struct {
	// EncryptURLMarker selects the URLs to transform by substring match. Must be
	// non-empty and must not contain '/'.
	EncryptURLMarker  string
	RequestTransform  RequestTransform
	ResponseTransform ResponseTransform
	ResponseMethods   ResponseMethods
	// FailClosed rejects requests with an empty URL instead of sending them
	// untransformed.
	FailClosed bool
}

// merge overlays the non-zero fields of other.
func (ec *EncryptionConfig) merge(other EncryptionConfig) {
	if other.EncryptURLMarker != "" {
		ec.EncryptURLMarker = other.EncryptURLMarker
	}
	if other.RequestTransform != nil {
		ec.RequestTransform = other.RequestTransform
	}
	if other.ResponseTransform != nil {
		ec.ResponseTransform = other.ResponseTransform
	}
	if other.ResponseMethods != 0 {
		ec.ResponseMethods = other.ResponseMethods
	}
	if other.FailClosed {
		ec.FailClosed = true
	}
}

// EncryptionGate applies the configured transforms to messages whose URL
// carries the encrypt marker.
type EncryptionGate struct {
	config  EncryptionConfig
	logger  Logger
	verbose bool
	metrics *MetricsCollector
}

func newEncryptionGate(config EncryptionConfig, logger Logger, verbose bool, metrics *MetricsCollector) *EncryptionGate {
	return &EncryptionGate{config: config, logger: logger, verbose: verbose, metrics: metrics}
}

// ShouldTransform reports whether url carries the encrypt marker. An empty url
// is logged and never transformed.
func (g *EncryptionGate) ShouldTransform(url string) bool {
	if url == "" {
		if g.logger != nil {
			g.logger.Warn("Encryption check skipped for empty URL", "failClosed", g.config.FailClosed)
		}
		return false
	}
	return strings.Contains(url, g.config.EncryptURLMarker)
}

// TransformRequest encrypts body for POST and PUT requests to marked URLs.
func (g *EncryptionGate) TransformRequest(pr *PendingRequest, body []byte, header http.Header) ([]byte, error) {
	if pr.Method != http.MethodPost && pr.Method != http.MethodPut {
		return body, nil
	}
	if pr.URL == "" && g.config.FailClosed {
		return nil, g.transformError("request", "refusing to send request without URL", nil, pr)
	}
	if !g.ShouldTransform(pr.URL) {
		return body, nil
	}

	out, err := callTransform(g.config.RequestTransform, body, header)
	if err != nil {
		return nil, g.transformError("request", "request transform failed", err, pr)
	}
	if g.verbose && g.logger != nil {
		g.logger.Debug("Request body transformed", "requestID", pr.ID(), "url", pr.URL, "size", len(out))
	}
	return out, nil
}

// TransformResponse decrypts the body of a successful response to a marked URL.
// The returned response carries the transformed body.
func (g *EncryptionGate) TransformResponse(pr *PendingRequest, resp *http.Response) (*http.Response, error) {
	if g.config.ResponseMethods == ResponseMethodsGET && pr.Method != http.MethodGet {
		return resp, nil
	}
	if pr.URL == "" && g.config.FailClosed {
		resp.Body.Close()
		return nil, g.transformError("response", "refusing to accept response without URL", nil, pr)
	}
	if !g.ShouldTransform(pr.URL) {
		return resp, nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, g.transformError("response", "read response body", err, pr)
	}
	if len(body) > 0 {
		body, err = callTransform(g.config.ResponseTransform, body, resp.Header)
		if err != nil {
			return nil, g.transformError("response", "response transform failed", err, pr)
		}
	}

	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.Header.Del("Content-Length")

	if g.verbose && g.logger != nil {
		g.logger.Debug("Response body transformed", "requestID", pr.ID(), "url", pr.URL, "size", len(body))
	}
	return resp, nil
}

func (g *EncryptionGate) transformError(direction, message string, cause error, pr *PendingRequest) error {
	g.metrics.RecordTransformError(direction)
	if g.logger != nil {
		g.logger.Warn("Transform rejected message", "requestID", pr.ID(), "direction", direction, "url", pr.URL)
	}
	return newRequestError(ErrorTypeTransform, message, cause, pr)
}

// callTransform runs fn and turns a panic into an error.
func callTransform(fn func([]byte, http.Header) ([]byte, error), body []byte, header http.Header) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("transform panicked: %v", r)
		}
	}()
	return fn(body, header)
}
