package kunci

import (
	"context"
	"net/http"
)

// Middleware represents a middleware function
type Middleware func(req *http.Request, next RoundTripper) (*http.Response, error)

// RoundTripper represents the HTTP transport interface
type RoundTripper interface {
	RoundTrip(*http.Request) (*http.Response, error)
}

// RoundTripperFunc is a helper type for middleware
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Option represents a configuration option
type Option func(*Client)

// CredentialMode selects how credentials travel with outgoing requests.
type CredentialMode int

const (
	// CredentialModeWebCookie relies on cookies held by the transport. No
	// credential fetcher may be configured in this mode.
	CredentialModeWebCookie CredentialMode = iota
	// CredentialModeStorage fetches credentials before every request and
	// attaches the access token as a bearer Authorization header.
	CredentialModeStorage
)

// String implements fmt.Stringer.
func (m CredentialMode) String() string {
	switch m {
	case CredentialModeWebCookie:
		return "web_cookie"
	case CredentialModeStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// AuthExpiredPredicate classifies a failure as caused by an expired credential.
type AuthExpiredPredicate func(f *Failure) bool

// CredentialFetcher returns the credentials currently held by the caller.
type CredentialFetcher func(ctx context.Context) (Credentials, error)

// RenewalSucceededFunc persists credentials issued by the renewal endpoint.
type RenewalSucceededFunc func(ctx context.Context, creds Credentials) error

// RenewalFailedFunc is notified once per failed renewal.
type RenewalFailedFunc func(ctx context.Context, err error)

// StatusValidator reports whether a response status counts as success. Responses
// failing validation are turned into HTTPStatus failures.
type StatusValidator func(statusCode int) bool

// DefaultStatusValidator accepts 2xx responses.
func DefaultStatusValidator(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

// Failure describes one failed dispatch handed to the refresh coordinator.
type Failure struct {
	// Request is the replayable descriptor of the failed call. A nil Request
	// cannot be recovered.
	Request *PendingRequest
	// Response is the buffered response when the failure was status based.
	Response *http.Response
	// Err is the error that would surface to the caller.
	Err error
}

// StatusCode returns the failed response status or 0 when no response arrived.
func (f *Failure) StatusCode() int {
	if f == nil || f.Response == nil {
		return 0
	}
	return f.Response.StatusCode
}
