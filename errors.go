package kunci

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error type identifiers carried by ClientError.Type.
const (
	ErrorTypeConfiguration           = "Configuration"
	ErrorTypeMissingRequestContext   = "MissingRequestContext"
	ErrorTypeTransform               = "Transform"
	ErrorTypeCredentials             = "Credentials"
	ErrorTypeHTTPStatus              = "HTTPStatus"
	ErrorTypeNetwork                 = "Network"
	ErrorTypeRenewalRequestDiscarded = "RenewalRequestDiscarded"
	ErrorTypeRateLimit               = "RateLimit"
)

// Sentinel errors for common failure scenarios. They match any *ClientError of
// the same Type through errors.Is.
var (
	// ErrConfiguration is returned by New when options are invalid
	ErrConfiguration = &ClientError{Type: ErrorTypeConfiguration, Message: "invalid configuration"}

	// ErrMissingRequestContext is returned when a failure carries no replayable request
	ErrMissingRequestContext = &ClientError{Type: ErrorTypeMissingRequestContext, Message: "failure has no request to replay"}

	// ErrTransform is returned when an encryption or decryption hook fails
	ErrTransform = &ClientError{Type: ErrorTypeTransform, Message: "transform failed"}

	// ErrCredentials is returned when the credential fetcher fails
	ErrCredentials = &ClientError{Type: ErrorTypeCredentials, Message: "credential fetch failed"}

	// ErrHTTPStatus matches responses rejected by the status validator
	ErrHTTPStatus = &ClientError{Type: ErrorTypeHTTPStatus, Message: "unexpected status"}

	// ErrNetwork matches transport level failures
	ErrNetwork = &ClientError{Type: ErrorTypeNetwork, Message: "network request failed"}

	// ErrRenewalRequestDiscarded resolves a queued call to the renewal endpoint
	ErrRenewalRequestDiscarded = &ClientError{Type: ErrorTypeRenewalRequestDiscarded, Message: "queued renewal request discarded"}

	// ErrRateLimited is returned when the outgoing rate limiter refuses a request
	ErrRateLimited = &ClientError{Type: ErrorTypeRateLimit, Message: "rate limited"}

	errNoRenewalTokens = errors.New("kunci: renewal response carried no access token")
)

// ClientError represents an error from the client
type ClientError struct {
	Type       string
	Message    string
	Cause      error
	RequestID  string
	Method     string
	URL        string
	StatusCode int
	Timestamp  time.Time
	// Response is set for HTTPStatus errors; its body is buffered and may be read
	// after the error is returned.
	Response *http.Response
}

// Error implements error interface.
func (e *ClientError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ClientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types for errors.Is.
func (e *ClientError) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*ClientError); ok {
		return e.Type == targetErr.Type
	}
	return false
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *ClientError) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Type: %s\n", e.Type)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.RequestID != "" {
		info += fmt.Sprintf("Request ID: %s\n", e.RequestID)
	}
	if e.Method != "" {
		info += fmt.Sprintf("Method: %s\n", e.Method)
	}
	if e.URL != "" {
		info += fmt.Sprintf("URL: %s\n", e.URL)
	}
	if e.StatusCode > 0 {
		info += fmt.Sprintf("Status Code: %d\n", e.StatusCode)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}

// StatusCodeOf returns the HTTP status carried by err, or 0.
func StatusCodeOf(err error) int {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.StatusCode
	}
	return 0
}

func newRequestError(errorType, message string, cause error, pr *PendingRequest) *ClientError {
	e := &ClientError{
		Type:      errorType,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
	}
	if pr != nil {
		e.RequestID = pr.id
		e.Method = pr.Method
		e.URL = pr.URL
	}
	return e
}
