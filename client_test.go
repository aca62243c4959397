package kunci

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"testing/iotest"
	"time"
)

const (
	testResponseBody       = "test response"
	contentTypeJSON        = "application/json"
	expectedStatus200Msg   = "Expected status 200, got %d"
	failedWriteResponseMsg = "Failed to write response: %v"
)

func TestNew(t *testing.T) {
	client, err := New(
		WithRenewalURL("https://api.example/auth/refresh"),
		WithAuthExpiredPredicate(StatusPredicate()),
	)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	// Test default values
	if client.httpClient.Timeout != 30*time.Second {
		t.Errorf("Expected timeout=30s, got %v", client.httpClient.Timeout)
	}

	if client.credentialMode != CredentialModeWebCookie {
		t.Errorf("Expected web cookie mode, got %v", client.credentialMode)
	}

	if client.renewalMethod != http.MethodPost {
		t.Errorf("Expected renewal method POST, got %s", client.renewalMethod)
	}

	if client.httpClient.Jar == nil {
		t.Error("Expected a cookie jar in web cookie mode")
	}

	if client.gate != nil {
		t.Error("Expected no encryption gate without WithEncryption")
	}

	if client.Coordinator() == nil {
		t.Fatal("Expected a coordinator")
	}
}

func TestNewRejectsInvalidConfiguration(t *testing.T) {
	client, err := New()
	if err == nil {
		t.Fatal("Expected New() without renewal settings to fail")
	}
	if client != nil {
		t.Error("Expected nil client on error")
	}
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("Expected configuration error, got %v", err)
	}
}

func TestVerbs(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Method", r.Method)
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodHead {
			return
		}
		if _, err := w.Write([]byte(r.Method + ":" + string(body))); err != nil {
			t.Errorf(failedWriteResponseMsg, err)
		}
	}))
	defer server.Close()

	client := newCookieClient(t, server)
	ctx := context.Background()

	tests := []struct {
		method string
		call   func() (*http.Response, error)
		want   string
	}{
		{http.MethodGet, func() (*http.Response, error) { return client.Get(ctx, server.URL) }, "GET:"},
		{http.MethodPost, func() (*http.Response, error) {
			return client.Post(ctx, server.URL, contentTypeJSON, strings.NewReader(`{"a":1}`))
		}, `POST:{"a":1}`},
		{http.MethodPut, func() (*http.Response, error) {
			return client.Put(ctx, server.URL, contentTypeJSON, strings.NewReader("put"))
		}, "PUT:put"},
		{http.MethodPatch, func() (*http.Response, error) {
			return client.Patch(ctx, server.URL, contentTypeJSON, strings.NewReader("patch"))
		}, "PATCH:patch"},
		{http.MethodDelete, func() (*http.Response, error) { return client.Delete(ctx, server.URL) }, "DELETE:"},
		{http.MethodOptions, func() (*http.Response, error) { return client.Options(ctx, server.URL) }, "OPTIONS:"},
		{http.MethodHead, func() (*http.Response, error) { return client.Head(ctx, server.URL) }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			resp, err := tt.call()
			if err != nil {
				t.Fatalf("%s returned error: %v", tt.method, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				t.Errorf(expectedStatus200Msg, resp.StatusCode)
			}
			if got := resp.Header.Get("X-Method"); got != tt.method {
				t.Errorf("Expected method %s, got %s", tt.method, got)
			}
			body, _ := io.ReadAll(resp.Body)
			if string(body) != tt.want {
				t.Errorf("Expected body %q, got %q", tt.want, string(body))
			}
		})
	}
}

func TestDoBuffersBody(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != contentTypeJSON {
			t.Errorf("Expected Content-Type %s, got %s", contentTypeJSON, r.Header.Get("Content-Type"))
		}
		body, _ := io.ReadAll(r.Body)
		w.Write(body)
	}))
	defer server.Close()

	client := newCookieClient(t, server)

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodPost, server.URL, strings.NewReader(testResponseBody))
	req.Header.Set("Content-Type", contentTypeJSON)

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() returned error: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != testResponseBody {
		t.Errorf("Expected '%s', got '%s'", testResponseBody, string(body))
	}
}

func TestNonSuccessStatusBecomesError(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("missing"))
	}))
	defer server.Close()

	client := newCookieClient(t, server)

	resp, err := client.Get(context.Background(), server.URL+"/nothing")
	if resp != nil {
		t.Error("Expected nil response on status error")
	}
	if !errors.Is(err, ErrHTTPStatus) {
		t.Fatalf("Expected HTTPStatus error, got %v", err)
	}

	var clientErr *ClientError
	if !errors.As(err, &clientErr) {
		t.Fatalf("Expected *ClientError, got %T", err)
	}
	if clientErr.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", clientErr.StatusCode)
	}
	body, _ := io.ReadAll(clientErr.Response.Body)
	if string(body) != "missing" {
		t.Errorf("Expected buffered body 'missing', got %q", string(body))
	}
	if client.Coordinator().Renewing() {
		t.Error("Expected no renewal for a non-auth failure")
	}
}

func TestCustomStatusValidator(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer server.Close()

	client := newCookieClient(t, server, WithStatusValidator(func(code int) bool {
		return code < 400
	}))

	resp, err := client.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Get() returned error: %v", err)
	}
	if resp.StatusCode != http.StatusNotModified {
		t.Errorf("Expected 304, got %d", resp.StatusCode)
	}
}

func TestNetworkErrorIsWrapped(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client := newCookieClient(t, server)
	url := server.URL
	server.Close()

	_, err := client.Get(context.Background(), url)
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("Expected network error, got %v", err)
	}
}

func TestStorageModeAttachesBearerToken(t *testing.T) {
	var seen atomic.Value
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.Header.Get("Authorization"))
	}))
	defer server.Close()

	store := newTokenStore("abc123", "r1")
	client := newStorageClient(t, server, store)

	if _, err := client.Get(context.Background(), server.URL); err != nil {
		t.Fatalf("Get() returned error: %v", err)
	}
	if seen.Load() != "Bearer abc123" {
		t.Errorf("Expected 'Bearer abc123', got %v", seen.Load())
	}

	// An empty access token sends no header.
	store.Save(context.Background(), Credentials{})
	if _, err := client.Get(context.Background(), server.URL); err != nil {
		t.Fatalf("Get() returned error: %v", err)
	}
	if seen.Load() != "" {
		t.Errorf("Expected no Authorization header, got %v", seen.Load())
	}
}

func TestCredentialFetchErrorIsSurfaced(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	cause := errors.New("keychain locked")
	client, err := New(
		WithHTTPClient(server.Client()),
		WithCredentialMode(CredentialModeStorage),
		WithCredentialFetcher(func(ctx context.Context) (Credentials, error) {
			return Credentials{}, cause
		}),
		WithRenewalSucceeded(func(ctx context.Context, creds Credentials) error { return nil }),
		WithRenewalURL(server.URL+refreshPath),
		WithAuthExpiredPredicate(StatusPredicate()),
	)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	_, err = client.Get(context.Background(), server.URL)
	if !errors.Is(err, ErrCredentials) || !errors.Is(err, cause) {
		t.Errorf("Expected credentials error wrapping cause, got %v", err)
	}
	if hits.Load() != 0 {
		t.Error("Expected no request to be sent")
	}
}

func TestCookieModeCarriesRenewedCookie(t *testing.T) {
	var refreshCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc(dataPath, func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session"); err != nil || c.Value != "fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(okBody))
	})
	mux.HandleFunc(refreshPath, func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		if r.Header.Get("Authorization") != "" {
			t.Error("Expected no Authorization header in web cookie mode")
		}
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "fresh", Path: "/"})
	})
	server := httptest.NewTLSServer(mux)
	defer server.Close()

	client := newCookieClient(t, server)

	resp, err := client.Get(context.Background(), server.URL+dataPath)
	if err != nil {
		t.Fatalf("Get() returned error: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != okBody {
		t.Errorf("Expected %q, got %q", okBody, string(body))
	}

	// The jar now holds the session; no further renewal happens.
	if _, err := client.Get(context.Background(), server.URL+dataPath); err != nil {
		t.Fatalf("second Get() returned error: %v", err)
	}
	if refreshCalls.Load() != 1 {
		t.Errorf("Expected 1 renewal, got %d", refreshCalls.Load())
	}
}

func TestMiddlewareOrder(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Header.Get("X-Order")))
	}))
	defer server.Close()

	appendOrder := func(tag string) Middleware {
		return func(req *http.Request, next RoundTripper) (*http.Response, error) {
			req.Header.Set("X-Order", req.Header.Get("X-Order")+tag)
			return next.RoundTrip(req)
		}
	}

	client := newCookieClient(t, server, WithMiddleware(appendOrder("a"), appendOrder("b")))

	resp, err := client.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Get() returned error: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ab" {
		t.Errorf("Expected middleware order 'ab', got %q", string(body))
	}
}

func TestRateLimitedRequestIsRejected(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	client := newCookieClient(t, server, WithRateLimiter(1, time.Hour))

	if _, err := client.Get(context.Background(), server.URL); err != nil {
		t.Fatalf("first Get() returned error: %v", err)
	}
	_, err := client.Get(context.Background(), server.URL)
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("Expected rate limit error, got %v", err)
	}
}

func TestRequestIDGenerator(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer server.Close()

	client := newCookieClient(t, server,
		WithSimpleLogger(),
		WithRequestIDGenerator(func() string { return "req_fixed" }),
	)

	_, err := client.Get(context.Background(), server.URL)
	var clientErr *ClientError
	if !errors.As(err, &clientErr) {
		t.Fatalf("Expected *ClientError, got %v", err)
	}
	if clientErr.RequestID != "req_fixed" {
		t.Errorf("Expected request ID req_fixed, got %q", clientErr.RequestID)
	}
}

func TestIsRenewalURL(t *testing.T) {
	client, err := New(
		WithRenewalURL("https://api.example/auth/refresh"),
		WithAuthExpiredPredicate(StatusPredicate()),
	)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	tests := []struct {
		url  string
		want bool
	}{
		{"https://api.example/auth/refresh", true},
		{"https://API.example/auth/refresh/", true},
		{"https://api.example/auth/refresh?reason=expired", true},
		{"https://api.example/auth/refresh-all", false},
		{"https://other.example/auth/refresh", false},
		{"http://api.example/auth/refresh", false},
	}
	for _, tt := range tests {
		if got := client.isRenewalURL(tt.url); got != tt.want {
			t.Errorf("isRenewalURL(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestGetEndpointFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://api.example/users/1", "api.example/users/1"},
		{"https://api.example", "api.example/"},
		{"https://api.example/", "api.example/"},
		{"not a url", "unknown"},
	}
	for _, tt := range tests {
		if got := getEndpointFromURL(tt.url); got != tt.want {
			t.Errorf("getEndpointFromURL(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestStatusErrorKeepsBodyReadFailure(t *testing.T) {
	client := mustNew(t, baseOptions()...)
	pr := &PendingRequest{Method: http.MethodGet, URL: "https://api.example/data"}
	cause := errors.New("connection reset mid body")
	resp := &http.Response{
		StatusCode: http.StatusBadGateway,
		Header:     make(http.Header),
		Body:       io.NopCloser(io.MultiReader(strings.NewReader("partial"), iotest.ErrReader(cause))),
	}

	_, err := client.receive(pr, resp)
	if !errors.Is(err, ErrHTTPStatus) {
		t.Fatalf("Expected an HTTP status error, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("Expected the body read error as cause, got %v", err)
	}

	var clientErr *ClientError
	if !errors.As(err, &clientErr) {
		t.Fatalf("Expected *ClientError, got %T", err)
	}
	if clientErr.StatusCode != http.StatusBadGateway {
		t.Errorf("Expected status 502, got %d", clientErr.StatusCode)
	}
	body, _ := io.ReadAll(clientErr.Response.Body)
	if string(body) != "partial" {
		t.Errorf("Expected the bytes read before the failure, got %q", body)
	}
}
