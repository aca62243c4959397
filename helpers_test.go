package kunci

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

const (
	staleToken   = "stale-access"
	freshToken   = "fresh-access"
	refreshPath  = "/auth/refresh"
	dataPath     = "/data"
	okBody       = "ok"
	waitDeadline = 2 * time.Second
)

// tokenStore is an in-memory credential source.
type tokenStore struct {
	mu    sync.Mutex
	creds Credentials
	saves int
}

func newTokenStore(access, refresh string) *tokenStore {
	return &tokenStore{creds: Credentials{AccessToken: access, RefreshToken: refresh}}
}

func (s *tokenStore) Load(ctx context.Context) (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds, nil
}

func (s *tokenStore) Save(ctx context.Context, creds Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = creds
	s.saves++
	return nil
}

func (s *tokenStore) Current() Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(waitDeadline)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

// newStorageClient builds a storage mode client against a TLS test server.
func newStorageClient(t *testing.T, server *httptest.Server, store *tokenStore, extra ...Option) *Client {
	t.Helper()
	opts := []Option{
		WithHTTPClient(server.Client()),
		WithCredentialMode(CredentialModeStorage),
		WithCredentialFetcher(store.Load),
		WithRenewalSucceeded(store.Save),
		WithRenewalURL(server.URL + refreshPath),
		WithAuthExpiredPredicate(StatusPredicate(http.StatusUnauthorized)),
	}
	client, err := New(append(opts, extra...)...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	return client
}

// newCookieClient builds a web cookie mode client against a TLS test server.
func newCookieClient(t *testing.T, server *httptest.Server, extra ...Option) *Client {
	t.Helper()
	opts := []Option{
		WithHTTPClient(server.Client()),
		WithRenewalURL(server.URL + refreshPath),
		WithAuthExpiredPredicate(StatusPredicate(http.StatusUnauthorized)),
	}
	client, err := New(append(opts, extra...)...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	return client
}
