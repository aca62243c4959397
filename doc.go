// Package kunci provides an HTTP client decorator that keeps authenticated
// traffic flowing:
//
//   - Single-flight credential renewal when a request fails with an expired
//     credential; concurrent failures wait for that renewal and are replayed
//   - Cookie or storage based credentials (bearer header attached per request)
//   - Transparent body encryption for endpoints whose URL carries a marker
//   - Middleware chain for cross-cutting concerns (tracing, headers, etc.)
//   - Prometheus metrics and lightweight structured debug logging
//
// Design goals:
//   - Small surface area: functional options configure everything
//   - Fail fast: invalid configuration is rejected by New
//   - Exactly one renewal per expiry window at any concurrency
//   - Safe concurrent use of a single *Client instance
//
// Typical usage:
//
//	client, err := kunci.New(
//	    kunci.WithCredentialMode(kunci.CredentialModeStorage),
//	    kunci.WithCredentialFetcher(store.Load),
//	    kunci.WithRenewalSucceeded(store.Save),
//	    kunci.WithRenewalURL("https://api.example.com/auth/refresh"),
//	    kunci.WithAuthExpiredPredicate(kunci.StatusPredicate(http.StatusUnauthorized)),
//	)
//	resp, err := client.Get(ctx, "https://api.example.com/data")
//
// Responses outside 2xx are returned as *ClientError values of type HTTPStatus
// (override with WithStatusValidator). When renewal fails, every request that
// was waiting on it receives the renewal error rather than its own 401.
package kunci
