package kunci

import (
	"bytes"
	"context"
	"io"
	"net/http"
)

// PendingRequest is a replayable descriptor of one logical HTTP call. The body
// is buffered as plaintext so every dispatch can attach fresh credentials and
// re-run the request transform.
type PendingRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte

	ctx     context.Context
	id      string
	retried bool
}

func newPendingRequest(ctx context.Context, method, url string, header http.Header, body io.Reader) (*PendingRequest, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var buf []byte
	if body != nil {
		b, err := io.ReadAll(body)
		if err != nil {
			return nil, err
		}
		if closer, ok := body.(io.Closer); ok {
			closer.Close()
		}
		buf = b
	}
	if header == nil {
		header = make(http.Header)
	}
	return &PendingRequest{
		Method: method,
		URL:    url,
		Header: header,
		Body:   buf,
		ctx:    ctx,
	}, nil
}

func pendingFromHTTPRequest(req *http.Request) (*PendingRequest, error) {
	var body io.Reader
	if req.Body != nil && req.Body != http.NoBody {
		body = req.Body
	}
	url := ""
	if req.URL != nil {
		url = req.URL.String()
	}
	return newPendingRequest(req.Context(), req.Method, url, req.Header.Clone(), body)
}

// Context returns the context the request was issued with.
func (pr *PendingRequest) Context() context.Context {
	if pr.ctx == nil {
		return context.Background()
	}
	return pr.ctx
}

// Retried reports whether the request has already been through one renewal.
func (pr *PendingRequest) Retried() bool {
	return pr.retried
}

// ID is the request identifier used in logs and errors. Empty unless debug
// request IDs are enabled.
func (pr *PendingRequest) ID() string {
	return pr.id
}

func (pr *PendingRequest) markRetried() {
	pr.retried = true
}

// build materialises an *http.Request for one dispatch. body and header are the
// per-dispatch values produced by the pre-send stage.
func (pr *PendingRequest) build(body []byte, header http.Header) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(pr.Context(), pr.Method, pr.URL, reader)
	if err != nil {
		return nil, err
	}
	req.Header = header
	return req, nil
}
