package kunci

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"
)

var errRenewalAborted = errors.New("kunci: renewal aborted")

type waiterResult struct {
	resp *http.Response
	err  error
}

// waiter is a request parked behind an in-flight renewal. result is written
// at most once by the drain; nothing is written once the caller has gone.
type waiter struct {
	request *PendingRequest
	result  chan waiterResult

	mu        sync.Mutex
	abandoned bool
}

func newWaiter(pr *PendingRequest) *waiter {
	return &waiter{
		request: pr,
		result:  make(chan waiterResult, 1),
	}
}

func (w *waiter) resolve(resp *http.Response, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.abandoned {
		closeBody(resp)
		return
	}
	w.result <- waiterResult{resp: resp, err: err}
}

func (w *waiter) wait(ctx context.Context) (*http.Response, error) {
	select {
	case r := <-w.result:
		return r.resp, r.err
	case <-ctx.Done():
		w.abandon()
		return nil, ctx.Err()
	}
}

// abandon releases a result that may already be buffered and makes later
// resolves close their response.
func (w *waiter) abandon() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.abandoned = true
	select {
	case r := <-w.result:
		closeBody(r.resp)
	default:
	}
}

func closeBody(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
}

// coordinatorConfig wires a Coordinator to its client.
type coordinatorConfig struct {
	isAuthExpired   AuthExpiredPredicate
	isRenewalTarget func(url string) bool
	renew           func(ctx context.Context) error
	replay          func(pr *PendingRequest) (*http.Response, error)
	onFailed        RenewalFailedFunc
	missingErr      error
	metrics         *MetricsCollector
	logger          Logger
}

// Coordinator serialises credential renewal for one client. The first request
// that fails with an expired credential renews; requests failing while that
// renewal is in flight are queued and replayed (or rejected) once it finishes.
type Coordinator struct {
	mu       sync.Mutex
	renewing bool
	queue    []*waiter

	cfg coordinatorConfig
}

func newCoordinator(cfg coordinatorConfig) *Coordinator {
	return &Coordinator{cfg: cfg}
}

// HandleFailure decides how a failed dispatch is resolved: passed through,
// replayed after a renewal, or parked until the in-flight renewal completes.
//
// Failures of calls to the renewal endpoint itself are always returned as they
// are. They never start a renewal, even when none is in flight, and are never
// parked behind one.
func (c *Coordinator) HandleFailure(f *Failure) (*http.Response, error) {
	if f == nil || f.Request == nil {
		if c.cfg.missingErr != nil {
			return nil, c.cfg.missingErr
		}
		return nil, ErrMissingRequestContext
	}

	pr := f.Request
	if pr.Retried() || !c.cfg.isAuthExpired(f) {
		return nil, f.Err
	}
	// The renewal endpoint is never queued and never renews itself.
	if c.cfg.isRenewalTarget(pr.URL) {
		return nil, f.Err
	}
	pr.markRetried()

	c.mu.Lock()
	if c.renewing {
		w := newWaiter(pr)
		c.queue = append(c.queue, w)
		depth := len(c.queue)
		c.mu.Unlock()

		c.cfg.metrics.RecordWaiterQueueDepth(depth)
		c.debug("Request queued behind renewal", "requestID", pr.ID(), "url", pr.URL, "queueDepth", depth)
		return w.wait(pr.Context())
	}
	c.renewing = true
	c.mu.Unlock()

	return c.renewAndReplay(pr)
}

func (c *Coordinator) renewAndReplay(pr *PendingRequest) (*http.Response, error) {
	released := false
	defer func() {
		if !released {
			c.release(errRenewalAborted)
		}
	}()

	// A caller cancelling its own request must not abort a renewal other
	// requests are waiting on.
	ctx := context.WithoutCancel(pr.Context())

	c.debug("Starting credential renewal", "requestID", pr.ID(), "url", pr.URL)
	start := time.Now()
	if err := c.cfg.renew(ctx); err != nil {
		c.cfg.metrics.RecordRenewal("failure", time.Since(start))
		c.debug("Credential renewal failed", "requestID", pr.ID(), "error", err.Error())

		c.release(err)
		released = true
		if c.cfg.onFailed != nil {
			c.cfg.onFailed(ctx, err)
		}
		return nil, err
	}
	c.cfg.metrics.RecordRenewal("success", time.Since(start))
	c.debug("Credential renewal succeeded", "requestID", pr.ID())

	resp, err := c.cfg.replay(pr)
	c.release(nil)
	released = true
	return resp, err
}

// release drains the queue with the renewal outcome and leaves the
// single-flight section once no waiter is left. Waiters that arrive while a
// batch is being drained are handled in the next pass.
func (c *Coordinator) release(err error) {
	for {
		c.mu.Lock()
		batch := c.queue
		c.queue = nil
		if len(batch) == 0 {
			c.renewing = false
			c.mu.Unlock()
			c.cfg.metrics.RecordWaiterQueueDepth(0)
			return
		}
		c.mu.Unlock()

		c.processQueue(batch, err)
	}
}

// processQueue resolves every waiter of batch concurrently and returns once
// all of them have a result.
func (c *Coordinator) processQueue(batch []*waiter, err error) {
	var wg sync.WaitGroup
	for _, w := range batch {
		wg.Add(1)
		go func(w *waiter) {
			defer wg.Done()
			c.resolveWaiter(w, err)
		}(w)
	}
	wg.Wait()
}

func (c *Coordinator) resolveWaiter(w *waiter, err error) {
	if err != nil {
		c.cfg.metrics.RecordWaiterResolved("rejected")
		w.resolve(nil, err)
		return
	}
	if c.cfg.isRenewalTarget(w.request.URL) {
		c.cfg.metrics.RecordWaiterResolved("discarded")
		w.resolve(nil, newRequestError(ErrorTypeRenewalRequestDiscarded, ErrRenewalRequestDiscarded.Message, nil, w.request))
		return
	}
	// The caller gave up while parked; it is not replayed.
	if ctxErr := w.request.Context().Err(); ctxErr != nil {
		c.cfg.metrics.RecordWaiterResolved("abandoned")
		w.resolve(nil, ctxErr)
		return
	}

	resp, replayErr := c.cfg.replay(w.request)
	if replayErr != nil {
		c.cfg.metrics.RecordWaiterResolved("replay_failed")
	} else {
		c.cfg.metrics.RecordWaiterResolved("replayed")
	}
	w.resolve(resp, replayErr)
}

// Renewing reports whether a renewal is in flight.
func (c *Coordinator) Renewing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.renewing
}

// QueueLen returns the number of parked requests.
func (c *Coordinator) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func (c *Coordinator) debug(msg string, keysAndValues ...interface{}) {
	if c.cfg.logger != nil {
		c.cfg.logger.Debug(msg, keysAndValues...)
	}
}
