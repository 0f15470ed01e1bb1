package substrate

import "context"

// embedRetryRequest asks the retry worker to re-attempt embedding a
// thought that was saved without a vector because the backend was
// unavailable at save time.
type embedRetryRequest struct {
	thoughtID string
	content   string
}

// embedRetryer is a bounded inbox plus single worker goroutine,
// grounded directly on the teacher's classify_llm.go
// (SubmitForReclassification/reclassCh/worker): callers submit
// best-effort work that the worker drains serially and retries with
// backoff, applying successful results back through the substrate's
// cooperative loop (spec §5's "results are applied back through a
// bounded inbox the loop drains serially").
type embedRetryer struct {
	s    *Substrate
	ch   chan embedRetryRequest
	stop chan struct{}
}

func newEmbedRetryer(s *Substrate) *embedRetryer {
	r := &embedRetryer{
		s:    s,
		ch:   make(chan embedRetryRequest, 64),
		stop: make(chan struct{}),
	}
	go r.worker()
	return r
}

// Submit enqueues a retry, dropping it if the inbox is full rather
// than blocking the caller — re-embedding is best-effort.
func (r *embedRetryer) Submit(thoughtID, content string) {
	select {
	case r.ch <- embedRetryRequest{thoughtID: thoughtID, content: content}:
	default:
		r.s.logger.Warn("embed retry inbox full, dropping", "thought_id", thoughtID)
	}
}

func (r *embedRetryer) worker() {
	for {
		select {
		case <-r.stop:
			return
		case req := <-r.ch:
			r.attempt(req)
		}
	}
}

func (r *embedRetryer) attempt(req embedRetryRequest) {
	if r.s.embedder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), embeddingTimeout*backoffMaxAttempts)
	defer cancel()

	var vec []float32
	err := retryWithBackoff(ctx, func() error {
		v, e := r.s.embedder.Embed(ctx, req.content, "RETRIEVAL_DOCUMENT")
		if e != nil {
			return e
		}
		vec = v
		return nil
	})
	if err != nil {
		r.s.logger.Warn("embed retry exhausted", "thought_id", req.thoughtID, "error", err)
		return
	}

	r.s.exec(func() {
		t, ok := r.s.thoughts[req.thoughtID]
		if !ok {
			return
		}
		if e := r.s.index.Add(req.thoughtID, vec); e != nil {
			return
		}
		r.s.establishConnections(t, vec, t.metaFocus)
		r.s.concepts.integrate(t, vec)
		_ = r.s.persistLocked()
		r.s.publishSnapshot()
	})
}

func (r *embedRetryer) Stop() { close(r.stop) }
