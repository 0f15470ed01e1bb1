package substrate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// RetrieveMode selects the ranking strategy for Retrieve.
type RetrieveMode string

const (
	RetrieveSimilarity         RetrieveMode = "similarity"
	RetrieveActivationWeighted RetrieveMode = "activation-weighted"
	RetrieveSpreading          RetrieveMode = "spreading"
)

const (
	spreadingDamping  = 0.5
	spreadingMaxDepth = 2
)

// Substrate is the façade over the four cognitive components plus the
// embedding/vector-index substrate they share. One Substrate owns one
// data directory for the life of the process (spec §5), grounded on
// the teacher's Engram struct and Init/Close lifecycle in engram.go.
type Substrate struct {
	cfg      Config
	logger   *slog.Logger
	closeLog func() error
	lock     *dirLock
	embedder EmbeddingProvider

	inbox chan loopJob
	stop  chan struct{}

	thoughts map[string]*Thought
	order    []string // creation order, index = seq
	seqNext  uint64

	index *FlatIndex

	concepts *conceptStore
	patterns *patternStore
	sched    *Scheduler

	embedRetry *embedRetryer

	snapshot atomic.Pointer[memorySnapshot]
}

type loopJob struct {
	fn   func()
	done chan struct{}
}

// memorySnapshot is the immutable view served to parallel readers
// (spec §5 "parallel readers"/"reader pool").
type memorySnapshot struct {
	thoughtCount int
	conceptCount int
	generatedAt  time.Time
}

// Init opens (or creates) a substrate rooted at cfg.DataDir, acquiring
// the process-wide directory lock and loading persisted state.
// Grounded on the teacher's engram.Init provider-resolution flow.
func Init(cfg Config) (*Substrate, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	lock, err := acquireDirLock(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	logger, closeLog := setupLogger(cfg.LogFile, cfg.LogLevel)

	embedder := resolveEmbedder(cfg)

	s := &Substrate{
		cfg:      cfg,
		logger:   logger,
		closeLog: closeLog,
		lock:     lock,
		embedder: embedder,
		inbox:    make(chan loopJob, 256),
		stop:     make(chan struct{}),
		thoughts: make(map[string]*Thought),
	}

	if err := s.loadState(); err != nil {
		lock.Release()
		closeLog()
		return nil, err
	}

	cs, err := newConceptStore(s)
	if err != nil {
		lock.Release()
		closeLog()
		return nil, err
	}
	s.concepts = cs

	s.patterns = newPatternStore()
	if err := s.patterns.load(cfg.DataDir); err != nil {
		lock.Release()
		closeLog()
		return nil, err
	}

	s.sched = newScheduler(s)
	if err := s.sched.loadState(cfg.DataDir); err != nil {
		lock.Release()
		closeLog()
		return nil, err
	}

	go s.run()
	s.embedRetry = newEmbedRetryer(s)
	s.publishSnapshot()

	logger.Info("substrate initialized", "data_dir", cfg.DataDir, "embedding_backend", cfg.EmbeddingBackend)
	return s, nil
}

func resolveEmbedder(cfg Config) EmbeddingProvider {
	switch cfg.EmbeddingBackend {
	case "gemini":
		return NewGeminiEmbedder(cfg.GeminiAPIKey, 256)
	case "openai":
		return NewOpenAIEmbedder(cfg.OpenAIAPIKey, WithOpenAIDimension(256))
	case "ollama":
		opts := []OllamaOption{}
		if cfg.OllamaHost != "" {
			opts = append(opts, WithOllamaHost(cfg.OllamaHost))
		}
		return NewOllamaEmbedder("nomic-embed-text", 256, opts...)
	default:
		return NewDeterministicEmbedder(256)
	}
}

func (s *Substrate) run() {
	for {
		select {
		case j := <-s.inbox:
			j.fn()
			close(j.done)
		case <-s.stop:
			return
		}
	}
}

// exec enqueues fn on the single cooperative loop and blocks until it
// has run. Every mutation to s's in-memory state goes through exec so
// mutations are always serialized on one goroutine (spec §5).
func (s *Substrate) exec(fn func()) {
	done := make(chan struct{})
	s.inbox <- loopJob{fn: fn, done: done}
	<-done
}

func (s *Substrate) publishSnapshot() {
	s.snapshot.Store(&memorySnapshot{
		thoughtCount: len(s.thoughts),
		conceptCount: s.concepts.count(),
		generatedAt:  time.Now(),
	})
}

// Snapshot returns the most recently published immutable view,
// usable by read-only callers without going through the loop.
func (s *Substrate) Snapshot() memorySnapshot {
	p := s.snapshot.Load()
	if p == nil {
		return memorySnapshot{}
	}
	return *p
}

// Close stops the scheduler and the cooperative loop and releases the
// directory lock. Safe to call once.
func (s *Substrate) Close() error {
	if s.sched != nil {
		s.sched.Stop()
	}
	if s.embedRetry != nil {
		s.embedRetry.Stop()
	}
	close(s.stop)
	err := s.lock.Release()
	if s.closeLog != nil {
		s.closeLog()
	}
	return err
}

// SaveOptions carries the caller-supplied fields for Save.
type SaveOptions struct {
	Content  string
	Type     ThoughtType
	Origin   string
	ParentID string
	Metadata Value
}

// Save embeds and stores a new thought, establishes its associations,
// and offers it to concept integration, per spec §4.B. The embedding
// call happens outside the loop's critical section (spec §5
// suspension point 1); only the resulting mutation is serialized.
func (s *Substrate) Save(ctx context.Context, opts SaveOptions) (Thought, error) {
	now := time.Now()
	id := uuid.New().String()

	var vec []float32
	if s.embedder != nil {
		embedCtx, cancel := context.WithTimeout(ctx, embeddingTimeout)
		v, err := s.embedder.Embed(embedCtx, opts.Content, "RETRIEVAL_DOCUMENT")
		cancel()
		if err != nil {
			s.logger.Warn("embedding failed, saving without vector", "error", err, "thought_id", id)
			if s.embedRetry != nil {
				s.embedRetry.Submit(id, opts.Content)
			}
		} else {
			vec = v
		}
	}

	focus := ""
	if v, ok := opts.Metadata.Get("focus"); ok {
		if str, ok := v.String(); ok {
			focus = str
		}
	}

	t := &Thought{
		ID:             id,
		Content:        opts.Content,
		CreatedAt:      now,
		Type:           opts.Type,
		Origin:         opts.Origin,
		Activation:     1.0,
		LastAccessedAt: now,
		ParentID:       opts.ParentID,
		Metadata:       opts.Metadata,
		metaFocus:      focus,
	}

	var saveErr error
	s.exec(func() {
		t.seq = s.seqNext
		s.seqNext++

		if vec != nil {
			if err := s.index.Add(id, vec); err != nil {
				saveErr = err
				return
			}
		}

		s.establishConnections(t, vec, focus)

		s.thoughts[id] = t
		s.order = append(s.order, id)

		s.concepts.integrate(t, vec)

		if err := s.persistLocked(); err != nil {
			saveErr = err
			return
		}
		s.publishSnapshot()
	})
	if saveErr != nil {
		return Thought{}, saveErr
	}
	return *t, nil
}

// Get returns a thought by id.
func (s *Substrate) Get(id string) (Thought, error) {
	var out Thought
	var err error
	s.exec(func() {
		t, ok := s.thoughts[id]
		if !ok {
			err = fmt.Errorf("%w: thought %s", ErrNotFound, id)
			return
		}
		out = *t
	})
	return out, err
}

// Recent returns up to n most recently created thoughts, optionally
// filtered by type, most recent first.
func (s *Substrate) Recent(n int, typeFilter ThoughtType) []Thought {
	var out []Thought
	s.exec(func() {
		for i := len(s.order) - 1; i >= 0 && len(out) < n; i-- {
			t := s.thoughts[s.order[i]]
			if typeFilter != "" && t.Type != typeFilter {
				continue
			}
			out = append(out, *t)
		}
	})
	return out
}

// Reinforce bumps a thought's activation and propagates a fraction to
// its neighbors, per spec §4.B.
func (s *Substrate) Reinforce(id string) error {
	var err error
	s.exec(func() {
		if e := s.reinforceLocked(id, time.Now()); e != nil {
			err = e
			return
		}
		if e := s.persistLocked(); e != nil {
			err = e
			return
		}
		s.publishSnapshot()
	})
	return err
}

// DecayNow applies decay to every thought and association immediately,
// rather than waiting for the pulse job to run it (spec's decay_now).
func (s *Substrate) DecayNow() error {
	var err error
	s.exec(func() {
		s.decayLocked(time.Now())
		if e := s.persistLocked(); e != nil {
			err = e
			return
		}
		s.publishSnapshot()
	})
	return err
}

// Retrieve ranks stored thoughts against query using the requested
// mode, per spec §4.B.
func (s *Substrate) Retrieve(ctx context.Context, query string, k int, mode RetrieveMode) ([]Thought, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("%w: no embedding provider configured", ErrBackendUnavailable)
	}
	embedCtx, cancel := context.WithTimeout(ctx, embeddingTimeout)
	qvec, err := s.embedder.Embed(embedCtx, query, "RETRIEVAL_QUERY")
	cancel()
	if err != nil {
		return nil, err
	}

	var out []Thought
	s.exec(func() {
		switch mode {
		case RetrieveActivationWeighted:
			out = s.retrieveActivationWeightedLocked(qvec, k)
		case RetrieveSpreading:
			out = s.retrieveSpreadingLocked(qvec, k)
		default:
			out = s.retrieveSimilarityLocked(qvec, k)
		}
		for i := range out {
			if t, ok := s.thoughts[out[i].ID]; ok {
				t.RelevanceScore = out[i].RelevanceScore
			}
		}
	})
	return out, nil
}

func (s *Substrate) retrieveSimilarityLocked(qvec []float32, k int) []Thought {
	hits := s.index.Search(qvec, k)
	out := make([]Thought, 0, len(hits))
	for _, h := range hits {
		if t, ok := s.thoughts[h.ID]; ok {
			copyT := *t
			copyT.RelevanceScore = float64(h.Score)
			out = append(out, copyT)
		}
	}
	return out
}

func (s *Substrate) retrieveActivationWeightedLocked(qvec []float32, k int) []Thought {
	hits := s.index.Search(qvec, k*4)
	type ranked struct {
		t     *Thought
		score float64
	}
	rs := make([]ranked, 0, len(hits))
	for _, h := range hits {
		t, ok := s.thoughts[h.ID]
		if !ok {
			continue
		}
		score := compositeRelevance(float64(h.Score), t.Activation, s.cfg.ActivationWeightAlpha)
		rs = append(rs, ranked{t: t, score: score})
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i].score > rs[j].score })
	if len(rs) > k {
		rs = rs[:k]
	}
	out := make([]Thought, len(rs))
	for i, r := range rs {
		out[i] = *r.t
		out[i].RelevanceScore = r.score
	}
	return out
}

// retrieveSpreadingLocked performs a bounded BFS from the single best
// seed match, accumulating scores along edges with damping per hop,
// per spec §4.B.
func (s *Substrate) retrieveSpreadingLocked(qvec []float32, k int) []Thought {
	seedHits := s.index.Search(qvec, 1)
	if len(seedHits) == 0 {
		return nil
	}
	seedID := seedHits[0].ID
	scores := map[string]float64{seedID: float64(seedHits[0].Score)}
	order := []string{seedID}

	frontier := []string{seedID}
	for depth := 0; depth < spreadingMaxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			src, ok := s.thoughts[id]
			if !ok {
				continue
			}
			srcScore := scores[id]
			for _, a := range src.Associations {
				contrib := a.Weight * srcScore * pow(spreadingDamping, float64(depth+1))
				if _, seen := scores[a.TargetID]; !seen {
					order = append(order, a.TargetID)
					next = append(next, a.TargetID)
				}
				scores[a.TargetID] += contrib
			}
		}
		frontier = next
	}

	sort.SliceStable(order, func(i, j int) bool { return scores[order[i]] > scores[order[j]] })
	if len(order) > k {
		order = order[:k]
	}
	out := make([]Thought, 0, len(order))
	for _, id := range order {
		if t, ok := s.thoughts[id]; ok {
			copyT := *t
			copyT.RelevanceScore = scores[id]
			out = append(out, copyT)
		}
	}
	return out
}

func pow(base, exp float64) float64 {
	out := 1.0
	for i := 0; i < int(exp); i++ {
		out *= base
	}
	return out
}

// GenerateThoughtTrace walks outward from startID up to depth hops,
// keeping at most branchFactor outgoing edges per node, returning the
// thoughts visited in traversal order. Supplemented from
// original_source/emergent_memory.py's generate_thought_trace, dropped
// by the distillation but cheap to keep (SPEC_FULL.md §4.B).
func (s *Substrate) GenerateThoughtTrace(startID string, depth, branchFactor int) []Thought {
	var out []Thought
	s.exec(func() {
		visited := map[string]bool{}
		var walk func(id string, remaining int)
		walk = func(id string, remaining int) {
			if visited[id] {
				return
			}
			t, ok := s.thoughts[id]
			if !ok {
				return
			}
			visited[id] = true
			out = append(out, *t)
			if remaining <= 0 {
				return
			}
			edges := t.Associations
			sort.Slice(edges, func(i, j int) bool { return edges[i].Weight > edges[j].Weight })
			for i, a := range edges {
				if i >= branchFactor {
					break
				}
				walk(a.TargetID, remaining-1)
			}
		}
		walk(startID, depth)
	})
	return out
}
