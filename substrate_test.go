package substrate

import (
	"context"
	"testing"
	"time"
)

func testSubstrate(t *testing.T) *Substrate {
	t.Helper()
	cfg := Config{DataDir: t.TempDir()}
	cfg.ApplyDefaults()
	s, err := Init(cfg)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGet(t *testing.T) {
	s := testSubstrate(t)

	t1, err := s.Save(context.Background(), SaveOptions{Content: "the quiet library at dusk", Type: ThoughtUser})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if t1.ID == "" {
		t.Fatal("expected a non-empty id")
	}

	got, err := s.Get(t1.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != t1.Content {
		t.Errorf("content mismatch: got %q want %q", got.Content, t1.Content)
	}
	if got.Activation != 1.0 {
		t.Errorf("expected fresh activation 1.0, got %f", got.Activation)
	}
}

func TestGetUnknownReturnsNotFound(t *testing.T) {
	s := testSubstrate(t)
	if _, err := s.Get("does-not-exist"); err == nil {
		t.Fatal("expected an error for an unknown id")
	}
}

// Property 2: after save(t), search(embed(t.content), 1) returns t.id
// as top hit.
func TestRetrieveTopHitIsSelf(t *testing.T) {
	s := testSubstrate(t)
	ctx := context.Background()

	saved, err := s.Save(ctx, SaveOptions{Content: "a very particular arrangement of stars and galaxies", Type: ThoughtReflection})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := s.Save(ctx, SaveOptions{Content: "soup and bread taste good on a cold evening", Type: ThoughtReflection}); err != nil {
		t.Fatalf("save: %v", err)
	}

	hits, err := s.Retrieve(ctx, saved.Content, 1, RetrieveSimilarity)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != saved.ID {
		t.Fatalf("expected top hit to be %s, got %+v", saved.ID, hits)
	}
}

// Property 1: activation stays in [0,1] and association weights stay
// in (0,1] across a sequence of saves and decays.
func TestActivationAndWeightsStayInRange(t *testing.T) {
	s := testSubstrate(t)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		if _, err := s.Save(ctx, SaveOptions{Content: "recurring thought about the weather", Type: ThoughtUser}); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}
	if err := s.DecayNow(); err != nil {
		t.Fatalf("decay: %v", err)
	}

	for _, th := range s.Recent(100, "") {
		if th.Activation < 0 || th.Activation > 1 {
			t.Errorf("thought %s activation out of range: %f", th.ID, th.Activation)
		}
		for _, a := range th.Associations {
			if a.Weight <= 0 || a.Weight > 1 {
				t.Errorf("thought %s association to %s weight out of range: %f", th.ID, a.TargetID, a.Weight)
			}
		}
	}
}

// Property 5: reinforce is idempotent up to ceiling.
func TestReinforceStabilizesAtCeiling(t *testing.T) {
	s := testSubstrate(t)
	ctx := context.Background()

	saved, err := s.Save(ctx, SaveOptions{Content: "a single isolated thought", Type: ThoughtUser})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	for i := 0; i < 50; i++ {
		if err := s.Reinforce(saved.ID); err != nil {
			t.Fatalf("reinforce %d: %v", i, err)
		}
	}

	got, err := s.Get(saved.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Activation != 1.0 {
		t.Errorf("expected activation to stabilize at 1.0, got %f", got.Activation)
	}
}

// S2 — decay: one thought, clock advanced 14 days (two activation
// half-lives), activation should land near 0.25.
func TestDecayTwoHalfLives(t *testing.T) {
	s := testSubstrate(t)
	ctx := context.Background()

	saved, err := s.Save(ctx, SaveOptions{Content: "a thought that will be left alone", Type: ThoughtUser})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	var decayed float64
	s.exec(func() {
		th := s.thoughts[saved.ID]
		th.LastAccessedAt = th.LastAccessedAt.Add(-14 * 24 * time.Hour)
		s.decayLocked(time.Now())
		decayed = th.Activation
	})

	if decayed < 0.20 || decayed > 0.30 {
		t.Errorf("expected activation near 0.25 after two half-lives, got %f", decayed)
	}
}

// A thought accessed within decayGracePeriod must not decay at all.
func TestDecayWithinGracePeriodIsUnchanged(t *testing.T) {
	s := testSubstrate(t)
	ctx := context.Background()

	saved, err := s.Save(ctx, SaveOptions{Content: "a thought touched moments ago", Type: ThoughtUser})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	var decayed float64
	s.exec(func() {
		th := s.thoughts[saved.ID]
		th.LastAccessedAt = th.LastAccessedAt.Add(-30 * time.Minute)
		s.decayLocked(time.Now())
		decayed = th.Activation
	})

	if decayed != 1.0 {
		t.Errorf("expected no decay inside the grace period, got %f", decayed)
	}
}

// Repeated short decay passes (the pulse job's actual cadence) must
// reach the same activation as a single pass over the same total
// elapsed time — decayLocked must not compound decay on top of itself
// between pulses.
func TestDecayDoesNotCompoundAcrossPulses(t *testing.T) {
	s := testSubstrate(t)
	ctx := context.Background()

	saved, err := s.Save(ctx, SaveOptions{Content: "a thought decayed one pulse at a time", Type: ThoughtUser})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	var pulsed float64
	s.exec(func() {
		th := s.thoughts[saved.ID]
		th.LastAccessedAt = th.LastAccessedAt.Add(-2 * decayGracePeriod)
		start := time.Now()
		for i := 1; i <= 10; i++ {
			s.decayLocked(start.Add(time.Duration(i) * 24 * time.Hour))
		}
		pulsed = th.Activation
	})

	// A single pass covering the same ~10-day total elapsed time.
	s2 := testSubstrate(t)
	saved2, err := s2.Save(ctx, SaveOptions{Content: "a thought decayed in one pass", Type: ThoughtUser})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	var single float64
	s2.exec(func() {
		th := s2.thoughts[saved2.ID]
		th.LastAccessedAt = th.LastAccessedAt.Add(-10 * 24 * time.Hour)
		s2.decayLocked(time.Now())
		single = th.Activation
	})

	if diff := pulsed - single; diff > 0.02 || diff < -0.02 {
		t.Errorf("ten incremental pulses should match one pass over the same elapsed time: pulsed=%f single=%f", pulsed, single)
	}
}

// S6 — crash safety: reopening a data directory after a save reloads
// the same thought into both the store and the index.
func TestCrashSafetyReload(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{DataDir: dir}
	cfg.ApplyDefaults()

	s1, err := Init(cfg)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	saved, err := s1.Save(context.Background(), SaveOptions{Content: "a thought that must survive a restart", Type: ThoughtUser})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := Init(cfg)
	if err != nil {
		t.Fatalf("reinit: %v", err)
	}
	defer s2.Close()

	got, err := s2.Get(saved.ID)
	if err != nil {
		t.Fatalf("get after restart: %v", err)
	}
	if got.Content != saved.Content {
		t.Errorf("content mismatch after restart: got %q want %q", got.Content, saved.Content)
	}

	hits, err := s2.Retrieve(context.Background(), saved.Content, 1, RetrieveSimilarity)
	if err != nil {
		t.Fatalf("retrieve after restart: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != saved.ID {
		t.Fatalf("expected reloaded index to surface %s, got %+v", saved.ID, hits)
	}
}

// S7 — corrupt associations on startup: thought_associations.json
// truncated to garbage must not fail Init; instead associations are
// recomputed from the surviving thoughts and index.
func TestCorruptAssociationsRecomputed(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{DataDir: dir}
	cfg.ApplyDefaults()

	s1, err := Init(cfg)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	ctx := context.Background()
	if _, err := s1.Save(ctx, SaveOptions{Content: "a thought about the tide", Type: ThoughtUser}); err != nil {
		t.Fatalf("save: %v", err)
	}
	saved, err := s1.Save(ctx, SaveOptions{Content: "a thought about the tide coming in", Type: ThoughtUser})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := writeFileAtomic(s1.assocPath(), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("corrupt associations file: %v", err)
	}

	s2, err := Init(cfg)
	if err != nil {
		t.Fatalf("reinit after corrupt associations: %v", err)
	}
	defer s2.Close()

	got, err := s2.Get(saved.ID)
	if err != nil {
		t.Fatalf("get after recompute: %v", err)
	}
	if len(got.Associations) == 0 {
		t.Error("expected associations to be recomputed, got none")
	}
}

// Property 4: after saving thoughts, evolving and giving pattern
// feedback, a reopened substrate still finds every saved thought.
func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{DataDir: dir}
	cfg.ApplyDefaults()

	s1, err := Init(cfg)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	ctx := context.Background()
	var ids []string
	for i := 0; i < 5; i++ {
		saved, err := s1.Save(ctx, SaveOptions{Content: "stars and galaxies drift past the window", Type: ThoughtReflection})
		if err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
		ids = append(ids, saved.ID)
	}
	s1.ForceEvolve()
	if err := s1.Feedback(mustFirstPatternID(t, s1, string(ThoughtReflection)), 0.9); err != nil {
		t.Fatalf("feedback: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := Init(cfg)
	if err != nil {
		t.Fatalf("reinit: %v", err)
	}
	defer s2.Close()

	for _, id := range ids {
		if _, err := s2.Get(id); err != nil {
			t.Errorf("thought %s missing after reload: %v", id, err)
		}
	}
}

func mustFirstPatternID(t *testing.T, s *Substrate, thoughtType string) string {
	t.Helper()
	var id string
	s.exec(func() {
		patterns := s.patterns.byType[thoughtType]
		if len(patterns) == 0 {
			t.Fatalf("no patterns registered for %s", thoughtType)
		}
		id = patterns[0].ID
	})
	return id
}

func TestGenerateThoughtTrace(t *testing.T) {
	s := testSubstrate(t)
	ctx := context.Background()

	first, err := s.Save(ctx, SaveOptions{Content: "origin thought about the sea", Type: ThoughtUser})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	second, err := s.Save(ctx, SaveOptions{Content: "origin thought about the sea, continued", Type: ThoughtUser})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	trace := s.GenerateThoughtTrace(first.ID, 2, 2)
	if len(trace) == 0 {
		t.Fatal("expected a non-empty trace")
	}
	if trace[0].ID != first.ID {
		t.Errorf("expected trace to start at %s, got %s", first.ID, trace[0].ID)
	}
	_ = second
}
