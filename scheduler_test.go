package substrate

import (
	"context"
	"errors"
	"testing"
	"time"
)

// S5 — scheduler adaptation: with tension=0.9, the existential
// (tension-sensitive) job's mean effective interval must be <= 0.8x
// the neutral job's, holding base_interval equal for both.
func TestSchedulerAdaptsToMood(t *testing.T) {
	s := testSubstrate(t)
	sched := s.sched

	noop := func(ctx context.Context) (float64, error) { return 1.0, nil }
	sched.Register("neutral-job", 60*time.Second, 1, NeutralTypeFactor, noop)
	sched.Register("existential-job", 60*time.Second, 1, ExistentialTypeFactor, noop)
	sched.SetMood(Mood{"tension": 0.9})

	const samples = 10
	var neutralTotal, existentialTotal time.Duration

	sched.mu.Lock()
	now := time.Now()
	for i := 0; i < samples; i++ {
		neutralTotal += sched.computeIntervalLocked("neutral-job", now)
		existentialTotal += sched.computeIntervalLocked("existential-job", now)
	}
	sched.mu.Unlock()

	neutralMean := neutralTotal / samples
	existentialMean := existentialTotal / samples

	if existentialMean > time.Duration(float64(neutralMean)*0.8) {
		t.Errorf("expected existential job's mean interval <= 0.8x neutral: neutral=%v existential=%v", neutralMean, existentialMean)
	}
}

func TestSchedulerIsDueOnFirstRun(t *testing.T) {
	s := testSubstrate(t)
	sched := s.sched
	sched.Register("fresh-job", time.Hour, 0, nil, func(ctx context.Context) (float64, error) { return 1.0, nil })

	if !sched.isDue("fresh-job", time.Now()) {
		t.Error("a job with no last run should be due immediately")
	}
}

func TestSchedulerTriggerUnknownJobReturnsNotFound(t *testing.T) {
	s := testSubstrate(t)
	// Triggering a job that was never registered must not panic or
	// block, and must report that it found nothing rather than
	// fabricating a success.
	if err := s.TriggerJob("never-registered"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSchedulerTriggerRegisteredJobRuns(t *testing.T) {
	s := testSubstrate(t)
	ran := make(chan struct{}, 1)
	s.Register("trigger-me", time.Hour, 0, nil, func(ctx context.Context) (float64, error) {
		ran <- struct{}{}
		return 1.0, nil
	})
	s.StartScheduler()
	defer s.StopScheduler()

	if err := s.TriggerJob("trigger-me"); err != nil {
		t.Fatalf("TriggerJob: %v", err)
	}
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Error("triggered job did not run")
	}
}
