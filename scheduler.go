package substrate

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const schedulerTick = 5 * time.Second

// JobFunc runs one execution of a registered job and returns a
// feedback signal in [0,1] used by the recency factor on its next
// interval computation.
type JobFunc func(ctx context.Context) (feedback float64, err error)

// TypeFactor computes f_type(j) (spec §4.E) from the current mood.
type TypeFactor func(mood Mood) float64

// NeutralTypeFactor is the default f_type for jobs with no
// mood-specific stretch/shorten behavior.
func NeutralTypeFactor(Mood) float64 { return 1.0 }

// DreamTypeFactor stretches the dream job's interval during high calm.
func DreamTypeFactor(mood Mood) float64 {
	calm := mood.Get("calm")
	if calm > 0.7 {
		return 1.3
	}
	return 1.0
}

// ExistentialTypeFactor shortens the existential job's interval during
// high tension.
func ExistentialTypeFactor(mood Mood) float64 {
	tension := mood.Get("tension")
	if tension > 0.7 {
		return 0.7
	}
	return 1.0
}

type registeredJob struct {
	name         string
	baseInterval time.Duration
	priority     int
	typeFactor   TypeFactor
	run          JobFunc
}

// Scheduler is the Adaptive Scheduler (spec §4.E): a set of registered
// jobs driven by a single cooperative loop, grounded on
// original_source/scheduler/adaptive_scheduler.py's should_execute /
// adapt_interval, reshaped from apscheduler's thread pool into one
// goroutine per spec §5.
type Scheduler struct {
	s *Substrate

	mu      sync.Mutex
	jobs    map[string]*registeredJob
	order   []string
	state   *SchedulerState
	pending map[string]bool // cancellation requests, by job name

	trigger chan string
	stop    chan struct{}
	running bool
}

func newScheduler(s *Substrate) *Scheduler {
	return &Scheduler{
		s:       s,
		jobs:    map[string]*registeredJob{},
		pending: map[string]bool{},
		trigger: make(chan string, 32),
		stop:    make(chan struct{}),
	}
}

func (sched *Scheduler) stateFilePath(dataDir string) string {
	return filepath.Join(dataDir, "scheduler_state.json")
}

func (sched *Scheduler) loadState(dataDir string) error {
	data, err := os.ReadFile(sched.stateFilePath(dataDir))
	if os.IsNotExist(err) {
		sched.state = &SchedulerState{Jobs: map[string]*JobState{}, Mood: Mood{}}
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read scheduler_state.json: %v", ErrPersistence, err)
	}
	var st SchedulerState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("%w: parse scheduler_state.json: %v", ErrCorruptState, err)
	}
	if st.Jobs == nil {
		st.Jobs = map[string]*JobState{}
	}
	if st.Mood == nil {
		st.Mood = Mood{}
	}
	sched.state = &st
	return nil
}

func (sched *Scheduler) persistState(dataDir string) error {
	path := sched.stateFilePath(dataDir)
	g := guardFor(path)
	g.mu.Lock()
	defer g.mu.Unlock()

	data, err := json.MarshalIndent(sched.state, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal scheduler state: %v", ErrPersistence, err)
	}
	return writeFileAtomic(path, data, 0o644)
}

// Register adds a job definition. name must be unique; priority 0 is
// highest.
func (sched *Scheduler) Register(name string, baseInterval time.Duration, priority int, typeFactor TypeFactor, run JobFunc) {
	sched.mu.Lock()
	defer sched.mu.Unlock()

	if typeFactor == nil {
		typeFactor = NeutralTypeFactor
	}
	sched.jobs[name] = &registeredJob{
		name:         name,
		baseInterval: baseInterval,
		priority:     priority,
		typeFactor:   typeFactor,
		run:          run,
	}
	if _, ok := sched.state.Jobs[name]; !ok {
		sched.state.Jobs[name] = &JobState{Name: name, BaseInterval: baseInterval}
	}
	sched.order = append(sched.order, name)
	sort.SliceStable(sched.order, func(i, j int) bool {
		return sched.jobs[sched.order[i]].priority < sched.jobs[sched.order[j]].priority
	})
}

// SetMood replaces the global mood vector read by the interval adapter.
func (sched *Scheduler) SetMood(mood Mood) {
	sched.mu.Lock()
	sched.state.Mood = mood
	sched.mu.Unlock()
}

// Trigger enqueues name to run immediately, bypassing its interval
// check once, still serialized behind whatever the loop is doing
// (spec §4.E "triggers"). Returns ErrNotFound if name was never
// registered, rather than silently reporting success for a run that
// can never happen.
func (sched *Scheduler) Trigger(name string) error {
	sched.mu.Lock()
	_, ok := sched.jobs[name]
	sched.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: job %q is not registered", ErrNotFound, name)
	}

	select {
	case sched.trigger <- name:
		return nil
	default:
		sched.s.logger.Warn("scheduler trigger dropped, inbox full", "job", name)
		return fmt.Errorf("trigger inbox full for job %q", name)
	}
}

// Cancel marks name for cancellation; if it's currently due to run or
// running, it terminates with status=cancelled without updating
// last_run (spec §4.E).
func (sched *Scheduler) Cancel(name string) {
	sched.mu.Lock()
	sched.pending[name] = true
	sched.mu.Unlock()
}

// Start launches the cooperative scheduling loop.
func (sched *Scheduler) Start() {
	sched.mu.Lock()
	if sched.running {
		sched.mu.Unlock()
		return
	}
	sched.running = true
	sched.mu.Unlock()

	go sched.loop()
}

// Stop halts the loop. Safe to call once.
func (sched *Scheduler) Stop() {
	sched.mu.Lock()
	if !sched.running {
		sched.mu.Unlock()
		return
	}
	sched.running = false
	sched.mu.Unlock()
	close(sched.stop)
}

func (sched *Scheduler) loop() {
	ticker := time.NewTicker(schedulerTick)
	defer ticker.Stop()
	for {
		select {
		case <-sched.stop:
			return
		case name := <-sched.trigger:
			sched.runNamed(name, true)
		case <-ticker.C:
			sched.tick(time.Now())
		}
	}
}

// tick evaluates jobs in priority order and runs the first one that's
// due, matching spec §4.E's "no higher-priority job is currently
// executing" via the single-goroutine loop itself.
func (sched *Scheduler) tick(now time.Time) {
	sched.mu.Lock()
	names := append([]string{}, sched.order...)
	sched.mu.Unlock()

	for _, name := range names {
		if sched.isDue(name, now) {
			sched.runNamed(name, false)
			return
		}
	}
}

func (sched *Scheduler) isDue(name string, now time.Time) bool {
	sched.mu.Lock()
	defer sched.mu.Unlock()
	js, ok := sched.state.Jobs[name]
	if !ok {
		return false
	}
	if js.LastRun.IsZero() {
		return true
	}
	interval := sched.computeIntervalLocked(name, now)
	return now.Sub(js.LastRun) >= interval
}

// computeIntervalLocked implements interval(j) = base · f_type ·
// f_mood · f_recency · jitter (spec §4.E). Caller must hold sched.mu.
func (sched *Scheduler) computeIntervalLocked(name string, now time.Time) time.Duration {
	job := sched.jobs[name]
	js := sched.state.Jobs[name]

	fType := job.typeFactor(sched.state.Mood)
	fMood := moodIntensityFactor(sched.state.Mood)
	fRecency := recencyFactor(js.LastFeedback, js.RunCount)
	jitter := 0.85 + rand.Float64()*0.30

	interval := time.Duration(float64(job.baseInterval) * fType * fMood * fRecency * jitter)
	js.AdaptedInterval = interval
	return interval
}

// moodIntensityFactor is f_mood (spec §4.E): a small closed-form
// function of overall mood intensity, grounded on the original's
// adapt_interval mood_factor (high intensity -> more frequent, low
// intensity -> less frequent).
func moodIntensityFactor(mood Mood) float64 {
	if len(mood) == 0 {
		return 1.0
	}
	maxDeviation := 0.0
	for _, v := range mood {
		d := v - 0.5
		if d < 0 {
			d = -d
		}
		if d > maxDeviation {
			maxDeviation = d
		}
	}
	intensity := maxDeviation * 2 // 0..1
	switch {
	case intensity > 0.7:
		return 0.7
	case intensity < 0.3:
		return 1.3
	default:
		return 1.0
	}
}

// recencyFactor lengthens the interval after a low-feedback run and
// shortens it after a high-feedback one (spec §4.E).
func recencyFactor(lastFeedback float64, runCount int) float64 {
	if runCount == 0 {
		return 1.0
	}
	return 1.3 - 0.6*clamp01(lastFeedback)
}

func (sched *Scheduler) runNamed(name string, bypassInterval bool) {
	sched.mu.Lock()
	job, ok := sched.jobs[name]
	if !ok {
		sched.mu.Unlock()
		return
	}
	if sched.pending[name] {
		delete(sched.pending, name)
		sched.state.Jobs[name].Status = "cancelled"
		sched.mu.Unlock()
		return
	}
	sched.state.Jobs[name].Status = "running"
	sched.mu.Unlock()
	_ = bypassInterval

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	feedback, err := job.run(ctx)
	cancel()

	sched.mu.Lock()
	js := sched.state.Jobs[name]
	if sched.pending[name] {
		delete(sched.pending, name)
		js.Status = "cancelled"
		sched.mu.Unlock()
		return
	}
	js.LastRun = time.Now()
	js.RunCount++
	if err != nil {
		sched.s.logger.Warn("scheduled job failed", "job", name, "error", err)
		js.Status = ""
		sched.mu.Unlock()
		return
	}
	js.LastFeedback = clamp01(feedback)
	js.RecentSuccess = feedback >= 0.5
	js.Status = ""
	sched.mu.Unlock()

	sched.s.exec(func() {
		sched.s.sched.persistState(sched.s.cfg.DataDir)
	})
}

// --- Substrate-facing convenience wrappers, per spec §6's grouping ---

// JobStates returns a snapshot of every known job's persisted
// scheduling state, for inspection tools.
func (sched *Scheduler) JobStates() map[string]JobState {
	sched.mu.Lock()
	defer sched.mu.Unlock()
	out := make(map[string]JobState, len(sched.state.Jobs))
	for name, js := range sched.state.Jobs {
		out[name] = *js
	}
	return out
}

func (s *Substrate) Register(name string, baseInterval time.Duration, priority int, typeFactor TypeFactor, run JobFunc) {
	s.sched.Register(name, baseInterval, priority, typeFactor, run)
}

func (s *Substrate) StartScheduler() { s.sched.Start() }
func (s *Substrate) StopScheduler()  { s.sched.Stop() }

func (s *Substrate) TriggerJob(name string) error { return s.sched.Trigger(name) }
func (s *Substrate) CancelJob(name string)        { s.sched.Cancel(name) }
func (s *Substrate) SetMood(mood Mood)      { s.sched.SetMood(mood) }
func (s *Substrate) JobStates() map[string]JobState { return s.sched.JobStates() }
