// substratectl is the operator CLI for a cognitive substrate: it can
// register and run the canonical background jobs (serve), or poke at
// a running data directory's stored thoughts, concepts, and prompt
// patterns for debugging.
//
// Environment variables mirror the library's Config (SUBSTRATE_*,
// including SUBSTRATE_GEMINI_API_KEY, SUBSTRATE_OPENAI_API_KEY and
// SUBSTRATE_OLLAMA_HOST) — see LoadConfig in config.go.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	sub "github.com/aletheia-labs/substrate"
)

var (
	verbose bool
	cfg     sub.Config
)

var rootCmd = &cobra.Command{
	Use:   "substratectl",
	Short: "Operate a cognitive substrate data directory",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}
		var err error
		cfg, err = sub.LoadConfig()
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.AddCommand(serveCmd, saveCmd, recallCmd, recentCmd, conceptsCmd, jobsCmd, triggerCmd, cancelCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a returned error to the process exit code spec.md
// §6 fixes for the data directory: 2 when another process holds the
// lock, 3 when on-disk state is corrupt with no automatic recovery, 4
// when required configuration is missing, 1 otherwise.
func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, sub.ErrDirectoryLocked):
		return 2
	case errors.Is(err, sub.ErrCorruptState):
		return 3
	case errors.Is(err, sub.ErrConfigMissing):
		return 4
	default:
		return 1
	}
}

func open() (*sub.Substrate, error) {
	return sub.Init(cfg)
}

// --- serve: register the canonical jobs and run the scheduler until signaled ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Register the canonical background jobs and run the scheduler loop",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	// serve's jobs generate thoughts through the Oracle; unlike save/
	// recall/recent/concepts/jobs, which never touch it, this command
	// can't do anything useful without it configured.
	if cfg.OracleURL == "" {
		return fmt.Errorf("%w: SUBSTRATE_ORACLE_URL", sub.ErrConfigMissing)
	}

	s, err := open()
	if err != nil {
		return fmt.Errorf("init substrate: %w", err)
	}
	defer s.Close()

	oracle := sub.NewOracleClient(cfg.OracleURL, cfg.OracleKey)

	s.EnsureSeed("reflection", "Reflect on recent experiences: {{summary}}")
	s.EnsureSeed("dream", "Describe a dreamlike association drifting from: {{seed}}")
	s.EnsureSeed("monologue", "Continue an inner monologue about: {{topic}}")
	s.EnsureSeed("existential", "Consider, from first principles, the question: {{question}}")

	s.Register("reflection", cfg.ReflectionInterval, 2, sub.NeutralTypeFactor, generativeJob(s, oracle, sub.ThoughtReflection, "reflection"))
	s.Register("dream", cfg.DreamInterval, 3, sub.DreamTypeFactor, generativeJob(s, oracle, sub.ThoughtDream, "dream"))
	s.Register("monologue", cfg.MonologueInterval, 2, sub.NeutralTypeFactor, generativeJob(s, oracle, sub.ThoughtMonologue, "monologue"))
	s.Register("existential", cfg.ExistentialInterval, 1, sub.ExistentialTypeFactor, generativeJob(s, oracle, sub.ThoughtExistential, "existential"))
	s.Register("pulse", cfg.PulseInterval, 0, sub.NeutralTypeFactor, pulseJob(s))

	s.StartScheduler()
	defer s.StopScheduler()

	fmt.Fprintf(os.Stderr, "substratectl: serving %s\n", cfg.DataDir)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	fmt.Fprintln(os.Stderr, "substratectl: shutting down")
	return nil
}

// generativeJob renders a prompt pattern for thoughtType, completes it
// against the Oracle, and saves the result as a new thought, feeding
// success back into the pattern's EWMA score.
func generativeJob(s *sub.Substrate, oracle *sub.OracleClient, thoughtType sub.ThoughtType, typeName string) sub.JobFunc {
	return func(ctx context.Context) (float64, error) {
		patternID, rendered, err := s.Select(typeName, map[string]string{
			"summary": "the substrate's most recent thoughts",
			"seed":    "the substrate's most recent thought",
			"topic":   "the nature of memory",
			"question": "what persists when nothing is observed",
		})
		if err != nil {
			return 0, err
		}

		content, err := oracle.Complete(ctx, rendered)
		if err != nil {
			_ = s.Feedback(patternID, 0)
			return 0, err
		}

		if _, err := s.Save(ctx, sub.SaveOptions{
			Content: content,
			Type:    thoughtType,
			Origin:  typeName,
		}); err != nil {
			_ = s.Feedback(patternID, 0)
			return 0, err
		}

		signal := 0.8
		if err := s.Feedback(patternID, signal); err != nil {
			return signal, err
		}
		return signal, nil
	}
}

// pulseJob applies decay and offers every low/high-member concept a
// chance at lifecycle transition, per the scheduler's housekeeping job.
func pulseJob(s *sub.Substrate) sub.JobFunc {
	return func(ctx context.Context) (float64, error) {
		if err := s.DecayNow(); err != nil {
			return 0, err
		}
		s.ForceEvolve()
		s.EvolveNow()
		return 1.0, nil
	}
}

// --- save: store a single thought and exit ---

var (
	saveType   string
	saveOrigin string
)

var saveCmd = &cobra.Command{
	Use:   "save [content]",
	Short: "Store a single thought",
	Args:  cobra.ExactArgs(1),
	RunE:  runSave,
}

func init() {
	saveCmd.Flags().StringVarP(&saveType, "type", "t", "user", "thought type")
	saveCmd.Flags().StringVarP(&saveOrigin, "origin", "o", "substratectl", "origin tag")
}

func runSave(cmd *cobra.Command, args []string) error {
	s, err := open()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	t, err := s.Save(ctx, sub.SaveOptions{
		Content: args[0],
		Type:    sub.ThoughtType(saveType),
		Origin:  saveOrigin,
	})
	if err != nil {
		return err
	}
	fmt.Println(t.ID)
	return nil
}

// --- recall: retrieve thoughts by query ---

var (
	recallLimit int
	recallMode  string
)

var recallCmd = &cobra.Command{
	Use:   "recall [query]",
	Short: "Retrieve thoughts ranked against a query",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecall,
}

func init() {
	recallCmd.Flags().IntVarP(&recallLimit, "limit", "n", 5, "max results")
	recallCmd.Flags().StringVarP(&recallMode, "mode", "m", "similarity", "similarity|activation-weighted|spreading")
}

func runRecall(cmd *cobra.Command, args []string) error {
	s, err := open()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	thoughts, err := s.Retrieve(ctx, args[0], recallLimit, sub.RetrieveMode(recallMode))
	if err != nil {
		return err
	}
	for _, t := range thoughts {
		fmt.Printf("%.4f  %-12s  %s\n", t.RelevanceScore, t.Type, truncate(t.Content, 80))
	}
	return nil
}

// --- recent: list recently created thoughts ---

var (
	recentLimit int
	recentType  string
)

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List the most recently created thoughts",
	RunE:  runRecent,
}

func init() {
	recentCmd.Flags().IntVarP(&recentLimit, "limit", "n", 20, "max results")
	recentCmd.Flags().StringVarP(&recentType, "type", "t", "", "filter by thought type")
}

func runRecent(cmd *cobra.Command, args []string) error {
	s, err := open()
	if err != nil {
		return err
	}
	defer s.Close()

	for _, t := range s.Recent(recentLimit, sub.ThoughtType(recentType)) {
		fmt.Printf("%s  %-12s  %s  %s\n", t.CreatedAt.Format(time.RFC3339), t.Type, t.ID[:8], truncate(t.Content, 80))
	}
	return nil
}

// --- concepts: list concepts ---

var conceptsStage string

var conceptsCmd = &cobra.Command{
	Use:   "concepts",
	Short: "List concepts, optionally filtered by stage",
	RunE:  runConcepts,
}

func init() {
	conceptsCmd.Flags().StringVarP(&conceptsStage, "stage", "s", "", "emerging|established|central|fading")
}

func runConcepts(cmd *cobra.Command, args []string) error {
	s, err := open()
	if err != nil {
		return err
	}
	defer s.Close()

	for _, c := range s.ListConcepts(sub.ConceptStage(conceptsStage)) {
		fmt.Printf("%-8s  %-12s  salience=%.3f  members=%d  %s\n", c.ID[:8], c.Stage, c.Salience, len(c.MembersOrdered), c.Label)
	}
	return nil
}

// --- jobs: inspect persisted scheduler state ---

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Show persisted scheduling state for every known job",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := open()
		if err != nil {
			return err
		}
		defer s.Close()

		for name, js := range s.JobStates() {
			fmt.Printf("%-12s  runs=%-5d  last_run=%-25s  adapted=%-10s  feedback=%.2f  status=%s\n",
				name, js.RunCount, formatTime(js.LastRun), js.AdaptedInterval, js.LastFeedback, statusOrIdle(js.Status))
		}
		return nil
	},
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format(time.RFC3339)
}

func statusOrIdle(status string) string {
	if status == "" {
		return "idle"
	}
	return status
}

// --- trigger / cancel ---
//
// The directory lock is exclusive, so these can only open the data
// directory when no `serve` process currently holds it; they cannot
// reach a live `serve` process. A freshly opened substrate has no jobs
// registered, so trigger reports the job as not found, and cancel only
// sets an in-memory flag that is discarded when the process exits.
// Neither command starts a run or changes persisted job state. Under
// `serve`, a job that has never run (LastRun.IsZero()) is due on the
// scheduler's first tick.

var triggerCmd = &cobra.Command{
	Use:   "trigger [job]",
	Short: "Trigger a registered job immediately",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := open()
		if err != nil {
			return err
		}
		defer s.Close()
		return s.TriggerJob(args[0])
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [job]",
	Short: "Cancel a pending or running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := open()
		if err != nil {
			return err
		}
		defer s.Close()
		s.CancelJob(args[0])
		return nil
	},
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
