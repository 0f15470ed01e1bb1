// substrate-mcp exposes the cognitive substrate as an MCP stdio server.
//
// Environment variables:
//
//	SUBSTRATE_DATA_DIR         — on-disk state directory (default: ./data)
//	SUBSTRATE_EMBEDDING_BACKEND — "gemini" | "openai" | "ollama" | "none"
//	SUBSTRATE_GEMINI_API_KEY, SUBSTRATE_OPENAI_API_KEY, SUBSTRATE_OLLAMA_HOST — backend credentials
//
// Usage:
//
//	go install github.com/aletheia-labs/substrate/cmd/substrate-mcp
//	substrate-mcp
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	sub "github.com/aletheia-labs/substrate"
)

func main() {
	cfg, err := sub.LoadConfig()
	if err != nil {
		fail(err)
	}

	s, err := sub.Init(cfg)
	if err != nil {
		fail(err)
	}
	defer s.Close()

	// trigger_job only does something real once jobs are registered
	// and the loop is running, the same registration runServe does in
	// cmd/substratectl — otherwise it would be a tool that can never
	// find a job to run.
	oracle := sub.NewOracleClient(cfg.OracleURL, cfg.OracleKey)
	registerCanonicalJobs(s, oracle, cfg)
	s.StartScheduler()
	defer s.StopScheduler()

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "substrate-mcp",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "remember",
		Description: "Store a new thought and let it form associations and join or seed a concept. Returns the thought ID for chaining.",
	}, rememberHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "recall",
		Description: "Retrieve thoughts ranked by semantic similarity, activation-weighted composite score, or spreading activation from the single best match.",
	}, recallHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "reinforce",
		Description: "Bump a thought's activation and propagate a fraction to its associated neighbors.",
	}, reinforceHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "trace",
		Description: "Walk outward from a thought along its strongest associations, returning the visited thoughts in traversal order.",
	}, traceHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "concepts",
		Description: "List concepts, optionally filtered by lifecycle stage (emerging, established, central, fading).",
	}, conceptsHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "neighbors",
		Description: "List the related-concept edges for a given concept ID.",
	}, neighborsHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "inspect",
		Description: "Browse the most recently created thoughts, optionally filtered by type. Useful for debugging what the substrate holds.",
	}, inspectHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "trigger_job",
		Description: "Trigger a registered scheduler job immediately (reflection, dream, monologue, existential, pulse), bypassing its interval check.",
	}, triggerJobHandler(s))

	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		log.Fatalf("substrate-mcp: %v", err)
	}
}

// fail maps err to the process exit code spec.md §6 fixes for the data
// directory, mirroring substratectl's exitCodeFor: 2 when another
// process holds the lock, 3 when on-disk state is corrupt with no
// automatic recovery, 4 when required configuration is missing, 1
// otherwise.
func fail(err error) {
	fmt.Fprintf(os.Stderr, "substrate-mcp: %v\n", err)
	switch {
	case errors.Is(err, sub.ErrDirectoryLocked):
		os.Exit(2)
	case errors.Is(err, sub.ErrCorruptState):
		os.Exit(3)
	case errors.Is(err, sub.ErrConfigMissing):
		os.Exit(4)
	default:
		os.Exit(1)
	}
}

// registerCanonicalJobs wires the same reflection/dream/monologue/
// existential/pulse jobs cmd/substratectl's runServe registers, so
// that the trigger_job tool has something real to find. Without an
// Oracle URL, the generative jobs are still registered (trigger_job
// should report "job not found" only for unknown names, never for a
// configured one) but fail at run time through oracle.Complete's own
// ErrBackendUnavailable wrapping.
func registerCanonicalJobs(s *sub.Substrate, oracle *sub.OracleClient, cfg sub.Config) {
	s.EnsureSeed("reflection", "Reflect on recent experiences: {{summary}}")
	s.EnsureSeed("dream", "Describe a dreamlike association drifting from: {{seed}}")
	s.EnsureSeed("monologue", "Continue an inner monologue about: {{topic}}")
	s.EnsureSeed("existential", "Consider, from first principles, the question: {{question}}")

	s.Register("reflection", cfg.ReflectionInterval, 2, sub.NeutralTypeFactor, generativeJob(s, oracle, sub.ThoughtReflection, "reflection"))
	s.Register("dream", cfg.DreamInterval, 3, sub.DreamTypeFactor, generativeJob(s, oracle, sub.ThoughtDream, "dream"))
	s.Register("monologue", cfg.MonologueInterval, 2, sub.NeutralTypeFactor, generativeJob(s, oracle, sub.ThoughtMonologue, "monologue"))
	s.Register("existential", cfg.ExistentialInterval, 1, sub.ExistentialTypeFactor, generativeJob(s, oracle, sub.ThoughtExistential, "existential"))
	s.Register("pulse", cfg.PulseInterval, 0, sub.NeutralTypeFactor, pulseJob(s))
}

// generativeJob renders a prompt pattern for thoughtType, completes it
// against the Oracle, and saves the result as a new thought, feeding
// success back into the pattern's EWMA score. Mirrors substratectl's
// job of the same name — duplicated rather than shared since the two
// binaries are separate main packages.
func generativeJob(s *sub.Substrate, oracle *sub.OracleClient, thoughtType sub.ThoughtType, typeName string) sub.JobFunc {
	return func(ctx context.Context) (float64, error) {
		patternID, rendered, err := s.Select(typeName, map[string]string{
			"summary":  "the substrate's most recent thoughts",
			"seed":     "the substrate's most recent thought",
			"topic":    "the nature of memory",
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

// --- Input types ---

type rememberInput struct {
	Content  string  `json:"content"             jsonschema:"The thought's text content"`
	Type     string  `json:"type,omitempty"      jsonschema:"Thought type: reflection, dream, monologue, existential, pulse, user, dialogue (default: user)"`
	Origin   string  `json:"origin,omitempty"    jsonschema:"Which job or caller produced this thought"`
	ParentID string  `json:"parent_id,omitempty" jsonschema:"Optional parent thought ID for conversation chains"`
	Focus    string  `json:"focus,omitempty"     jsonschema:"Optional contextual focus tag used for contextual association formation"`
}

type recallInput struct {
	Query string `json:"query"          jsonschema:"Search query to find relevant thoughts"`
	Limit int    `json:"limit,omitempty" jsonschema:"Max results to return (default 5)"`
	Mode  string `json:"mode,omitempty"   jsonschema:"Ranking mode: similarity, activation-weighted, spreading (default similarity)"`
}

type reinforceInput struct {
	ThoughtID string `json:"thought_id" jsonschema:"The thought ID to reinforce"`
}

type traceInput struct {
	StartID      string `json:"start_id"               jsonschema:"Thought ID to start the walk from"`
	Depth        int    `json:"depth,omitempty"        jsonschema:"Max hops to walk (default 3)"`
	BranchFactor int    `json:"branch_factor,omitempty" jsonschema:"Max outgoing edges to follow per node (default 2)"`
}

type conceptsInput struct {
	Stage string `json:"stage,omitempty" jsonschema:"Filter to one lifecycle stage: emerging, established, central, fading. Empty returns all."`
}

type neighborsInput struct {
	ConceptID string `json:"concept_id" jsonschema:"The concept ID to list related-concept edges for"`
}

type inspectInput struct {
	Limit int    `json:"limit,omitempty" jsonschema:"Max thoughts to list (default 20)"`
	Type  string `json:"type,omitempty"  jsonschema:"Filter to a single thought type"`
}

type triggerJobInput struct {
	Name string `json:"name" jsonschema:"Registered job name to trigger immediately"`
}

// --- Handlers ---

func rememberHandler(s *sub.Substrate) func(context.Context, *mcp.CallToolRequest, rememberInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input rememberInput) (*mcp.CallToolResult, any, error) {
		thoughtType := sub.ThoughtType(input.Type)
		if thoughtType == "" {
			thoughtType = sub.ThoughtUser
		}

		meta := sub.Value{}
		if input.Focus != "" {
			meta = sub.MapValue(map[string]sub.Value{"focus": sub.StringValue(input.Focus)})
		}

		t, err := s.Save(ctx, sub.SaveOptions{
			Content:  input.Content,
			Type:     thoughtType,
			Origin:   input.Origin,
			ParentID: input.ParentID,
			Metadata: meta,
		})
		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}
		return textResult(jsonString(map[string]any{
			"thought_id": t.ID,
			"status":     "stored",
		})), nil, nil
	}
}

func recallHandler(s *sub.Substrate) func(context.Context, *mcp.CallToolRequest, recallInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input recallInput) (*mcp.CallToolResult, any, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = 5
		}
		mode := sub.RetrieveMode(input.Mode)
		if mode == "" {
			mode = sub.RetrieveSimilarity
		}

		thoughts, err := s.Retrieve(ctx, input.Query, limit, mode)
		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}

		out := make([]map[string]any, len(thoughts))
		for i, t := range thoughts {
			out[i] = thoughtToMap(t)
		}
		return textResult(jsonString(out)), nil, nil
	}
}

func reinforceHandler(s *sub.Substrate) func(context.Context, *mcp.CallToolRequest, reinforceInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input reinforceInput) (*mcp.CallToolResult, any, error) {
		if err := s.Reinforce(input.ThoughtID); err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}
		return textResult(`{"status": "reinforced"}`), nil, nil
	}
}

func traceHandler(s *sub.Substrate) func(context.Context, *mcp.CallToolRequest, traceInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input traceInput) (*mcp.CallToolResult, any, error) {
		depth := input.Depth
		if depth <= 0 {
			depth = 3
		}
		branch := input.BranchFactor
		if branch <= 0 {
			branch = 2
		}

		thoughts := s.GenerateThoughtTrace(input.StartID, depth, branch)
		out := make([]map[string]any, len(thoughts))
		for i, t := range thoughts {
			out[i] = thoughtToMap(t)
		}
		return textResult(jsonString(out)), nil, nil
	}
}

func conceptsHandler(s *sub.Substrate) func(context.Context, *mcp.CallToolRequest, conceptsInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input conceptsInput) (*mcp.CallToolResult, any, error) {
		concepts := s.ListConcepts(sub.ConceptStage(input.Stage))
		out := make([]map[string]any, len(concepts))
		for i, c := range concepts {
			out[i] = conceptToMap(c)
		}
		return textResult(jsonString(out)), nil, nil
	}
}

func neighborsHandler(s *sub.Substrate) func(context.Context, *mcp.CallToolRequest, neighborsInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input neighborsInput) (*mcp.CallToolResult, any, error) {
		edges, err := s.Neighbors(input.ConceptID)
		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}
		out := make([]map[string]any, len(edges))
		for i, e := range edges {
			out[i] = map[string]any{"target_id": e.TargetID, "weight": e.Weight}
		}
		return textResult(jsonString(out)), nil, nil
	}
}

func inspectHandler(s *sub.Substrate) func(context.Context, *mcp.CallToolRequest, inspectInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input inspectInput) (*mcp.CallToolResult, any, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = 20
		}
		thoughts := s.Recent(limit, sub.ThoughtType(input.Type))
		out := make([]map[string]any, len(thoughts))
		for i, t := range thoughts {
			out[i] = thoughtToMap(t)
		}
		return textResult(jsonString(out)), nil, nil
	}
}

func triggerJobHandler(s *sub.Substrate) func(context.Context, *mcp.CallToolRequest, triggerJobInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input triggerJobInput) (*mcp.CallToolResult, any, error) {
		if err := s.TriggerJob(input.Name); err != nil {
			return textResult(fmt.Sprintf(`{"status": "error", "job": %q, "error": %q}`, input.Name, err.Error())), nil, nil
		}
		return textResult(fmt.Sprintf(`{"status": "triggered", "job": %q}`, input.Name)), nil, nil
	}
}

// --- Helpers ---

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

func thoughtToMap(t sub.Thought) map[string]any {
	return map[string]any{
		"id":              t.ID,
		"content":         t.Content,
		"type":            t.Type,
		"origin":          t.Origin,
		"activation":      t.Activation,
		"relevance_score": t.RelevanceScore,
		"parent_id":       t.ParentID,
		"created_at":      t.CreatedAt.Format(time.RFC3339),
	}
}

func conceptToMap(c sub.Concept) map[string]any {
	return map[string]any{
		"id":           c.ID,
		"label":        c.Label,
		"stage":        c.Stage,
		"salience":     c.Salience,
		"member_count": len(c.MembersOrdered),
		"first_seen":   c.FirstSeen.Format(time.RFC3339),
		"last_updated": c.LastUpdated.Format(time.RFC3339),
	}
}

func jsonString(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error": "marshal: %v"}`, err)
	}
	return string(data)
}
