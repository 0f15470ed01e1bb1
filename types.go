package substrate

import "time"

// ThoughtType tags the generative process that produced a thought.
// The set is open — callers may register new types with the prompt
// store — but these are the ones the scheduler drives out of the box.
type ThoughtType string

const (
	ThoughtReflection  ThoughtType = "reflection"
	ThoughtDream       ThoughtType = "dream"
	ThoughtMonologue   ThoughtType = "monologue"
	ThoughtExistential ThoughtType = "existential"
	ThoughtPulse       ThoughtType = "pulse"
	ThoughtUser        ThoughtType = "user"
	ThoughtDialogue    ThoughtType = "dialogue"
)

// AssociationKind classifies how two thoughts came to be linked.
type AssociationKind string

const (
	AssocSemantic   AssociationKind = "semantic"
	AssocTemporal   AssociationKind = "temporal"
	AssocContextual AssociationKind = "contextual"
	AssocCausal     AssociationKind = "causal"
)

// Association is a weighted, typed, directed edge from one thought to
// another. Self-loops are forbidden; cycles across multiple thoughts
// are permitted.
type Association struct {
	TargetID string          `json:"target_id"`
	Weight   float64         `json:"weight"` // (0,1]
	Kind     AssociationKind `json:"kind"`
}

// Thought is the atom of memory: a unit of generated or received text
// plus metadata. Content never mutates after creation; activation and
// associations do.
type Thought struct {
	ID             string        `json:"id"`
	Content        string        `json:"content"`
	CreatedAt      time.Time     `json:"created_at"`
	Type           ThoughtType   `json:"type"`
	Origin         string        `json:"origin"` // which job or caller produced it
	Activation     float64       `json:"activation"`
	LastAccessedAt time.Time     `json:"last_accessed_at"`
	ParentID       string        `json:"parent_id,omitempty"`
	Associations   []Association `json:"associations"`
	RelevanceScore float64       `json:"relevance_score"` // cached from the last Retrieve that touched it
	Metadata       Value         `json:"metadata,omitempty"`

	// metaFocus is Metadata["focus"] cached as a plain string so
	// contextual-association formation doesn't re-walk the value tree
	// per candidate thought.
	metaFocus string `json:"-"`

	// lastDecayedAt is the timestamp of this thought's last decay
	// pass, kept separate from LastAccessedAt so each pulse decays by
	// the interval since the previous pulse rather than by the
	// ever-growing interval since the thought was last touched. Zero
	// until the first decay pass; not persisted — a restart simply
	// rebases it off LastAccessedAt.
	lastDecayedAt time.Time `json:"-"`

	// seq is the monotonic creation counter assigned by the loop; it
	// gives observers a total order consistent with creation (§5).
	seq uint64 `json:"-"`
}

// ConceptStage is the lifecycle stage of a concept.
type ConceptStage string

const (
	StageEmerging    ConceptStage = "emerging"
	StageEstablished ConceptStage = "established"
	StageCentral     ConceptStage = "central"
	StageFading      ConceptStage = "fading"
)

// ConceptEdge is a directed, weighted edge between two concepts.
// Semantically undirected; stored directed for efficiency (spec §3).
type ConceptEdge struct {
	TargetID string  `json:"target_id"`
	Weight   float64 `json:"weight"`
}

// Concept is a persistent named cluster derived from thoughts sharing
// an embedding neighborhood.
type Concept struct {
	ID             string              `json:"id"`
	Label          string              `json:"label"`
	Stage          ConceptStage        `json:"stage"`
	Centroid       []float32           `json:"centroid"`
	Members        map[string]struct{} `json:"-"`
	MembersOrdered []string            `json:"members"` // serialization view of Members
	FirstSeen      time.Time           `json:"first_seen"`
	LastUpdated    time.Time           `json:"last_updated"`
	Edges          []ConceptEdge       `json:"edges"`
	Salience       float64             `json:"salience"`

	// LowMemberCycles counts consecutive evolution cycles this concept
	// has spent below minCluster members; CyclesExisted counts total
	// cycles since creation. Both drive the lifecycle transitions in
	// spec §4.C and are persisted so restarts don't reset the clock.
	LowMemberCycles int `json:"low_member_cycles"`
	CyclesExisted   int `json:"cycles_existed"`
}

// PromptPattern is a template with named placeholders used to build
// generation prompts. Seed patterns (ParentID == "") are immutable and
// never retired.
type PromptPattern struct {
	ID           string    `json:"id"`
	ThoughtType  string    `json:"thought_type"`
	Template     string    `json:"template"`
	ParentID     string    `json:"parent_id,omitempty"`
	UsageCount   int       `json:"usage_count"`
	SuccessScore float64   `json:"success_score"` // EWMA in [0,1]
	CreatedAt    time.Time `json:"created_at"`
}

// IsSeed reports whether this pattern is an immutable seed.
func (p PromptPattern) IsSeed() bool { return p.ParentID == "" }

// Mood is a named-scalar vector, each dimension in [0,1], maintained by
// callers and read by the scheduler's interval adapter.
type Mood map[string]float64

// Get returns a mood dimension, defaulting to 0.5 (neutral) if unset.
func (m Mood) Get(dim string) float64 {
	if m == nil {
		return 0.5
	}
	if v, ok := m[dim]; ok {
		return v
	}
	return 0.5
}

// JobState is the persisted scheduling state for one registered job.
type JobState struct {
	Name            string        `json:"name"`
	BaseInterval    time.Duration `json:"base_interval"`
	LastRun         time.Time     `json:"last_run"`
	AdaptedInterval time.Duration `json:"adapted_interval"`
	RecentSuccess   bool          `json:"recent_success"`
	LastFeedback    float64       `json:"last_feedback"`
	RunCount        int           `json:"run_count"`
	Status          string        `json:"status"` // "", "running", "cancelled"
}

// SchedulerState is the full persisted state of the Adaptive Scheduler.
type SchedulerState struct {
	Jobs map[string]*JobState `json:"jobs"`
	Mood Mood                 `json:"mood"`
}
