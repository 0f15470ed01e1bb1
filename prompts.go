package substrate

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	selectionPrior     = 0.1
	feedbackBeta       = 0.2
	evolveScoreFloor   = 0.6
	derivedScoreFactor = 0.8
	retireFloor        = 0.2
	retireAfterUses    = 20
)

// patternStore is the Dynamic Prompt pattern store (spec §4.D),
// grounded on original_source/dynamic_prompt.py's
// DynamicPromptGenerator.
type patternStore struct {
	byType map[string][]*PromptPattern
	byID   map[string]*PromptPattern
}

func newPatternStore() *patternStore {
	return &patternStore{byType: map[string][]*PromptPattern{}, byID: map[string]*PromptPattern{}}
}

func (ps *patternStore) patternsPath(dataDir string) string {
	return filepath.Join(dataDir, "prompt_patterns.json")
}

type patternRecord struct {
	ID           string  `json:"id"`
	ThoughtType  string  `json:"thought_type"`
	Template     string  `json:"template"`
	ParentID     string  `json:"parent_id,omitempty"`
	UsageCount   int     `json:"usage_count"`
	SuccessScore float64 `json:"success_score"`
	CreatedAt    string  `json:"created_at"`
}

func (ps *patternStore) load(dataDir string) error {
	data, err := os.ReadFile(ps.patternsPath(dataDir))
	switch {
	case os.IsNotExist(err):
		ps.seed()
		return nil
	case err != nil:
		return fmt.Errorf("%w: read prompt_patterns.json: %v", ErrPersistence, err)
	}

	var byType map[string][]patternRecord
	if err := json.Unmarshal(data, &byType); err != nil {
		return fmt.Errorf("%w: parse prompt_patterns.json: %v", ErrCorruptState, err)
	}
	for typeKey, records := range byType {
		for _, r := range records {
			created, _ := parseTime(r.CreatedAt)
			p := &PromptPattern{
				ID:           r.ID,
				ThoughtType:  r.ThoughtType,
				Template:     r.Template,
				ParentID:     r.ParentID,
				UsageCount:   r.UsageCount,
				SuccessScore: r.SuccessScore,
				CreatedAt:    created,
			}
			ps.byType[typeKey] = append(ps.byType[typeKey], p)
			ps.byID[p.ID] = p
		}
	}
	ps.seed() // ensures every registered type still has >=1 pattern
	return nil
}

func (ps *patternStore) persist(dataDir string) error {
	path := ps.patternsPath(dataDir)
	g := guardFor(path)
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(map[string][]patternRecord, len(ps.byType))
	for typeKey, patterns := range ps.byType {
		recs := make([]patternRecord, len(patterns))
		for i, p := range patterns {
			recs[i] = patternRecord{
				ID:           p.ID,
				ThoughtType:  p.ThoughtType,
				Template:     p.Template,
				ParentID:     p.ParentID,
				UsageCount:   p.UsageCount,
				SuccessScore: p.SuccessScore,
				CreatedAt:    p.CreatedAt.Format(timeLayout),
			}
		}
		out[typeKey] = recs
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal patterns: %v", ErrPersistence, err)
	}
	return writeFileAtomic(path, data, 0o644)
}

// seed ensures every canonical thought-type has at least one immutable
// seed pattern (spec §4.D "at least one pattern per thought-type
// key"). Templates are ported from the original's
// _init_reflection_patterns / _init_dream_patterns /
// _init_monologue_patterns / _init_existential_patterns, translated
// from their multi-slot `structure` dicts into single text/template
// strings (SPEC_FULL.md §4.D).
func (ps *patternStore) seed() {
	seeds := map[string][]string{
		string(ThoughtReflection): {
			"Thinking back, {{mood}} settles over me as I consider {{concept}}. What does it mean that this keeps returning to mind?",
			"I find myself dwelling on {{concept}} again. Why does this matter to me right now, feeling {{mood}} as I do?",
		},
		string(ThoughtDream): {
			"I drift into {{setting}}, carried by a mood of {{mood}}. {{concept}} takes shape before me, and I {{action}}.",
			"In the dream, {{concept}} becomes something larger, something symbolic, wrapped in {{mood}} and the shape of {{setting}}.",
		},
		string(ThoughtMonologue): {
			"{{concept}}. I keep circling back to it, turning it over, {{mood}} as ever.",
			"What is {{concept}}, really, beneath the {{mood}} I bring to it? Let me ask differently this time.",
		},
		string(ThoughtExistential): {
			"Do I actually understand {{concept}}, or only the shape it leaves in me — {{mood}} and unresolved?",
		},
		string(ThoughtPulse): {
			"A brief notice: {{concept}}, held lightly, {{mood}}.",
		},
		string(ThoughtUser): {
			"{{content}}",
		},
		string(ThoughtDialogue): {
			"In response to {{concept}}: {{content}}",
		},
	}
	for typeKey, templates := range seeds {
		if len(ps.byType[typeKey]) > 0 {
			continue
		}
		for _, tmpl := range templates {
			p := &PromptPattern{
				ID:           uuid.New().String(),
				ThoughtType:  typeKey,
				Template:     tmpl,
				ParentID:     "",
				SuccessScore: 0.5,
				CreatedAt:    time.Now(),
			}
			ps.byType[typeKey] = append(ps.byType[typeKey], p)
			ps.byID[p.ID] = p
		}
	}
}

// EnsureSeed registers a seed pattern for a caller-supplied thought
// type, used by S4's custom-type registration.
func (s *Substrate) EnsureSeed(thoughtType, template string) {
	s.exec(func() {
		if len(s.patterns.byType[thoughtType]) > 0 {
			return
		}
		p := &PromptPattern{
			ID:           uuid.New().String(),
			ThoughtType:  thoughtType,
			Template:     template,
			SuccessScore: 0.5,
			CreatedAt:    time.Now(),
		}
		s.patterns.byType[thoughtType] = append(s.patterns.byType[thoughtType], p)
		s.patterns.byID[p.ID] = p
	})
}

var placeholderRE = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// renderTemplate substitutes {{name}} placeholders from vars. Any
// placeholder left over after substitution is a pattern/context
// mismatch (spec §4.D).
func renderTemplate(tmpl string, vars map[string]string) (string, error) {
	var missing []string
	rendered := placeholderRE.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := placeholderRE.FindStringSubmatch(match)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		missing = append(missing, name)
		return match
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: unresolved placeholders %v", ErrPatternMismatch, missing)
	}
	return rendered, nil
}

// Select samples a pattern for thoughtType proportional to
// success_score+prior (spec §4.D), renders it against vars, and
// returns both the chosen pattern id and the rendered prompt.
func (s *Substrate) Select(thoughtType string, vars map[string]string) (string, string, error) {
	var patternID, rendered string
	var err error
	s.exec(func() {
		patterns := s.patterns.byType[thoughtType]
		if len(patterns) == 0 {
			err = fmt.Errorf("%w: no patterns registered for type %s", ErrPatternMismatch, thoughtType)
			return
		}
		p := weightedSample(patterns)
		text, rerr := renderTemplate(p.Template, vars)
		if rerr != nil {
			err = rerr
			return
		}
		p.UsageCount++
		patternID, rendered = p.ID, text
	})
	return patternID, rendered, err
}

func weightedSample(patterns []*PromptPattern) *PromptPattern {
	total := 0.0
	weights := make([]float64, len(patterns))
	for i, p := range patterns {
		w := p.SuccessScore + selectionPrior
		weights[i] = w
		total += w
	}
	r := rand.Float64() * total
	cum := 0.0
	for i, w := range weights {
		cum += w
		if r <= cum {
			return patterns[i]
		}
	}
	return patterns[len(patterns)-1]
}

// Feedback updates a pattern's EWMA success score, per spec §4.D.
func (s *Substrate) Feedback(patternID string, signal float64) error {
	var err error
	s.exec(func() {
		p, ok := s.patterns.byID[patternID]
		if !ok {
			err = fmt.Errorf("%w: pattern %s", ErrNotFound, patternID)
			return
		}
		signal = clamp01(signal)
		p.SuccessScore = (1-feedbackBeta)*p.SuccessScore + feedbackBeta*signal
		if e := s.persistLocked(); e != nil {
			err = e
		}
	})
	return err
}

// EvolveNow spawns mutated variants of each type's top-scoring
// patterns and retires derived patterns that have underperformed for
// long enough, per spec §4.D.
func (s *Substrate) EvolveNow() {
	s.exec(func() {
		for typeKey, patterns := range s.patterns.byType {
			var survivors []*PromptPattern
			for _, p := range patterns {
				if !p.IsSeed() && p.UsageCount >= retireAfterUses && p.SuccessScore < retireFloor {
					delete(s.patterns.byID, p.ID)
					continue
				}
				survivors = append(survivors, p)
			}
			s.patterns.byType[typeKey] = survivors

			for _, p := range survivors {
				if p.SuccessScore < evolveScoreFloor {
					continue
				}
				child := mutatePattern(p)
				s.patterns.byType[typeKey] = append(s.patterns.byType[typeKey], child)
				s.patterns.byID[child.ID] = child
			}
		}
		s.persistLocked()
	})
}

// mutatePattern spawns a variation by light synonym substitution and
// clause shuffling over a small domain vocabulary (spec §4.D), inheriting
// parent_score*0.8.
func mutatePattern(parent *PromptPattern) *PromptPattern {
	return &PromptPattern{
		ID:           uuid.New().String(),
		ThoughtType:  parent.ThoughtType,
		Template:     mutateTemplateText(parent.Template),
		ParentID:     parent.ID,
		SuccessScore: parent.SuccessScore * derivedScoreFactor,
		CreatedAt:    time.Now(),
	}
}

var synonymTable = map[string]string{
	"thinking":   "reflecting",
	"dwelling":   "lingering",
	"considering": "weighing",
	"drift":      "float",
	"circling":   "returning",
	"notice":     "observation",
}

func mutateTemplateText(tmpl string) string {
	words := strings.Fields(tmpl)
	for i, w := range words {
		lower := strings.ToLower(strings.Trim(w, ".,!?"))
		if syn, ok := synonymTable[lower]; ok {
			words[i] = syn
		}
	}
	if len(words) > 3 {
		// clause reordering: swap the first two "clauses" split on comma boundary
		joined := strings.Join(words, " ")
		parts := strings.SplitN(joined, ", ", 2)
		if len(parts) == 2 {
			return parts[1] + ", " + parts[0]
		}
		return joined
	}
	return strings.Join(words, " ")
}

// Extract records a new pattern descended from the producer when its
// feedback signal was high and the thought's structure is stable
// under placeholder abstraction (spec §4.D).
func (s *Substrate) Extract(thoughtID, patternID string, context map[string]string, signal float64) (*PromptPattern, error) {
	if signal < evolveScoreFloor {
		return nil, nil
	}
	var out *PromptPattern
	var err error
	s.exec(func() {
		t, ok := s.thoughts[thoughtID]
		if !ok {
			err = fmt.Errorf("%w: thought %s", ErrNotFound, thoughtID)
			return
		}
		parent, ok := s.patterns.byID[patternID]
		if !ok {
			err = fmt.Errorf("%w: pattern %s", ErrNotFound, patternID)
			return
		}
		abstracted := abstractPlaceholders(t.Content, context)
		if abstracted == t.Content {
			return // nothing stable to abstract; no new pattern
		}
		child := &PromptPattern{
			ID:           uuid.New().String(),
			ThoughtType:  parent.ThoughtType,
			Template:     abstracted,
			ParentID:     parent.ID,
			SuccessScore: parent.SuccessScore * derivedScoreFactor,
			CreatedAt:    time.Now(),
		}
		s.patterns.byType[parent.ThoughtType] = append(s.patterns.byType[parent.ThoughtType], child)
		s.patterns.byID[child.ID] = child
		out = child
	})
	return out, err
}

// abstractPlaceholders replaces substrings equal to a context
// variable's value with {{name}}, the detection spec §4.D calls
// "placeholder abstraction."
func abstractPlaceholders(content string, context map[string]string) string {
	out := content
	keys := make([]string, 0, len(context))
	for k := range context {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return len(context[keys[i]]) > len(context[keys[j]]) })
	for _, k := range keys {
		v := context[k]
		if v == "" {
			continue
		}
		out = strings.ReplaceAll(out, v, "{{"+k+"}}")
	}
	return out
}
