package substrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
)

func (s *Substrate) thoughtsPath() string      { return filepath.Join(s.cfg.DataDir, "thoughts.json") }
func (s *Substrate) assocPath() string         { return filepath.Join(s.cfg.DataDir, "thought_associations.json") }
func (s *Substrate) indexBinPath() string      { return filepath.Join(s.cfg.DataDir, "vector_index.bin") }
func (s *Substrate) indexMetaPath() string     { return filepath.Join(s.cfg.DataDir, "index_meta") }

// thoughtRecord is the on-disk shape of thoughts.json — associations
// live in their own file per spec §6, so they're excluded here.
type thoughtRecord struct {
	ID             string      `json:"id"`
	Content        string      `json:"content"`
	CreatedAt      string      `json:"created_at"`
	Type           ThoughtType `json:"type"`
	Origin         string      `json:"origin"`
	Activation     float64     `json:"activation"`
	LastAccessedAt string      `json:"last_accessed_at"`
	ParentID       string      `json:"parent_id,omitempty"`
	RelevanceScore float64     `json:"relevance_score"`
	Metadata       Value       `json:"metadata,omitempty"`
	Seq            uint64      `json:"seq"`
}

type assocRecord struct {
	TargetID string          `json:"target_id"`
	Weight   float64         `json:"weight"`
	Kind     AssociationKind `json:"kind"`
}

// persistLocked writes every managed file to disk atomically. Must be
// called from inside the loop (exec) — it touches s.thoughts/s.index
// directly without further locking. The five files are independent, so
// they're written concurrently to keep the loop's blocking window
// short; a guardFor mutex per path still serializes against any
// leftover writer targeting the same file.
func (s *Substrate) persistLocked() error {
	var g errgroup.Group
	g.Go(s.persistThoughtsLocked)
	g.Go(s.persistAssociationsLocked)
	g.Go(func() error {
		if s.index == nil {
			return nil
		}
		return s.index.saveTo(s.indexBinPath(), s.indexMetaPath())
	})
	g.Go(func() error { return s.concepts.persist(s.cfg.DataDir) })
	g.Go(func() error {
		if s.patterns == nil {
			return nil
		}
		return s.patterns.persist(s.cfg.DataDir)
	})
	return g.Wait()
}

func (s *Substrate) persistThoughtsLocked() error {
	g := guardFor(s.thoughtsPath())
	g.mu.Lock()
	defer g.mu.Unlock()

	records := make([]thoughtRecord, 0, len(s.thoughts))
	for _, id := range s.order {
		t := s.thoughts[id]
		records = append(records, thoughtRecord{
			ID:             t.ID,
			Content:        t.Content,
			CreatedAt:      t.CreatedAt.Format(timeLayout),
			Type:           t.Type,
			Origin:         t.Origin,
			Activation:     t.Activation,
			LastAccessedAt: t.LastAccessedAt.Format(timeLayout),
			ParentID:       t.ParentID,
			RelevanceScore: t.RelevanceScore,
			Metadata:       t.Metadata,
			Seq:            t.seq,
		})
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal thoughts: %v", ErrPersistence, err)
	}
	return writeFileAtomic(s.thoughtsPath(), data, 0o644)
}

func (s *Substrate) persistAssociationsLocked() error {
	g := guardFor(s.assocPath())
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(map[string][]assocRecord, len(s.thoughts))
	for id, t := range s.thoughts {
		recs := make([]assocRecord, len(t.Associations))
		for i, a := range t.Associations {
			recs[i] = assocRecord{TargetID: a.TargetID, Weight: a.Weight, Kind: a.Kind}
		}
		out[id] = recs
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal associations: %v", ErrPersistence, err)
	}
	return writeFileAtomic(s.assocPath(), data, 0o644)
}

const timeLayout = "2006-01-02T15:04:05.999999999Z07:00"

// loadState loads thoughts, associations, and the vector index from
// disk, rebuilding the index from thoughts.json if it's missing or
// fails its schema check (spec §4.B "index corruption triggers
// rebuild from stored thoughts on startup"), and recomputing
// associations from scratch if thought_associations.json is corrupt
// (spec §7: "associations can be recomputed").
func (s *Substrate) loadState() error {
	records, err := s.loadThoughtRecords()
	if err != nil {
		return err
	}

	assocs, err := s.loadAssociations()
	recomputeAssocs := false
	switch {
	case err == nil:
		// loaded fine
	case errors.Is(err, ErrCorruptState):
		s.logger.Warn("associations corrupt, recomputing from thoughts.json", "error", err)
		assocs = map[string][]assocRecord{}
		recomputeAssocs = true
	default:
		return err
	}

	for _, r := range records {
		created, _ := parseTime(r.CreatedAt)
		lastAccessed, _ := parseTime(r.LastAccessedAt)
		t := &Thought{
			ID:             r.ID,
			Content:        r.Content,
			CreatedAt:      created,
			Type:           r.Type,
			Origin:         r.Origin,
			Activation:     r.Activation,
			LastAccessedAt: lastAccessed,
			ParentID:       r.ParentID,
			RelevanceScore: r.RelevanceScore,
			Metadata:       r.Metadata,
			Associations:   toAssociations(assocs[r.ID]),
			seq:            r.Seq,
		}
		if v, ok := t.Metadata.Get("focus"); ok {
			if str, ok := v.String(); ok {
				t.metaFocus = str
			}
		}
		s.thoughts[t.ID] = t
		s.order = append(s.order, t.ID)
		if t.seq >= s.seqNext {
			s.seqNext = t.seq + 1
		}
	}

	dim := 256
	if s.embedder != nil {
		dim = s.embedder.Dimension()
	}

	idx, err := loadFlatIndex(s.indexBinPath(), s.indexMetaPath())
	switch {
	case err == nil:
		s.index = idx
	case os.IsNotExist(err):
		s.index = NewFlatIndex(dim)
		s.rebuildIndexFromThoughts()
	default:
		s.logger.Warn("vector index corrupt, rebuilding from thoughts.json", "error", err)
		s.index = NewFlatIndex(dim)
		s.rebuildIndexFromThoughts()
	}

	if recomputeAssocs {
		s.recomputeAssociationsFromThoughts()
	}
	return nil
}

// recomputeAssociationsFromThoughts replays establishConnections over
// every stored thought in creation order, rebuilding the association
// graph from the index and thought metadata alone. Used when
// thought_associations.json is corrupt; s.index must already be
// populated (loaded or rebuilt) before this runs.
func (s *Substrate) recomputeAssociationsFromThoughts() {
	for _, id := range s.order {
		t := s.thoughts[id]
		// Associations starts empty for every thought here (the
		// corrupt-file path never populated any), but by the time a
		// later id's turn comes around it may already hold reciprocal
		// edges an earlier id wrote onto it — establishConnections
		// seeds from whatever's already there rather than discarding
		// it, so don't reset it here.
		var vec []float32
		if s.index != nil {
			vec, _ = s.index.VectorFor(id)
		}
		s.establishConnections(t, vec, t.metaFocus)
	}
}

// rebuildIndexFromThoughts re-embeds every stored thought's content
// into a fresh index. Embedding is deterministic for a fixed model
// (spec §4.A), so this reconstructs index contents exactly when the
// configured backend matches what produced the original vectors.
func (s *Substrate) rebuildIndexFromThoughts() {
	if s.embedder == nil {
		return
	}
	for _, id := range s.order {
		t := s.thoughts[id]
		vec, err := s.embedder.Embed(context.Background(), t.Content, "RETRIEVAL_DOCUMENT")
		if err != nil {
			continue
		}
		_ = s.index.Add(id, vec)
	}
}

func (s *Substrate) loadThoughtRecords() ([]thoughtRecord, error) {
	data, err := os.ReadFile(s.thoughtsPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read thoughts.json: %v", ErrPersistence, err)
	}
	var records []thoughtRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: parse thoughts.json: %v", ErrCorruptState, err)
	}
	return records, nil
}

func (s *Substrate) loadAssociations() (map[string][]assocRecord, error) {
	data, err := os.ReadFile(s.assocPath())
	if os.IsNotExist(err) {
		return map[string][]assocRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read thought_associations.json: %v", ErrPersistence, err)
	}
	var out map[string][]assocRecord
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: parse thought_associations.json: %v", ErrCorruptState, err)
	}
	return out, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func toAssociations(recs []assocRecord) []Association {
	out := make([]Association, len(recs))
	for i, r := range recs {
		out[i] = Association{TargetID: r.TargetID, Weight: r.Weight, Kind: r.Kind}
	}
	return out
}
