package substrate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
)

const (
	minCluster              = 4
	activeThoughtThreshold  = 0.2
	mergeThreshold          = 0.85
	splitMergeThreshold     = 0.7
	graphEdgeThreshold      = 0.6
	maxConceptsPerThought   = 3
	establishedCycleFloor   = 2
	fadingCycleCeiling      = 3
	evolveEveryNThoughts    = 20
	dbscanKDistanceK        = minCluster
)

// conceptStore owns every Concept and the clustering/reconciliation
// logic that produces and retires them, grounded on
// original_source/concept_evolution.py's ConceptNetwork.
type conceptStore struct {
	s *Substrate

	byID  map[string]*Concept
	order []string

	thoughtsSinceEvolve int
}

func newConceptStore(s *Substrate) (*conceptStore, error) {
	cs := &conceptStore{s: s, byID: map[string]*Concept{}}
	if err := cs.load(s.cfg.DataDir); err != nil {
		return nil, err
	}
	return cs, nil
}

func (cs *conceptStore) count() int { return len(cs.byID) }

func (cs *conceptStore) conceptsPath(dataDir string) string {
	return filepath.Join(dataDir, "evolved_concepts.json")
}

type conceptRecord struct {
	ID              string        `json:"id"`
	Label           string        `json:"label"`
	Stage           ConceptStage  `json:"stage"`
	Centroid        []float32     `json:"centroid"`
	Members         []string      `json:"members"`
	FirstSeen       string        `json:"first_seen"`
	LastUpdated     string        `json:"last_updated"`
	Edges           []ConceptEdge `json:"edges"`
	Salience        float64       `json:"salience"`
	LowMemberCycles int           `json:"low_member_cycles"`
	CyclesExisted   int           `json:"cycles_existed"`
}

func (cs *conceptStore) load(dataDir string) error {
	data, err := os.ReadFile(cs.conceptsPath(dataDir))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read evolved_concepts.json: %v", ErrPersistence, err)
	}
	var records []conceptRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("%w: parse evolved_concepts.json: %v", ErrCorruptState, err)
	}
	for _, r := range records {
		first, _ := parseTime(r.FirstSeen)
		last, _ := parseTime(r.LastUpdated)
		members := make(map[string]struct{}, len(r.Members))
		for _, m := range r.Members {
			members[m] = struct{}{}
		}
		c := &Concept{
			ID:              r.ID,
			Label:           r.Label,
			Stage:           r.Stage,
			Centroid:        r.Centroid,
			Members:         members,
			MembersOrdered:  append([]string{}, r.Members...),
			FirstSeen:       first,
			LastUpdated:     last,
			Edges:           r.Edges,
			Salience:        r.Salience,
			LowMemberCycles: r.LowMemberCycles,
			CyclesExisted:   r.CyclesExisted,
		}
		cs.byID[c.ID] = c
		cs.order = append(cs.order, c.ID)
	}
	return nil
}

func (cs *conceptStore) persist(dataDir string) error {
	path := cs.conceptsPath(dataDir)
	g := guardFor(path)
	g.mu.Lock()
	defer g.mu.Unlock()

	records := make([]conceptRecord, 0, len(cs.byID))
	for _, id := range cs.order {
		c, ok := cs.byID[id]
		if !ok {
			continue
		}
		records = append(records, conceptRecord{
			ID:              c.ID,
			Label:           c.Label,
			Stage:           c.Stage,
			Centroid:        c.Centroid,
			Members:         c.MembersOrdered,
			FirstSeen:       c.FirstSeen.Format(timeLayout),
			LastUpdated:     c.LastUpdated.Format(timeLayout),
			Edges:           c.Edges,
			Salience:        c.Salience,
			LowMemberCycles: c.LowMemberCycles,
			CyclesExisted:   c.CyclesExisted,
		})
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal concepts: %v", ErrPersistence, err)
	}
	return writeFileAtomic(path, data, 0o644)
}

// ConceptAssignment is one (concept, similarity) pairing returned by Integrate.
type ConceptAssignment struct {
	ConceptID  string
	Similarity float64
}

// integrate attaches t to up to maxConceptsPerThought existing
// concepts whose centroid similarity clears graphEdgeThreshold,
// bumping their last-updated timestamp (not their centroid — spec
// §4.C: centroids are recomputed only at cycle time). It also counts
// toward the "every N thoughts" evolution-cycle trigger.
func (cs *conceptStore) integrate(t *Thought, vec []float32) ([]ConceptAssignment, bool) {
	var assignments []ConceptAssignment
	if vec != nil {
		type scoredConcept struct {
			c   *Concept
			sim float64
		}
		var candidates []scoredConcept
		for _, id := range cs.order {
			c := cs.byID[id]
			if len(c.Centroid) == 0 {
				continue
			}
			sim := cosineSimilarity(vec, c.Centroid)
			if sim >= graphEdgeThreshold {
				candidates = append(candidates, scoredConcept{c: c, sim: sim})
			}
		}
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].sim > candidates[j].sim })
		if len(candidates) > maxConceptsPerThought {
			candidates = candidates[:maxConceptsPerThought]
		}
		now := time.Now()
		for _, sc := range candidates {
			sc.c.Members[t.ID] = struct{}{}
			if !contains(sc.c.MembersOrdered, t.ID) {
				sc.c.MembersOrdered = append(sc.c.MembersOrdered, t.ID)
			}
			sc.c.LastUpdated = now
			assignments = append(assignments, ConceptAssignment{ConceptID: sc.c.ID, Similarity: sc.sim})
		}
	}

	cs.thoughtsSinceEvolve++
	newlyAssigned := len(assignments) > 0
	if cs.thoughtsSinceEvolve >= evolveEveryNThoughts {
		cs.thoughtsSinceEvolve = 0
		cs.evolveLocked(time.Now())
	}
	return assignments, newlyAssigned
}

func contains(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}

// ForceEvolve runs one evolution cycle immediately, per spec §6's
// force_evolve.
func (s *Substrate) ForceEvolve() {
	s.exec(func() {
		s.concepts.evolveLocked(time.Now())
		s.persistLocked()
		s.publishSnapshot()
	})
}

// evolveLocked clusters the currently active thought population,
// reconciles clusters against existing concepts, applies lifecycle
// transitions, and recomputes the concept graph. Must run inside the
// loop.
func (cs *conceptStore) evolveLocked(now time.Time) {
	active := cs.activeThoughtPoints()
	if len(active) >= minCluster {
		eps := kDistanceEpsilon(active, dbscanKDistanceK)
		labels := dbscan(active, eps, minCluster)
		cs.reconcile(active, labels, now)
	}
	cs.applyLifecycleTransitions(now)
	cs.recomputeGraph()
}

func (cs *conceptStore) activeThoughtPoints() []dbscanPoint {
	var points []dbscanPoint
	for _, id := range cs.s.order {
		t := cs.s.thoughts[id]
		if t.Activation < activeThoughtThreshold {
			continue
		}
		vec, ok := cs.s.index.VectorFor(id)
		if !ok {
			continue
		}
		points = append(points, dbscanPoint{ID: id, Vec: vec})
	}
	return points
}

// reconcile implements spec §4.C step 2-4 for every discovered cluster.
func (cs *conceptStore) reconcile(points []dbscanPoint, labels []int, now time.Time) {
	clusters := map[int][]dbscanPoint{}
	for i, l := range labels {
		if l < 0 {
			continue // noise
		}
		clusters[l] = append(clusters[l], points[i])
	}

	for _, members := range clusters {
		centroid := meanVector(members)
		best, bestSim, second, secondSim := cs.nearestConcepts(centroid)

		switch {
		case best != nil && bestSim >= mergeThreshold:
			cs.mergeInto(best, members, centroid, now)
		case best != nil && bestSim >= splitMergeThreshold:
			cs.mergeInto(best, members, centroid, now)
			if second != nil && secondSim >= splitMergeThreshold {
				cs.addRelatedEdge(best, second, secondSim)
			}
		default:
			cs.createConcept(members, centroid, now)
		}
	}
}

func (cs *conceptStore) nearestConcepts(centroid []float32) (best *Concept, bestSim float64, second *Concept, secondSim float64) {
	for _, id := range cs.order {
		c := cs.byID[id]
		if len(c.Centroid) == 0 {
			continue
		}
		sim := cosineSimilarity(centroid, c.Centroid)
		if sim > bestSim {
			second, secondSim = best, bestSim
			best, bestSim = c, sim
		} else if sim > secondSim {
			second, secondSim = c, sim
		}
	}
	return
}

func (cs *conceptStore) mergeInto(c *Concept, members []dbscanPoint, clusterCentroid []float32, now time.Time) {
	for _, m := range members {
		if _, exists := c.Members[m.ID]; !exists {
			c.Members[m.ID] = struct{}{}
			c.MembersOrdered = append(c.MembersOrdered, m.ID)
		}
	}
	c.Centroid = weightedMeanCentroid(c.Centroid, len(c.MembersOrdered)-len(members), clusterCentroid, len(members))
	c.LastUpdated = now
}

func (cs *conceptStore) addRelatedEdge(a, b *Concept, weight float64) {
	for i, e := range a.Edges {
		if e.TargetID == b.ID {
			a.Edges[i].Weight = clamp01(weight)
			return
		}
	}
	a.Edges = append(a.Edges, ConceptEdge{TargetID: b.ID, Weight: clamp01(weight)})
}

func (cs *conceptStore) createConcept(members []dbscanPoint, centroid []float32, now time.Time) {
	memberIDs := make([]string, len(members))
	memberSet := make(map[string]struct{}, len(members))
	for i, m := range members {
		memberIDs[i] = m.ID
		memberSet[m.ID] = struct{}{}
	}
	label := cs.deriveLabel(memberIDs)

	c := &Concept{
		ID:             uuid.New().String(),
		Label:          label,
		Stage:          StageEmerging,
		Centroid:       centroid,
		Members:        memberSet,
		MembersOrdered: memberIDs,
		FirstSeen:      now,
		LastUpdated:    now,
	}
	cs.byID[c.ID] = c
	cs.order = append(cs.order, c.ID)
}

// deriveLabel picks the first-TF-IDF-unigram over the content of all
// members, each weighted equally, per spec §9 / SPEC_FULL §4.C.
func (cs *conceptStore) deriveLabel(memberIDs []string) string {
	docs := make([]string, 0, len(memberIDs))
	for _, id := range memberIDs {
		if t, ok := cs.s.thoughts[id]; ok {
			docs = append(docs, t.Content)
		}
	}
	label := tfidfLabel(docs)
	if label == "" {
		return "concept"
	}
	return label
}

// applyLifecycleTransitions implements spec §4.C's stage machine.
func (cs *conceptStore) applyLifecycleTransitions(now time.Time) {
	saliences := make([]float64, 0, len(cs.order))
	for _, id := range cs.order {
		c := cs.byID[id]
		c.Salience = cs.computeSalience(c)
		saliences = append(saliences, c.Salience)
	}
	salienceCutoff := topDecileCutoff(saliences)

	var toDelete []string
	for _, id := range cs.order {
		c := cs.byID[id]
		c.CyclesExisted++

		memberCount := len(c.Members)
		if memberCount < minCluster {
			c.LowMemberCycles++
		} else {
			c.LowMemberCycles = 0
		}

		switch c.Stage {
		case StageEmerging:
			if memberCount >= 2*minCluster && c.CyclesExisted >= establishedCycleFloor {
				c.Stage = StageEstablished
			}
		case StageEstablished:
			if c.Salience >= salienceCutoff && len(saliences) > 0 {
				c.Stage = StageCentral
			}
		}
		if c.LowMemberCycles >= fadingCycleCeiling && c.Stage != StageFading {
			c.Stage = StageFading
		}
		if c.Stage == StageFading && memberCount == 0 {
			toDelete = append(toDelete, id)
		}
	}
	for _, id := range toDelete {
		delete(cs.byID, id)
		cs.order = removeString(cs.order, id)
	}
}

func (cs *conceptStore) computeSalience(c *Concept) float64 {
	var sum float64
	for id := range c.Members {
		if t, ok := cs.s.thoughts[id]; ok {
			sum += t.Activation
		}
	}
	return sum
}

// topDecileCutoff returns the salience value at the 90th percentile,
// used to decide which established concepts cross into "central."
func topDecileCutoff(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64{}, values...)
	sort.Float64s(sorted)
	idx := int(float64(len(sorted)) * 0.9)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// recomputeGraph rebuilds concept-to-concept edges per spec §4.C:
// weight = Jaccard(members) + 0.5*centroid_similarity for any pair
// sharing >=1 member or with centroid similarity >= graphEdgeThreshold.
func (cs *conceptStore) recomputeGraph() {
	for _, id := range cs.order {
		cs.byID[id].Edges = nil
	}
	for i := 0; i < len(cs.order); i++ {
		a := cs.byID[cs.order[i]]
		for j := i + 1; j < len(cs.order); j++ {
			b := cs.byID[cs.order[j]]
			jaccard := jaccardSets(a.Members, b.Members)
			centroidSim := 0.0
			if len(a.Centroid) > 0 && len(b.Centroid) > 0 {
				centroidSim = cosineSimilarity(a.Centroid, b.Centroid)
			}
			if jaccard == 0 && centroidSim < graphEdgeThreshold {
				continue
			}
			weight := clamp01(jaccard + 0.5*centroidSim)
			a.Edges = append(a.Edges, ConceptEdge{TargetID: b.ID, Weight: weight})
			b.Edges = append(b.Edges, ConceptEdge{TargetID: a.ID, Weight: weight})
		}
	}
}

func jaccardSets(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func meanVector(points []dbscanPoint) []float32 {
	if len(points) == 0 {
		return nil
	}
	dim := len(points[0].Vec)
	sum := make([]float64, dim)
	for _, p := range points {
		for i, v := range p.Vec {
			sum[i] += float64(v)
		}
	}
	out := make([]float32, dim)
	for i, v := range sum {
		out[i] = float32(v / float64(len(points)))
	}
	return out
}

// weightedMeanCentroid recomputes a centroid as a membership-weighted
// mean of the existing centroid (oldCount members) and a new cluster's
// centroid (newCount members), per spec §4.C step 2 "update centroid as
// membership-weighted mean."
func weightedMeanCentroid(old []float32, oldCount int, add []float32, addCount int) []float32 {
	if len(old) == 0 {
		return add
	}
	if oldCount < 0 {
		oldCount = 0
	}
	total := oldCount + addCount
	if total == 0 {
		return old
	}
	out := make([]float32, len(old))
	for i := range old {
		var a float32
		if i < len(add) {
			a = add[i]
		}
		out[i] = float32((float64(old[i])*float64(oldCount) + float64(a)*float64(addCount)) / float64(total))
	}
	return out
}

func removeString(s []string, target string) []string {
	out := s[:0]
	for _, v := range s {
		if v != target {
			out = append(out, v)
		}
	}
	return out
}

// ListConcepts returns every concept, optionally filtered by stage.
func (s *Substrate) ListConcepts(stage ConceptStage) []Concept {
	var out []Concept
	s.exec(func() {
		for _, id := range s.concepts.order {
			c := s.concepts.byID[id]
			if stage != "" && c.Stage != stage {
				continue
			}
			out = append(out, *c)
		}
	})
	return out
}

// Neighbors returns the concept graph edges for conceptID.
func (s *Substrate) Neighbors(conceptID string) ([]ConceptEdge, error) {
	var out []ConceptEdge
	var err error
	s.exec(func() {
		c, ok := s.concepts.byID[conceptID]
		if !ok {
			err = fmt.Errorf("%w: concept %s", ErrNotFound, conceptID)
			return
		}
		out = append([]ConceptEdge{}, c.Edges...)
	})
	return out, err
}

// Integrate exposes conceptStore.integrate as part of the public
// Memory/Concepts API grouping (spec §6).
func (s *Substrate) Integrate(thoughtID string) ([]ConceptAssignment, bool, error) {
	var assignments []ConceptAssignment
	var newly bool
	var err error
	s.exec(func() {
		t, ok := s.thoughts[thoughtID]
		if !ok {
			err = fmt.Errorf("%w: thought %s", ErrNotFound, thoughtID)
			return
		}
		vec, _ := s.index.VectorFor(thoughtID)
		assignments, newly = s.concepts.integrate(t, vec)
	})
	return assignments, newly, err
}
