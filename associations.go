package substrate

import "time"

const (
	semanticTopM      = 8
	semanticThreshold = 0.55
	temporalTopT      = 3
	contextualWeight  = 0.5
	reinforceAmount   = 0.25
)

// establishConnections wires a freshly-saved thought into the
// association graph per spec §4.B: semantic neighbors from the
// index, the T most recent thoughts temporally, and contextual peers
// sharing metadata. Must be called with the loop already holding
// exclusive access to thought state (substrate.go's exec). vec may be
// nil when embedding failed; semantic associations are skipped in
// that case (the thought is still saved, searchable by id only).
//
// Every edge t gets to an existing thought is mirrored back onto that
// thought via addReciprocalEdge — without it the graph is directed
// strictly newer-to-older, and nothing saved before t can ever spread
// forward to reach it.
func (s *Substrate) establishConnections(t *Thought, vec []float32, focus string) {
	acc := make(map[string]*Association, len(t.Associations))
	for _, existing := range t.Associations {
		a := existing
		acc[a.TargetID] = &a
	}

	addWeight := func(targetID string, weight float64, kind AssociationKind) {
		if targetID == t.ID || weight <= 0 {
			return
		}
		if existing, ok := acc[targetID]; ok {
			existing.Weight = clamp01(existing.Weight + weight)
			return
		}
		acc[targetID] = &Association{TargetID: targetID, Weight: clamp01(weight), Kind: kind}
	}

	if vec != nil && s.index != nil {
		hits := s.index.Search(vec, semanticTopM+1)
		for _, h := range hits {
			if h.ID == t.ID || float64(h.Score) < semanticThreshold {
				continue
			}
			addWeight(h.ID, float64(h.Score), AssocSemantic)
		}
	}

	recent := s.recentIDsExcluding(t.ID, temporalTopT)
	for rank, id := range recent {
		weight := 0.8 / float64(1+rank)
		addWeight(id, weight, AssocTemporal)
	}

	if focus != "" {
		for _, other := range s.thoughts {
			if other.ID == t.ID {
				continue
			}
			sameType := other.Type == t.Type
			sameFocus := focus != "" && other.metaFocus == focus
			if sameType || sameFocus {
				addWeight(other.ID, contextualWeight, AssocContextual)
			}
		}
	}

	t.Associations = t.Associations[:0]
	for _, a := range acc {
		t.Associations = append(t.Associations, *a)
		s.addReciprocalEdge(t.ID, a.TargetID, a.Weight, a.Kind)
	}
}

// addReciprocalEdge mirrors an outgoing edge from fromID onto toID, so
// that BFS-style traversals (retrieveSpreadingLocked, GenerateThoughtTrace)
// which only ever walk a thought's own Associations can still spread
// from an older thought to the newer ones that linked to it. Sums onto
// an existing reciprocal edge rather than duplicating it.
func (s *Substrate) addReciprocalEdge(fromID, toID string, weight float64, kind AssociationKind) {
	if toID == fromID || weight <= 0 {
		return
	}
	target, ok := s.thoughts[toID]
	if !ok {
		return
	}
	for i, a := range target.Associations {
		if a.TargetID == fromID {
			target.Associations[i].Weight = clamp01(a.Weight + weight)
			return
		}
	}
	target.Associations = append(target.Associations, Association{TargetID: fromID, Weight: clamp01(weight), Kind: kind})
}

// recentIDsExcluding returns up to n of the most recently created
// thought ids, most recent first, excluding excludeID.
func (s *Substrate) recentIDsExcluding(excludeID string, n int) []string {
	out := make([]string, 0, n)
	for i := len(s.order) - 1; i >= 0 && len(out) < n; i-- {
		id := s.order[i]
		if id == excludeID {
			continue
		}
		out = append(out, id)
	}
	return out
}

// reinforceLocked bumps activation for id and propagates half the
// reinforcement to its direct neighbors, per spec §4.B. Must run
// inside the loop.
func (s *Substrate) reinforceLocked(id string, now time.Time) error {
	t, ok := s.thoughts[id]
	if !ok {
		return ErrNotFound
	}
	t.Activation = clamp01(t.Activation + reinforceAmount)
	t.LastAccessedAt = now

	spread := reinforceAmount / 2
	for _, a := range t.Associations {
		if n, ok := s.thoughts[a.TargetID]; ok {
			n.Activation = clamp01(n.Activation + spread)
		}
	}
	return nil
}

// decayLocked applies exponential decay to every thought's activation
// and every association's weight, per spec §4.B, dropping edges that
// fall below associationEpsilon. Must run inside the loop, typically
// from the scheduler's pulse job every few seconds — so elapsed is
// measured since this thought's *last decay pass* (lastDecayedAt), not
// since it was last accessed. Using LastAccessedAt directly here would
// never advance between pulses, so each pass would recompute decay
// over the whole, ever-growing age instead of just the interval since
// the previous pass, compounding activation toward zero far faster
// than the configured half-life.
func (s *Substrate) decayLocked(now time.Time) {
	for _, t := range s.thoughts {
		base := t.lastDecayedAt
		if base.IsZero() {
			base = t.LastAccessedAt
		}
		elapsed := now.Sub(base)
		t.lastDecayedAt = now

		if now.Sub(t.LastAccessedAt) >= decayGracePeriod {
			t.Activation = decayActivation(t.Activation, elapsed)
		}

		kept := t.Associations[:0]
		for _, a := range t.Associations {
			a.Weight = decayAssociationWeight(a.Weight, elapsed)
			if a.Weight >= associationEpsilon {
				kept = append(kept, a)
			}
		}
		t.Associations = kept
	}
}
