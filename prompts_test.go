package substrate

import "testing"

// S4 — pattern evolution: a custom thought type with one seed pattern,
// fed 30 high-signal feedback cycles, must produce at least two
// derived patterns after evolve, and those derived patterns' combined
// selection probability must exceed the seed's over the next 100 draws.
func TestPatternEvolutionFavorsDerived(t *testing.T) {
	s := testSubstrate(t)

	const typeName = "custom_ritual"
	s.EnsureSeed(typeName, "A ritual involving {{object}}.")

	vars := map[string]string{"object": "a worn coin"}

	for i := 0; i < 30; i++ {
		patternID, _, err := s.Select(typeName, vars)
		if err != nil {
			t.Fatalf("select %d: %v", i, err)
		}
		if err := s.Feedback(patternID, 1.0); err != nil {
			t.Fatalf("feedback %d: %v", i, err)
		}
		if i > 0 && i%10 == 0 {
			s.EvolveNow()
		}
	}
	s.EvolveNow()

	var seedID string
	var derivedCount int
	s.exec(func() {
		for _, p := range s.patterns.byType[typeName] {
			if p.IsSeed() {
				seedID = p.ID
			} else {
				derivedCount++
			}
		}
	})
	if derivedCount < 2 {
		t.Fatalf("expected >= 2 derived patterns after evolution, got %d", derivedCount)
	}

	seedHits, derivedHits := 0, 0
	for i := 0; i < 100; i++ {
		patternID, _, err := s.Select(typeName, vars)
		if err != nil {
			t.Fatalf("select draw %d: %v", i, err)
		}
		if patternID == seedID {
			seedHits++
		} else {
			derivedHits++
		}
	}
	if derivedHits <= seedHits {
		t.Errorf("expected derived patterns to be favored over the seed: seed=%d derived=%d", seedHits, derivedHits)
	}
}

// Property 6: evolve() is monotone in expectation — feedback
// consistently favoring one pattern should raise its selection
// probability over successive evolution cycles, relative to where it
// started.
func TestEvolveMonotoneSelectionProbability(t *testing.T) {
	s := testSubstrate(t)

	const typeName = "custom_monotone"
	s.EnsureSeed(typeName, "Seed pattern about {{thing}}.")
	vars := map[string]string{"thing": "the tide"}

	var favoredID string
	probabilities := make([]float64, 0, 5)

	for cycle := 0; cycle < 5; cycle++ {
		for i := 0; i < 10; i++ {
			patternID, _, err := s.Select(typeName, vars)
			if err != nil {
				t.Fatalf("select: %v", err)
			}
			if favoredID == "" {
				favoredID = patternID
			}
			signal := 0.1
			if patternID == favoredID {
				signal = 1.0
			}
			if err := s.Feedback(patternID, signal); err != nil {
				t.Fatalf("feedback: %v", err)
			}
		}
		s.EvolveNow()

		var total, favoredWeight float64
		s.exec(func() {
			for _, p := range s.patterns.byType[typeName] {
				w := p.SuccessScore + selectionPrior
				total += w
				if p.ID == favoredID {
					favoredWeight += w
				}
			}
		})
		if total > 0 {
			probabilities = append(probabilities, favoredWeight/total)
		}
	}

	if len(probabilities) < 2 {
		t.Fatalf("expected at least 2 probability samples, got %d", len(probabilities))
	}
	if probabilities[len(probabilities)-1] <= probabilities[0] {
		t.Errorf("expected the favored pattern's selection probability to rise over cycles: %v", probabilities)
	}
}

func TestSelectUnknownTypeFails(t *testing.T) {
	s := testSubstrate(t)
	if _, _, err := s.Select("never_registered", nil); err == nil {
		t.Fatal("expected an error selecting from an unregistered type")
	}
}

func TestFeedbackUnknownPatternFails(t *testing.T) {
	s := testSubstrate(t)
	if err := s.Feedback("missing", 1.0); err == nil {
		t.Fatal("expected an error for an unknown pattern id")
	}
}
