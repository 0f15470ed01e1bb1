package substrate

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

// S1 — cluster crystallization: two disjoint thematic clusters of 10
// thoughts each must crystallize into at least two concepts of size
// >= minCluster, with labels drawn from the respective vocabulary.
func TestClusterCrystallization(t *testing.T) {
	s := testSubstrate(t)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		if _, err := s.Save(ctx, SaveOptions{
			Content: fmt.Sprintf("I wonder about stars and galaxies %d", i),
			Type:    ThoughtReflection,
		}); err != nil {
			t.Fatalf("save stars %d: %v", i, err)
		}
	}
	for i := 1; i <= 10; i++ {
		if _, err := s.Save(ctx, SaveOptions{
			Content: fmt.Sprintf("Soup and bread taste good %d", i),
			Type:    ThoughtReflection,
		}); err != nil {
			t.Fatalf("save soup %d: %v", i, err)
		}
	}

	s.ForceEvolve()

	concepts := s.ListConcepts("")
	var sized []Concept
	for _, c := range concepts {
		if c.Stage != StageFading && len(c.MembersOrdered) >= minCluster {
			sized = append(sized, c)
		}
	}
	if len(sized) < 2 {
		t.Fatalf("expected at least 2 concepts with >= %d members, got %d (%+v)", minCluster, len(sized), concepts)
	}

	starsSeen, soupSeen := false, false
	memberSets := make([]map[string]struct{}, 0, len(sized))
	for _, c := range sized {
		label := strings.ToLower(c.Label)
		if strings.Contains(label, "star") || strings.Contains(label, "galax") {
			starsSeen = true
		}
		if strings.Contains(label, "soup") || strings.Contains(label, "bread") {
			soupSeen = true
		}
		set := make(map[string]struct{}, len(c.MembersOrdered))
		for _, m := range c.MembersOrdered {
			set[m] = struct{}{}
		}
		memberSets = append(memberSets, set)
	}
	if !starsSeen || !soupSeen {
		t.Errorf("expected labels drawn from both domains, got concepts: %+v", sized)
	}

	for i := 0; i < len(memberSets); i++ {
		for j := i + 1; j < len(memberSets); j++ {
			for m := range memberSets[i] {
				if _, ok := memberSets[j][m]; ok {
					t.Errorf("expected disjoint member sets, thought %s is in both concept %d and %d", m, i, j)
				}
			}
		}
	}
}

// Property 3: any concept not in the fading stage has at least
// minCluster members.
func TestNonFadingConceptsMeetMinCluster(t *testing.T) {
	s := testSubstrate(t)
	ctx := context.Background()

	for i := 1; i <= 6; i++ {
		if _, err := s.Save(ctx, SaveOptions{
			Content: fmt.Sprintf("a recurring thought about rivers and tides %d", i),
			Type:    ThoughtReflection,
		}); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}
	s.ForceEvolve()

	for _, c := range s.ListConcepts("") {
		if c.Stage == StageFading {
			continue
		}
		if len(c.MembersOrdered) < minCluster {
			t.Errorf("concept %s in stage %s has only %d members, want >= %d", c.ID, c.Stage, len(c.MembersOrdered), minCluster)
		}
	}
}

func TestIntegrateUnknownThoughtFails(t *testing.T) {
	s := testSubstrate(t)
	if _, _, err := s.Integrate("missing"); err == nil {
		t.Fatal("expected an error integrating an unknown thought")
	}
}

func TestNeighborsUnknownConceptFails(t *testing.T) {
	s := testSubstrate(t)
	if _, err := s.Neighbors("missing"); err == nil {
		t.Fatal("expected an error for an unknown concept")
	}
}
