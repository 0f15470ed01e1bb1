package substrate

import (
	"context"
	"testing"
)

// S3 — spreading retrieval: A is saved first, B is saved next and is
// similar to A, C is saved last and is similar to B. retrieve(query=A,
// k=3, mode=spreading) must surface all three, with A ranked highest
// as the seed, since spreading activation has to walk forward from
// the oldest thought to reach the ones saved after it.
//
// The association graph is built entirely through Save, not by hand,
// because establishConnections only ever appends an outgoing edge to
// the thought being saved — it's addReciprocalEdge that mirrors that
// edge back onto the older target. Hand-constructing a.Associations
// and b.Associations directly (as an earlier version of this test
// did) points the edges the opposite way from what Save actually
// produces: A is the very first thought saved here and so never gets
// an outgoing edge of its own, and without the reciprocal mirror it
// would have none at all, leaving spreading from A unable to escape
// the seed.
func TestRetrieveSpreadingReachesSecondHop(t *testing.T) {
	s := testSubstrate(t)
	ctx := context.Background()

	save := func(content string) Thought {
		th, err := s.Save(ctx, SaveOptions{Content: content, Type: ThoughtUser})
		if err != nil {
			t.Fatalf("save %q: %v", content, err)
		}
		return th
	}

	a := save("quiet dawn garden")
	b := save("quiet dawn garden morning bird")
	c := save("dawn garden morning bird song")

	var aAssoc []Association
	s.exec(func() { aAssoc = append(aAssoc, s.thoughts[a.ID].Associations...) })
	if len(aAssoc) == 0 {
		t.Fatal("expected A to have gained associations via the reciprocal mirror from B and C")
	}

	out, err := s.Retrieve(ctx, "quiet dawn garden", 3, RetrieveSpreading)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 results, got %d: %+v", len(out), out)
	}
	if out[0].ID != a.ID {
		t.Fatalf("expected seed %s ranked first, got %+v", a.ID, out)
	}
	seen := map[string]bool{out[0].ID: true, out[1].ID: true, out[2].ID: true}
	for _, id := range []string{a.ID, b.ID, c.ID} {
		if !seen[id] {
			t.Errorf("expected %s among the spreading results, got %+v", id, out)
		}
	}
}

func TestRetrieveSpreadingEmptyIndexReturnsNil(t *testing.T) {
	s := testSubstrate(t)
	var out []Thought
	s.exec(func() {
		out = s.retrieveSpreadingLocked(make([]float32, s.index.dim), 3)
	})
	if out != nil {
		t.Errorf("expected nil result on empty index, got %+v", out)
	}
}
