package substrate

import (
	"path/filepath"
	"testing"
)

func TestFlatIndexAddAndSearch(t *testing.T) {
	idx := NewFlatIndex(3)
	if err := idx.Add("a", []float32{1, 0, 0}); err != nil {
		t.Fatalf("add a: %v", err)
	}
	if err := idx.Add("b", []float32{0, 1, 0}); err != nil {
		t.Fatalf("add b: %v", err)
	}

	hits := idx.Search([]float32{1, 0, 0}, 1)
	if len(hits) != 1 || hits[0].ID != "a" {
		t.Fatalf("expected top hit 'a', got %+v", hits)
	}
}

func TestFlatIndexRejectsWrongDimension(t *testing.T) {
	idx := NewFlatIndex(3)
	if err := idx.Add("a", []float32{1, 0}); err == nil {
		t.Fatal("expected a dimension mismatch error")
	}
}

func TestFlatIndexDeleteTombstonesAndSkips(t *testing.T) {
	idx := NewFlatIndex(2)
	_ = idx.Add("a", []float32{1, 0})
	_ = idx.Add("b", []float32{0, 1})

	idx.Delete("a")
	if idx.Len() != 1 {
		t.Fatalf("expected 1 live row after delete, got %d", idx.Len())
	}
	hits := idx.Search([]float32{1, 0}, 5)
	for _, h := range hits {
		if h.ID == "a" {
			t.Error("deleted id should not appear in search results")
		}
	}
}

func TestFlatIndexRebuildsPastTombstoneThreshold(t *testing.T) {
	idx := NewFlatIndex(1)
	for i := 0; i < 10; i++ {
		_ = idx.Add(string(rune('a'+i)), []float32{float32(i)})
	}
	for i := 0; i < 3; i++ {
		idx.Delete(string(rune('a' + i)))
	}
	// 3/10 = 30% tombstoned crosses the 20% threshold, so the backing
	// slices should have been compacted down to the 7 live rows.
	if len(idx.ids) != 7 {
		t.Fatalf("expected a rebuild compacting to 7 rows, got %d", len(idx.ids))
	}
	if idx.Len() != 7 {
		t.Fatalf("expected 7 live rows, got %d", idx.Len())
	}
}

func TestFlatIndexPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	binPath := filepath.Join(dir, "vector_index.bin")
	metaPath := filepath.Join(dir, "index_meta")

	idx := NewFlatIndex(2)
	_ = idx.Add("x", []float32{0.6, 0.8})
	_ = idx.Add("y", []float32{0.8, 0.6})

	if err := idx.saveTo(binPath, metaPath); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := loadFlatIndex(binPath, metaPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Len() != 2 {
		t.Fatalf("expected 2 live rows, got %d", loaded.Len())
	}
	hits := loaded.Search([]float32{0.6, 0.8}, 1)
	if len(hits) != 1 || hits[0].ID != "x" {
		t.Fatalf("expected top hit 'x' after reload, got %+v", hits)
	}
}

func TestCosineSim32Basics(t *testing.T) {
	if got := cosineSim32([]float32{1, 0}, []float32{1, 0}); got < 0.999 {
		t.Errorf("identical vectors should have similarity ~1, got %v", got)
	}
	if got := cosineSim32([]float32{1, 0}, []float32{0, 1}); got > 0.001 || got < -0.001 {
		t.Errorf("orthogonal vectors should have similarity ~0, got %v", got)
	}
	if got := cosineSim32([]float32{0, 0}, []float32{1, 1}); got != 0 {
		t.Errorf("zero vector should yield similarity 0, got %v", got)
	}
}
