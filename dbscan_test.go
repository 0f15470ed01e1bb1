package substrate

import "testing"

func TestDbscanSeparatesTwoClusters(t *testing.T) {
	points := []dbscanPoint{
		{ID: "a1", Vec: []float32{1, 0, 0}},
		{ID: "a2", Vec: []float32{0.98, 0.02, 0}},
		{ID: "a3", Vec: []float32{0.97, 0, 0.03}},
		{ID: "a4", Vec: []float32{0.99, 0.01, 0.01}},
		{ID: "b1", Vec: []float32{0, 1, 0}},
		{ID: "b2", Vec: []float32{0.02, 0.98, 0}},
		{ID: "b3", Vec: []float32{0, 0.97, 0.03}},
		{ID: "b4", Vec: []float32{0.01, 0.99, 0.01}},
	}
	labels := dbscan(points, 0.1, 4)

	clusterOf := map[string]int{}
	for i, p := range points {
		clusterOf[p.ID] = labels[i]
	}

	if clusterOf["a1"] < 0 {
		t.Fatal("expected a1 to be assigned to a cluster, not noise")
	}
	if clusterOf["a1"] != clusterOf["a2"] || clusterOf["a1"] != clusterOf["a3"] || clusterOf["a1"] != clusterOf["a4"] {
		t.Errorf("expected all 'a' points in the same cluster: %v", clusterOf)
	}
	if clusterOf["b1"] != clusterOf["b2"] || clusterOf["b1"] != clusterOf["b3"] || clusterOf["b1"] != clusterOf["b4"] {
		t.Errorf("expected all 'b' points in the same cluster: %v", clusterOf)
	}
	if clusterOf["a1"] == clusterOf["b1"] {
		t.Errorf("expected 'a' and 'b' clusters to differ, both got %d", clusterOf["a1"])
	}
}

func TestDbscanAllNoiseBelowMinSamples(t *testing.T) {
	points := []dbscanPoint{
		{ID: "x", Vec: []float32{1, 0}},
		{ID: "y", Vec: []float32{0, 1}},
	}
	labels := dbscan(points, 0.1, 4)
	for i, l := range labels {
		if l != -1 {
			t.Errorf("point %d expected noise label -1 with minSamples=4 and only 2 points, got %d", i, l)
		}
	}
}

func TestTfidfLabelPicksDomainWordOverStopwords(t *testing.T) {
	docs := []string{
		"I wonder about stars and galaxies 1",
		"I wonder about stars and galaxies 2",
		"I wonder about stars and galaxies 3",
		"I wonder about stars and galaxies 4",
	}
	label := tfidfLabel(docs)
	if tfidfStopwords[label] {
		t.Errorf("expected a content word, got stopword %q", label)
	}
	if label != "galaxies" && label != "stars" && label != "wonder" {
		t.Errorf("expected a domain-relevant label, got %q", label)
	}
}

func TestTfidfLabelEmptyDocs(t *testing.T) {
	if got := tfidfLabel(nil); got != "" {
		t.Errorf("expected empty label for no docs, got %q", got)
	}
}
