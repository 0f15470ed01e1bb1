package substrate

import "sort"

// dbscanPoint is one input row to dbscan: an id plus its embedding.
type dbscanPoint struct {
	ID  string
	Vec []float32
}

// dbscan clusters points by cosine distance (1 - cosine similarity)
// using the classic density-based algorithm, grounded on
// original_source/concept_evolution.py's
// sklearn.cluster.DBSCAN(eps=0.3, min_samples=3) — ported directly
// rather than pulled from a library, since no Go example in the pack
// ships a clustering implementation (see DESIGN.md). Returns cluster
// labels parallel to points; -1 marks noise.
func dbscan(points []dbscanPoint, eps float64, minSamples int) []int {
	n := len(points)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = -2 // unvisited
	}

	neighbors := func(i int) []int {
		var out []int
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			if cosineDistance(points[i].Vec, points[j].Vec) <= eps {
				out = append(out, j)
			}
		}
		return out
	}

	clusterID := 0
	for i := 0; i < n; i++ {
		if labels[i] != -2 {
			continue
		}
		neigh := neighbors(i)
		if len(neigh)+1 < minSamples {
			labels[i] = -1
			continue
		}
		labels[i] = clusterID
		seeds := append([]int{}, neigh...)
		for len(seeds) > 0 {
			j := seeds[0]
			seeds = seeds[1:]
			if labels[j] == -1 {
				labels[j] = clusterID
			}
			if labels[j] != -2 {
				continue
			}
			labels[j] = clusterID
			jNeigh := neighbors(j)
			if len(jNeigh)+1 >= minSamples {
				seeds = append(seeds, jNeigh...)
			}
		}
		clusterID++
	}
	for i, l := range labels {
		if l == -2 {
			labels[i] = -1
		}
	}
	return labels
}

func cosineDistance(a, b []float32) float64 {
	return 1 - cosineSimilarity(a, b)
}

// kDistanceEpsilon estimates a DBSCAN eps from the k-distance heuristic
// (spec §4.C): sort each point's distance to its k-th nearest neighbor
// and pick the value at the "knee" — approximated here as the median,
// which is stable without a plotting step.
func kDistanceEpsilon(points []dbscanPoint, k int) float64 {
	n := len(points)
	if n < 2 {
		return 0.3
	}
	if k >= n {
		k = n - 1
	}
	kDists := make([]float64, 0, n)
	for i := range points {
		dists := make([]float64, 0, n-1)
		for j := range points {
			if i == j {
				continue
			}
			dists = append(dists, cosineDistance(points[i].Vec, points[j].Vec))
		}
		sort.Float64s(dists)
		if k-1 < len(dists) {
			kDists = append(kDists, dists[k-1])
		}
	}
	if len(kDists) == 0 {
		return 0.3
	}
	sort.Float64s(kDists)
	median := kDists[len(kDists)/2]
	if median <= 0 {
		return 0.3
	}
	return median
}
