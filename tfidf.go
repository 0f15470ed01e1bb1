package substrate

import "math"

// tfidfStopwords excludes function words that would otherwise tie on
// raw TF-IDF score with every content word shared by an entire cluster
// (every member of a cluster tends to share connective tissue like
// "and"/"about" verbatim), so the deterministic tie-break never has a
// chance to prefer them over the words that actually name the concept.
var tfidfStopwords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "but": true,
	"about": true, "above": true, "after": true, "again": true, "against": true,
	"at": true, "before": true, "below": true, "between": true, "by": true,
	"do": true, "does": true, "for": true, "from": true, "have": true, "has": true,
	"i": true, "in": true, "into": true, "is": true, "it": true, "its": true,
	"of": true, "on": true, "over": true, "so": true, "that": true, "this": true,
	"to": true, "under": true, "up": true, "was": true, "we": true, "with": true,
}

// tfidfLabel picks the single unigram with the highest TF-IDF score
// across the given documents, pinning spec §9's open question on
// concept label derivation ("pin a deterministic rule — first
// TF-IDF unigram over members" per SPEC_FULL.md §4.C), replacing the
// original's ad-hoc/randomized _extract_concept_name.
func tfidfLabel(docs []string) string {
	if len(docs) == 0 {
		return ""
	}
	df := map[string]int{}
	tf := map[string]int{}
	for _, d := range docs {
		toks := tokenize(d)
		seen := map[string]bool{}
		for _, t := range toks {
			if tfidfStopwords[t] {
				continue
			}
			tf[t]++
			if !seen[t] {
				seen[t] = true
				df[t]++
			}
		}
	}

	n := float64(len(docs))
	best := ""
	bestScore := -1.0
	for term, count := range tf {
		idf := math.Log(1 + n/float64(df[term]))
		score := float64(count) * idf
		if score > bestScore || (score == bestScore && term < best) {
			bestScore = score
			best = term
		}
	}
	return best
}
