package substrate

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// DeterministicEmbedder maps text to a fixed-width vector by hashing
// its word unigrams, bigrams and trigrams into buckets and
// L2-normalizing the result. It needs no
// network backend, so the substrate — and its tests — work with
// EmbeddingBackend=none. This plays the role the original's
// DummyEmbedder played on load failure (emergent_memory.py falls back
// to a zero vector), except it's built to actually separate
// dissimilar text under cosine similarity, which a zero vector can't.
type DeterministicEmbedder struct {
	dimension int
}

// NewDeterministicEmbedder creates a hashing embedder of the given
// output width.
func NewDeterministicEmbedder(dimension int) *DeterministicEmbedder {
	if dimension <= 0 {
		dimension = 256
	}
	return &DeterministicEmbedder{dimension: dimension}
}

func (e *DeterministicEmbedder) Embed(_ context.Context, text, _ string) ([]float32, error) {
	vec := make([]float32, e.dimension)
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return vec, nil
	}

	addGram := func(gram string) {
		h := fnv.New64a()
		h.Write([]byte(gram))
		idx := h.Sum64() % uint64(e.dimension)
		// sign bucket from a second hash so opposite grams don't always add
		h2 := fnv.New64a()
		h2.Write([]byte(gram + "#sign"))
		sign := float32(1)
		if h2.Sum64()%2 == 0 {
			sign = -1
		}
		vec[idx] += sign
	}

	for _, t := range tokens {
		addGram("u:" + t)
	}
	for i := 0; i < len(tokens)-1; i++ {
		addGram("b:" + tokens[i] + "_" + tokens[i+1])
	}
	for i := 0; i < len(tokens)-2; i++ {
		addGram("t:" + tokens[i] + "_" + tokens[i+1] + "_" + tokens[i+2])
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec, nil
}

func (e *DeterministicEmbedder) Dimension() int { return e.dimension }

// tokenize lowercases and splits on non-alphanumeric runs. Shared by
// the deterministic embedder and the TF-IDF label deriver.
func tokenize(text string) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, strings.ToLower(cur.String()))
			cur.Reset()
		}
	}
	for _, r := range text {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			cur.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return out
}
