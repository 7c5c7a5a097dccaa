package alarmsink

import (
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

// hashEmbedder turns an alarm's summary+detail text into a fixed-width
// vector via n-gram hash embedding, lifted from
// internal/processors/vectorizer/vectorizer.go's "hash" mode so alarms
// stored in Weaviate are semantically searchable without a network call
// to an embedding model.
type hashEmbedder struct {
	dim      int
	ngrams   int
	tokenize *regexp.Regexp
}

func newHashEmbedder(dim, ngrams int) *hashEmbedder {
	if dim <= 0 {
		dim = 256
	}
	if ngrams <= 0 {
		ngrams = 2
	}
	return &hashEmbedder{
		dim:      dim,
		ngrams:   ngrams,
		tokenize: regexp.MustCompile(`[^a-zA-Z0-9]+`),
	}
}

func (e *hashEmbedder) embed(text string) []float32 {
	toks := e.tokens(text)
	vec := make([]float32, e.dim)

	emit := func(s string, weight float32) {
		if s == "" {
			return
		}
		h := fnv.New64a()
		_, _ = h.Write([]byte(s))
		idx := int(h.Sum64() % uint64(e.dim))

		hs := fnv.New64()
		_, _ = hs.Write([]byte("sign:" + s))
		val := weight
		if hs.Sum64()&1 == 1 {
			val = -val
		}
		vec[idx] += val
	}

	for _, t := range toks {
		emit(t, 1)
	}
	if e.ngrams >= 2 {
		for i := 0; i+1 < len(toks); i++ {
			emit(toks[i]+"_"+toks[i+1], 1)
		}
	}

	normalize(vec)
	return vec
}

func (e *hashEmbedder) tokens(text string) []string {
	lower := strings.ToLower(text)
	parts := e.tokenize.Split(lower, -1)
	out := make([]string, 0, len(parts))
	for _, t := range parts {
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum <= 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
