package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

var tokenRe = regexp.MustCompile(`[a-z0-9_]+`)

// Hash is a deterministic offline embedder. Tokens are bucketed by a hash
// of their first four characters, so related word forms land in the same
// bucket, and vectors are L2 normalized. It exists for tests and offline
// runs; retrieval quality is far below a real model.
type Hash struct {
	dims int
}

func NewHash(dims int) *Hash {
	if dims <= 0 {
		dims = 256
	}
	return &Hash{dims: dims}
}

func (e *Hash) Name() string    { return "hash" }
func (e *Hash) Dimensions() int { return e.dims }

func (e *Hash) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *Hash) vector(text string) []float32 {
	v := make([]float32, e.dims)
	for _, tok := range tokenRe.FindAllString(strings.ToLower(text), -1) {
		if len(tok) > 4 {
			tok = tok[:4]
		}
		h := fnv.New32a()
		h.Write([]byte(tok))
		v[int(h.Sum32()%uint32(e.dims))]++
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= inv
	}
	return v
}
