package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultHashDimension is the vector length of NewHash(0).
const DefaultHashDimension = 384

// Hash is a deterministic, offline embedder based on signed feature hashing
// of lowercased words and character trigrams. Texts sharing many substrings
// land close together. It needs no network and suits development and tests.
type Hash struct {
	dims int
}

// NewHash returns a Hash embedder producing vectors of length dims.
func NewHash(dims int) *Hash {
	if dims <= 0 {
		dims = DefaultHashDimension
	}
	return &Hash{dims: dims}
}

func (h *Hash) Dimension() int { return h.dims }
func (h *Hash) Model() string  { return "hash" }

func (h *Hash) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.vector(t)
	}
	return out, nil
}

func (h *Hash) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h.vector(text), nil
}

func (h *Hash) vector(text string) []float32 {
	v := make([]float32, h.dims)
	add := func(feature string) {
		f := fnv.New64a()
		_, _ = f.Write([]byte(feature))
		sum := f.Sum64()
		idx := int(sum % uint64(h.dims))
		if sum>>63 == 1 {
			v[idx]--
		} else {
			v[idx]++
		}
	}

	lower := strings.ToLower(text)
	for _, w := range strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		add("w:" + w)
	}
	runes := []rune(lower)
	for i := 0; i+3 <= len(runes); i++ {
		add("t:" + string(runes[i:i+3]))
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= scale
	}
	return v
}
