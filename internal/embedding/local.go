package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

const localDimension = 256

// LocalProvider is a deterministic token-hash embedding. It keeps the
// pipeline runnable without an external model service and gives tests a
// stable vector: identical normalized text always embeds identically,
// and shared tokens produce proportionally similar vectors.
type LocalProvider struct {
	dim int
}

func NewLocalProvider() Provider {
	return &LocalProvider{dim: localDimension}
}

func (p *LocalProvider) Dimension() int { return p.dim }

func (p *LocalProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) == 0 {
		return nil, ErrEmptyText
	}

	vec := make([]float64, p.dim)
	for _, token := range tokens {
		for _, gram := range tokenGrams(token) {
			h := fnv.New64a()
			_, _ = h.Write([]byte(gram))
			sum := h.Sum64()
			idx := int(sum % uint64(p.dim))
			sign := 1.0
			if (sum>>63)&1 == 1 {
				sign = -1.0
			}
			vec[idx] += sign
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return nil, ErrEmptyText
	}
	for i := range vec {
		vec[i] /= norm
	}
	return vec, nil
}

// tokenGrams emits the token plus its character trigrams so near-spellings
// land on overlapping buckets.
func tokenGrams(token string) []string {
	grams := []string{token}
	runes := []rune("  " + token + " ")
	for i := 0; i+3 <= len(runes); i++ {
		grams = append(grams, string(runes[i:i+3]))
	}
	return grams
}
