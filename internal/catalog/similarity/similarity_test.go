package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Midnight Dreams", "midnight dreams"},
		{"Midnight Dreams (Remastered 2019)", "midnight dreams"},
		{"Midnight Dreams [Live]", "midnight dreams"},
		{"  Midnight,   Dreams!  ", "midnight dreams"},
		{"don't stop", "don t stop"},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Normalize(tc.in), "input %q", tc.in)
	}
}

func TestTrigramIdentical(t *testing.T) {
	assert.Equal(t, 1.0, Trigram("Midnight Dreams", "midnight dreams (live)"))
}

func TestTrigramTypos(t *testing.T) {
	score := Trigram("Midnight Dreems", "Midnight Dreams")
	assert.Greater(t, score, 0.5)
	assert.Less(t, score, 1.0)
}

func TestTrigramUnrelated(t *testing.T) {
	score := Trigram("Midnight Dreams", "Completely Other Song")
	assert.Less(t, score, 0.2)
}

func TestTrigramEmpty(t *testing.T) {
	assert.Equal(t, 0.0, Trigram("something", ""))
	assert.Equal(t, 1.0, Trigram("", ""))
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float64{1, 2, 3}, []float64{1, 2, 3}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.Equal(t, 0.0, Cosine([]float64{1, 2}, []float64{1, 2, 3}))
	assert.Equal(t, 0.0, Cosine(nil, nil))
}
