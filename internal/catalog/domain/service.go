package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Weights combining the component similarities of a fuzzy candidate
// into its score. Title carries more signal than artist.
const (
	FuzzyTitleWeight  = 0.6
	FuzzyArtistWeight = 0.4
)

// FuzzyCandidate is one fuzzy-lookup result with its component
// similarities.
type FuzzyCandidate struct {
	Work      Work
	TitleSim  float64
	ArtistSim float64
}

// Score is the weighted similarity the matcher ranks candidates by.
// FuzzySearch orders and truncates by the same score, so the best
// weighted candidate is never cut at the limit.
func (c FuzzyCandidate) Score() float64 {
	return FuzzyTitleWeight*c.TitleSim + FuzzyArtistWeight*c.ArtistSim
}

// SemanticCandidate is one nearest-neighbor result by cosine similarity
// over work title embeddings.
type SemanticCandidate struct {
	Work       Work
	Similarity float64
}

// Index is the read-only lookup surface the matcher and the royalty
// engine depend on. Implementations must order candidate lists by score
// descending, then work ID ascending, so equal scores resolve
// deterministically.
type Index interface {
	LookupByRecordingCode(ctx context.Context, code string) (*Recording, error)
	LookupByWorkCode(ctx context.Context, code string) (*Work, error)
	FuzzySearch(ctx context.Context, title, artist string, limit int) ([]FuzzyCandidate, error)
	SemanticSearch(ctx context.Context, vector []float64, limit int) ([]SemanticCandidate, error)

	GetWork(ctx context.Context, id snowflake.ID) (*Work, error)
	GetRecording(ctx context.Context, id snowflake.ID) (*Recording, error)
	GetActiveDeals(ctx context.Context, songwriterID snowflake.ID, from, to time.Time) ([]Deal, error)
	GetDealsForWorks(ctx context.Context, workIDs []snowflake.ID, from, to time.Time) ([]Deal, map[snowflake.ID][]snowflake.ID, error)
	GetDealWorks(ctx context.Context, dealID snowflake.ID) ([]Work, error)
	ListSongwriterIDsWithDeals(ctx context.Context, from, to time.Time) ([]snowflake.ID, error)
}

var (
	ErrInvalidCode      = errors.New("invalid_code")
	ErrWorkNotFound     = errors.New("work_not_found")
	ErrInvalidEmbedding = errors.New("invalid_embedding")
)
