package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v5"
	catalogdomain "github.com/tonicworks/accord/internal/catalog/domain"
	"github.com/tonicworks/accord/internal/catalog/similarity"
	"github.com/tonicworks/accord/internal/config"
	matchingdomain "github.com/tonicworks/accord/internal/matching/domain"
	usagedomain "github.com/tonicworks/accord/internal/usage/domain"
)

// resolution is a pipeline decision to link the event to one work.
type resolution struct {
	WorkID      snowflake.ID
	RecordingID *snowflake.ID
	Confidence  float64
	Method      string
}

// deferral is a pipeline decision to hand the event to a reviewer.
type deferral struct {
	Reason      string
	Detail      string
	Suggestions []matchingdomain.Suggestion
}

// runPipeline walks the stages strongest signal first. Identifier
// lookups win outright; fuzzy and semantic scoring only run when no
// identifier resolves.
func (s *Service) runPipeline(ctx context.Context, event *usagedomain.UsageEvent) (*resolution, *deferral, error) {
	params := s.params.Current().Matching

	if resolved, err := s.recordingCodeStage(ctx, params, event); err != nil {
		return nil, nil, err
	} else if resolved != nil {
		return resolved, nil, nil
	}

	if resolved, err := s.workCodeStage(ctx, params, event); err != nil {
		return nil, nil, err
	} else if resolved != nil {
		return resolved, nil, nil
	}

	if isBlank(event.ReportedTitle) {
		return nil, &deferral{
			Reason: matchingdomain.ReviewReasonNoMatch,
			Detail: "no identifier resolved and no title reported",
		}, nil
	}

	resolved, fuzzySuggestions, err := s.fuzzyStage(ctx, params, event)
	if err != nil {
		return nil, nil, err
	}
	if resolved != nil {
		return resolved, nil, nil
	}

	return s.semanticStage(ctx, params, event, fuzzySuggestions)
}

func (s *Service) recordingCodeStage(ctx context.Context, params config.MatchingParams, event *usagedomain.UsageEvent) (*resolution, error) {
	if isBlank(event.RecordingCode) {
		return nil, nil
	}
	recording, err := lookupWithRetry(ctx, params, func(callCtx context.Context) (*catalogdomain.Recording, error) {
		return s.catalog.LookupByRecordingCode(callCtx, *event.RecordingCode)
	})
	if err != nil {
		if errors.Is(err, catalogdomain.ErrInvalidCode) {
			return nil, nil
		}
		return nil, fmt.Errorf("recording code lookup: %w", err)
	}
	if recording == nil {
		return nil, nil
	}
	recordingID := recording.ID
	return &resolution{
		WorkID:      recording.WorkID,
		RecordingID: &recordingID,
		Confidence:  1.0,
		Method:      matchingdomain.MethodExactIdentifier,
	}, nil
}

func (s *Service) workCodeStage(ctx context.Context, params config.MatchingParams, event *usagedomain.UsageEvent) (*resolution, error) {
	if isBlank(event.WorkCode) {
		return nil, nil
	}
	work, err := lookupWithRetry(ctx, params, func(callCtx context.Context) (*catalogdomain.Work, error) {
		return s.catalog.LookupByWorkCode(callCtx, *event.WorkCode)
	})
	if err != nil {
		if errors.Is(err, catalogdomain.ErrInvalidCode) {
			return nil, nil
		}
		return nil, fmt.Errorf("work code lookup: %w", err)
	}
	if work == nil {
		return nil, nil
	}
	return &resolution{
		WorkID:     work.ID,
		Confidence: 1.0,
		Method:     matchingdomain.MethodExactSecondaryIdentifier,
	}, nil
}

// fuzzyStage scores trigram similarity of title and artist. A score
// above the confirm threshold resolves the event; anything at or above
// the floor survives as a reviewer suggestion.
func (s *Service) fuzzyStage(ctx context.Context, params config.MatchingParams, event *usagedomain.UsageEvent) (*resolution, []matchingdomain.Suggestion, error) {
	artist := ""
	if event.ReportedArtist != nil {
		artist = *event.ReportedArtist
	}

	candidates, err := lookupWithRetry(ctx, params, func(callCtx context.Context) ([]catalogdomain.FuzzyCandidate, error) {
		return s.catalog.FuzzySearch(callCtx, *event.ReportedTitle, artist, params.CandidateLimit)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("fuzzy search: %w", err)
	}

	type scored struct {
		candidate catalogdomain.FuzzyCandidate
		score     float64
	}
	kept := make([]scored, 0, len(candidates))
	for _, candidate := range candidates {
		score := candidate.Score()
		if score < params.FuzzyFloor {
			continue
		}
		kept = append(kept, scored{candidate: candidate, score: score})
	}
	// Equal scores resolve to the smaller work ID.
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].score != kept[j].score {
			return kept[i].score > kept[j].score
		}
		return kept[i].candidate.Work.ID < kept[j].candidate.Work.ID
	})

	suggestions := make([]matchingdomain.Suggestion, 0, len(kept))
	for _, entry := range kept {
		suggestions = append(suggestions, matchingdomain.Suggestion{
			WorkID:     entry.candidate.Work.ID,
			Title:      entry.candidate.Work.Title,
			Confidence: entry.score,
			Method:     matchingdomain.MethodFuzzyTitle,
		})
	}

	if len(kept) == 0 {
		return nil, nil, nil
	}

	best := kept[0]
	if best.candidate.TitleSim >= 1 && best.candidate.ArtistSim >= 1 && artist != "" {
		return &resolution{
			WorkID:     best.candidate.Work.ID,
			Confidence: 1.0,
			Method:     matchingdomain.MethodExactTitleArtist,
		}, suggestions, nil
	}
	if best.score > params.FuzzyConfirm {
		return &resolution{
			WorkID:     best.candidate.Work.ID,
			Confidence: best.score,
			Method:     matchingdomain.MethodFuzzyTitle,
		}, suggestions, nil
	}
	return nil, suggestions, nil
}

// semanticStage is the last automated chance. Cosine similarity above
// the confirm threshold resolves; the band between the review floor and
// the confirm threshold queues with suggestions; below the floor the
// event queues with whatever the fuzzy stage collected.
func (s *Service) semanticStage(ctx context.Context, params config.MatchingParams, event *usagedomain.UsageEvent, fuzzySuggestions []matchingdomain.Suggestion) (*resolution, *deferral, error) {
	text := similarity.Normalize(*event.ReportedTitle)
	if event.ReportedArtist != nil {
		text = strings.TrimSpace(text + " " + similarity.Normalize(*event.ReportedArtist))
	}

	vector, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, nil, fmt.Errorf("embed reported title: %w", err)
	}

	candidates, err := lookupWithRetry(ctx, params, func(callCtx context.Context) ([]catalogdomain.SemanticCandidate, error) {
		return s.catalog.SemanticSearch(callCtx, vector, params.CandidateLimit)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("semantic search: %w", err)
	}

	if len(candidates) > 0 {
		best := candidates[0]
		if best.Similarity > params.SemanticConfirm {
			return &resolution{
				WorkID:     best.Work.ID,
				Confidence: best.Similarity,
				Method:     matchingdomain.MethodSemanticEmbedding,
			}, nil, nil
		}
		if best.Similarity > params.SemanticReviewFloor {
			suggestions := make([]matchingdomain.Suggestion, 0, len(candidates))
			for _, candidate := range candidates {
				if candidate.Similarity <= params.SemanticReviewFloor {
					continue
				}
				suggestions = append(suggestions, matchingdomain.Suggestion{
					WorkID:     candidate.Work.ID,
					Title:      candidate.Work.Title,
					Confidence: candidate.Similarity,
					Method:     matchingdomain.MethodSemanticEmbedding,
				})
			}
			return nil, &deferral{
				Reason:      matchingdomain.ReviewReasonLowConfidence,
				Detail:      fmt.Sprintf("best semantic similarity %.3f below confirm threshold", best.Similarity),
				Suggestions: mergeSuggestions(fuzzySuggestions, suggestions),
			}, nil
		}
	}

	if len(fuzzySuggestions) > 0 {
		return nil, &deferral{
			Reason:      matchingdomain.ReviewReasonLowConfidence,
			Detail:      "fuzzy candidates below confirm threshold",
			Suggestions: fuzzySuggestions,
		}, nil
	}
	return nil, &deferral{
		Reason: matchingdomain.ReviewReasonNoMatch,
		Detail: "no catalog candidate cleared any threshold",
	}, nil
}

// mergeSuggestions keeps the strongest entry per work, ordered by
// confidence descending then work ID ascending.
func mergeSuggestions(groups ...[]matchingdomain.Suggestion) []matchingdomain.Suggestion {
	byWork := make(map[snowflake.ID]matchingdomain.Suggestion)
	for _, group := range groups {
		for _, suggestion := range group {
			existing, ok := byWork[suggestion.WorkID]
			if !ok || suggestion.Confidence > existing.Confidence {
				byWork[suggestion.WorkID] = suggestion
			}
		}
	}
	merged := make([]matchingdomain.Suggestion, 0, len(byWork))
	for _, suggestion := range byWork {
		merged = append(merged, suggestion)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Confidence != merged[j].Confidence {
			return merged[i].Confidence > merged[j].Confidence
		}
		return merged[i].WorkID < merged[j].WorkID
	})
	return merged
}

// lookupWithRetry wraps a catalog call with a per-attempt timeout and
// exponential backoff. Invalid code errors never retry.
func lookupWithRetry[T any](ctx context.Context, params config.MatchingParams, op func(ctx context.Context) (T, error)) (T, error) {
	return backoff.Retry(ctx, func() (T, error) {
		callCtx, cancel := context.WithTimeout(ctx, time.Duration(params.LookupTimeoutMS)*time.Millisecond)
		defer cancel()
		value, err := op(callCtx)
		if err != nil && errors.Is(err, catalogdomain.ErrInvalidCode) {
			return value, backoff.Permanent(err)
		}
		return value, err
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(params.LookupMaxAttempts)),
	)
}

func isBlank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}
