package service

import (
	"context"
	"errors"
	"sync/atomic"

	matchingdomain "github.com/tonicworks/accord/internal/matching/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ProcessPending drains pending usage events in claim batches. Events
// are claimed individually, so several drains can run side by side
// without double-processing.
func (s *Service) ProcessPending(ctx context.Context) (*matchingdomain.BatchSummary, error) {
	params := s.params.Current().Matching
	summary := &matchingdomain.BatchSummary{}

	var claimed, matched, review, errored atomic.Int64

	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		ids, err := s.usage.ListPendingIDs(ctx, params.ClaimBatchSize)
		if err != nil {
			return summary, err
		}
		if len(ids) == 0 {
			break
		}

		before := claimed.Load()
		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(params.WorkerCount)
		for _, id := range ids {
			group.Go(func() error {
				outcome, err := s.ProcessEvent(groupCtx, id)
				if err != nil {
					if errors.Is(err, matchingdomain.ErrEventNotClaimable) {
						return nil
					}
					return err
				}
				claimed.Add(1)
				switch {
				case outcome.Event != nil:
					matched.Add(1)
				case outcome.Queued != nil && outcome.Queued.Reason == matchingdomain.ReviewReasonLookupError:
					errored.Add(1)
				default:
					review.Add(1)
				}
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			summary.Claimed = int(claimed.Load())
			summary.Matched = int(matched.Load())
			summary.Review = int(review.Load())
			summary.Errored = int(errored.Load())
			return summary, err
		}
		// Every claim lost to a concurrent drain; let it finish the
		// batch instead of spinning on the same IDs.
		if claimed.Load() == before {
			break
		}
	}

	summary.Claimed = int(claimed.Load())
	summary.Matched = int(matched.Load())
	summary.Review = int(review.Load())
	summary.Errored = int(errored.Load())

	s.log.Info("matching batch complete",
		zap.Int("claimed", summary.Claimed),
		zap.Int("matched", summary.Matched),
		zap.Int("review", summary.Review),
		zap.Int("errored", summary.Errored),
	)
	return summary, nil
}
