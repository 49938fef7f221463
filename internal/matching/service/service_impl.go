package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/tonicworks/accord/internal/catalog/domain"
	"github.com/tonicworks/accord/internal/clock"
	"github.com/tonicworks/accord/internal/config"
	"github.com/tonicworks/accord/internal/embedding"
	matchingdomain "github.com/tonicworks/accord/internal/matching/domain"
	obsmetrics "github.com/tonicworks/accord/internal/observability/metrics"
	usagedomain "github.com/tonicworks/accord/internal/usage/domain"
	"github.com/tonicworks/accord/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Params   *config.ParamsHolder
	Catalog  catalogdomain.Index
	Embedder embedding.Provider
	Usage    usagedomain.Service
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID    *snowflake.Node
	clock    clock.Clock
	params   *config.ParamsHolder
	catalog  catalogdomain.Index
	embedder embedding.Provider
	usage    usagedomain.Service
	metrics  *obsmetrics.Metrics

	matchrepo  repository.Repository[matchingdomain.MatchedUsage]
	reviewrepo repository.Repository[matchingdomain.ReviewItem]
}

func NewService(p ServiceParam) matchingdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("matching.service"),

		genID:    p.GenID,
		clock:    p.Clock,
		params:   p.Params,
		catalog:  p.Catalog,
		embedder: p.Embedder,
		usage:    p.Usage,
		metrics:  p.Metrics,

		matchrepo:  repository.ProvideStore[matchingdomain.MatchedUsage](p.DB),
		reviewrepo: repository.ProvideStore[matchingdomain.ReviewItem](p.DB),
	}
}

func (s *Service) ProcessEvent(ctx context.Context, usageEventID snowflake.ID) (*matchingdomain.Outcome, error) {
	event, err := s.usage.Get(ctx, usageEventID)
	if err != nil {
		if errors.Is(err, usagedomain.ErrEventNotFound) {
			return nil, matchingdomain.ErrEventNotFound
		}
		return nil, err
	}

	// Replays of an already matched event return the stored outcome.
	if event.ProcessingStatus == usagedomain.StatusMatched {
		existing, err := s.currentMatch(ctx, event.ID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return &matchingdomain.Outcome{Event: existing}, nil
		}
	}

	claimed, err := s.usage.Claim(ctx, event.ID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, matchingdomain.ErrEventNotClaimable
	}

	return s.matchClaimed(ctx, event)
}

// matchClaimed runs the pipeline for an event this caller owns and
// persists the outcome. Pipeline errors are recorded as lookup_error
// review items rather than bubbling up, so one flaky lookup does not
// wedge the batch.
func (s *Service) matchClaimed(ctx context.Context, event *usagedomain.UsageEvent) (*matchingdomain.Outcome, error) {
	started := time.Now()

	resolved, deferred, err := s.runPipeline(ctx, event)
	if err != nil {
		s.log.Warn("matching pipeline error",
			zap.String("event_id", event.ID.String()),
			zap.Error(err),
		)
		deferred = &deferral{
			Reason: matchingdomain.ReviewReasonLookupError,
			Detail: err.Error(),
		}
	}

	if resolved != nil {
		match, err := s.persistResolution(ctx, event, resolved, "system")
		if err != nil {
			return nil, err
		}
		s.metrics.RecordMatchOutcome(ctx, "matched", resolved.Method, time.Since(started))
		return &matchingdomain.Outcome{Event: match}, nil
	}

	item, err := s.persistDeferral(ctx, event, deferred)
	if err != nil {
		return nil, err
	}
	if deferred.Reason == matchingdomain.ReviewReasonLookupError {
		s.metrics.RecordMatchOutcome(ctx, "errored", "", time.Since(started))
	} else {
		s.metrics.RecordMatchOutcome(ctx, "review", "", time.Since(started))
	}
	return &matchingdomain.Outcome{Queued: item}, nil
}

func (s *Service) ManualMatch(ctx context.Context, req matchingdomain.ManualMatchRequest) (*matchingdomain.MatchedUsage, error) {
	work, err := s.catalog.GetWork(ctx, req.WorkID)
	if err != nil {
		return nil, err
	}
	if work == nil {
		return nil, matchingdomain.ErrWorkNotFound
	}

	event, err := s.usage.Get(ctx, req.UsageEventID)
	if err != nil {
		if errors.Is(err, usagedomain.ErrEventNotFound) {
			return nil, matchingdomain.ErrEventNotFound
		}
		return nil, err
	}

	// Re-asserting the same work is a no-op conflict, not a new match.
	existing, err := s.currentMatch(ctx, event.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.WorkID == req.WorkID {
		return nil, matchingdomain.ErrAlreadyMatched
	}

	matchedBy := strings.TrimSpace(req.MatchedBy)
	if matchedBy == "" {
		matchedBy = "reviewer"
	}

	resolved := &resolution{
		WorkID:     req.WorkID,
		Confidence: 1.0,
		Method:     matchingdomain.MethodManual,
	}
	return s.persistResolution(ctx, event, resolved, matchedBy)
}

func (s *Service) Rematch(ctx context.Context, usageEventID snowflake.ID) (*matchingdomain.Outcome, error) {
	event, err := s.usage.Get(ctx, usageEventID)
	if err != nil {
		if errors.Is(err, usagedomain.ErrEventNotFound) {
			return nil, matchingdomain.ErrEventNotFound
		}
		return nil, err
	}
	if event.ProcessingStatus == usagedomain.StatusPending ||
		event.ProcessingStatus == usagedomain.StatusProcessing {
		return nil, matchingdomain.ErrEventNotClaimable
	}

	res := s.db.WithContext(ctx).
		Model(&usagedomain.UsageEvent{}).
		Where("id = ? AND processing_status = ?", event.ID, event.ProcessingStatus).
		Update("processing_status", usagedomain.StatusProcessing)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected != 1 {
		return nil, matchingdomain.ErrEventNotClaimable
	}

	return s.matchClaimed(ctx, event)
}

func (s *Service) ListReviewQueue(ctx context.Context, req matchingdomain.ListReviewRequest) ([]matchingdomain.ReviewItem, error) {
	limit := req.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	status := strings.TrimSpace(req.Status)
	if status == "" {
		status = matchingdomain.ReviewStatusPending
	}

	var items []matchingdomain.ReviewItem
	err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("id").
		Limit(limit).
		Find(&items).Error
	return items, err
}

func (s *Service) GetMatchesForEvent(ctx context.Context, usageEventID snowflake.ID) ([]matchingdomain.MatchedUsage, error) {
	var matches []matchingdomain.MatchedUsage
	err := s.db.WithContext(ctx).
		Where("usage_event_id = ?", usageEventID).
		Order("id").
		Find(&matches).Error
	return matches, err
}

// currentMatch returns the authoritative match row for an event, if
// any: confirmed and not superseded.
func (s *Service) currentMatch(ctx context.Context, usageEventID snowflake.ID) (*matchingdomain.MatchedUsage, error) {
	var matches []matchingdomain.MatchedUsage
	err := s.db.WithContext(ctx).
		Where("usage_event_id = ? AND confirmed = ? AND superseded_by IS NULL", usageEventID, true).
		Order("id").
		Limit(1).
		Find(&matches).Error
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return &matches[0], nil
}

// persistResolution writes the match and flips the usage event to
// matched in one transaction. A rerun that resolves to the same work
// reuses the existing row; resolving to a different work supersedes
// the old rows instead of deleting them.
func (s *Service) persistResolution(ctx context.Context, event *usagedomain.UsageEvent, resolved *resolution, matchedBy string) (*matchingdomain.MatchedUsage, error) {
	now := s.clock.Now()
	var authoritative *matchingdomain.MatchedUsage

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		matchrepo := s.matchrepo.WithTrx(tx)

		existing, err := matchrepo.FindOne(ctx, &matchingdomain.MatchedUsage{
			UsageEventID: event.ID,
			WorkID:       resolved.WorkID,
		})
		if err != nil {
			return err
		}

		if existing != nil {
			existing.RecordingID = resolved.RecordingID
			existing.MatchConfidence = resolved.Confidence
			existing.MatchMethod = resolved.Method
			existing.MatchedBy = matchedBy
			existing.Confirmed = true
			existing.SupersededBy = nil
			if err := tx.Save(existing).Error; err != nil {
				return err
			}
			authoritative = existing
		} else {
			match := &matchingdomain.MatchedUsage{
				ID:              s.genID.Generate(),
				UsageEventID:    event.ID,
				WorkID:          resolved.WorkID,
				RecordingID:     resolved.RecordingID,
				MatchConfidence: resolved.Confidence,
				MatchMethod:     resolved.Method,
				MatchedBy:       matchedBy,
				Confirmed:       true,
			}
			if err := matchrepo.Create(ctx, match); err != nil {
				return err
			}
			authoritative = match
		}

		// Older matches for other works lose authority but stay on
		// record.
		if err := tx.Model(&matchingdomain.MatchedUsage{}).
			Where("usage_event_id = ? AND id <> ? AND superseded_by IS NULL", event.ID, authoritative.ID).
			Updates(map[string]any{
				"confirmed":     false,
				"superseded_by": authoritative.ID,
			}).Error; err != nil {
			return err
		}

		if err := s.resolveReviewItem(ctx, tx, event.ID, matchedBy, now); err != nil {
			return err
		}

		return tx.Model(&usagedomain.UsageEvent{}).
			Where("id = ?", event.ID).
			Updates(map[string]any{
				"processing_status": usagedomain.StatusMatched,
				"processed_at":      now,
				"failure_reason":    nil,
			}).Error
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("usage event matched",
		zap.String("event_id", event.ID.String()),
		zap.String("work_id", authoritative.WorkID.String()),
		zap.String("method", authoritative.MatchMethod),
		zap.Float64("confidence", authoritative.MatchConfidence),
	)
	return authoritative, nil
}

// persistDeferral queues the event for review. The review row is keyed
// by usage event, so a rerun refreshes the pending item instead of
// piling up duplicates.
func (s *Service) persistDeferral(ctx context.Context, event *usagedomain.UsageEvent, deferred *deferral) (*matchingdomain.ReviewItem, error) {
	now := s.clock.Now()
	var item *matchingdomain.ReviewItem

	eventStatus := usagedomain.StatusUnmatched
	var failureReason *string
	if deferred.Reason == matchingdomain.ReviewReasonLookupError {
		eventStatus = usagedomain.StatusError
		failureReason = &deferred.Detail
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reviewrepo := s.reviewrepo.WithTrx(tx)

		existing, err := reviewrepo.FindOne(ctx, &matchingdomain.ReviewItem{UsageEventID: event.ID})
		if err != nil {
			return err
		}

		var detail *string
		if deferred.Detail != "" {
			detail = &deferred.Detail
		}

		if existing != nil {
			existing.Reason = deferred.Reason
			existing.Detail = detail
			existing.Suggestions = datatypes.NewJSONSlice(deferred.Suggestions)
			existing.Status = matchingdomain.ReviewStatusPending
			existing.ResolvedBy = nil
			existing.ResolvedAt = nil
			if err := tx.Save(existing).Error; err != nil {
				return err
			}
			item = existing
		} else {
			item = &matchingdomain.ReviewItem{
				ID:           s.genID.Generate(),
				UsageEventID: event.ID,
				Reason:       deferred.Reason,
				Detail:       detail,
				Suggestions:  datatypes.NewJSONSlice(deferred.Suggestions),
				Status:       matchingdomain.ReviewStatusPending,
			}
			if err := reviewrepo.Create(ctx, item); err != nil {
				return err
			}
		}

		// A rerun that no longer resolves demotes any prior match.
		if err := tx.Model(&matchingdomain.MatchedUsage{}).
			Where("usage_event_id = ? AND confirmed = ?", event.ID, true).
			Update("confirmed", false).Error; err != nil {
			return err
		}

		return tx.Model(&usagedomain.UsageEvent{}).
			Where("id = ?", event.ID).
			Updates(map[string]any{
				"processing_status": eventStatus,
				"processed_at":      now,
				"failure_reason":    failureReason,
			}).Error
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("usage event queued for review",
		zap.String("event_id", event.ID.String()),
		zap.String("reason", deferred.Reason),
	)
	return item, nil
}

func (s *Service) resolveReviewItem(ctx context.Context, tx *gorm.DB, usageEventID snowflake.ID, resolvedBy string, at time.Time) error {
	return tx.Model(&matchingdomain.ReviewItem{}).
		Where("usage_event_id = ? AND status = ?", usageEventID, matchingdomain.ReviewStatusPending).
		Updates(map[string]any{
			"status":      matchingdomain.ReviewStatusResolved,
			"resolved_by": resolvedBy,
			"resolved_at": at,
		}).Error
}
