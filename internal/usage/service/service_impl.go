package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/tonicworks/accord/internal/clock"
	obsmetrics "github.com/tonicworks/accord/internal/observability/metrics"
	usagedomain "github.com/tonicworks/accord/internal/usage/domain"
	"github.com/tonicworks/accord/pkg/db"
	"github.com/tonicworks/accord/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID     *snowflake.Node
	clock     clock.Clock
	eventrepo repository.Repository[usagedomain.UsageEvent]
	metrics   *obsmetrics.Metrics
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("usage.service"),

		genID:     p.GenID,
		clock:     p.Clock,
		eventrepo: repository.ProvideStore[usagedomain.UsageEvent](p.DB),
		metrics:   p.Metrics,
	}
}

func (s *Service) Submit(ctx context.Context, req usagedomain.SubmitRequest) (*usagedomain.UsageEvent, error) {
	source := strings.ToLower(strings.TrimSpace(req.Source))
	if source == "" {
		return nil, usagedomain.ErrInvalidSource
	}
	if err := validateSubmit(req); err != nil {
		return nil, err
	}

	// Idempotency first: a replayed report returns the stored event
	// untouched, whatever state it has advanced to since.
	if req.SourceEventID != nil && strings.TrimSpace(*req.SourceEventID) != "" {
		sourceEventID := strings.TrimSpace(*req.SourceEventID)
		existing, err := s.eventrepo.FindOne(ctx, &usagedomain.UsageEvent{
			Source:        source,
			SourceEventID: &sourceEventID,
		})
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
		req.SourceEventID = &sourceEventID
	}

	now := s.clock.Now()
	period := strings.TrimSpace(req.ReportingPeriod)
	if period == "" {
		period = req.UsageDate.Format("2006_01")
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "USD"
	}
	playCount := req.PlayCount
	if playCount == 0 {
		playCount = 1
	}

	event := &usagedomain.UsageEvent{
		ID:               s.genID.Generate(),
		Source:           source,
		SourceEventID:    req.SourceEventID,
		RecordingCode:    req.RecordingCode,
		WorkCode:         req.WorkCode,
		ReportedTitle:    req.ReportedTitle,
		ReportedArtist:   req.ReportedArtist,
		ReportedAlbum:    req.ReportedAlbum,
		UsageType:        req.UsageType,
		PlayCount:        playCount,
		RevenueAmount:    req.RevenueAmount,
		Currency:         currency,
		Territory:        req.Territory,
		UsageDate:        req.UsageDate,
		ReportingPeriod:  period,
		ProcessingStatus: usagedomain.StatusPending,
		RawPayload:       datatypes.JSONMap(req.RawPayload),
		IngestedAt:       now,
	}

	if err := s.eventrepo.Create(ctx, event); err != nil {
		// A concurrent replay can slip past the read above and lose the
		// insert race on idx_source_event. Return the winner's row.
		if db.IsDuplicateKeyErr(err) && event.SourceEventID != nil {
			existing, findErr := s.eventrepo.FindOne(ctx, &usagedomain.UsageEvent{
				Source:        source,
				SourceEventID: event.SourceEventID,
			})
			if findErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, err
	}

	s.metrics.RecordEventSubmitted(ctx, source)
	s.log.Debug("usage event submitted",
		zap.String("event_id", event.ID.String()),
		zap.String("source", source),
	)
	return event, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*usagedomain.UsageEvent, error) {
	event, err := s.eventrepo.FindOne(ctx, &usagedomain.UsageEvent{ID: id})
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, usagedomain.ErrEventNotFound
	}
	return event, nil
}

func (s *Service) List(ctx context.Context, req usagedomain.ListRequest) ([]usagedomain.UsageEvent, error) {
	limit := req.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	stmt := s.db.WithContext(ctx).Model(&usagedomain.UsageEvent{})
	if status := strings.TrimSpace(req.Status); status != "" {
		stmt = stmt.Where("processing_status = ?", status)
	}
	if source := strings.TrimSpace(req.Source); source != "" {
		stmt = stmt.Where("source = ?", strings.ToLower(source))
	}
	if period := strings.TrimSpace(req.ReportingPeriod); period != "" {
		stmt = stmt.Where("reporting_period = ?", period)
	}

	var events []usagedomain.UsageEvent
	err := stmt.Order("id").Limit(limit).Find(&events).Error
	return events, err
}

func (s *Service) ListPendingIDs(ctx context.Context, limit int) ([]snowflake.ID, error) {
	if limit <= 0 {
		limit = 50
	}
	var ids []snowflake.ID
	err := s.db.WithContext(ctx).
		Model(&usagedomain.UsageEvent{}).
		Where("processing_status = ?", usagedomain.StatusPending).
		Order("id").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// Claim transitions pending -> processing with a conditional update so
// concurrent workers cannot both own the same event.
func (s *Service) Claim(ctx context.Context, id snowflake.ID) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&usagedomain.UsageEvent{}).
		Where("id = ? AND processing_status = ?", id, usagedomain.StatusPending).
		Update("processing_status", usagedomain.StatusProcessing)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Service) Release(ctx context.Context, id snowflake.ID) error {
	return s.db.WithContext(ctx).
		Model(&usagedomain.UsageEvent{}).
		Where("id = ? AND processing_status = ?", id, usagedomain.StatusProcessing).
		Update("processing_status", usagedomain.StatusPending).Error
}

func validateSubmit(req usagedomain.SubmitRequest) error {
	if _, ok := usagedomain.ValidUsageTypes[req.UsageType]; !ok {
		return usagedomain.ErrInvalidUsageType
	}
	if req.PlayCount < 0 {
		return usagedomain.ErrInvalidPlayCount
	}
	if req.UsageDate.IsZero() {
		return usagedomain.ErrMissingUsageDate
	}
	if isBlank(req.RecordingCode) && isBlank(req.WorkCode) && isBlank(req.ReportedTitle) {
		return usagedomain.ErrMissingIdentity
	}
	return nil
}

func isBlank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}
