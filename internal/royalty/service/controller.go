package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tonicworks/accord/internal/aggregate"
	catalogdomain "github.com/tonicworks/accord/internal/catalog/domain"
	matchingdomain "github.com/tonicworks/accord/internal/matching/domain"
	royaltydomain "github.com/tonicworks/accord/internal/royalty/domain"
	usagedomain "github.com/tonicworks/accord/internal/usage/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// errAbortThreshold stops a run that is failing across the board.
var errAbortThreshold = errors.New("calculation_error_threshold_exceeded")

// CalculatePeriod owns the period during the run: the status moves to
// calculating via a conditional update, so a second concurrent attempt
// fails fast instead of double-calculating. Songwriters are calculated
// independently; one failure is recorded and the rest continue.
func (s *Service) CalculatePeriod(ctx context.Context, periodCode string) (*royaltydomain.CalculationRun, error) {
	period, err := s.GetPeriod(ctx, periodCode)
	if err != nil {
		return nil, err
	}

	priorStatus := period.Status
	switch priorStatus {
	case royaltydomain.PeriodStatusOpen, royaltydomain.PeriodStatusCalculated:
	case royaltydomain.PeriodStatusCalculating:
		return nil, royaltydomain.ErrPeriodConflict
	default:
		return nil, royaltydomain.ErrPeriodNotReady
	}

	res := s.db.WithContext(ctx).
		Model(&royaltydomain.RoyaltyPeriod{}).
		Where("id = ? AND status = ?", period.ID, priorStatus).
		Update("status", royaltydomain.PeriodStatusCalculating)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected != 1 {
		return nil, royaltydomain.ErrPeriodConflict
	}

	run := &royaltydomain.CalculationRun{
		ID:        s.genID.Generate(),
		RunID:     uuid.NewString(),
		PeriodID:  period.ID,
		Status:    royaltydomain.RunStatusRunning,
		StartedAt: s.clock.Now(),
	}
	if err := s.runrepo.Create(ctx, run); err != nil {
		s.restorePeriodStatus(ctx, period.ID, priorStatus)
		return nil, err
	}

	s.log.Info("royalty calculation started",
		zap.String("period", period.Code),
		zap.String("run_id", run.RunID),
	)

	summary, runErr := s.executeRun(ctx, run, period)
	s.finalizeRun(ctx, run, period, priorStatus, summary, runErr)
	return run, nil
}

type runSummary struct {
	songwritersTotal     int
	songwritersZeroUsage int
	songwritersProcessed int64
	statementsCreated    int64
	errorCount           int64
}

func (s *Service) executeRun(ctx context.Context, run *royaltydomain.CalculationRun, period *royaltydomain.RoyaltyPeriod) (*runSummary, error) {
	params := s.params.Current().Royalty

	withholdingRate, err := decimal.NewFromString(params.WithholdingRate)
	if err != nil {
		return &runSummary{}, err
	}

	inputs, err := s.loadInputs(ctx, period)
	if err != nil {
		return &runSummary{}, err
	}

	workIDs := collectWorkIDs(inputs)
	deals, worksByDeal, err := s.catalog.GetDealsForWorks(ctx, workIDs, period.StartDate, period.EndDate)
	if err != nil {
		return &runSummary{}, err
	}
	dealsByID := make(map[snowflake.ID]catalogdomain.Deal, len(deals))
	for _, deal := range deals {
		dealsByID[deal.ID] = deal
	}

	buckets := aggregate.Build(inputs, deals, worksByDeal, params.PublishableConfidence)
	grouped := aggregate.BySongwriter(buckets)

	songwriterIDs := make([]snowflake.ID, 0, len(grouped))
	for songwriterID := range grouped {
		songwriterIDs = append(songwriterIDs, songwriterID)
	}

	// Songwriters with an active deal in the window but no eligible
	// usage are counted, not calculated.
	eligible, err := s.catalog.ListSongwriterIDsWithDeals(ctx, period.StartDate, period.EndDate)
	if err != nil {
		return &runSummary{}, err
	}
	zeroUsage := 0
	for _, songwriterID := range eligible {
		if _, ok := grouped[songwriterID]; !ok {
			zeroUsage++
		}
	}

	summary := &runSummary{
		songwritersTotal:     len(songwriterIDs) + zeroUsage,
		songwritersZeroUsage: zeroUsage,
	}

	if err := s.rollbackOrphanStatements(ctx, period, grouped); err != nil {
		return summary, err
	}

	groupCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mu sync.Mutex
	var calcErrors []royaltydomain.CalculationError

	group, groupCtx := errgroup.WithContext(groupCtx)
	group.SetLimit(params.CalcConcurrency)
	for _, songwriterID := range songwriterIDs {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}

			_, err := s.calculateStatement(groupCtx, run, period, songwriterID,
				grouped[songwriterID], dealsByID, withholdingRate, params.AllowNegativeNet)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				count := atomic.AddInt64(&summary.errorCount, 1)
				mu.Lock()
				calcErrors = append(calcErrors, royaltydomain.CalculationError{
					ID:           s.genID.Generate(),
					RunID:        run.ID,
					SongwriterID: songwriterID,
					Message:      err.Error(),
				})
				mu.Unlock()
				s.log.Warn("songwriter calculation failed",
					zap.String("run_id", run.RunID),
					zap.String("songwriter_id", songwriterID.String()),
					zap.Error(err),
				)
				if params.AbortErrorThreshold > 0 && count >= int64(params.AbortErrorThreshold) {
					return errAbortThreshold
				}
				return nil
			}

			atomic.AddInt64(&summary.songwritersProcessed, 1)
			atomic.AddInt64(&summary.statementsCreated, 1)
			return nil
		})
	}
	runErr := group.Wait()

	if len(calcErrors) > 0 {
		if err := s.db.WithContext(ctx).Create(&calcErrors).Error; err != nil {
			s.log.Error("failed to persist calculation errors", zap.Error(err))
		}
	}
	return summary, runErr
}

// loadInputs pairs every matched usage event of the period with its
// authoritative match row.
func (s *Service) loadInputs(ctx context.Context, period *royaltydomain.RoyaltyPeriod) ([]aggregate.Input, error) {
	var events []usagedomain.UsageEvent
	if err := s.db.WithContext(ctx).
		Where("reporting_period = ? AND processing_status = ?", period.Code, usagedomain.StatusMatched).
		Order("id").
		Find(&events).Error; err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}

	eventIDs := make([]snowflake.ID, 0, len(events))
	for _, event := range events {
		eventIDs = append(eventIDs, event.ID)
	}

	var matches []matchingdomain.MatchedUsage
	if err := s.db.WithContext(ctx).
		Where("usage_event_id IN ? AND confirmed = ? AND superseded_by IS NULL", eventIDs, true).
		Order("id").
		Find(&matches).Error; err != nil {
		return nil, err
	}

	matchByEvent := make(map[snowflake.ID]matchingdomain.MatchedUsage, len(matches))
	for _, match := range matches {
		matchByEvent[match.UsageEventID] = match
	}

	inputs := make([]aggregate.Input, 0, len(events))
	for _, event := range events {
		match, ok := matchByEvent[event.ID]
		if !ok {
			continue
		}
		inputs = append(inputs, aggregate.Input{Event: event, Match: match})
	}
	return inputs, nil
}

func (s *Service) finalizeRun(ctx context.Context, run *royaltydomain.CalculationRun, period *royaltydomain.RoyaltyPeriod, priorStatus string, summary *runSummary, runErr error) {
	status := royaltydomain.RunStatusCompleted
	periodStatus := royaltydomain.PeriodStatusCalculated
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded):
		// Statements already written stay; the period returns to its
		// prior status so the run can be retried.
		status = royaltydomain.RunStatusCancelled
		periodStatus = priorStatus
	default:
		status = royaltydomain.RunStatusFailed
		periodStatus = priorStatus
	}

	now := s.clock.Now()
	run.Status = status
	run.SongwritersTotal = summary.songwritersTotal
	run.SongwritersZeroUsage = summary.songwritersZeroUsage
	run.SongwritersProcessed = int(summary.songwritersProcessed)
	run.StatementsCreated = int(summary.statementsCreated)
	run.ErrorCount = int(summary.errorCount)
	run.FinishedAt = &now

	// Finalization must not inherit a cancelled request context.
	finalizeCtx := context.WithoutCancel(ctx)
	if err := s.db.WithContext(finalizeCtx).Save(run).Error; err != nil {
		s.log.Error("failed to finalize calculation run",
			zap.String("run_id", run.RunID),
			zap.Error(err),
		)
	}
	s.restorePeriodStatusWithCtx(finalizeCtx, period.ID, periodStatus)

	s.metrics.RecordPeriodRun(finalizeCtx, status)
	s.metrics.RecordStatements(finalizeCtx, period.Code, int64(run.StatementsCreated))
	s.log.Info("royalty calculation finished",
		zap.String("period", period.Code),
		zap.String("run_id", run.RunID),
		zap.String("status", status),
		zap.Int("statements", run.StatementsCreated),
		zap.Int("errors", run.ErrorCount),
	)
}

func (s *Service) restorePeriodStatus(ctx context.Context, periodID snowflake.ID, status string) {
	s.restorePeriodStatusWithCtx(context.WithoutCancel(ctx), periodID, status)
}

func (s *Service) restorePeriodStatusWithCtx(ctx context.Context, periodID snowflake.ID, status string) {
	if err := s.db.WithContext(ctx).
		Model(&royaltydomain.RoyaltyPeriod{}).
		Where("id = ?", periodID).
		Update("status", status).Error; err != nil {
		s.log.Error("failed to restore period status", zap.Error(err))
	}
}

func collectWorkIDs(inputs []aggregate.Input) []snowflake.ID {
	seen := make(map[snowflake.ID]bool, len(inputs))
	workIDs := make([]snowflake.ID, 0, len(inputs))
	for _, input := range inputs {
		if seen[input.Match.WorkID] {
			continue
		}
		seen[input.Match.WorkID] = true
		workIDs = append(workIDs, input.Match.WorkID)
	}
	return workIDs
}
