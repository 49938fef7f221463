package service

import (
	"context"
	"regexp"
	"strings"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/tonicworks/accord/internal/catalog/domain"
	"github.com/tonicworks/accord/internal/clock"
	"github.com/tonicworks/accord/internal/config"
	obsmetrics "github.com/tonicworks/accord/internal/observability/metrics"
	royaltydomain "github.com/tonicworks/accord/internal/royalty/domain"
	"github.com/tonicworks/accord/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Period codes follow the reporting-period format on usage events.
var periodCodePattern = regexp.MustCompile(`^\d{4}_\d{2}$`)

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Params  *config.ParamsHolder
	Catalog catalogdomain.Index
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID   *snowflake.Node
	clock   clock.Clock
	params  *config.ParamsHolder
	catalog catalogdomain.Index
	metrics *obsmetrics.Metrics

	periodrepo repository.Repository[royaltydomain.RoyaltyPeriod]
	runrepo    repository.Repository[royaltydomain.CalculationRun]
	stmtrepo   repository.Repository[royaltydomain.RoyaltyStatement]
}

func NewService(p ServiceParam) royaltydomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("royalty.service"),

		genID:   p.GenID,
		clock:   p.Clock,
		params:  p.Params,
		catalog: p.Catalog,
		metrics: p.Metrics,

		periodrepo: repository.ProvideStore[royaltydomain.RoyaltyPeriod](p.DB),
		runrepo:    repository.ProvideStore[royaltydomain.CalculationRun](p.DB),
		stmtrepo:   repository.ProvideStore[royaltydomain.RoyaltyStatement](p.DB),
	}
}

func (s *Service) CreatePeriod(ctx context.Context, req royaltydomain.CreatePeriodRequest) (*royaltydomain.RoyaltyPeriod, error) {
	code := strings.TrimSpace(req.Code)
	if !periodCodePattern.MatchString(code) {
		return nil, royaltydomain.ErrInvalidPeriodCode
	}
	if req.StartDate.IsZero() || req.EndDate.IsZero() || req.EndDate.Before(req.StartDate) {
		return nil, royaltydomain.ErrInvalidPeriodCode
	}

	existing, err := s.periodrepo.FindOne(ctx, &royaltydomain.RoyaltyPeriod{Code: code})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, royaltydomain.ErrPeriodExists
	}

	period := &royaltydomain.RoyaltyPeriod{
		ID:        s.genID.Generate(),
		Code:      code,
		StartDate: req.StartDate.UTC(),
		EndDate:   req.EndDate.UTC(),
		Status:    royaltydomain.PeriodStatusOpen,
	}
	if err := s.periodrepo.Create(ctx, period); err != nil {
		return nil, err
	}
	return period, nil
}

func (s *Service) GetPeriod(ctx context.Context, code string) (*royaltydomain.RoyaltyPeriod, error) {
	period, err := s.periodrepo.FindOne(ctx, &royaltydomain.RoyaltyPeriod{Code: strings.TrimSpace(code)})
	if err != nil {
		return nil, err
	}
	if period == nil {
		return nil, royaltydomain.ErrPeriodNotFound
	}
	return period, nil
}

func (s *Service) GetRun(ctx context.Context, runID string) (*royaltydomain.CalculationRun, error) {
	run, err := s.runrepo.FindOne(ctx, &royaltydomain.CalculationRun{RunID: strings.TrimSpace(runID)})
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, royaltydomain.ErrRunNotFound
	}
	return run, nil
}

func (s *Service) ListRunErrors(ctx context.Context, runID string) ([]royaltydomain.CalculationError, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	var errs []royaltydomain.CalculationError
	err = s.db.WithContext(ctx).
		Where("run_id = ?", run.ID).
		Order("id").
		Find(&errs).Error
	return errs, err
}

func (s *Service) ListStatements(ctx context.Context, req royaltydomain.ListStatementsRequest) ([]royaltydomain.RoyaltyStatement, error) {
	period, err := s.GetPeriod(ctx, req.PeriodCode)
	if err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	stmt := s.db.WithContext(ctx).Where("period_id = ?", period.ID)
	if req.SongwriterID != nil {
		stmt = stmt.Where("songwriter_id = ?", *req.SongwriterID)
	}

	var statements []royaltydomain.RoyaltyStatement
	err = stmt.Order("songwriter_id").Limit(limit).Find(&statements).Error
	return statements, err
}

func (s *Service) GetStatement(ctx context.Context, id snowflake.ID) (*royaltydomain.RoyaltyStatement, []royaltydomain.RoyaltyLineItem, error) {
	statement, err := s.stmtrepo.FindOne(ctx, &royaltydomain.RoyaltyStatement{ID: id})
	if err != nil {
		return nil, nil, err
	}
	if statement == nil {
		return nil, nil, royaltydomain.ErrStatementNotFound
	}

	var lines []royaltydomain.RoyaltyLineItem
	if err := s.db.WithContext(ctx).
		Where("statement_id = ?", statement.ID).
		Order("id").
		Find(&lines).Error; err != nil {
		return nil, nil, err
	}
	return statement, lines, nil
}

func (s *Service) ApprovePeriod(ctx context.Context, code string) (*royaltydomain.RoyaltyPeriod, error) {
	return s.transitionPeriod(ctx, code,
		royaltydomain.PeriodStatusCalculated, royaltydomain.PeriodStatusApproved,
		royaltydomain.StatementStatusApproved)
}

func (s *Service) MarkPeriodPaid(ctx context.Context, code string) (*royaltydomain.RoyaltyPeriod, error) {
	return s.transitionPeriod(ctx, code,
		royaltydomain.PeriodStatusApproved, royaltydomain.PeriodStatusPaid,
		royaltydomain.StatementStatusPaid)
}

// transitionPeriod advances the period with a conditional update and
// moves its statements to the matching status in the same transaction.
func (s *Service) transitionPeriod(ctx context.Context, code, from, to, statementStatus string) (*royaltydomain.RoyaltyPeriod, error) {
	period, err := s.GetPeriod(ctx, code)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&royaltydomain.RoyaltyPeriod{}).
			Where("id = ? AND status = ?", period.ID, from).
			Update("status", to)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return royaltydomain.ErrInvalidTransition
		}
		return tx.Model(&royaltydomain.RoyaltyStatement{}).
			Where("period_id = ?", period.ID).
			Update("status", statementStatus).Error
	})
	if err != nil {
		return nil, err
	}

	period.Status = to
	s.log.Info("royalty period transitioned",
		zap.String("period", period.Code),
		zap.String("from", from),
		zap.String("to", to),
	)
	return period, nil
}
