package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// CreatePeriodRequest opens a new accounting period.
type CreatePeriodRequest struct {
	Code      string    `json:"code"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// ListStatementsRequest filters statements within one period.
type ListStatementsRequest struct {
	PeriodCode   string
	SongwriterID *snowflake.ID
	Limit        int
}

// Service is the royalty calculation engine and its period controller.
type Service interface {
	CreatePeriod(ctx context.Context, req CreatePeriodRequest) (*RoyaltyPeriod, error)
	GetPeriod(ctx context.Context, code string) (*RoyaltyPeriod, error)

	// CalculatePeriod runs the full calculation for a period. Only one
	// run per period may be in flight; a concurrent attempt fails with
	// ErrPeriodConflict. Rerunning a calculated period replaces its
	// statements.
	CalculatePeriod(ctx context.Context, periodCode string) (*CalculationRun, error)

	GetRun(ctx context.Context, runID string) (*CalculationRun, error)
	ListRunErrors(ctx context.Context, runID string) ([]CalculationError, error)

	ListStatements(ctx context.Context, req ListStatementsRequest) ([]RoyaltyStatement, error)
	GetStatement(ctx context.Context, id snowflake.ID) (*RoyaltyStatement, []RoyaltyLineItem, error)

	// ApprovePeriod moves calculated -> approved; MarkPeriodPaid moves
	// approved -> paid. Both reject any other starting status.
	ApprovePeriod(ctx context.Context, code string) (*RoyaltyPeriod, error)
	MarkPeriodPaid(ctx context.Context, code string) (*RoyaltyPeriod, error)
}

var (
	ErrInvalidPeriodCode = errors.New("invalid_period_code")
	ErrPeriodExists      = errors.New("period_exists")
	ErrPeriodNotFound    = errors.New("period_not_found")
	ErrPeriodConflict    = errors.New("period_calculation_in_progress")
	ErrPeriodNotReady    = errors.New("period_not_in_calculable_status")
	ErrInvalidTransition = errors.New("invalid_period_transition")
	ErrRunNotFound       = errors.New("run_not_found")
	ErrStatementNotFound = errors.New("statement_not_found")
)
