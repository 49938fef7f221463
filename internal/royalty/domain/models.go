package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Period statuses. calculating is transient and owned by exactly one
// run at a time.
const (
	PeriodStatusOpen        = "open"
	PeriodStatusCalculating = "calculating"
	PeriodStatusCalculated  = "calculated"
	PeriodStatusApproved    = "approved"
	PeriodStatusPaid        = "paid"
)

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusCancelled = "cancelled"
	RunStatusFailed    = "failed"
)

// Statement statuses. Statements are written as calculated and advance
// with their period; draft is reserved for manually staged statements.
const (
	StatementStatusDraft      = "draft"
	StatementStatusCalculated = "calculated"
	StatementStatusApproved   = "approved"
	StatementStatusSent       = "sent"
	StatementStatusPaid       = "paid"
)

// RoyaltyPeriod is one accounting window, keyed by its code
// (for example 2026_03).
type RoyaltyPeriod struct {
	ID   snowflake.ID `gorm:"primaryKey" json:"id"`
	Code string       `gorm:"type:varchar(10);uniqueIndex;not null" json:"code"`

	StartDate time.Time `gorm:"not null" json:"start_date"`
	EndDate   time.Time `gorm:"not null" json:"end_date"`
	Status    string    `gorm:"type:varchar(16);not null;default:open;index" json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (RoyaltyPeriod) TableName() string { return "royalty_periods" }

// CalculationRun records one calculation attempt over a period. RunID
// is the external handle callers poll.
type CalculationRun struct {
	ID       snowflake.ID `gorm:"primaryKey" json:"id"`
	RunID    string       `gorm:"type:varchar(36);uniqueIndex;not null" json:"run_id"`
	PeriodID snowflake.ID `gorm:"not null;index" json:"period_id"`

	Status string `gorm:"type:varchar(16);not null;default:running" json:"status"`

	SongwritersTotal     int `gorm:"not null;default:0" json:"songwriters_total"`
	SongwritersProcessed int `gorm:"not null;default:0" json:"songwriters_processed"`
	SongwritersZeroUsage int `gorm:"not null;default:0" json:"songwriters_zero_usage"`
	StatementsCreated    int `gorm:"not null;default:0" json:"statements_created"`
	ErrorCount           int `gorm:"not null;default:0" json:"error_count"`

	StartedAt  time.Time  `gorm:"not null" json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func (CalculationRun) TableName() string { return "calculation_runs" }

// CalculationError is one songwriter-level failure inside a run. The
// run keeps going; the error is kept for operators.
type CalculationError struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	RunID        snowflake.ID `gorm:"not null;index" json:"run_id"`
	SongwriterID snowflake.ID `gorm:"not null" json:"songwriter_id"`
	Message      string       `gorm:"type:text;not null" json:"message"`

	CreatedAt time.Time `json:"created_at"`
}

func (CalculationError) TableName() string { return "calculation_errors" }

// RoyaltyStatement is one songwriter's result for one period. The
// unique index makes recalculation replace, never append.
type RoyaltyStatement struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	PeriodID     snowflake.ID `gorm:"index:idx_period_writer,unique;not null" json:"period_id"`
	SongwriterID snowflake.ID `gorm:"index:idx_period_writer,unique;not null" json:"songwriter_id"`
	RunID        snowflake.ID `gorm:"not null;index" json:"run_id"`

	Currency string `gorm:"type:varchar(3);not null;default:USD" json:"currency"`
	Status   string `gorm:"type:varchar(16);not null;default:draft;index" json:"status"`

	TotalPlays           int64           `gorm:"not null;default:0" json:"total_plays"`
	GrossAmount          decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"gross_amount"`
	WriterShareAmount    decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"writer_share_amount"`
	PublisherShareAmount decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"publisher_share_amount"`
	AdvanceRecoupment    decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"advance_recoupment"`
	WithholdingTax       decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"withholding_tax"`
	OtherDeductions      decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"other_deductions"`
	NetPayable           decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"net_payable"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (RoyaltyStatement) TableName() string { return "royalty_statements" }

// RoyaltyLineItem is one bucket of usage on a statement, traceable back
// to the matched usage rows that produced it.
type RoyaltyLineItem struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	StatementID snowflake.ID `gorm:"not null;index" json:"statement_id"`
	DealID      snowflake.ID `gorm:"not null;index" json:"deal_id"`
	WorkID      snowflake.ID `gorm:"not null" json:"work_id"`

	UsageType string `gorm:"type:varchar(50);not null" json:"usage_type"`
	Territory string `gorm:"type:varchar(5)" json:"territory"`
	Source    string `gorm:"type:varchar(100);not null" json:"source"`

	PlayCount     int64           `gorm:"not null;default:0" json:"play_count"`
	RevenueAmount decimal.Decimal `gorm:"type:numeric(18,6);not null;default:0" json:"revenue_amount"`
	WriterShare   decimal.Decimal `gorm:"type:numeric(5,2);not null" json:"writer_share"`
	TerritoryRate decimal.Decimal `gorm:"type:numeric(6,4);not null;default:1" json:"territory_rate"`
	RoyaltyAmount decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"royalty_amount"`

	MatchedUsageIDs datatypes.JSONSlice[snowflake.ID] `gorm:"type:json" json:"matched_usage_ids"`

	CreatedAt time.Time `json:"created_at"`
}

func (RoyaltyLineItem) TableName() string { return "royalty_line_items" }

// StatementRecoupment records how much one statement recouped against
// one deal's advance, so a recalculation can hand it back before
// recomputing.
type StatementRecoupment struct {
	ID          snowflake.ID    `gorm:"primaryKey" json:"id"`
	StatementID snowflake.ID    `gorm:"not null;index" json:"statement_id"`
	DealID      snowflake.ID    `gorm:"not null;index" json:"deal_id"`
	Amount      decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"amount"`

	CreatedAt time.Time `json:"created_at"`
}

func (StatementRecoupment) TableName() string { return "statement_recoupments" }
