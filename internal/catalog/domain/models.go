// Package domain contains the read-only reference entities the pipeline
// resolves usage against. They are owned by the catalog administration
// subsystem; this service only ever reads them, except for the advance
// recoupment balance on Deal which the royalty engine updates.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Songwriter identifies a writer the publisher administers.
type Songwriter struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	LegalName string       `gorm:"type:text;not null" json:"legal_name"`
	StageName *string      `gorm:"type:text" json:"stage_name,omitempty"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (Songwriter) TableName() string { return "songwriters" }

// Work is a musical composition, independent of any recording of it.
type Work struct {
	ID       snowflake.ID `gorm:"primaryKey" json:"id"`
	Title    string       `gorm:"type:text;not null;index" json:"title"`
	WorkCode *string      `gorm:"type:varchar(15);uniqueIndex" json:"work_code,omitempty"`
	Status   string       `gorm:"type:text;not null;default:active" json:"status"`

	// TitleEmbedding backs the semantic-similarity lookup. Stored as a
	// JSON float array so the column is portable across dialects.
	TitleEmbedding datatypes.JSONSlice[float64] `gorm:"type:json" json:"-"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (Work) TableName() string { return "works" }

// Recording is a captured performance of a Work, identified by a unique
// recording code.
type Recording struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	WorkID        snowflake.ID `gorm:"not null;index" json:"work_id"`
	RecordingCode *string      `gorm:"type:varchar(12);uniqueIndex" json:"recording_code,omitempty"`
	Title         string       `gorm:"type:text;not null" json:"title"`
	ArtistName    *string      `gorm:"type:text" json:"artist_name,omitempty"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (Recording) TableName() string { return "recordings" }

// Deal grants the publisher rights to a songwriter's share of specific
// works. Shares are percentages summing to 100. AdvanceRecouped is the
// only field the royalty engine writes back.
type Deal struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	DealNumber   string       `gorm:"type:varchar(50);uniqueIndex;not null" json:"deal_number"`
	SongwriterID snowflake.ID `gorm:"not null;index" json:"songwriter_id"`
	Status       string       `gorm:"type:text;not null;default:active" json:"status"`

	AdvanceAmount   decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"advance_amount"`
	AdvanceRecouped decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"advance_recouped"`
	PublisherShare  decimal.Decimal `gorm:"type:numeric(5,2);not null" json:"publisher_share"`
	WriterShare     decimal.Decimal `gorm:"type:numeric(5,2);not null" json:"writer_share"`

	EffectiveDate  time.Time  `gorm:"not null" json:"effective_date"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`

	Territories datatypes.JSONSlice[string] `gorm:"type:json" json:"territories"`

	// TerritoryRates maps territory code to a royalty-rate multiplier
	// overriding the default of 1. Absent entries use the default.
	TerritoryRates datatypes.JSONType[map[string]decimal.Decimal] `gorm:"type:json" json:"territory_rates"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Deal) TableName() string { return "deals" }

// ActiveOn reports whether the deal covers the given date.
func (d Deal) ActiveOn(at time.Time) bool {
	if d.Status != "active" {
		return false
	}
	if at.Before(d.EffectiveDate) {
		return false
	}
	if d.ExpirationDate != nil && at.After(*d.ExpirationDate) {
		return false
	}
	return true
}

// OutstandingAdvance is the unrecouped part of the advance, never negative.
func (d Deal) OutstandingAdvance() decimal.Decimal {
	outstanding := d.AdvanceAmount.Sub(d.AdvanceRecouped)
	if outstanding.IsNegative() {
		return decimal.Zero
	}
	return outstanding
}

// TerritoryRate returns the deal's rate multiplier for a territory.
func (d Deal) TerritoryRate(territory string) decimal.Decimal {
	rates := d.TerritoryRates.Data()
	if rate, ok := rates[territory]; ok {
		return rate
	}
	return decimal.NewFromInt(1)
}

// DealWork links a Deal to one of the Works it covers.
type DealWork struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	DealID     snowflake.ID `gorm:"not null;index;uniqueIndex:idx_deal_work" json:"deal_id"`
	WorkID     snowflake.ID `gorm:"not null;index;uniqueIndex:idx_deal_work" json:"work_id"`
	IncludedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"included_at"`
}

func (DealWork) TableName() string { return "deal_works" }
