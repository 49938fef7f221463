// Package domain contains the usage event model and its ingest contract.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Usage types.
const (
	UsageTypeStream            = "stream"
	UsageTypeDownload          = "download"
	UsageTypeRadioPlay         = "radio_play"
	UsageTypeBroadcast         = "broadcast"
	UsageTypePublicPerformance = "public_performance"
	UsageTypeSync              = "sync"
	UsageTypeMechanical        = "mechanical"
)

// Processing statuses. Events are never deleted; status is the only
// mutable field after ingest.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusMatched    = "matched"
	StatusUnmatched  = "unmatched"
	StatusDisputed   = "disputed"
	StatusError      = "error"
)

// ValidUsageTypes is the closed set of accepted usage types.
var ValidUsageTypes = map[string]struct{}{
	UsageTypeStream:            {},
	UsageTypeDownload:          {},
	UsageTypeRadioPlay:         {},
	UsageTypeBroadcast:         {},
	UsageTypePublicPerformance: {},
	UsageTypeSync:              {},
	UsageTypeMechanical:        {},
}

// UsageEvent is one reported usage occurrence from an external source.
type UsageEvent struct {
	ID snowflake.ID `gorm:"primaryKey" json:"id"`

	Source        string  `gorm:"type:varchar(100);not null;index;uniqueIndex:idx_source_event,priority:1" json:"source"`
	SourceEventID *string `gorm:"type:varchar(255);uniqueIndex:idx_source_event,priority:2" json:"source_event_id,omitempty"`

	RecordingCode  *string `gorm:"type:varchar(12);index" json:"recording_code,omitempty"`
	WorkCode       *string `gorm:"type:varchar(15)" json:"work_code,omitempty"`
	ReportedTitle  *string `gorm:"type:varchar(500)" json:"reported_title,omitempty"`
	ReportedArtist *string `gorm:"type:varchar(255)" json:"reported_artist,omitempty"`
	ReportedAlbum  *string `gorm:"type:varchar(255)" json:"reported_album,omitempty"`

	UsageType     string           `gorm:"type:varchar(50);not null" json:"usage_type"`
	PlayCount     int64            `gorm:"not null;default:1" json:"play_count"`
	RevenueAmount *decimal.Decimal `gorm:"type:numeric(18,6)" json:"revenue_amount,omitempty"`
	Currency      string           `gorm:"type:varchar(3);not null;default:USD" json:"currency"`

	Territory       *string   `gorm:"type:varchar(5)" json:"territory,omitempty"`
	UsageDate       time.Time `gorm:"not null;index" json:"usage_date"`
	ReportingPeriod string    `gorm:"type:varchar(20);not null;index" json:"reporting_period"`

	ProcessingStatus string  `gorm:"type:varchar(50);not null;default:pending;index" json:"processing_status"`
	FailureReason    *string `gorm:"type:text" json:"failure_reason,omitempty"`

	RawPayload datatypes.JSONMap `gorm:"type:json" json:"raw_payload,omitempty"`

	IngestedAt  time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"ingested_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

func (UsageEvent) TableName() string { return "usage_events" }
