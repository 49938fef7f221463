package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Match methods, ordered from strongest to weakest signal.
const (
	MethodExactIdentifier          = "exact_identifier"
	MethodExactSecondaryIdentifier = "exact_secondary_identifier"
	MethodExactTitleArtist         = "exact_title_artist"
	MethodFuzzyTitle               = "fuzzy_title"
	MethodSemanticEmbedding        = "semantic_embedding"
	MethodManual                   = "manual"
)

// Review reasons.
const (
	ReviewReasonNoMatch       = "no_match"
	ReviewReasonLowConfidence = "low_confidence"
	ReviewReasonLookupError   = "lookup_error"
)

// Review statuses.
const (
	ReviewStatusPending  = "pending"
	ReviewStatusResolved = "resolved"
)

// MatchedUsage links a usage event to the work it was resolved to. A
// rematch never rewrites a row; the old row is kept with SupersededBy
// pointing at its replacement so the audit trail survives.
type MatchedUsage struct {
	ID           snowflake.ID  `gorm:"primaryKey" json:"id"`
	UsageEventID snowflake.ID  `gorm:"index:idx_event_work,unique" json:"usage_event_id"`
	WorkID       snowflake.ID  `gorm:"index:idx_event_work,unique;index" json:"work_id"`
	RecordingID  *snowflake.ID `gorm:"index" json:"recording_id,omitempty"`

	MatchConfidence float64 `json:"match_confidence"`
	MatchMethod     string  `gorm:"type:varchar(32)" json:"match_method"`
	MatchedBy       string  `gorm:"type:varchar(64);default:system" json:"matched_by"`
	Confirmed       bool    `gorm:"default:false;index" json:"confirmed"`

	SupersededBy *snowflake.ID `gorm:"index" json:"superseded_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (MatchedUsage) TableName() string { return "matched_usage" }

// Suggestion is one candidate offered to a reviewer.
type Suggestion struct {
	WorkID     snowflake.ID `json:"work_id"`
	Title      string       `json:"title"`
	Confidence float64      `json:"confidence"`
	Method     string       `json:"method"`
}

// ReviewItem is a usage event the pipeline could not resolve on its
// own, queued for a human decision.
type ReviewItem struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	UsageEventID snowflake.ID `gorm:"uniqueIndex" json:"usage_event_id"`

	Reason      string                          `gorm:"type:varchar(32)" json:"reason"`
	Detail      *string                         `json:"detail,omitempty"`
	Suggestions datatypes.JSONSlice[Suggestion] `json:"suggestions"`
	Status      string                          `gorm:"type:varchar(16);default:pending;index" json:"status"`
	ResolvedBy  *string                         `json:"resolved_by,omitempty"`
	ResolvedAt  *time.Time                      `json:"resolved_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ReviewItem) TableName() string { return "match_review_queue" }
