package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// SubmitRequest is a normalized usage record ready for ingest.
type SubmitRequest struct {
	Source        string  `json:"source"`
	SourceEventID *string `json:"source_event_id"`

	RecordingCode  *string `json:"recording_code"`
	WorkCode       *string `json:"work_code"`
	ReportedTitle  *string `json:"reported_title"`
	ReportedArtist *string `json:"reported_artist"`
	ReportedAlbum  *string `json:"reported_album"`

	UsageType     string           `json:"usage_type"`
	PlayCount     int64            `json:"play_count"`
	RevenueAmount *decimal.Decimal `json:"revenue_amount"`
	Currency      string           `json:"currency"`

	Territory       *string   `json:"territory"`
	UsageDate       time.Time `json:"usage_date"`
	ReportingPeriod string    `json:"reporting_period"`

	RawPayload map[string]any `json:"raw_payload"`
}

type ListRequest struct {
	Status          string `json:"status"`
	Source          string `json:"source"`
	ReportingPeriod string `json:"reporting_period"`
	Limit           int    `json:"limit"`
}

type Service interface {
	// Submit ingests one normalized event. Submitting the same
	// (source, source_event_id) twice returns the stored event as-is.
	Submit(ctx context.Context, req SubmitRequest) (*UsageEvent, error)

	Get(ctx context.Context, id snowflake.ID) (*UsageEvent, error)
	List(ctx context.Context, req ListRequest) ([]UsageEvent, error)

	// ListPendingIDs returns up to limit pending event IDs in ID order.
	ListPendingIDs(ctx context.Context, limit int) ([]snowflake.ID, error)

	// Claim performs the optimistic pending -> processing transition.
	// It returns false when another worker already owns the event.
	Claim(ctx context.Context, id snowflake.ID) (bool, error)

	// Release returns a claimed event to pending, clearing the claim.
	Release(ctx context.Context, id snowflake.ID) error
}

var (
	ErrInvalidSource    = errors.New("invalid_source")
	ErrInvalidUsageType = errors.New("invalid_usage_type")
	ErrInvalidPlayCount = errors.New("invalid_play_count")
	ErrMissingUsageDate = errors.New("missing_usage_date")
	ErrMissingIdentity  = errors.New("missing_content_identity")
	ErrEventNotFound    = errors.New("usage_event_not_found")
)
