package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// Outcome is the result of running one usage event through the
// pipeline.
type Outcome struct {
	Event *MatchedUsage

	// Queued is set instead of Event when the pipeline sent the
	// usage event to manual review.
	Queued *ReviewItem
}

// ManualMatchRequest resolves a review item by hand.
type ManualMatchRequest struct {
	UsageEventID snowflake.ID `json:"usage_event_id"`
	WorkID       snowflake.ID `json:"work_id"`
	MatchedBy    string       `json:"matched_by"`
}

// ListReviewRequest filters the review queue.
type ListReviewRequest struct {
	Status string `form:"status"`
	Limit  int    `form:"limit"`
}

// Service runs the matching pipeline and manages its outcomes.
type Service interface {
	// ProcessEvent claims the event, runs the pipeline, and persists
	// the outcome. Already processed events are returned unchanged.
	ProcessEvent(ctx context.Context, usageEventID snowflake.ID) (*Outcome, error)

	// ProcessPending drains pending usage events through a bounded
	// worker pool and reports how many were matched, queued for
	// review, and errored.
	ProcessPending(ctx context.Context) (*BatchSummary, error)

	// ManualMatch confirms a work for a usage event on behalf of a
	// reviewer and resolves any open review item.
	ManualMatch(ctx context.Context, req ManualMatchRequest) (*MatchedUsage, error)

	// Rematch reruns the pipeline for an already matched event. The
	// previous match rows survive with SupersededBy set.
	Rematch(ctx context.Context, usageEventID snowflake.ID) (*Outcome, error)

	ListReviewQueue(ctx context.Context, req ListReviewRequest) ([]ReviewItem, error)
	GetMatchesForEvent(ctx context.Context, usageEventID snowflake.ID) ([]MatchedUsage, error)
}

// BatchSummary reports one ProcessPending run.
type BatchSummary struct {
	Claimed int `json:"claimed"`
	Matched int `json:"matched"`
	Review  int `json:"review"`
	Errored int `json:"errored"`
}

var (
	ErrEventNotClaimable = errors.New("event_not_claimable")
	ErrEventNotFound     = errors.New("event_not_found")
	ErrWorkNotFound      = errors.New("work_not_found")
	ErrAlreadyMatched    = errors.New("already_matched")
)
