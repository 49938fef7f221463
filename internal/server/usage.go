package server

import (
	"fmt"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	usagedomain "github.com/tonicworks/accord/internal/usage/domain"
)

type ingestRequest struct {
	Source string           `json:"source" binding:"required"`
	Events []map[string]any `json:"events" binding:"required"`
}

type ingestRowError struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
}

type ingestResponse struct {
	Accepted int              `json:"accepted"`
	Failed   int              `json:"failed"`
	EventIDs []string         `json:"event_ids"`
	Errors   []ingestRowError `json:"errors,omitempty"`
}

// IngestUsage accepts a batch of raw usage rows from one reporting
// source, normalizes each row and submits it. Rows fail independently.
func (s *Server) IngestUsage(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, fmt.Errorf("%w: %s", ErrInvalidRequest, err.Error()))
		return
	}
	if len(req.Events) == 0 {
		AbortWithError(c, fmt.Errorf("%w: events must not be empty", ErrInvalidRequest))
		return
	}

	limit, err := s.limiter.AllowSource(c.Request.Context(), req.Source)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !limit.Allowed {
		c.Header("Retry-After", fmt.Sprintf("%d", int(limit.RetryAfter.Seconds())+1))
		AbortWithError(c, ErrTooManyRequests)
		return
	}

	norm := s.normalizers.For(req.Source)

	resp := ingestResponse{EventIDs: make([]string, 0, len(req.Events))}
	for i, raw := range req.Events {
		submit, err := norm.Normalize(raw)
		if err != nil {
			resp.Failed++
			resp.Errors = append(resp.Errors, ingestRowError{Index: i, Message: err.Error()})
			continue
		}
		submit.Source = req.Source

		event, err := s.usageSvc.Submit(c.Request.Context(), submit)
		if err != nil {
			resp.Failed++
			resp.Errors = append(resp.Errors, ingestRowError{Index: i, Message: err.Error()})
			continue
		}

		resp.Accepted++
		resp.EventIDs = append(resp.EventIDs, event.ID.String())
	}

	status := http.StatusAccepted
	if resp.Accepted == 0 {
		status = http.StatusBadRequest
	}
	c.JSON(status, resp)
}

type listUsageQuery struct {
	Status          string `form:"status"`
	Source          string `form:"source"`
	ReportingPeriod string `form:"reporting_period"`
	Limit           int    `form:"limit"`
}

func (s *Server) ListUsageEvents(c *gin.Context) {
	var q listUsageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		AbortWithError(c, fmt.Errorf("%w: %s", ErrInvalidRequest, err.Error()))
		return
	}

	events, err := s.usageSvc.List(c.Request.Context(), usagedomain.ListRequest{
		Status:          q.Status,
		Source:          q.Source,
		ReportingPeriod: q.ReportingPeriod,
		Limit:           q.Limit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (s *Server) GetUsageEvent(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	event, err := s.usageSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, event)
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed id %q", ErrInvalidRequest, raw)
	}
	return id, nil
}
