package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	matchingdomain "github.com/tonicworks/accord/internal/matching/domain"
)

func (s *Server) RematchUsageEvent(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	outcome, err := s.matchingSvc.Rematch(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, outcome)
}

// ProcessPendingMatches drains the pending usage queue through the
// matching pipeline. The drain lock keeps concurrent instances from
// claiming against each other.
func (s *Server) ProcessPendingMatches(c *gin.Context) {
	token, acquired, err := s.limiter.TryDrainLock(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !acquired {
		AbortWithError(c, fmt.Errorf("%w: drain already in progress", matchingdomain.ErrEventNotClaimable))
		return
	}
	defer func() {
		_ = s.limiter.ReleaseDrainLock(c.Request.Context(), token)
	}()

	summary, err := s.matchingSvc.ProcessPending(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// GetEventMatches returns the full match history for a usage event,
// superseded rows included.
func (s *Server) GetEventMatches(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	matches, err := s.matchingSvc.GetMatchesForEvent(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"matches": matches})
}

func (s *Server) ManualMatch(c *gin.Context) {
	var req matchingdomain.ManualMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, fmt.Errorf("%w: %s", ErrInvalidRequest, err.Error()))
		return
	}

	match, err := s.matchingSvc.ManualMatch(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, match)
}

func (s *Server) ListReviewQueue(c *gin.Context) {
	var req matchingdomain.ListReviewRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, fmt.Errorf("%w: %s", ErrInvalidRequest, err.Error()))
		return
	}

	items, err := s.matchingSvc.ListReviewQueue(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": items})
}
