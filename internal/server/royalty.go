package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	royaltydomain "github.com/tonicworks/accord/internal/royalty/domain"
)

type createPeriodRequest struct {
	Code      string `json:"code" binding:"required"`
	StartDate string `json:"start_date" binding:"required"`
	EndDate   string `json:"end_date" binding:"required"`
}

func (s *Server) CreatePeriod(c *gin.Context) {
	var req createPeriodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, fmt.Errorf("%w: %s", ErrInvalidRequest, err.Error()))
		return
	}

	start, err := parseDate(req.StartDate)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	end, err := parseDate(req.EndDate)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	period, err := s.royaltySvc.CreatePeriod(c.Request.Context(), royaltydomain.CreatePeriodRequest{
		Code:      req.Code,
		StartDate: start,
		EndDate:   end,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, period)
}

func (s *Server) GetPeriod(c *gin.Context) {
	period, err := s.royaltySvc.GetPeriod(c.Request.Context(), c.Param("code"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, period)
}

func (s *Server) CalculatePeriod(c *gin.Context) {
	run, err := s.royaltySvc.CalculatePeriod(c.Request.Context(), c.Param("code"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) ApprovePeriod(c *gin.Context) {
	period, err := s.royaltySvc.ApprovePeriod(c.Request.Context(), c.Param("code"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, period)
}

func (s *Server) MarkPeriodPaid(c *gin.Context) {
	period, err := s.royaltySvc.MarkPeriodPaid(c.Request.Context(), c.Param("code"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, period)
}

type listStatementsQuery struct {
	SongwriterID string `form:"songwriter_id"`
	Limit        int    `form:"limit"`
}

func (s *Server) ListStatements(c *gin.Context) {
	var q listStatementsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		AbortWithError(c, fmt.Errorf("%w: %s", ErrInvalidRequest, err.Error()))
		return
	}

	req := royaltydomain.ListStatementsRequest{
		PeriodCode: c.Param("code"),
		Limit:      q.Limit,
	}
	if q.SongwriterID != "" {
		id, err := parseID(q.SongwriterID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		req.SongwriterID = &id
	}

	statements, err := s.royaltySvc.ListStatements(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"statements": statements})
}

func (s *Server) GetStatement(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	statement, lines, err := s.royaltySvc.GetStatement(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"statement":  statement,
		"line_items": lines,
	})
}

func (s *Server) GetRun(c *gin.Context) {
	run, err := s.royaltySvc.GetRun(c.Request.Context(), c.Param("run_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) ListRunErrors(c *gin.Context) {
	runErrors, err := s.royaltySvc.ListRunErrors(c.Request.Context(), c.Param("run_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"errors": runErrors})
}

var dateFormats = []string{"2006-01-02", time.RFC3339}

func parseDate(raw string) (time.Time, error) {
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unparsable date %q", ErrInvalidRequest, raw)
}
