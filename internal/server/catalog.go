package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	catalogdomain "github.com/tonicworks/accord/internal/catalog/domain"
)

func (s *Server) GetWork(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	work, err := s.catalogSvc.GetWork(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if work == nil {
		AbortWithError(c, catalogdomain.ErrWorkNotFound)
		return
	}

	c.JSON(http.StatusOK, work)
}
