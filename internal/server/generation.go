package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	generationdomain "github.com/pixelmuse/pixelmuse/internal/generation/domain"
)

func (s *Server) CreateGeneration(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req generationdomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.generationSvc.Create(c.Request.Context(), user.ID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
