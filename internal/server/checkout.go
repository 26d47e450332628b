package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	checkoutdomain "github.com/pixelmuse/pixelmuse/internal/checkout/domain"
)

func (s *Server) CreateCheckout(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req checkoutdomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if req.Email == "" {
		req.Email = user.Email
	}

	resp, err := s.checkoutSvc.Create(c.Request.Context(), user.ID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
