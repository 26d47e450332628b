package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	billingdomain "github.com/pixelmuse/pixelmuse/internal/billingrecord/domain"
	"github.com/pixelmuse/pixelmuse/pkg/db/pagination"
)

const dateOnlyLayout = "2006-01-02"

type listBillingRecordsQuery struct {
	pagination.Page
	Kind   string `form:"kind"`
	Search string `form:"search"`
	From   string `form:"from"`
	To     string `form:"to"`
}

func (s *Server) ListBillingRecords(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var query listBillingRecordsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	from, err := parseOptionalTime(query.From, false)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	to, err := parseOptionalTime(query.To, true)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.billingSvc.List(c.Request.Context(), billingdomain.ListRequest{
		UserID: user.ID,
		Kind:   billingdomain.RecordKind(strings.TrimSpace(query.Kind)),
		Search: strings.TrimSpace(query.Search),
		From:   from,
		To:     to,
		Page:   query.Page,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetMembership(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	snapshot, err := s.entitlementSvc.Membership(c.Request.Context(), user.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	balance, err := s.ledgerSvc.Balance(c.Request.Context(), user.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	grants, err := s.entitlementSvc.Grants(c.Request.Context(), user.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"membership": snapshot,
		"credits":    balance,
		"grants":     grants,
	})
}

func parseOptionalTime(value string, endOfDay bool) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	if parsed, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return &parsed, nil
	}
	parsed, err := time.Parse(dateOnlyLayout, trimmed)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		parsed = parsed.Add(24*time.Hour - time.Nanosecond)
	}
	return &parsed, nil
}
