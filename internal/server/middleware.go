package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	identitydomain "github.com/pixelmuse/pixelmuse/internal/identity/domain"
)

const contextUserKey = "current_user"

// AuthRequired resolves the bearer token to a user before any credit logic
// runs. Unresolved tokens abort with 401.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		user, err := s.identitySvc.Authenticate(c.Request.Context(), token)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(contextUserKey, user)
		c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}

func currentUser(c *gin.Context) (*identitydomain.User, bool) {
	value, ok := c.Get(contextUserKey)
	if !ok {
		return nil, false
	}
	user, ok := value.(*identitydomain.User)
	return user, ok && user != nil
}
