package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nudgehq/nudge-api/pkg/auth"
	apperrors "github.com/nudgehq/nudge-api/pkg/errors"
	"github.com/nudgehq/nudge-api/pkg/httputil"
)

const (
	ContextMemberID  = "member_id"
	ContextCompanyID = "company_id"
)

type AuthMiddleware struct {
	jwt *auth.JWTService
}

func NewAuthMiddleware(jwt *auth.JWTService) *AuthMiddleware {
	return &AuthMiddleware{jwt: jwt}
}

// Authenticate verifies the bearer token and stashes the member identity in
// the request context. Completion-link routes bypass this entirely.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abortUnauthorized(c, "missing authorization header")
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			abortUnauthorized(c, "invalid authorization format")
			return
		}

		claims, err := m.jwt.ValidateToken(parts[1])
		if err != nil {
			abortUnauthorized(c, "invalid token")
			return
		}

		c.Set(ContextMemberID, claims.MemberID.String())
		c.Set(ContextCompanyID, claims.CompanyID.String())
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, msg string) {
	httputil.RespondWithError(c, &apperrors.AppError{
		Code:    apperrors.ErrUnauthorized,
		Message: msg,
	})
	c.Abort()
}
