package middleware

import (
	"context"
	"strings"

	"callscope/internal/core/services"
	apperrors "callscope/pkg/errors"
	"callscope/pkg/logger"

	"github.com/gin-gonic/gin"
)

const claimsKey = "claims"

// AuthMiddleware requires a valid bearer token and stores its claims on the
// gin and request contexts.
func AuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			_ = c.Error(apperrors.Unauthorized(services.ErrUnauthorized))
			c.Abort()
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			_ = c.Error(apperrors.Unauthorized(err))
			c.Abort()
			return
		}

		c.Set(claimsKey, claims)
		c.Set("user_id", claims.UserID)
		ctx := context.WithValue(c.Request.Context(), services.UserContextKey, claims.UserID)
		ctx = logger.WithUserID(ctx, claims.UserID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireRole rejects requests whose token lacks role. It must run after
// AuthMiddleware.
func RequireRole(authService services.AuthService, role services.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		var claims *services.Claims
		if v, ok := c.Get(claimsKey); ok {
			claims, _ = v.(*services.Claims)
		}
		if err := authService.CheckRole(claims, role); err != nil {
			_ = c.Error(err)
			c.Abort()
			return
		}
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
