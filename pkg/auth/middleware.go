package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Wachitugo/ConvivenciaLaboral-sub001/pkg/ctxkeys"
)

// JWTAuthMiddleware validates the bearer token and exposes the caller identity
// both on the gin context and on the request context.
func JWTAuthMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			if cookieToken, err := c.Cookie("access_token"); err == nil && cookieToken != "" {
				header = "Bearer " + cookieToken
			} else {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "No authorization header"})
				return
			}
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header"})
			return
		}

		claims, err := ValidateJWT(strings.TrimSpace(parts[1]), secret)
		if err != nil {
			msg := "Invalid JWT token"
			if errors.Is(err, ErrExpiredJWT) {
				msg = "JWT token expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}

		c.Set(string(ctxkeys.KeyUserID), claims.UserID)
		c.Set(string(ctxkeys.KeyOrganizationID), claims.OrganizationID)
		c.Set(string(ctxkeys.KeyEmail), claims.Email)
		c.Set(string(ctxkeys.KeyRole), claims.Role)
		c.Set(string(ctxkeys.KeyAuthType), "jwt")

		ctx := context.WithValue(c.Request.Context(), ctxkeys.KeyUserID, claims.UserID)
		ctx = context.WithValue(ctx, ctxkeys.KeyOrganizationID, claims.OrganizationID)
		ctx = context.WithValue(ctx, ctxkeys.KeyEmail, claims.Email)
		ctx = context.WithValue(ctx, ctxkeys.KeyRole, claims.Role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
