package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/parkeerbeheer/permit-registry/internal/actor"
	"github.com/parkeerbeheer/permit-registry/internal/auth"
	"github.com/parkeerbeheer/permit-registry/internal/db/models"
	"github.com/parkeerbeheer/permit-registry/internal/db/repositories"
)

// Gin context keys populated by AuthMiddleware.
const (
	UserKey     = "user"
	UserIDKey   = "user_id"
	UsernameKey = "username"
	RoleKey     = "role"
)

// AuthMiddleware validates the Bearer session token, loads the user and
// attaches the acting identity to the request context. Handlers and the
// audit recorder read the actor from the context, never from session state.
func AuthMiddleware(userRepo *repositories.UserRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing authorization header",
			})
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header must start with 'Bearer '",
			})
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization token is empty",
			})
			return
		}

		claims, err := auth.ValidateJWT(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid credentials",
			})
			return
		}

		// The token is stateless; the DB lookup catches users deactivated
		// or role-changed after the token was issued.
		user, err := userRepo.GetByID(c.Request.Context(), claims.UserID)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "User not found",
				})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to load user",
			})
			return
		}
		if !user.Active {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Account is deactivated",
			})
			return
		}

		c.Set(UserKey, user)
		c.Set(UserIDKey, user.ID)
		c.Set(UsernameKey, user.Username)
		c.Set(RoleKey, user.Role)

		ctx := actor.WithActor(c.Request.Context(), actor.Actor{
			Name: user.Username,
			Role: user.Role,
		})
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// RequireRole aborts with 403 unless the authenticated user holds one of the
// given roles. Must be registered after AuthMiddleware.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(RoleKey)
		for _, allowed := range roles {
			if role == allowed {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": "Insufficient permissions",
		})
	}
}

// RequireEditor allows admins and editors; viewers are read-only.
func RequireEditor() gin.HandlerFunc {
	return RequireRole(models.RoleAdmin, models.RoleEditor)
}

// RequirePasswordChanged blocks users flagged with a forced password change
// from everything except the password-change endpoint itself.
func RequirePasswordChanged() gin.HandlerFunc {
	return func(c *gin.Context) {
		v, exists := c.Get(UserKey)
		if !exists {
			c.Next()
			return
		}
		user, ok := v.(*models.User)
		if ok && user.ForcePasswordChange {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Password change required before continuing",
			})
			return
		}
		c.Next()
	}
}
