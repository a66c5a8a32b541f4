// auth.go implements the login and password-change handlers. Both write
// audit entries: logins so unusual access patterns can be reconstructed,
// password changes because they are security-relevant account mutations.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/parkeerbeheer/permit-registry/internal/actor"
	"github.com/parkeerbeheer/permit-registry/internal/audit"
	"github.com/parkeerbeheer/permit-registry/internal/auth"
	"github.com/parkeerbeheer/permit-registry/internal/config"
	"github.com/parkeerbeheer/permit-registry/internal/db/models"
	"github.com/parkeerbeheer/permit-registry/internal/db/repositories"
	"github.com/parkeerbeheer/permit-registry/internal/middleware"
)

// AuthHandlers handles login and password management endpoints
type AuthHandlers struct {
	cfg      *config.Config
	users    *repositories.UserRepository
	recorder *audit.Recorder
}

// NewAuthHandlers creates a new AuthHandlers instance
func NewAuthHandlers(cfg *config.Config, users *repositories.UserRepository, recorder *audit.Recorder) *AuthHandlers {
	return &AuthHandlers{cfg: cfg, users: users, recorder: recorder}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

// LoginHandler checks credentials and issues a session token
// POST /api/v1/auth/login
func (h *AuthHandlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		user, err := h.users.GetByUsername(c.Request.Context(), req.Username)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				// Same response as a wrong password so usernames cannot
				// be probed.
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Login failed"})
			return
		}

		if !user.Active || !auth.CheckPassword(user.PasswordHash, req.Password) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}

		token, err := auth.GenerateJWT(user.ID, user.Username, user.Role, h.cfg.Auth.TokenTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue token"})
			return
		}

		// Login happens before AuthMiddleware, so attach the actor here.
		ctx := actor.WithActor(c.Request.Context(), actor.Actor{Name: user.Username, Role: user.Role})
		if err := h.recorder.Record(ctx, models.ActionLogin, nil, nil, map[string]interface{}{
			"client_ip": c.ClientIP(),
		}); err != nil {
			c.Header("X-Audit-Status", "failed")
		}

		c.JSON(http.StatusOK, gin.H{
			"token": token,
			"user": gin.H{
				"id":                    user.ID,
				"username":              user.Username,
				"name":                  user.Name,
				"role":                  user.Role,
				"force_password_change": user.ForcePasswordChange,
			},
		})
	}
}

// ChangePasswordHandler lets the authenticated user set a new password,
// clearing any forced-change flag
// POST /api/v1/auth/password
func (h *AuthHandlers) ChangePasswordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req changePasswordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		v, exists := c.Get(middleware.UserKey)
		user, ok := v.(*models.User)
		if !exists || !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
			return
		}

		if !auth.CheckPassword(user.PasswordHash, req.CurrentPassword) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Current password is incorrect"})
			return
		}

		hash, err := auth.HashPassword(req.NewPassword)
		if err != nil {
			if errors.Is(err, auth.ErrPasswordTooShort) {
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update password"})
			return
		}

		if err := h.users.UpdatePassword(c.Request.Context(), user.ID, hash); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update password"})
			return
		}

		if err := h.recorder.Record(c.Request.Context(), models.ActionPasswordChange, nil, nil, map[string]interface{}{
			"client_ip": c.ClientIP(),
		}); err != nil {
			c.Header("X-Audit-Status", "failed")
		}

		c.JSON(http.StatusOK, gin.H{"message": "Password updated"})
	}
}
