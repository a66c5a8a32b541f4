package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkeerbeheer/permit-registry/internal/actor"
	"github.com/parkeerbeheer/permit-registry/internal/auth"
	"github.com/parkeerbeheer/permit-registry/internal/db/models"
	"github.com/parkeerbeheer/permit-registry/internal/db/repositories"
)

func newUserRepo(t *testing.T) (*repositories.UserRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return repositories.NewUserRepository(db), mock
}

func userRows(id, username, role string, active, forceChange bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "username", "name", "email", "password_hash", "role", "active", "force_password_change", "created_at",
	}).AddRow(id, username, "Test User", "test@example.com", "$2a$12$hash", role, active, forceChange, time.Now())
}

func authRouter(repo *repositories.UserRepository) (*gin.Engine, *actor.Actor) {
	var got actor.Actor
	router := gin.New()
	router.Use(AuthMiddleware(repo))
	router.GET("/whoami", func(c *gin.Context) {
		a, ok := actor.FromContext(c.Request.Context())
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		got = a
		c.JSON(http.StatusOK, gin.H{"username": c.GetString(UsernameKey), "role": c.GetString(RoleKey)})
	})
	return router, &got
}

func TestAuthMiddlewareValidToken(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectQuery("SELECT .+ FROM users WHERE id").
		WithArgs("user-1").
		WillReturnRows(userRows("user-1", "annelies", models.RoleEditor, true, false))

	token, err := auth.GenerateJWT("user-1", "annelies", models.RoleEditor, time.Hour)
	require.NoError(t, err)

	router, got := authRouter(repo)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "annelies", got.Name, "actor must be attached to the request context")
	assert.Equal(t, models.RoleEditor, got.Role)
}

func TestAuthMiddlewareMissingHeader(t *testing.T) {
	repo, _ := newUserRepo(t)
	router, _ := authRouter(repo)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddlewareMalformedHeader(t *testing.T) {
	repo, _ := newUserRepo(t)
	router, _ := authRouter(repo)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddlewareInvalidToken(t *testing.T) {
	repo, _ := newUserRepo(t)
	router, _ := authRouter(repo)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer not.a.token")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddlewareDeactivatedUser(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectQuery("SELECT .+ FROM users WHERE id").
		WithArgs("user-1").
		WillReturnRows(userRows("user-1", "annelies", models.RoleEditor, false, false))

	token, err := auth.GenerateJWT("user-1", "annelies", models.RoleEditor, time.Hour)
	require.NoError(t, err)

	router, _ := authRouter(repo)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireRole(t *testing.T) {
	router := gin.New()
	router.Use(func(c *gin.Context) { c.Set(RoleKey, models.RoleViewer) })
	router.DELETE("/records/1", RequireRole(models.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/records/1", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequireEditorAllowsAdmin(t *testing.T) {
	router := gin.New()
	router.Use(func(c *gin.Context) { c.Set(RoleKey, models.RoleAdmin) })
	router.POST("/records", RequireEditor(), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/records", nil))
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestRequirePasswordChangedBlocksFlaggedUser(t *testing.T) {
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(UserKey, &models.User{ID: "user-1", ForcePasswordChange: true})
	})
	router.Use(RequirePasswordChanged())
	router.GET("/records", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/records", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}
