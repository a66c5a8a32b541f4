package middleware

import (
	"os"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Setenv("PBR_JWT_SECRET", "test-secret-0123456789abcdef0123456789abcdef")
	os.Exit(m.Run())
}
