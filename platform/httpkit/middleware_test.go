package httpkit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type testJWTConfig struct{ secret string }

func (c testJWTConfig) GetJWTAccessSecret() string { return c.secret }

const testSecret = "automation-secret"

func newTokenRouter(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(ServiceTokenRequired(testJWTConfig{secret: secret}, RoleAutomation))
	engine.POST("/run", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return engine
}

func signToken(t *testing.T, roles []string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "external-scheduler",
		"roles": roles,
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func serve(engine *gin.Engine, authHeader string) int {
	req := httptest.NewRequest(http.MethodPost, "/run", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec.Code
}

func TestServiceTokenRequired(t *testing.T) {
	engine := newTokenRouter(testSecret)

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"wrong role", "Bearer " + signToken(t, []string{"viewer"}), http.StatusForbidden},
		{"automation role", "Bearer " + signToken(t, []string{"automation"}), http.StatusNoContent},
	}

	for _, tc := range cases {
		if got := serve(engine, tc.header); got != tc.want {
			t.Errorf("%s: status = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestServiceTokenRequiredDisabledWithoutSecret(t *testing.T) {
	engine := newTokenRouter("")
	if got := serve(engine, ""); got != http.StatusNoContent {
		t.Fatalf("expected open access without secret, got %d", got)
	}
}
