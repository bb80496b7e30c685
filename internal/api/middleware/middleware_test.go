package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newEngine(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw...)
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func do(r http.Handler, header, value string) int {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr.Code
}

func TestAPIKeyAuth(t *testing.T) {
	r := newEngine(APIKeyAuth(AuthConfig{Enabled: true, APIKeys: []string{"bench-key-0001"}}, nil))

	assert.Equal(t, http.StatusUnauthorized, do(r, "", ""))
	assert.Equal(t, http.StatusForbidden, do(r, "X-API-Key", "wrong"))
	assert.Equal(t, http.StatusOK, do(r, "X-API-Key", "bench-key-0001"))
	assert.Equal(t, http.StatusOK, do(r, "Authorization", "Bearer bench-key-0001"))
}

func TestAPIKeyAuth_Disabled(t *testing.T) {
	r := newEngine(APIKeyAuth(AuthConfig{}, nil))
	assert.Equal(t, http.StatusOK, do(r, "", ""))
}

func TestMaskAPIKey(t *testing.T) {
	assert.Equal(t, "****", maskAPIKey("short"))
	assert.Equal(t, "benc****0001", maskAPIKey("bench-key-0001"))
}

func TestRateLimit(t *testing.T) {
	l := NewLimiter(1, 2)
	r := newEngine(l.Middleware())

	assert.Equal(t, http.StatusOK, do(r, "", ""))
	assert.Equal(t, http.StatusOK, do(r, "", ""))
	assert.Equal(t, http.StatusTooManyRequests, do(r, "", ""))
	assert.Equal(t, int64(1), l.Rejected())
}

func TestRateLimit_Disabled(t *testing.T) {
	r := newEngine(RateLimit(RateLimitConfig{Enabled: false, RatePerSecond: 1, Burst: 1}))
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, do(r, "", ""))
	}
}
