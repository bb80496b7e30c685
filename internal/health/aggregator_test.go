package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(context.Context) error   { return nil }
func fail(context.Context) error { return errors.New("device not found") }

func TestAggregator(t *testing.T) {
	t.Run("全部健康", func(t *testing.T) {
		agg := NewAggregator(time.Second,
			NewDeviceChecker("dalsa", ok, true),
			NewDeviceChecker("faxitron", ok, false),
		)
		assert.Equal(t, StatusHealthy, agg.Report(context.Background()).Status)
		assert.True(t, agg.Ready(context.Background()))
	})

	t.Run("非关键设备失败为降级", func(t *testing.T) {
		agg := NewAggregator(time.Second,
			NewDeviceChecker("dalsa", ok, true),
			NewDeviceChecker("faxitron", fail, false),
		)
		report := agg.Report(context.Background())
		assert.Equal(t, StatusDegraded, report.Status)
		assert.Equal(t, "device not found", report.Checks["faxitron"].Message)
		assert.True(t, agg.Ready(context.Background()))
	})

	t.Run("关键设备失败不就绪", func(t *testing.T) {
		agg := NewAggregator(time.Second, NewDeviceChecker("dalsa", fail, true))
		assert.Equal(t, StatusUnhealthy, agg.Report(context.Background()).Status)
		assert.False(t, agg.Ready(context.Background()))
	})

	t.Run("单项检查有时限", func(t *testing.T) {
		slow := func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}
		agg := NewAggregator(10*time.Millisecond, NewDeviceChecker("fx3", slow, false))
		res := agg.CheckAll(context.Background())
		assert.Equal(t, StatusDegraded, res["fx3"].Status)
	})

	t.Run("动态添加检查器", func(t *testing.T) {
		agg := NewAggregator(0, NewDeviceChecker("dalsa", ok, true))
		agg.AddChecker(NewDeviceChecker("fx3", ok, false))
		assert.Len(t, agg.CheckAll(context.Background()), 2)
	})
}

func TestHealthRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterHTTPRoutes(r, NewAggregator(time.Second, NewDeviceChecker("dalsa", fail, true)))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	var report HealthReport
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Contains(t, report.Checks, "dalsa")
}
