package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taoyao-code/xray-bench/internal/api/middleware"
)

// RegisterRoutes 注册台架控制台路由（/api/v1）
func RegisterRoutes(
	r gin.IRouter,
	h *Handler,
	authCfg middleware.AuthConfig,
	rlCfg middleware.RateLimitConfig,
	logger *zap.Logger,
) {
	if r == nil || h == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	v1 := r.Group("/api/v1")
	v1.Use(middleware.RateLimit(rlCfg))
	if authCfg.Enabled {
		v1.Use(middleware.APIKeyAuth(authCfg, logger))
		logger.Info("api authentication enabled", zap.Int("api_keys_count", len(authCfg.APIKeys)))
	} else {
		logger.Warn("api authentication disabled - only for development!")
	}

	endpoints := 0
	add := func(method, path string, fn gin.HandlerFunc) {
		v1.Handle(method, path, fn)
		endpoints++
	}

	// 传感器
	add("GET", "/dalsa/ping", h.Ping)
	add("GET", "/dalsa/state", h.SensorState)
	add("POST", "/dalsa/readout", h.StartReadout)
	add("GET", "/dalsa/frame", h.Frame)

	// X 射线柜
	if h.Cabinet != nil {
		add("GET", "/faxitron/state", h.CabinetState)
		add("GET", "/faxitron/mode", h.GetMode)
		add("PUT", "/faxitron/mode", h.SetMode)
		add("GET", "/faxitron/exposure-time", h.GetExposureTime)
		add("PUT", "/faxitron/exposure-time", h.SetExposureTime)
		add("GET", "/faxitron/voltage", h.GetVoltage)
		add("PUT", "/faxitron/voltage", h.SetVoltage)
		add("GET", "/faxitron/presets", h.ListPresets)
		add("POST", "/faxitron/presets/:name", h.ApplyPreset)
		add("POST", "/faxitron/expose", h.StartExposure)
	}

	// 任务
	add("GET", "/jobs", h.ListJobs)
	add("GET", "/jobs/:id", h.GetJob)
	add("DELETE", "/jobs/:id", h.CancelJob)

	// FX3
	if h.Logs != nil {
		add("GET", "/fx3/logs", h.ReadLogs)
	}

	logger.Info("bench routes registered", zap.Int("endpoints", endpoints))
}
