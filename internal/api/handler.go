package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taoyao-code/xray-bench/internal/bench"
	"github.com/taoyao-code/xray-bench/internal/protocol/dalsa"
	"github.com/taoyao-code/xray-bench/internal/protocol/debuglog"
	"github.com/taoyao-code/xray-bench/internal/protocol/faxitron"
	"github.com/taoyao-code/xray-bench/internal/protocol/wire"
)

// Sensor 传感器查询
type Sensor interface {
	Ping(ctx context.Context) error
	GetState(ctx context.Context) (dalsa.State, error)
}

// Cabinet X 射线柜控制
type Cabinet interface {
	GetState(ctx context.Context) (faxitron.Status, error)
	GetMode(ctx context.Context) (faxitron.Mode, error)
	SetMode(ctx context.Context, m faxitron.Mode) error
	GetExposureTime(ctx context.Context) (float64, error)
	SetExposureTime(ctx context.Context, seconds float64) error
	GetVoltage(ctx context.Context) (int, error)
	SetVoltage(ctx context.Context, kv int) error
	ApplyPreset(ctx context.Context, p faxitron.Preset) error
}

// Jobs 后台任务
type Jobs interface {
	StartReadout(highGain bool) (bench.Job, error)
	StartExposure(seconds float64) (bench.Job, error)
	Get(id string) (bench.Job, bool)
	List() []bench.Job
	Cancel(id string) error
	LatestFrame() (dalsa.Frame, string, time.Time, bool)
}

// LogReader FX3 调试日志
type LogReader interface {
	ReadLogs(ctx context.Context) ([]debuglog.Record, error)
}

// LogObserver 日志记录计数回调
type LogObserver func(recs []debuglog.Record)

// Handler 台架控制台处理器；Cabinet、Presets、Logs 可为 nil
type Handler struct {
	Sensor  Sensor
	Cabinet Cabinet
	Presets *faxitron.Presets
	Jobs    Jobs
	Logs    LogReader
	OnLogs  LogObserver
	Timeout time.Duration // 单条同步命令的时限
	logger  *zap.Logger
}

// NewHandler 创建处理器
func NewHandler(sensor Sensor, jobs Jobs, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Sensor: sensor, Jobs: jobs, Timeout: 5 * time.Second, logger: logger}
}

func (h *Handler) ctx(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), h.Timeout)
}

// Ping 连通性检查
// @Summary Teensy 连通性检查
// @Tags Dalsa
// @Produce json
// @Router /api/v1/dalsa/ping [get]
func (h *Handler) Ping(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()
	start := time.Now()
	if err := h.Sensor.Ping(ctx); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "latency_ms": time.Since(start).Milliseconds()})
}

// SensorState 读出状态
func (h *Handler) SensorState(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()
	st, err := h.Sensor.GetState(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": st, "progress": st.Progress()})
}

type readoutRequest struct {
	HighGain bool `json:"high_gain"`
}

// StartReadout 提交读出任务
// @Summary 触发传感器读出
// @Tags Dalsa
// @Accept json
// @Produce json
// @Success 202 {object} bench.Job
// @Router /api/v1/dalsa/readout [post]
func (h *Handler) StartReadout(c *gin.Context) {
	var req readoutRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": err.Error()})
			return
		}
	}
	job, err := h.Jobs.StartReadout(req.HighGain)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

// Frame 最近一帧原始数据
func (h *Handler) Frame(c *gin.Context) {
	frame, id, at, ok := h.Jobs.LatestFrame()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "no frame captured yet"})
		return
	}
	c.Header("X-Frame-Job", id)
	c.Header("X-Frame-Rows", strconv.Itoa(dalsa.FrameWidth))
	c.Header("X-Frame-Cols", strconv.Itoa(dalsa.FrameHeight))
	c.Header("X-Frame-Captured-At", at.UTC().Format(time.RFC3339Nano))
	c.Data(http.StatusOK, "application/octet-stream", frame)
}

// CabinetState 柜体状态
func (h *Handler) CabinetState(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()
	st, err := h.Cabinet.GetState(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": st.State, "raw": st.Raw})
}

// GetMode 控制模式
func (h *Handler) GetMode(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()
	m, err := h.Cabinet.GetMode(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": m})
}

type modeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

// SetMode 设置控制模式
func (h *Handler) SetMode(c *gin.Context) {
	var req modeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": err.Error()})
		return
	}
	m, err := faxitron.ParseMode(req.Mode)
	if err != nil {
		h.fail(c, err)
		return
	}
	ctx, cancel := h.ctx(c)
	defer cancel()
	if err := h.Cabinet.SetMode(ctx, m); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": m})
}

// GetExposureTime 曝光时间（秒）
func (h *Handler) GetExposureTime(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()
	t, err := h.Cabinet.GetExposureTime(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"seconds": t})
}

type exposureRequest struct {
	Seconds *float64 `json:"seconds" binding:"required"`
}

// SetExposureTime 设置曝光时间
// @Summary 设置曝光时间
// @Tags Faxitron
// @Accept json
// @Produce json
// @Failure 400 {object} map[string]interface{} "超出 (0, 99.9]"
// @Router /api/v1/faxitron/exposure-time [put]
func (h *Handler) SetExposureTime(c *gin.Context) {
	var req exposureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": err.Error()})
		return
	}
	ctx, cancel := h.ctx(c)
	defer cancel()
	if err := h.Cabinet.SetExposureTime(ctx, *req.Seconds); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"seconds": *req.Seconds})
}

// GetVoltage 管电压（kV）
func (h *Handler) GetVoltage(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()
	kv, err := h.Cabinet.GetVoltage(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"kv": kv})
}

type voltageRequest struct {
	KV *int `json:"kv" binding:"required"`
}

// SetVoltage 设置管电压
func (h *Handler) SetVoltage(c *gin.Context) {
	var req voltageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": err.Error()})
		return
	}
	ctx, cancel := h.ctx(c)
	defer cancel()
	if err := h.Cabinet.SetVoltage(ctx, *req.KV); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"kv": *req.KV})
}

// ListPresets 预设列表
func (h *Handler) ListPresets(c *gin.Context) {
	if h.Presets == nil {
		c.JSON(http.StatusOK, gin.H{"presets": []faxitron.Preset{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"presets": h.Presets.List()})
}

// ApplyPreset 应用命名预设
func (h *Handler) ApplyPreset(c *gin.Context) {
	name := c.Param("name")
	var (
		p  faxitron.Preset
		ok bool
	)
	if h.Presets != nil {
		p, ok = h.Presets.Get(name)
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "unknown preset " + name})
		return
	}
	ctx, cancel := h.ctx(c)
	defer cancel()
	if err := h.Cabinet.ApplyPreset(ctx, p); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type exposeRequest struct {
	Seconds float64 `json:"seconds"`
}

// StartExposure 提交曝光任务；请求体可带已知的曝光时间，省去设备查询
func (h *Handler) StartExposure(c *gin.Context) {
	var req exposeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": err.Error()})
			return
		}
	}
	if req.Seconds != 0 {
		if _, err := faxitron.EncodeExposureTime(req.Seconds); err != nil {
			h.fail(c, err)
			return
		}
	}
	job, err := h.Jobs.StartExposure(req.Seconds)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

// ListJobs 任务列表
func (h *Handler) ListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": h.Jobs.List()})
}

// GetJob 查询任务
func (h *Handler) GetJob(c *gin.Context) {
	job, ok := h.Jobs.Get(c.Param("id"))
	if !ok {
		h.fail(c, bench.ErrJobNotFound)
		return
	}
	c.JSON(http.StatusOK, job)
}

// CancelJob 取消任务；设备在排空后才接受新任务
func (h *Handler) CancelJob(c *gin.Context) {
	id := c.Param("id")
	if err := h.Jobs.Cancel(id); err != nil {
		h.fail(c, err)
		return
	}
	job, _ := h.Jobs.Get(id)
	c.JSON(http.StatusAccepted, job)
}

// ReadLogs 读取一次 FX3 调试日志
func (h *Handler) ReadLogs(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()
	recs, err := h.Logs.ReadLogs(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	if h.OnLogs != nil {
		h.OnLogs(recs)
	}
	if recs == nil {
		recs = []debuglog.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"records": recs})
}

// fail 按错误类别映射 HTTP 状态
func (h *Handler) fail(c *gin.Context, err error) {
	code, kind := StatusFor(err)
	if code >= http.StatusInternalServerError {
		h.logger.Warn("device request failed",
			zap.String("path", c.FullPath()),
			zap.String("kind", kind),
			zap.Error(err),
		)
	}
	c.JSON(code, gin.H{"error": kind, "message": err.Error()})
}

// StatusFor 错误到 HTTP 状态码与错误类别
func StatusFor(err error) (int, string) {
	var pe *wire.ProtocolError
	switch {
	case wire.IsValidationError(err):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, bench.ErrJobNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, bench.ErrNoExposer):
		return http.StatusNotImplemented, "not_configured"
	case errors.Is(err, bench.ErrBusy), errors.Is(err, wire.ErrReadoutBusy):
		return http.StatusConflict, "busy"
	case errors.Is(err, wire.ErrDeviceNotFound):
		return http.StatusServiceUnavailable, "device_not_found"
	case errors.Is(err, wire.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.As(err, &pe):
		return http.StatusBadGateway, "protocol"
	case errors.Is(err, bench.ErrClosed):
		return http.StatusServiceUnavailable, "shutting_down"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
