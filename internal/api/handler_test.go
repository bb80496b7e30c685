package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/xray-bench/internal/api/middleware"
	"github.com/taoyao-code/xray-bench/internal/bench"
	"github.com/taoyao-code/xray-bench/internal/clock"
	"github.com/taoyao-code/xray-bench/internal/protocol/dalsa"
	"github.com/taoyao-code/xray-bench/internal/protocol/dalsa/dalsatest"
	"github.com/taoyao-code/xray-bench/internal/protocol/debuglog"
	"github.com/taoyao-code/xray-bench/internal/protocol/faxitron"
	"github.com/taoyao-code/xray-bench/internal/protocol/wire"
)

type fakeLogs struct {
	recs []debuglog.Record
}

func (f fakeLogs) ReadLogs(context.Context) ([]debuglog.Record, error) { return f.recs, nil }

type testBench struct {
	engine *gin.Engine
	dev    *dalsatest.Device
	runner *bench.Runner
}

func newTestBench(t *testing.T, auth middleware.AuthConfig) *testBench {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dev := dalsatest.New()
	clk := clock.NewFake(time.Unix(0, 0))
	cfg := wire.DefaultConfig()
	cfg.ReadTimeout = time.Millisecond
	cfg.MaxRetries = 2
	codec := wire.NewCodec(dev.Port, cfg)

	sensor := dalsa.NewClient(codec, dalsa.DefaultReadoutConfig(), clk, nil)
	cabinet := faxitron.NewClient(faxitron.DalsaTunnel{Conn: codec}, faxitron.DefaultConfig(), clk, nil)
	runner := bench.NewRunner(bench.Deps{
		Sensor:  sensor,
		Exposer: cabinet,
		Drainer: codec,
		Clock:   clk,
	}, bench.DefaultConfig(), nil)
	t.Cleanup(runner.Close)

	presets, err := faxitron.ParsePresets([]byte(`
presets:
  - name: mouse
    exposure_time: 12.5
    voltage: 26
`))
	require.NoError(t, err)

	h := NewHandler(sensor, runner, nil)
	h.Cabinet = cabinet
	h.Presets = presets
	h.Logs = fakeLogs{recs: []debuglog.Record{{Kind: debuglog.KindText, ID: 0xFFFF, Message: "boot"}}}

	r := gin.New()
	RegisterRoutes(r, h, auth, middleware.RateLimitConfig{}, nil)
	return &testBench{engine: r, dev: dev, runner: runner}
}

func (b *testBench) do(method, path string, body any) *httptest.ResponseRecorder {
	var rd *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	b.engine.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestPingAndState(t *testing.T) {
	b := newTestBench(t, middleware.AuthConfig{})

	rr := b.do(http.MethodGet, "/api/v1/dalsa/ping", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, decode(t, rr)["ok"])

	rr = b.do(http.MethodGet, "/api/v1/dalsa/state", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	st := decode(t, rr)["state"].(map[string]any)
	assert.EqualValues(t, 14, st["readout_pin"])
}

func TestReadoutFlow(t *testing.T) {
	b := newTestBench(t, middleware.AuthConfig{})

	rr := b.do(http.MethodGet, "/api/v1/dalsa/frame", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = b.do(http.MethodPost, "/api/v1/dalsa/readout", map[string]bool{"high_gain": true})
	require.Equal(t, http.StatusAccepted, rr.Code)
	id := decode(t, rr)["id"].(string)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := b.runner.Wait(ctx, id)
	require.NoError(t, err)
	require.Equal(t, bench.StatusSucceeded, job.Status)

	rr = b.do(http.MethodGet, "/api/v1/jobs/"+id, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "succeeded", decode(t, rr)["status"])

	rr = b.do(http.MethodGet, "/api/v1/dalsa/frame", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, dalsa.FrameBytes, rr.Body.Len())
	assert.Equal(t, id, rr.Header().Get("X-Frame-Job"))
	assert.Equal(t, "1032", rr.Header().Get("X-Frame-Rows"))

	rr = b.do(http.MethodGet, "/api/v1/jobs", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode(t, rr)["jobs"], 1)
}

func TestFaxitronSettings(t *testing.T) {
	b := newTestBench(t, middleware.AuthConfig{})

	rr := b.do(http.MethodGet, "/api/v1/faxitron/exposure-time", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.InDelta(t, 30.0, decode(t, rr)["seconds"], 1e-9)

	rr = b.do(http.MethodPut, "/api/v1/faxitron/exposure-time", map[string]float64{"seconds": 4.5})
	require.Equal(t, http.StatusOK, rr.Code)
	rr = b.do(http.MethodGet, "/api/v1/faxitron/exposure-time", nil)
	assert.InDelta(t, 4.5, decode(t, rr)["seconds"], 1e-9)

	rr = b.do(http.MethodPut, "/api/v1/faxitron/voltage", map[string]int{"kv": 30})
	require.Equal(t, http.StatusOK, rr.Code)
	rr = b.do(http.MethodGet, "/api/v1/faxitron/voltage", nil)
	assert.EqualValues(t, 30, decode(t, rr)["kv"])

	rr = b.do(http.MethodPut, "/api/v1/faxitron/mode", map[string]string{"mode": "remote"})
	require.Equal(t, http.StatusOK, rr.Code)
	rr = b.do(http.MethodGet, "/api/v1/faxitron/mode", nil)
	assert.Equal(t, "remote", decode(t, rr)["mode"])

	rr = b.do(http.MethodGet, "/api/v1/faxitron/state", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ready", decode(t, rr)["state"])
}

func TestFaxitronValidation(t *testing.T) {
	b := newTestBench(t, middleware.AuthConfig{})
	before := len(b.dev.SubCommands())

	rr := b.do(http.MethodPut, "/api/v1/faxitron/exposure-time", map[string]float64{"seconds": 150})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "validation", decode(t, rr)["error"])

	rr = b.do(http.MethodPut, "/api/v1/faxitron/voltage", map[string]int{"kv": 40})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = b.do(http.MethodPut, "/api/v1/faxitron/mode", map[string]string{"mode": "auto"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = b.do(http.MethodPut, "/api/v1/faxitron/voltage", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "bad_request", decode(t, rr)["error"])

	assert.Len(t, b.dev.SubCommands(), before, "rejected requests must not reach the device")
}

func TestPresets(t *testing.T) {
	b := newTestBench(t, middleware.AuthConfig{})

	rr := b.do(http.MethodGet, "/api/v1/faxitron/presets", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode(t, rr)["presets"], 1)

	rr = b.do(http.MethodPost, "/api/v1/faxitron/presets/mouse", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = b.do(http.MethodGet, "/api/v1/faxitron/voltage", nil)
	assert.EqualValues(t, 26, decode(t, rr)["kv"])

	rr = b.do(http.MethodPost, "/api/v1/faxitron/presets/rat", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestExposeAndCancel(t *testing.T) {
	b := newTestBench(t, middleware.AuthConfig{})

	rr := b.do(http.MethodPost, "/api/v1/faxitron/expose", nil)
	require.Equal(t, http.StatusAccepted, rr.Code)
	id := decode(t, rr)["id"].(string)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := b.runner.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, bench.StatusSucceeded, job.Status)
	assert.Equal(t, 1, b.dev.Exposures())

	// 已结束的任务取消为空操作
	rr = b.do(http.MethodDelete, "/api/v1/jobs/"+id, nil)
	assert.Equal(t, http.StatusAccepted, rr.Code)

	rr = b.do(http.MethodDelete, "/api/v1/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestExposeWithKnownTime(t *testing.T) {
	b := newTestBench(t, middleware.AuthConfig{})

	rr := b.do(http.MethodPost, "/api/v1/faxitron/expose", map[string]any{"seconds": 200})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "validation", decode(t, rr)["error"])
	assert.Zero(t, b.dev.Exposures())

	rr = b.do(http.MethodPost, "/api/v1/faxitron/expose", map[string]any{"seconds": 1.5})
	require.Equal(t, http.StatusAccepted, rr.Code)
	id := decode(t, rr)["id"].(string)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := b.runner.Wait(ctx, id)
	require.NoError(t, err)
	require.Equal(t, bench.StatusSucceeded, job.Status)
	assert.NotContains(t, b.dev.SubCommands(), "?T")
}

func TestFX3Logs(t *testing.T) {
	b := newTestBench(t, middleware.AuthConfig{})
	rr := b.do(http.MethodGet, "/api/v1/fx3/logs", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	recs := decode(t, rr)["records"].([]any)
	require.Len(t, recs, 1)
	assert.Equal(t, "boot", recs[0].(map[string]any)["message"])
}

func TestAuthRequired(t *testing.T) {
	b := newTestBench(t, middleware.AuthConfig{Enabled: true, APIKeys: []string{"bench-key-0001"}})

	rr := b.do(http.MethodGet, "/api/v1/dalsa/ping", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/dalsa/ping", nil)
	req.Header.Set("X-API-Key", "bench-key-0001")
	rr = httptest.NewRecorder()
	b.engine.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{&wire.ValidationError{Kind: wire.OutOfRange, Field: "kv"}, http.StatusBadRequest},
		{fmt.Errorf("x: %w", bench.ErrBusy), http.StatusConflict},
		{wire.ErrReadoutBusy, http.StatusConflict},
		{fmt.Errorf("open: %w", wire.ErrDeviceNotFound), http.StatusServiceUnavailable},
		{wire.ErrTimeout, http.StatusGatewayTimeout},
		{wire.NewProtocolError(wire.KindShortHeader, "ping", "got 2 bytes"), http.StatusBadGateway},
		{bench.ErrJobNotFound, http.StatusNotFound},
		{bench.ErrNoExposer, http.StatusNotImplemented},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		code, _ := StatusFor(tc.err)
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}
