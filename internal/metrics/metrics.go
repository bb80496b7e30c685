package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry 创建自定义 Prometheus Registry，并注册常用采集器
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 返回 Prometheus 指标 HTTP 处理器
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics 设备协议指标
type AppMetrics struct {
	CommandTotal       *prometheus.CounterVec // labels: opcode, result=ok|error
	ResponseBytesTotal prometheus.Counter
	ReadoutDuration    *prometheus.HistogramVec // labels: result
	ExposureTotal      *prometheus.CounterVec   // labels: result
	DebugLogTotal      *prometheus.CounterVec   // labels: kind
	JobsRunning        prometheus.Gauge
	DeviceRecoveries   prometheus.Counter // 放弃任务后的排空/重连次数
}

// NewAppMetrics 注册并返回设备指标
func NewAppMetrics(reg *prometheus.Registry) *AppMetrics {
	m := &AppMetrics{
		CommandTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dalsa_command_total",
			Help: "Teensy commands by opcode and result.",
		}, []string{"opcode", "result"}),
		ResponseBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dalsa_response_bytes_total",
			Help: "Total response payload bytes received on the control endpoint.",
		}),
		ReadoutDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dalsa_readout_duration_seconds",
			Help:    "Sensor readout duration including frame transfer.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"result"}),
		ExposureTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faxitron_exposure_total",
			Help: "Exposure sequences by result.",
		}, []string{"result"}),
		DebugLogTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fx3_debug_log_records_total",
			Help: "FX3 debug log records by kind.",
		}, []string{"kind"}),
		JobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bench_jobs_running",
			Help: "Device jobs currently running.",
		}),
		DeviceRecoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bench_device_recoveries_total",
			Help: "Drain or reconnect passes after abandoned jobs.",
		}),
	}
	reg.MustRegister(m.CommandTotal, m.ResponseBytesTotal, m.ReadoutDuration, m.ExposureTotal,
		m.DebugLogTotal, m.JobsRunning, m.DeviceRecoveries)
	return m
}

// ObserveCommand 适配 wire.Observer
func (m *AppMetrics) ObserveCommand(opcode byte, respBytes int, err error) {
	if m == nil {
		return
	}
	m.CommandTotal.WithLabelValues(strconv.Itoa(int(opcode)), Result(err)).Inc()
	if respBytes > 0 {
		m.ResponseBytesTotal.Add(float64(respBytes))
	}
}

// Result err 为 nil 时为 ok
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
