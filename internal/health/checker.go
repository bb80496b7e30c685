package health

import (
	"context"
	"time"
)

// Status 健康状态
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"  // 可服务但部分设备异常
	StatusUnhealthy Status = "unhealthy" // 关键设备不可用
)

// CheckResult 健康检查结果
type CheckResult struct {
	Status  Status        `json:"status"`
	Message string        `json:"message,omitempty"`
	Latency time.Duration `json:"latency"`
}

// Checker 健康检查器接口
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// PingFunc 一次设备探测，如 Teensy ping 或柜体状态查询
type PingFunc func(ctx context.Context) error

// DeviceChecker 以探测结果判定设备健康；非关键设备失败只记为降级
type DeviceChecker struct {
	name     string
	ping     PingFunc
	critical bool
}

// NewDeviceChecker 创建设备检查器
func NewDeviceChecker(name string, ping PingFunc, critical bool) *DeviceChecker {
	return &DeviceChecker{name: name, ping: ping, critical: critical}
}

func (c *DeviceChecker) Name() string { return c.name }

func (c *DeviceChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	err := c.ping(ctx)
	res := CheckResult{Status: StatusHealthy, Latency: time.Since(start)}
	if err != nil {
		res.Message = err.Error()
		res.Status = StatusDegraded
		if c.critical {
			res.Status = StatusUnhealthy
		}
	}
	return res
}
