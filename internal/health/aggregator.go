package health

import (
	"context"
	"sync"
	"time"
)

// Aggregator 健康检查聚合器
//
// 检查器依次执行：所有探测共用同一条 USB 链路，并发探测只会在编解码器锁上排队。
type Aggregator struct {
	mu       sync.RWMutex
	checkers []Checker
	timeout  time.Duration
}

// NewAggregator 创建聚合器，timeout 为单个检查的时限
func NewAggregator(timeout time.Duration, checkers ...Checker) *Aggregator {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Aggregator{checkers: checkers, timeout: timeout}
}

// AddChecker 添加检查器
func (a *Aggregator) AddChecker(checker Checker) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.checkers = append(a.checkers, checker)
}

// CheckAll 执行所有健康检查
func (a *Aggregator) CheckAll(ctx context.Context) map[string]CheckResult {
	a.mu.RLock()
	checkers := append([]Checker(nil), a.checkers...)
	a.mu.RUnlock()

	results := make(map[string]CheckResult, len(checkers))
	for _, c := range checkers {
		cctx, cancel := context.WithTimeout(ctx, a.timeout)
		results[c.Name()] = c.Check(cctx)
		cancel()
	}
	return results
}

// Overall 总体状态：任一 Unhealthy 即 Unhealthy，任一 Degraded 即 Degraded
func Overall(results map[string]CheckResult) Status {
	status := StatusHealthy
	for _, r := range results {
		switch r.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}

// Ready 降级仍视为就绪
func (a *Aggregator) Ready(ctx context.Context) bool {
	return Overall(a.CheckAll(ctx)) != StatusUnhealthy
}

// HealthReport 健康报告
type HealthReport struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

// Report 执行检查并生成报告
func (a *Aggregator) Report(ctx context.Context) HealthReport {
	checks := a.CheckAll(ctx)
	return HealthReport{Status: Overall(checks), Timestamp: time.Now(), Checks: checks}
}
