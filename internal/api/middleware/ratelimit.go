package middleware

import (
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Enabled       bool
	RatePerSecond int
	Burst         int
}

// Limiter 基于 Token Bucket 的全局限流器；设备同一时刻只能处理一条命令，
// 控制台请求无需按客户端区分
type Limiter struct {
	limiter  *rate.Limiter
	rejected atomic.Int64
}

// NewLimiter 创建限流器
func NewLimiter(ratePerSec, burst int) *Limiter {
	if ratePerSec <= 0 {
		ratePerSec = 20
	}
	if burst <= 0 {
		burst = ratePerSec * 2 // 默认突发为稳定速率的2倍
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst)}
}

// Rejected 被拒绝的请求数（累计）
func (l *Limiter) Rejected() int64 { return l.rejected.Load() }

// RateLimit 限流中间件，超限返回 429
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) { c.Next() }
	}
	return NewLimiter(cfg.RatePerSecond, cfg.Burst).Middleware()
}

// Middleware 返回 gin 中间件
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.limiter.Allow() {
			l.rejected.Add(1)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limited",
				"message": "请求过于频繁",
			})
			return
		}
		c.Next()
	}
}
