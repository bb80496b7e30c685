// Package clock 为轮询循环提供可注入的时间源
package clock

import (
	"context"
	"sync"
	"time"
)

// Clock 时间源
type Clock interface {
	Now() time.Time
	// Sleep 休眠 d，ctx 取消时提前返回 ctx.Err()
	Sleep(ctx context.Context, d time.Duration) error
}

// Real 基于系统时钟
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Fake 测试用时钟，Sleep 立即推进虚拟时间
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	sleeps int
}

// NewFake 以 start 为起点创建假时钟
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.sleeps++
	f.mu.Unlock()
	return nil
}

// Advance 手动推进时间
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Sleeps 已发生的 Sleep 次数
func (f *Fake) Sleeps() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sleeps
}
