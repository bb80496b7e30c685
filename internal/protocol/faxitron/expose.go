package faxitron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/xray-bench/internal/protocol/wire"
)

// Step 曝光序列步骤
type Step int

const (
	StepBegin Step = iota + 1
	StepConfirm
	StepExposing
	StepComplete
)

func (s Step) String() string {
	switch s {
	case StepBegin:
		return "begin"
	case StepConfirm:
		return "confirm"
	case StepExposing:
		return "exposing"
	case StepComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// ExposureProgress 曝光进度
type ExposureProgress struct {
	Step    Step
	Elapsed time.Duration
	Budget  time.Duration // 曝光时间 + Margin
}

// ExposureResult 曝光结果
type ExposureResult struct {
	ExposureTime float64       `json:"exposure_time"`
	Polls        int           `json:"polls"`
	Elapsed      time.Duration `json:"elapsed_ns"`
}

// PerformExposure 三步曝光：!B→X，C→P，空命令轮询直到 S
// 任一步应答不符视为失步，不可在本序列内重试
// seconds 为 0 时先用 ?T 查询设备当前曝光时间，用于确定等待上限
func (c *Client) PerformExposure(ctx context.Context, seconds float64, onProgress func(ExposureProgress)) (ExposureResult, error) {
	report := func(p ExposureProgress) {
		if onProgress != nil {
			onProgress(p)
		}
	}

	if seconds == 0 {
		var err error
		if seconds, err = c.GetExposureTime(ctx); err != nil {
			return ExposureResult{}, err
		}
	} else if _, err := EncodeExposureTime(seconds); err != nil {
		return ExposureResult{}, err
	}
	budget := time.Duration(seconds*float64(time.Second)) + c.cfg.Margin
	start := c.clock.Now()
	deadline := start.Add(budget)
	res := ExposureResult{ExposureTime: seconds}

	report(ExposureProgress{Step: StepBegin, Budget: budget})
	if err := c.expect(ctx, subBegin, replyBegin, "begin"); err != nil {
		return res, err
	}
	report(ExposureProgress{Step: StepConfirm, Elapsed: c.clock.Now().Sub(start), Budget: budget})
	if err := c.expect(ctx, subConfirm, replyConfirm, "confirm"); err != nil {
		return res, err
	}
	c.logger.Info("faxitron: exposure armed", zap.Float64("exposure_time", seconds), zap.Duration("budget", budget))

	for {
		now := c.clock.Now()
		res.Elapsed = now.Sub(start)
		if !now.Before(deadline) {
			return res, fmt.Errorf("exposure: no completion within %s: %w", budget, wire.ErrTimeout)
		}
		report(ExposureProgress{Step: StepExposing, Elapsed: res.Elapsed, Budget: budget})

		resp, err := c.tun.Exchange(ctx, subPoll)
		if err != nil {
			return res, fmt.Errorf("exposure poll: %w", err)
		}
		res.Polls++
		if len(resp) == 0 {
			if err := c.clock.Sleep(ctx, c.cfg.PollInterval); err != nil {
				return res, err
			}
			continue
		}
		if string(resp) != replyDone {
			return res, wire.NewProtocolError(wire.KindSequenceDesync, "exposure", "completion reply %q", resp)
		}
		break
	}

	res.Elapsed = c.clock.Now().Sub(start)
	report(ExposureProgress{Step: StepComplete, Elapsed: res.Elapsed, Budget: budget})
	c.logger.Info("faxitron: exposure complete", zap.Duration("elapsed", res.Elapsed), zap.Int("polls", res.Polls))
	return res, nil
}

func (c *Client) expect(ctx context.Context, sub []byte, want, step string) error {
	resp, err := c.tun.Exchange(ctx, sub)
	if err != nil {
		return fmt.Errorf("exposure %s: %w", step, err)
	}
	if string(resp) != want {
		return wire.NewProtocolError(wire.KindSequenceDesync, "exposure "+step, "sent %q, want %q, got %q", sub, want, resp)
	}
	return nil
}
