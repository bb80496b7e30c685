package dalsa

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/xray-bench/internal/protocol/wire"
)

// Phase 单次读出的状态机：Idle → Reading → Done
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseReading
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseReading:
		return "reading"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// Progress 读出进度回调参数
type Progress struct {
	Phase   Phase
	State   State
	Percent float64 // 0~100
	Polls   int
	Elapsed time.Duration
}

// ProgressFunc 进度回调，应尽快返回
type ProgressFunc func(Progress)

// Readout 触发读出并协作式轮询至完成，然后取回帧
// ctx 取消只放弃轮询，设备侧读出不会中止；调用方需在下一条命令前 Drain
func (c *Client) Readout(ctx context.Context, highGain bool, onProgress ProgressFunc) (Frame, error) {
	report := func(p Progress) {
		if onProgress != nil {
			onProgress(p)
		}
	}
	start := c.clock.Now()

	if err := c.StartReadout(ctx, highGain); err != nil {
		return nil, err
	}
	report(Progress{Phase: PhaseReading})
	c.logger.Info("readout started", zap.Bool("high_gain", highGain))

	for polls := 1; ; polls++ {
		if c.cfg.MaxPolls > 0 && polls > c.cfg.MaxPolls {
			return nil, fmt.Errorf("readout: not done after %d polls: %w", c.cfg.MaxPolls, wire.ErrTimeout)
		}
		if err := c.clock.Sleep(ctx, c.cfg.PollInterval); err != nil {
			return nil, err
		}
		st, err := c.GetState(ctx)
		if err != nil {
			return nil, err
		}
		p := Progress{Phase: PhaseReading, State: st, Percent: st.Progress() * 100, Polls: polls, Elapsed: c.clock.Now().Sub(start)}
		if st.Done {
			p.Phase, p.Percent = PhaseDone, 100
			report(p)
			break
		}
		report(p)
	}

	frame, err := c.GetFrame(ctx)
	if err != nil {
		return nil, err
	}
	c.logger.Info("readout done",
		zap.Duration("elapsed", c.clock.Now().Sub(start)),
		zap.Int("bytes", len(frame)),
	)
	return frame, nil
}
