package dalsa_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/xray-bench/internal/clock"
	"github.com/taoyao-code/xray-bench/internal/protocol/dalsa"
	"github.com/taoyao-code/xray-bench/internal/protocol/dalsa/dalsatest"
	"github.com/taoyao-code/xray-bench/internal/protocol/wire"
)

func TestReadout_FullCycle(t *testing.T) {
	dev := dalsatest.New()
	clk := clock.NewFake(time.Unix(0, 0))
	c := newClient(dev.Port, clk)

	var seen []dalsa.Progress
	frame, err := c.Readout(context.Background(), true, func(p dalsa.Progress) {
		seen = append(seen, p)
	})
	require.NoError(t, err)
	assert.Len(t, frame, dalsa.FrameBytes)
	assert.Equal(t, 1, dev.Readouts())

	// 258 行/次，4 次查询完成
	assert.Equal(t, 4, clk.Sleeps())
	require.Len(t, seen, 5)
	assert.Equal(t, dalsa.PhaseReading, seen[0].Phase)
	assert.InDelta(t, 25.0, seen[1].Percent, 0.01)
	assert.InDelta(t, 50.0, seen[2].Percent, 0.01)
	last := seen[len(seen)-1]
	assert.Equal(t, dalsa.PhaseDone, last.Phase)
	assert.Equal(t, 100.0, last.Percent)
	assert.Equal(t, 400*time.Millisecond, last.Elapsed)

	img, err := dalsa.DecodeImage(frame)
	require.NoError(t, err)
	assert.Equal(t, dalsa.FrameWidth, img.Rows)
	assert.Equal(t, dalsa.FrameHeight, img.Cols)
	assert.Equal(t, uint16(5), img.At(0, 5))
	assert.Equal(t, uint16((dalsa.FrameHeight+3)%1024), img.At(1, 3))
	lo, hi := img.MinMax()
	assert.Equal(t, uint16(0), lo)
	assert.Equal(t, uint16(1023), hi)
}

func TestReadout_Busy(t *testing.T) {
	dev := dalsatest.New()
	dev.SetBusy(true)
	c := newClient(dev.Port, clock.NewFake(time.Unix(0, 0)))

	_, err := c.Readout(context.Background(), false, nil)
	assert.ErrorIs(t, err, wire.ErrReadoutBusy)
}

func TestReadout_PollCeiling(t *testing.T) {
	dev := dalsatest.New()
	dev.RowsPerPoll = 1
	cfg := dalsa.DefaultReadoutConfig()
	cfg.MaxPolls = 5
	clk := clock.NewFake(time.Unix(0, 0))
	c := dalsa.NewClient(testCodec(dev.Port), cfg, clk, nil)

	_, err := c.Readout(context.Background(), false, nil)
	assert.ErrorIs(t, err, wire.ErrTimeout)
	assert.Equal(t, 5, clk.Sleeps())
}

func TestReadout_Cancel(t *testing.T) {
	dev := dalsatest.New()
	dev.RowsPerPoll = 1
	ctx, cancel := context.WithCancel(context.Background())
	c := newClient(dev.Port, clock.NewFake(time.Unix(0, 0)))

	_, err := c.Readout(ctx, false, func(p dalsa.Progress) {
		if p.Polls == 3 {
			cancel()
		}
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDecodeImage_WrongSize(t *testing.T) {
	_, err := dalsa.DecodeImage(make(dalsa.Frame, 10))
	assert.ErrorIs(t, err, wire.ErrFrameSizeMismatch)
}

func TestStateProgress(t *testing.T) {
	assert.Equal(t, 0.5, dalsa.State{Row: dalsa.TotalRows / 2}.Progress())
	assert.Equal(t, 1.0, dalsa.State{Row: dalsa.TotalRows + 10}.Progress())
}
