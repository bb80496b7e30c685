package faxitron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/xray-bench/internal/clock"
)

// Tunnel 子命令往返通道
type Tunnel interface {
	Exchange(ctx context.Context, sub []byte) ([]byte, error)
}

// Config 曝光序列配置
type Config struct {
	// Margin 完成等待上限 = 曝光时间 + Margin
	Margin time.Duration
	// PollInterval 完成轮询间隔，0 表示连续轮询
	PollInterval time.Duration
}

// DefaultConfig 对应状态显示中 "曝光时间 + 2s" 的约定
func DefaultConfig() Config {
	return Config{Margin: 2 * time.Second, PollInterval: 50 * time.Millisecond}
}

// Client Faxitron 客户端
type Client struct {
	tun    Tunnel
	cfg    Config
	clock  clock.Clock
	logger *zap.Logger
}

// NewClient 创建客户端
func NewClient(tun Tunnel, cfg Config, clk clock.Clock, logger *zap.Logger) *Client {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{tun: tun, cfg: cfg, clock: clk, logger: logger}
}

// Drain 放弃曝光后丢弃通道上的残留应答
func (c *Client) Drain(ctx context.Context) (int, error) {
	d, ok := c.tun.(Drainer)
	if !ok {
		return 0, nil
	}
	n, err := d.Drain(ctx)
	if n > 0 {
		c.logger.Warn("faxitron: drained stale replies", zap.Int("bytes", n))
	}
	return n, err
}

func (c *Client) GetState(ctx context.Context) (Status, error) {
	resp, err := c.tun.Exchange(ctx, subGetState)
	if err != nil {
		return Status{}, fmt.Errorf("get_state: %w", err)
	}
	st, err := DecodeState(resp)
	if err != nil {
		return st, err
	}
	if st.State == StateUnknown {
		c.logger.Warn("faxitron: unrecognized state code", zap.String("raw", st.Raw))
	}
	return st, nil
}

// GetExposureTime 返回秒，分辨率 0.1s
func (c *Client) GetExposureTime(ctx context.Context) (float64, error) {
	resp, err := c.tun.Exchange(ctx, subGetTime)
	if err != nil {
		return 0, fmt.Errorf("get_exposure_time: %w", err)
	}
	return DecodeExposureTime(resp)
}

// SetExposureTime 超出范围时不发送任何数据
func (c *Client) SetExposureTime(ctx context.Context, seconds float64) error {
	sub, err := EncodeExposureTime(seconds)
	if err != nil {
		return err
	}
	if _, err := c.tun.Exchange(ctx, sub); err != nil {
		return fmt.Errorf("set_exposure_time: %w", err)
	}
	return nil
}

// GetVoltage 返回 kV
func (c *Client) GetVoltage(ctx context.Context) (int, error) {
	resp, err := c.tun.Exchange(ctx, subGetVoltage)
	if err != nil {
		return 0, fmt.Errorf("get_voltage: %w", err)
	}
	return DecodeVoltage(resp)
}

func (c *Client) SetVoltage(ctx context.Context, kv int) error {
	sub, err := EncodeVoltage(kv)
	if err != nil {
		return err
	}
	if _, err := c.tun.Exchange(ctx, sub); err != nil {
		return fmt.Errorf("set_voltage: %w", err)
	}
	return nil
}

func (c *Client) GetMode(ctx context.Context) (Mode, error) {
	resp, err := c.tun.Exchange(ctx, subGetMode)
	if err != nil {
		return ModeUnknown, fmt.Errorf("get_mode: %w", err)
	}
	m, err := DecodeMode(resp)
	if err == nil && m == ModeUnknown {
		c.logger.Warn("faxitron: unrecognized mode code", zap.ByteString("raw", resp))
	}
	return m, err
}

func (c *Client) SetMode(ctx context.Context, m Mode) error {
	sub, err := EncodeMode(m)
	if err != nil {
		return err
	}
	if _, err := c.tun.Exchange(ctx, sub); err != nil {
		return fmt.Errorf("set_mode: %w", err)
	}
	return nil
}
