package dalsa

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/xray-bench/internal/clock"
	"github.com/taoyao-code/xray-bench/internal/protocol/wire"
)

// Conn 命令通道，由 wire.Codec 实现
type Conn interface {
	SendCommand(ctx context.Context, opcode byte, payload []byte) ([]byte, error)
	Exchange(ctx context.Context, fn func(tx *wire.Txn) error) error
}

// ReadoutConfig 读出轮询配置
type ReadoutConfig struct {
	PollInterval time.Duration
	MaxPolls     int // 0 表示不限
	BulkEndpoint uint8
}

// DefaultReadoutConfig 默认 100ms 轮询，约 2 分钟上限
func DefaultReadoutConfig() ReadoutConfig {
	return ReadoutConfig{
		PollInterval: 100 * time.Millisecond,
		MaxPolls:     1200,
		BulkEndpoint: BulkInEP,
	}
}

// Client Dalsa 传感器协议客户端
type Client struct {
	conn   Conn
	clock  clock.Clock
	cfg    ReadoutConfig
	logger *zap.Logger
}

// NewClient 创建客户端；clk 为 nil 时使用系统时钟
func NewClient(conn Conn, cfg ReadoutConfig, clk clock.Clock, logger *zap.Logger) *Client {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BulkEndpoint == 0 {
		cfg.BulkEndpoint = BulkInEP
	}
	return &Client{conn: conn, clock: clk, cfg: cfg, logger: logger}
}

// Ping 应答必须是单字节 0xA5
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.conn.SendCommand(ctx, OpPing, nil)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if len(resp) != 1 || resp[0] != PingSentinel {
		return wire.NewProtocolError(wire.KindUnexpectedResponse, "ping", "got % x", resp)
	}
	return nil
}

// GetState 查询读出状态
func (c *Client) GetState(ctx context.Context) (State, error) {
	resp, err := c.conn.SendCommand(ctx, OpGetState, nil)
	if err != nil {
		return State{}, fmt.Errorf("get_state: %w", err)
	}
	return DecodeState(resp)
}

// StartReadout 触发读出；设备已在读出时返回 ErrReadoutBusy
func (c *Client) StartReadout(ctx context.Context, highGain bool) error {
	resp, err := c.conn.SendCommand(ctx, OpStartReadout, []byte{boolByte(highGain)})
	if err != nil {
		return fmt.Errorf("start_readout: %w", err)
	}
	if len(resp) != 1 {
		return wire.NewProtocolError(wire.KindUnexpectedResponse, "start_readout", "got %d bytes", len(resp))
	}
	if resp[0] != 0 {
		return fmt.Errorf("start_readout: %w", wire.ErrReadoutBusy)
	}
	return nil
}

// GetFrame 取回一帧：先取 4 字节长度，再从批量端点读取该长度
// 长度与 FrameBytes 不符时不读取，直接排空批量端点
func (c *Client) GetFrame(ctx context.Context) (Frame, error) {
	var frame Frame
	err := c.conn.Exchange(ctx, func(tx *wire.Txn) error {
		resp, err := tx.Command(ctx, OpGetFrame, nil)
		if err != nil {
			return fmt.Errorf("get_frame: %w", err)
		}
		if len(resp) != 4 {
			return wire.NewProtocolError(wire.KindUnexpectedResponse, "get_frame", "length prefix %d bytes", len(resp))
		}
		declared := int(binary.LittleEndian.Uint32(resp))
		if declared != FrameBytes {
			n := tx.Discard(ctx, c.cfg.BulkEndpoint)
			c.logger.Warn("frame size mismatch, bulk endpoint discarded",
				zap.Int("declared", declared), zap.Int("discarded", n))
			return wire.NewProtocolError(wire.KindFrameSizeMismatch, "get_frame",
				"device declared %d bytes, want %d", declared, FrameBytes)
		}
		buf, err := tx.ReadExactly(ctx, c.cfg.BulkEndpoint, declared)
		if err != nil {
			return fmt.Errorf("get_frame: %w", err)
		}
		frame = Frame(buf)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return frame, nil
}
