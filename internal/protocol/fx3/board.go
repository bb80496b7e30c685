// Package fx3 Faxitron FX3 板：调试日志、12 位数据通道、复位
package fx3

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/xray-bench/internal/protocol/debuglog"
	"github.com/taoyao-code/xray-bench/internal/protocol/wire"
)

const (
	VendorID  = 0x1996
	ProductID = 0x0001
	Interface = 0

	DebugEP   = 0xA
	DataInEP  = 0x1
	DataOutEP = 0x1

	// LogReadSize 单次调试读取上限
	LogReadSize = 256
	// MaxWriteValues 单次写入的样本数上限（不含）
	MaxWriteValues = 128

	sampleMarker = 0xE000
	sampleMask   = 0x0FFF
	reqReset     = 0xE0
	// 厂商、设备接收者、IN 方向
	reqTypeVendorIn = 0xC0
)

// Controller 控制传输
type Controller interface {
	Control(rType, request uint8, val, idx uint16, data []byte) (int, error)
}

// Config 读参数
type Config struct {
	LogTimeout  time.Duration
	DataTimeout time.Duration
	ChunkSize   int
}

func DefaultConfig() Config {
	return Config{
		LogTimeout:  time.Millisecond,
		DataTimeout: 50 * time.Millisecond,
		ChunkSize:   512,
	}
}

// Board FX3 板句柄
type Board struct {
	port   wire.Port
	ctrl   Controller
	cfg    Config
	logger *zap.Logger
}

// NewBoard ctrl 可为 nil，此时 Reset 不可用
func NewBoard(port wire.Port, ctrl Controller, cfg Config, logger *zap.Logger) *Board {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultConfig().ChunkSize
	}
	return &Board{port: port, ctrl: ctrl, cfg: cfg, logger: logger}
}

// ReadLogs 读取一次调试端点；无数据时返回空
func (b *Board) ReadLogs(ctx context.Context) ([]debuglog.Record, error) {
	buf, err := b.port.Read(ctx, DebugEP, LogReadSize, b.cfg.LogTimeout)
	if err != nil {
		return nil, fmt.Errorf("read logs: %w", err)
	}
	recs, rest := debuglog.Decode(buf)
	if rest > 0 {
		b.logger.Debug("debug log trailing bytes dropped", zap.Int("bytes", rest))
	}
	return recs, nil
}

// ReadData 持续读取直到某次读取无新增或达到 max 字节，返回 12 位样本
func (b *Board) ReadData(ctx context.Context, max int) ([]uint16, error) {
	var dat []byte
	last := -1
	for last != len(dat) && len(dat) < max {
		last = len(dat)
		chunk, err := b.port.Read(ctx, DataInEP, b.cfg.ChunkSize, b.cfg.DataTimeout)
		if err != nil {
			return nil, fmt.Errorf("read data: %w", err)
		}
		dat = append(dat, chunk...)
	}
	return DecodeSamples(dat)
}

// WriteData 写入样本，单次少于 128 个
func (b *Board) WriteData(ctx context.Context, values []uint16) error {
	if len(values) >= MaxWriteValues {
		return &wire.ValidationError{Kind: wire.OutOfRange, Field: "values", Value: len(values), Limit: "< 128"}
	}
	buf := EncodeSamples(values)
	n, err := b.port.Write(ctx, DataOutEP, buf)
	if err != nil {
		return fmt.Errorf("write data: %w", err)
	}
	if n != len(buf) {
		return wire.NewProtocolError(wire.KindIncomplete, "write_data", "wrote %d of %d bytes", n, len(buf))
	}
	return nil
}

// Reset 厂商复位请求
func (b *Board) Reset() error {
	if b.ctrl == nil {
		return fmt.Errorf("reset: %w", wire.ErrDeviceNotFound)
	}
	if _, err := b.ctrl.Control(reqTypeVendorIn, reqReset, 0, 0, nil); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	b.logger.Info("fx3 reset")
	return nil
}

// DecodeSamples 每两字节一个样本：lo | (hi&0x0F)<<8
func DecodeSamples(dat []byte) ([]uint16, error) {
	if len(dat)%2 != 0 {
		return nil, wire.NewProtocolError(wire.KindIncomplete, "read_data", "odd byte count %d", len(dat))
	}
	out := make([]uint16, len(dat)/2)
	for i := range out {
		out[i] = uint16(dat[2*i]) | uint16(dat[2*i+1]&0x0F)<<8
	}
	return out, nil
}

// EncodeSamples (v & 0xFFF) | 0xE000，小端
func EncodeSamples(values []uint16) []byte {
	buf := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(buf[2*i:], v&sampleMask|sampleMarker)
	}
	return buf
}
