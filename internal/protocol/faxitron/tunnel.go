package faxitron

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
)

// OpTunnel Dalsa Teensy 上的透传命令字
const OpTunnel byte = 0x10

// Drainer 丢弃通道上的残留应答
type Drainer interface {
	Drain(ctx context.Context) (int, error)
}

// Commander 二进制命令通道（wire.Codec）
type Commander interface {
	SendCommand(ctx context.Context, opcode byte, payload []byte) ([]byte, error)
}

// DalsaTunnel 经 Teensy 0x10 命令透传
type DalsaTunnel struct {
	Conn Commander
}

func (t DalsaTunnel) Exchange(ctx context.Context, sub []byte) ([]byte, error) {
	return t.Conn.SendCommand(ctx, OpTunnel, sub)
}

// Drain 排空 Teensy 编解码器；Conn 不支持时为空操作
func (t DalsaTunnel) Drain(ctx context.Context) (int, error) {
	if d, ok := t.Conn.(Drainer); ok {
		return d.Drain(ctx)
	}
	return 0, nil
}

// SerialConfig 直连串口配置
type SerialConfig struct {
	Port        string
	BaudRate    int
	ReadTimeout time.Duration
}

// SerialTunnel 直接通过 RS-232 发送子命令，命令与应答以 CR 结尾
// 空子命令只读取不写入，用于曝光完成轮询
// 带内容的子命令未收到应答时，下一条子命令发送前先排空线路
type SerialTunnel struct {
	mu    sync.Mutex
	port  io.ReadWriteCloser
	buf   []byte
	stale bool
}

// OpenSerial 打开串口（8N1）
func OpenSerial(cfg SerialConfig) (*SerialTunnel, error) {
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = 9600
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 200 * time.Millisecond
	}
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", cfg.Port, err)
	}
	if err := p.SetReadTimeout(cfg.ReadTimeout); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	return NewSerialTunnel(p), nil
}

// NewSerialTunnel 包装已打开的端口；Read 超时应返回 0 字节
func NewSerialTunnel(port io.ReadWriteCloser) *SerialTunnel {
	return &SerialTunnel{port: port}
}

func (s *SerialTunnel) Exchange(ctx context.Context, sub []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(sub) > 0 {
		if s.stale {
			if _, err := s.drainLocked(ctx); err != nil {
				return nil, err
			}
		}
		line := append(append([]byte(nil), sub...), '\r')
		if _, err := s.port.Write(line); err != nil {
			s.stale = true
			return nil, fmt.Errorf("serial write: %w", err)
		}
	}
	reply, err := s.readLine(ctx)
	if len(sub) > 0 && (err != nil || reply == nil) {
		s.stale = true
	}
	return reply, err
}

// readLine 返回一行应答；超时返回 nil，未结束的字节留待下次
func (s *SerialTunnel) readLine(ctx context.Context) ([]byte, error) {
	tmp := make([]byte, 64)
	for {
		if i := bytes.IndexByte(s.buf, '\r'); i >= 0 {
			reply := bytes.TrimRight(s.buf[:i], "\n")
			reply = append([]byte{}, reply...)
			s.buf = bytes.TrimLeft(s.buf[i+1:], "\n")
			return reply, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := s.port.Read(tmp)
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("serial read: %w", err)
		}
		if n == 0 {
			return nil, nil
		}
		s.buf = append(s.buf, tmp[:n]...)
	}
}

// Drain 丢弃缓冲与线路上的残留字节，读到一次超时为止
func (s *SerialTunnel) Drain(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drainLocked(ctx)
}

func (s *SerialTunnel) drainLocked(ctx context.Context) (int, error) {
	dropped := len(s.buf)
	s.buf = nil
	tmp := make([]byte, 64)
	for {
		if err := ctx.Err(); err != nil {
			return dropped, err
		}
		n, err := s.port.Read(tmp)
		if err != nil && err != io.EOF {
			return dropped, fmt.Errorf("serial drain: %w", err)
		}
		if n == 0 {
			s.stale = false
			return dropped, nil
		}
		dropped += n
	}
}

func (s *SerialTunnel) Close() error {
	return s.port.Close()
}
