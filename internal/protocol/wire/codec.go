package wire

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Port 单次 USB 传输接口
// Read 超时返回空切片与 nil 错误，超时不是错误。
type Port interface {
	Write(ctx context.Context, ep uint8, data []byte) (int, error)
	Read(ctx context.Context, ep uint8, max int, timeout time.Duration) ([]byte, error)
}

// Config 编解码器配置
type Config struct {
	OutEndpoint  uint8         // 控制输出端点
	InEndpoint   uint8         // 控制输入端点
	ChunkSize    int           // 单次读取上限
	ReadTimeout  time.Duration // 单次传输超时
	MaxRetries   int           // 连续空读上限
	DrainTimeout time.Duration // 中断后排空残留应答的时限，不受调用方 ctx 约束
}

// DefaultConfig Dalsa Teensy 的默认端点与超时
func DefaultConfig() Config {
	return Config{
		OutEndpoint:  5,
		InEndpoint:   6,
		ChunkSize:    DefaultChunkSize,
		ReadTimeout:  500 * time.Millisecond,
		MaxRetries:   10,
		DrainTimeout: 2 * time.Second,
	}
}

// maxPrealloc 按声明长度预分配的上限，长度来自设备不可信
const maxPrealloc = 4 << 20

// Observer 每条命令完成后的回调，用于指标
type Observer func(opcode byte, respBytes int, err error)

// Codec 命令/响应编解码器，同一时刻只允许一个请求在途
type Codec struct {
	mu       sync.Mutex
	port     Port
	cfg      Config
	pending  []byte             // 上次读取中超出声明长度的字节
	stale    map[uint8]struct{} // 异常退出后可能仍有应答在途的端点
	logger   *zap.Logger
	observer Observer
}

// Option 编解码器选项
type Option func(*Codec)

// WithLogger 设置日志器
func WithLogger(l *zap.Logger) Option {
	return func(c *Codec) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithObserver 设置命令完成回调
func WithObserver(o Observer) Option {
	return func(c *Codec) { c.observer = o }
}

// NewCodec 创建编解码器
func NewCodec(port Port, cfg Config, opts ...Option) *Codec {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 10
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 2 * time.Second
	}
	c := &Codec{port: port, cfg: cfg, logger: zap.NewNop(), stale: make(map[uint8]struct{})}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendCommand 发送命令并返回完整重组后的响应载荷
func (c *Codec) SendCommand(ctx context.Context, opcode byte, payload []byte) ([]byte, error) {
	var resp []byte
	err := c.Exchange(ctx, func(tx *Txn) error {
		var err error
		resp, err = tx.Command(ctx, opcode, payload)
		return err
	})
	return resp, err
}

// Exchange 在持锁状态下执行多步事务（如命令后紧跟批量读取）
// 上一次事务异常退出时，先排空残留应答再执行 fn
func (c *Codec) Exchange(ctx context.Context, fn func(tx *Txn) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(c.stale) > 0 {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.DrainTimeout)
		_, err := c.drainLocked(dctx)
		cancel()
		if err != nil {
			return fmt.Errorf("drain stale response: %w", err)
		}
	}
	return fn(&Txn{c: c})
}

// Drain 丢弃控制输入端点及残留端点上的字节，用于放弃长操作之后
func (c *Codec) Drain(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drainLocked(ctx)
}

func (c *Codec) drainLocked(ctx context.Context) (int, error) {
	dropped := len(c.pending)
	c.pending = nil
	c.stale[c.cfg.InEndpoint] = struct{}{}
	for ep := range c.stale {
		n, err := c.drainEndpoint(ctx, ep)
		dropped += n
		if err != nil {
			return dropped, err
		}
		delete(c.stale, ep)
	}
	if dropped > 0 {
		c.logger.Warn("drained stale response bytes", zap.Int("bytes", dropped))
	}
	return dropped, nil
}

// drainEndpoint 读到一次空读为止
func (c *Codec) drainEndpoint(ctx context.Context, ep uint8) (int, error) {
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		chunk, err := c.port.Read(ctx, ep, c.cfg.ChunkSize, c.cfg.ReadTimeout)
		if err != nil {
			return n, fmt.Errorf("drain ep %d: %w", ep, err)
		}
		if len(chunk) == 0 {
			return n, nil
		}
		n += len(chunk)
	}
}

// Txn 持锁事务句柄，只在 Exchange 回调内有效
type Txn struct {
	c *Codec
}

// Command 见 Codec.SendCommand
func (tx *Txn) Command(ctx context.Context, opcode byte, payload []byte) ([]byte, error) {
	resp, err := tx.c.command(ctx, opcode, payload)
	if err != nil {
		tx.c.stale[tx.c.cfg.InEndpoint] = struct{}{}
	}
	if tx.c.observer != nil {
		tx.c.observer(opcode, len(resp), err)
	}
	return resp, err
}

// ReadExactly 从批量端点读取恰好 n 字节
func (tx *Txn) ReadExactly(ctx context.Context, ep uint8, n int) ([]byte, error) {
	buf, err := tx.readExactly(ctx, ep, n)
	if err != nil {
		tx.c.stale[ep] = struct{}{}
	}
	return buf, err
}

// Discard 立即排空端点；失败时留待下一次事务前处理
func (tx *Txn) Discard(ctx context.Context, ep uint8) int {
	c := tx.c
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.DrainTimeout)
	defer cancel()
	n, err := c.drainEndpoint(dctx, ep)
	if err != nil {
		c.stale[ep] = struct{}{}
		c.logger.Warn("discard failed", zap.Uint8("ep", ep), zap.Error(err))
	}
	return n
}

func (tx *Txn) readExactly(ctx context.Context, ep uint8, n int) ([]byte, error) {
	c := tx.c
	buf := make([]byte, 0, min(n, maxPrealloc))
	empty := 0
	for len(buf) < n {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunk, err := c.port.Read(ctx, ep, n-len(buf), c.cfg.ReadTimeout)
		if err != nil {
			return nil, fmt.Errorf("bulk read ep %d: %w", ep, err)
		}
		if len(chunk) == 0 {
			empty++
			if empty > c.cfg.MaxRetries {
				break
			}
			continue
		}
		empty = 0
		buf = append(buf, chunk...)
	}
	if len(buf) != n {
		return nil, NewProtocolError(KindFrameSizeMismatch, "bulk read", "expected %d bytes, got %d", n, len(buf))
	}
	return buf, nil
}

func (c *Codec) command(ctx context.Context, opcode byte, payload []byte) ([]byte, error) {
	op := fmt.Sprintf("cmd 0x%02x", opcode)
	frame, err := Command{Opcode: opcode, Payload: payload}.Encode()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	n, err := c.port.Write(ctx, c.cfg.OutEndpoint, frame)
	if err != nil {
		return nil, fmt.Errorf("%s: write: %w", op, err)
	}
	if n != len(frame) {
		return nil, fmt.Errorf("%s: short write %d/%d", op, n, len(frame))
	}

	first, err := c.readFirst(ctx, op)
	if err != nil {
		return nil, err
	}
	if len(first) < ResponseHeaderSize {
		return nil, NewProtocolError(KindShortHeader, op, "got %d bytes", len(first))
	}
	declared := int(binary.LittleEndian.Uint32(first))
	resp := c.take(make([]byte, 0, min(declared, c.cfg.ChunkSize)), first[ResponseHeaderSize:], declared)

	empty := 0
	for len(resp) < declared {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunk, err := c.readIn(ctx, c.cfg.ChunkSize)
		if err != nil {
			return nil, fmt.Errorf("%s: read: %w", op, err)
		}
		if len(chunk) == 0 {
			empty++
			if empty > c.cfg.MaxRetries {
				return nil, NewProtocolError(KindIncomplete, op, "have %d of %d bytes", len(resp), declared)
			}
			continue
		}
		empty = 0
		resp = c.take(resp, chunk, declared)
	}

	c.logger.Debug("command done",
		zap.Uint8("opcode", opcode),
		zap.Int("req_len", len(payload)),
		zap.Int("resp_len", len(resp)),
	)
	return resp, nil
}

// readFirst 读取带长度头的首个分片，超时空读按重试上限计
func (c *Codec) readFirst(ctx context.Context, op string) ([]byte, error) {
	for empty := 0; ; empty++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if empty > c.cfg.MaxRetries {
			return nil, fmt.Errorf("%s: no response: %w", op, ErrTimeout)
		}
		chunk, err := c.readIn(ctx, c.cfg.ChunkSize)
		if err != nil {
			return nil, fmt.Errorf("%s: read: %w", op, err)
		}
		if len(chunk) > 0 {
			return chunk, nil
		}
	}
}

// readIn 优先返回上次遗留的字节
func (c *Codec) readIn(ctx context.Context, size int) ([]byte, error) {
	if len(c.pending) > 0 {
		n := min(size, len(c.pending))
		out := c.pending[:n:n]
		c.pending = c.pending[n:]
		if len(c.pending) == 0 {
			c.pending = nil
		}
		return out, nil
	}
	return c.port.Read(ctx, c.cfg.InEndpoint, size, c.cfg.ReadTimeout)
}

// take 追加至声明长度，多余部分留待下次读取
func (c *Codec) take(resp, chunk []byte, declared int) []byte {
	need := declared - len(resp)
	if len(chunk) > need {
		extra := make([]byte, len(chunk)-need, len(chunk)-need+len(c.pending))
		copy(extra, chunk[need:])
		c.pending = append(extra, c.pending...)
		chunk = chunk[:need]
	}
	return append(resp, chunk...)
}
