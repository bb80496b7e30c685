// Package wiretest 提供脚本化的假 USB 端口，供协议层测试使用
package wiretest

import (
	"context"
	"sync"
	"time"

	"github.com/taoyao-code/xray-bench/internal/protocol/wire"
)

// Written 一次写操作记录
type Written struct {
	EP   uint8
	Data []byte
}

// Handler 根据收到的命令返回响应载荷；ok=false 表示不应答
type Handler func(cmd wire.Command) (payload []byte, ok bool)

// Port 脚本化端口：读队列按端点保存，队列为空视为超时
type Port struct {
	mu     sync.Mutex
	writes []Written
	reads  map[uint8][][]byte

	// OutEP 写入该端点的数据按命令信封解析后交给 Handler
	OutEP uint8
	// InEP Handler 的响应放入该端点队列
	InEP uint8
	// Split 响应分片大小，0 表示不分片
	Split   int
	Handler Handler

	WriteErr error
	ReadErr  error
}

// New 创建使用 Dalsa 默认端点的假端口
func New() *Port {
	return &Port{OutEP: 5, InEP: 6, reads: make(map[uint8][][]byte)}
}

// Queue 向端点追加原始分片
func (p *Port) Queue(ep uint8, chunks ...[]byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range chunks {
		cp := make([]byte, len(c))
		copy(cp, c)
		p.reads[ep] = append(p.reads[ep], cp)
	}
}

// Respond 将载荷加上长度头后按 Split 分片放入 InEP
func (p *Port) Respond(payload []byte) {
	p.Queue(p.InEP, p.fragment(wire.EncodeResponse(payload))...)
}

func (p *Port) fragment(data []byte) [][]byte {
	if p.Split <= 0 || len(data) <= p.Split {
		return [][]byte{data}
	}
	var out [][]byte
	for len(data) > 0 {
		n := min(p.Split, len(data))
		out = append(out, data[:n])
		data = data[n:]
	}
	return out
}

// Writes 返回所有写操作记录
func (p *Port) Writes() []Written {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Written, len(p.writes))
	copy(out, p.writes)
	return out
}

// Commands 返回写入 OutEP 的已解析命令
func (p *Port) Commands() []wire.Command {
	var out []wire.Command
	for _, w := range p.Writes() {
		if w.EP != p.OutEP {
			continue
		}
		if cmd, err := wire.DecodeCommand(w.Data); err == nil {
			out = append(out, cmd)
		}
	}
	return out
}

// Pending 端点上尚未读取的字节数
func (p *Port) Pending(ep uint8) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.reads[ep] {
		n += len(c)
	}
	return n
}

func (p *Port) Write(_ context.Context, ep uint8, data []byte) (int, error) {
	if p.WriteErr != nil {
		return 0, p.WriteErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)

	p.mu.Lock()
	p.writes = append(p.writes, Written{EP: ep, Data: cp})
	h := p.Handler
	p.mu.Unlock()

	if h != nil && ep == p.OutEP {
		if cmd, err := wire.DecodeCommand(cp); err == nil {
			if payload, ok := h(cmd); ok {
				p.Respond(payload)
			}
		}
	}
	return len(data), nil
}

func (p *Port) Read(_ context.Context, ep uint8, max int, _ time.Duration) ([]byte, error) {
	if p.ReadErr != nil {
		return nil, p.ReadErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	q := p.reads[ep]
	if len(q) == 0 {
		return nil, nil
	}
	head := q[0]
	if len(head) > max {
		p.reads[ep][0] = head[max:]
		return head[:max], nil
	}
	p.reads[ep] = q[1:]
	return head, nil
}
