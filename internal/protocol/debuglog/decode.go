// Package debuglog 解码 FX3 调试中断端点上的日志帧
//
// 每条记录以 8 字节头开始：u8 priority | u8 thread | u16le id | u32le param。
// id > 0xFFEE 时 param 为其后文本的字节数，否则 param 为数值参数。
package debuglog

import (
	"encoding/binary"
	"fmt"
	"strings"
)

const (
	HeaderSize = 8
	// MaxStructuredID 不超过该值的 id 为结构化记录
	MaxStructuredID = 0xFFEE
)

// Kind 记录类型
type Kind int

const (
	KindStructured Kind = iota
	KindText
)

func (k Kind) String() string {
	if k == KindText {
		return "text"
	}
	return "structured"
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Record 一条日志
type Record struct {
	Kind     Kind   `json:"kind"`
	Priority uint8  `json:"priority"`
	Thread   uint8  `json:"thread"`
	ID       uint16 `json:"id"`
	Param    uint32 `json:"param"`
	Message  string `json:"message,omitempty"`
}

func (r Record) String() string {
	if r.Kind == KindText {
		return fmt.Sprintf("Debug: Priority: %d Thread: %d Id: 0x%x Log: %s", r.Priority, r.Thread, r.ID, r.Message)
	}
	return fmt.Sprintf("Structured: Priority: %d Thread: %d Id: 0x%x Param: 0x%x", r.Priority, r.Thread, r.ID, r.Param)
}

// Decode 依次解码 buf 中的全部记录，返回记录与未消费的字节数
// 末尾不足 8 字节的残头被丢弃（计入未消费）；文本超出 buf 时取剩余部分
func Decode(buf []byte) ([]Record, int) {
	var out []Record
	for len(buf) >= HeaderSize {
		r := Record{
			Priority: buf[0],
			Thread:   buf[1],
			ID:       binary.LittleEndian.Uint16(buf[2:4]),
			Param:    binary.LittleEndian.Uint32(buf[4:8]),
		}
		buf = buf[HeaderSize:]
		if r.ID > MaxStructuredID {
			n := len(buf)
			if uint64(r.Param) < uint64(n) {
				n = int(r.Param)
			}
			r.Kind = KindText
			r.Message = strings.ToValidUTF8(string(buf[:n]), "�")
			buf = buf[n:]
		}
		out = append(out, r)
	}
	return out, len(buf)
}

// Encode 编码记录，供模拟与测试使用；文本记录的 Param 取消息长度
func Encode(records ...Record) []byte {
	var b []byte
	for _, r := range records {
		h := make([]byte, HeaderSize)
		h[0], h[1] = r.Priority, r.Thread
		binary.LittleEndian.PutUint16(h[2:4], r.ID)
		param := r.Param
		if r.ID > MaxStructuredID {
			param = uint32(len(r.Message))
		}
		binary.LittleEndian.PutUint32(h[4:8], param)
		b = append(b, h...)
		if r.ID > MaxStructuredID {
			b = append(b, r.Message...)
		}
	}
	return b
}
