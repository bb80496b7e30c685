package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// 信封格式常量
const (
	// CommandHeaderSize 命令头：opcode(1) + 长度(4, LE)
	CommandHeaderSize = 1 + 4
	// ResponseHeaderSize 响应头：长度(4, LE)
	ResponseHeaderSize = 4
	// DefaultChunkSize 单次控制端点读取上限
	DefaultChunkSize = 512
)

// Command 一条待发送的二进制命令
type Command struct {
	Opcode  byte
	Payload []byte
}

// Encode 编码为 opcode | u32le(len) | payload
func (c Command) Encode() ([]byte, error) {
	if uint64(len(c.Payload)) > math.MaxUint32 {
		return nil, fmt.Errorf("payload too large: %d bytes", len(c.Payload))
	}
	buf := make([]byte, CommandHeaderSize, CommandHeaderSize+len(c.Payload))
	buf[0] = c.Opcode
	binary.LittleEndian.PutUint32(buf[1:], uint32(len(c.Payload)))
	return append(buf, c.Payload...), nil
}

// DecodeCommand 解析命令信封，主要用于测试桩与回环
func DecodeCommand(data []byte) (Command, error) {
	if len(data) < CommandHeaderSize {
		return Command{}, fmt.Errorf("command too short: %d bytes", len(data))
	}
	n := binary.LittleEndian.Uint32(data[1:])
	if uint64(len(data)-CommandHeaderSize) < uint64(n) {
		return Command{}, fmt.Errorf("incomplete command: declared %d, got %d", n, len(data)-CommandHeaderSize)
	}
	payload := make([]byte, n)
	copy(payload, data[CommandHeaderSize:])
	return Command{Opcode: data[0], Payload: payload}, nil
}

// EncodeResponse 编码响应信封 u32le(len) | payload
func EncodeResponse(payload []byte) []byte {
	buf := make([]byte, ResponseHeaderSize, ResponseHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(len(payload)))
	return append(buf, payload...)
}
