package dalsa

import (
	"encoding/binary"
	"fmt"

	"github.com/taoyao-code/xray-bench/internal/protocol/wire"
)

// StateSize 状态结构体线上长度：
// u32 row | u32 col | u32 phase | u8 readout_pin | bool busy | bool done | bool 保留
const StateSize = 4 + 4 + 4 + 1 + 1 + 1 + 1

// State 设备读出状态，只由设备修改，每次查询重新解码
type State struct {
	Row        uint32 `json:"row"`
	Col        uint32 `json:"col"`
	Phase      uint32 `json:"phase"` // 垂直相位计数
	ReadoutPin uint8  `json:"readout_pin"`
	Busy       bool   `json:"busy"`
	Done       bool   `json:"done"`
}

// Progress 读出进度（0~1）
func (s State) Progress() float64 {
	if s.Row >= TotalRows {
		return 1
	}
	return float64(s.Row) / float64(TotalRows)
}

// DecodeState 解码状态载荷，长度不符返回 ErrMalformedState
func DecodeState(b []byte) (State, error) {
	if len(b) != StateSize {
		return State{}, wire.NewProtocolError(wire.KindMalformedState, "get_state",
			"payload %d bytes, want %d", len(b), StateSize)
	}
	return State{
		Row:        binary.LittleEndian.Uint32(b[0:4]),
		Col:        binary.LittleEndian.Uint32(b[4:8]),
		Phase:      binary.LittleEndian.Uint32(b[8:12]),
		ReadoutPin: b[12],
		Busy:       b[13] != 0,
		Done:       b[14] != 0,
	}, nil
}

// Encode 编码为线上格式，供设备模拟与测试使用
func (s State) Encode() []byte {
	b := make([]byte, StateSize)
	binary.LittleEndian.PutUint32(b[0:4], s.Row)
	binary.LittleEndian.PutUint32(b[4:8], s.Col)
	binary.LittleEndian.PutUint32(b[8:12], s.Phase)
	b[12] = s.ReadoutPin
	b[13] = boolByte(s.Busy)
	b[14] = boolByte(s.Done)
	return b
}

func (s State) String() string {
	return fmt.Sprintf("row=%d col=%d phase=%d pin=%d busy=%t done=%t",
		s.Row, s.Col, s.Phase, s.ReadoutPin, s.Busy, s.Done)
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
