package faxitron

import (
	"fmt"
	"math"
	"strconv"

	"github.com/taoyao-code/xray-bench/internal/protocol/wire"
)

// 子命令
var (
	subGetState   = []byte("?S")
	subGetTime    = []byte("?T")
	subGetVoltage = []byte("?V")
	subGetMode    = []byte("?M")
	subBegin      = []byte("!B")
	subConfirm    = []byte("C")
	subPoll       = []byte{}
)

// 序列应答
const (
	replyBegin   = "X"
	replyConfirm = "P"
	replyDone    = "S"
)

// EncodeExposureTime 编码 "!T" + 4 位十分之一秒
// 舍入到 0 的值（t < 0.05）视为越界，设备不接受 !T0000
func EncodeExposureTime(seconds float64) ([]byte, error) {
	if math.IsNaN(seconds) || seconds <= 0 || seconds > MaxExposureTime || math.Round(seconds*10) == 0 {
		return nil, &wire.ValidationError{Kind: wire.OutOfRange, Field: "exposure_time", Value: seconds, Limit: "0.05 <= t <= 99.9"}
	}
	deci := int(math.Round(seconds * 10))
	return fmt.Appendf(nil, "!T%04d", deci), nil
}

// DecodeExposureTime 解析 "?T" + 4 位应答，返回秒
func DecodeExposureTime(resp []byte) (float64, error) {
	v, err := decodeFixed(resp, "?T", 4, "get_exposure_time")
	if err != nil {
		return 0, err
	}
	return float64(v) / 10, nil
}

// EncodeVoltage 编码 "!V" + 2 位 kV
func EncodeVoltage(kv int) ([]byte, error) {
	if kv <= 0 || kv > MaxVoltage {
		return nil, &wire.ValidationError{Kind: wire.OutOfRange, Field: "voltage", Value: kv, Limit: "0 < v <= 35"}
	}
	return fmt.Appendf(nil, "!V%02d", kv), nil
}

// DecodeVoltage 解析 "?V" + 2 位应答
func DecodeVoltage(resp []byte) (int, error) {
	return decodeFixed(resp, "?V", 2, "get_voltage")
}

// EncodeMode 编码 "!MF" / "!MR"
func EncodeMode(m Mode) ([]byte, error) {
	c, ok := m.code()
	if !ok {
		return nil, &wire.ValidationError{Kind: wire.InvalidEnum, Field: "mode", Value: m.String()}
	}
	return []byte{'!', 'M', c}, nil
}

// DecodeMode 解析 "?M" + 模式字母，未知字母返回 ModeUnknown
func DecodeMode(resp []byte) (Mode, error) {
	if len(resp) != 3 || string(resp[:2]) != "?M" {
		return ModeUnknown, wire.NewProtocolError(wire.KindUnexpectedResponse, "get_mode", "reply %q", resp)
	}
	return modeFromCode(resp[2]), nil
}

// DecodeState 解析 "?S" + 状态字母，未知字母返回 StateUnknown
func DecodeState(resp []byte) (Status, error) {
	if len(resp) != 3 || string(resp[:2]) != "?S" {
		return Status{Raw: string(resp)}, wire.NewProtocolError(wire.KindUnexpectedResponse, "get_state", "reply %q", resp)
	}
	return Status{State: stateFromCode(resp[2]), Raw: string(resp)}, nil
}

func decodeFixed(resp []byte, prefix string, width int, op string) (int, error) {
	if len(resp) != len(prefix)+width || string(resp[:len(prefix)]) != prefix {
		return 0, wire.NewProtocolError(wire.KindUnexpectedResponse, op, "reply %q", resp)
	}
	digits := resp[len(prefix):]
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, wire.NewProtocolError(wire.KindUnexpectedResponse, op, "reply %q", resp)
		}
	}
	v, err := strconv.Atoi(string(digits))
	if err != nil {
		return 0, wire.NewProtocolError(wire.KindUnexpectedResponse, op, "reply %q", resp)
	}
	return v, nil
}
