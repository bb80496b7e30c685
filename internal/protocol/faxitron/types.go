// Package faxitron 实现 Faxitron 曝光控制 ASCII 子协议
//
// 子命令既可经由 Dalsa Teensy 的 0x10 命令透传（DalsaTunnel），
// 也可直接走 RS-232（SerialTunnel）。
package faxitron

import (
	"fmt"

	"github.com/taoyao-code/xray-bench/internal/protocol/wire"
)

// 取值范围
const (
	MaxExposureTime = 99.9 // 秒
	MaxVoltage      = 35   // kV
)

// Mode 控制模式
type Mode int

const (
	ModeUnknown Mode = iota
	ModeFrontPanel
	ModeRemote
)

func (m Mode) String() string {
	switch m {
	case ModeFrontPanel:
		return "front_panel"
	case ModeRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// code 线上字母
func (m Mode) code() (byte, bool) {
	switch m {
	case ModeFrontPanel:
		return 'F', true
	case ModeRemote:
		return 'R', true
	}
	return 0, false
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ParseMode 解析模式名称，仅接受 front_panel / remote
func ParseMode(name string) (Mode, error) {
	switch name {
	case "front_panel":
		return ModeFrontPanel, nil
	case "remote":
		return ModeRemote, nil
	}
	return ModeUnknown, &wire.ValidationError{Kind: wire.InvalidEnum, Field: "mode", Value: name}
}

func modeFromCode(c byte) Mode {
	switch c {
	case 'F':
		return ModeFrontPanel
	case 'R':
		return ModeRemote
	}
	return ModeUnknown
}

// State 设备状态
type State int

const (
	StateUnknown State = iota
	StateWarmingUp
	StateDoorOpen
	StateReady
)

func (s State) String() string {
	switch s {
	case StateWarmingUp:
		return "warming_up"
	case StateDoorOpen:
		return "door_open"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func stateFromCode(c byte) State {
	switch c {
	case 'W':
		return StateWarmingUp
	case 'D':
		return StateDoorOpen
	case 'R':
		return StateReady
	}
	return StateUnknown
}

// Status 一次查询的解析结果，保留原始应答便于排查未知代码
type Status struct {
	State State  `json:"state"`
	Raw   string `json:"raw"`
}

func (s Status) String() string {
	if s.State == StateUnknown {
		return fmt.Sprintf("unknown(%q)", s.Raw)
	}
	return s.State.String()
}
