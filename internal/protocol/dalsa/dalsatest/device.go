// Package dalsatest 提供 Dalsa Teensy（含 Faxitron 透传）的行为模拟器
package dalsatest

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"sync"

	"github.com/taoyao-code/xray-bench/internal/protocol/dalsa"
	"github.com/taoyao-code/xray-bench/internal/protocol/wire"
	"github.com/taoyao-code/xray-bench/internal/protocol/wire/wiretest"
)

// Device 模拟设备，挂在 wiretest.Port 上按命令应答
type Device struct {
	mu   sync.Mutex
	Port *wiretest.Port

	// 传感器
	RowsPerPoll uint32
	Pixel       func(i int) uint16
	row         uint32
	busy        bool
	done        bool
	readouts    int

	// Faxitron
	FaxState       string // W / D / R
	ExposureDeci   int
	Voltage        int
	Mode           string // F / R
	BeginReply     string
	ConfirmReply   string
	FinishReply    string
	PollsUntilDone int
	firing         int // 0 空闲，1 已 begin，2 已 confirm
	polls          int
	exposures      int
	subCommands    []string
}

// New 创建模拟器，默认每次状态查询推进 258 行（4 次完成）
func New() *Device {
	d := &Device{
		Port:           wiretest.New(),
		RowsPerPoll:    dalsa.TotalRows / 4,
		Pixel:          func(i int) uint16 { return uint16(i % 1024) },
		FaxState:       "R",
		ExposureDeci:   300,
		Voltage:        20,
		Mode:           "F",
		BeginReply:     "X",
		ConfirmReply:   "P",
		FinishReply:    "S",
		PollsUntilDone: 3,
	}
	d.Port.Handler = d.handle
	return d
}

// Readouts 已触发的读出次数
func (d *Device) Readouts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readouts
}

// Exposures 完成的曝光次数
func (d *Device) Exposures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.exposures
}

// SubCommands 收到的 Faxitron 子命令
func (d *Device) SubCommands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.subCommands...)
}

// SetBusy 模拟读出进行中
func (d *Device) SetBusy(busy bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.busy = busy
}

func (d *Device) handle(cmd wire.Command) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch cmd.Opcode {
	case dalsa.OpPing:
		return []byte{dalsa.PingSentinel}, true
	case dalsa.OpGetState:
		if d.busy {
			d.row += d.RowsPerPoll
			if d.row >= dalsa.TotalRows {
				d.row, d.busy, d.done = dalsa.TotalRows, false, true
			}
		}
		st := dalsa.State{Row: d.row, Col: 0, ReadoutPin: 14, Busy: d.busy, Done: d.done}
		return st.Encode(), true
	case dalsa.OpStartReadout:
		if d.busy {
			return []byte{1}, true
		}
		d.row, d.busy, d.done = 0, true, false
		d.readouts++
		return []byte{0}, true
	case dalsa.OpGetFrame:
		d.Port.Queue(dalsa.BulkInEP, d.frame()...)
		n := make([]byte, 4)
		binary.LittleEndian.PutUint32(n, dalsa.FrameBytes)
		return n, true
	case dalsa.OpFaxitron:
		return []byte(d.faxitron(string(cmd.Payload))), true
	}
	return nil, false
}

func (d *Device) frame() [][]byte {
	buf := make([]byte, dalsa.FrameBytes)
	for i := 0; i < dalsa.FrameBytes/2; i++ {
		binary.LittleEndian.PutUint16(buf[2*i:], d.Pixel(i))
	}
	const chunk = 1 << 16
	var out [][]byte
	for len(buf) > 0 {
		n := min(chunk, len(buf))
		out = append(out, buf[:n])
		buf = buf[n:]
	}
	return out
}

func (d *Device) faxitron(sub string) string {
	d.subCommands = append(d.subCommands, sub)
	switch {
	case sub == "?S":
		return "?S" + d.FaxState
	case sub == "?T":
		return fmt.Sprintf("?T%04d", d.ExposureDeci)
	case sub == "?V":
		return fmt.Sprintf("?V%02d", d.Voltage)
	case sub == "?M":
		return "?M" + d.Mode
	case len(sub) == 6 && sub[:2] == "!T":
		if v, err := strconv.Atoi(sub[2:]); err == nil {
			d.ExposureDeci = v
		}
		return sub
	case len(sub) == 4 && sub[:2] == "!V":
		if v, err := strconv.Atoi(sub[2:]); err == nil {
			d.Voltage = v
		}
		return sub
	case sub == "!MF" || sub == "!MR":
		d.Mode = sub[2:]
		return sub
	case sub == "!B":
		d.firing, d.polls = 1, 0
		return d.BeginReply
	case sub == "C":
		if d.firing == 1 {
			d.firing = 2
		}
		return d.ConfirmReply
	case sub == "":
		if d.firing != 2 {
			return ""
		}
		d.polls++
		if d.PollsUntilDone >= 0 && d.polls > d.PollsUntilDone {
			d.firing = 0
			d.exposures++
			return d.FinishReply
		}
		return ""
	}
	return ""
}
