// Package usbio 基于 gousb 的 USB 传输层
//
// 单次批量/中断传输；读超时返回空结果而不是错误。
package usbio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"
	"go.uber.org/zap"

	"github.com/taoyao-code/xray-bench/internal/protocol/wire"
)

// Transport 传输层契约
type Transport interface {
	wire.Port
	Close() error
}

// Config 设备打开参数
type Config struct {
	VendorID   uint16
	ProductID  uint16
	Interface  int
	AltSetting int
	// ConfigNum 0 表示使用当前激活配置
	ConfigNum int
	// WriteTimeout 单次写超时，0 表示仅受 ctx 约束
	WriteTimeout time.Duration
}

// Device 已声明接口的 USB 设备句柄
type Device struct {
	mu     sync.Mutex
	cfg    Config
	logger *zap.Logger

	usb  *gousb.Context
	dev  *gousb.Device
	conf *gousb.Config
	intf *gousb.Interface
	in   map[uint8]*gousb.InEndpoint
	out  map[uint8]*gousb.OutEndpoint
}

// Open 按 VID/PID 打开设备并声明接口；设备不存在返回 wire.ErrDeviceNotFound
func Open(cfg Config, logger *zap.Logger) (*Device, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Device{cfg: cfg, logger: logger}
	if err := d.Reconnect(); err != nil {
		return nil, err
	}
	return d, nil
}

// Reconnect 关闭已有句柄后重新打开
func (d *Device) Reconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeLocked()

	usb := gousb.NewContext()
	dev, err := usb.OpenDeviceWithVIDPID(gousb.ID(d.cfg.VendorID), gousb.ID(d.cfg.ProductID))
	if err != nil {
		_ = usb.Close()
		return fmt.Errorf("open %04x:%04x: %w", d.cfg.VendorID, d.cfg.ProductID, err)
	}
	if dev == nil {
		_ = usb.Close()
		return fmt.Errorf("%04x:%04x: %w", d.cfg.VendorID, d.cfg.ProductID, wire.ErrDeviceNotFound)
	}
	_ = dev.SetAutoDetach(true)

	num := d.cfg.ConfigNum
	if num == 0 {
		if num, err = dev.ActiveConfigNum(); err != nil {
			_ = dev.Close()
			_ = usb.Close()
			return fmt.Errorf("active config: %w", err)
		}
	}
	conf, err := dev.Config(num)
	if err != nil {
		_ = dev.Close()
		_ = usb.Close()
		return fmt.Errorf("config %d: %w", num, err)
	}
	intf, err := conf.Interface(d.cfg.Interface, d.cfg.AltSetting)
	if err != nil {
		_ = conf.Close()
		_ = dev.Close()
		_ = usb.Close()
		return fmt.Errorf("claim interface %d: %w", d.cfg.Interface, err)
	}

	d.usb, d.dev, d.conf, d.intf = usb, dev, conf, intf
	d.in = make(map[uint8]*gousb.InEndpoint)
	d.out = make(map[uint8]*gousb.OutEndpoint)
	d.logger.Info("usb device connected",
		zap.String("vid_pid", fmt.Sprintf("%04x:%04x", d.cfg.VendorID, d.cfg.ProductID)),
		zap.Int("interface", d.cfg.Interface),
	)
	return nil
}

// Write 单次批量/中断写
func (d *Device) Write(ctx context.Context, ep uint8, data []byte) (int, error) {
	d.mu.Lock()
	out, err := d.outEndpoint(ep)
	d.mu.Unlock()
	if err != nil {
		return 0, err
	}
	if d.cfg.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.WriteTimeout)
		defer cancel()
	}
	n, err := out.WriteContext(ctx, data)
	if err != nil {
		return n, fmt.Errorf("write ep %d: %w", ep, err)
	}
	return n, nil
}

// Read 单次读取至多 max 字节；超时返回空切片与 nil
func (d *Device) Read(ctx context.Context, ep uint8, max int, timeout time.Duration) ([]byte, error) {
	d.mu.Lock()
	in, err := d.inEndpoint(ep)
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if max <= 0 {
		max = in.Desc.MaxPacketSize
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	buf := make([]byte, max)
	n, err := in.ReadContext(rctx, buf)
	if err != nil {
		if perr := ctx.Err(); perr != nil {
			return nil, perr
		}
		if isTimeout(err) {
			return buf[:n], nil
		}
		return nil, fmt.Errorf("read ep %d: %w", ep, err)
	}
	return buf[:n], nil
}

// Control 厂商控制传输
func (d *Device) Control(rType, request uint8, val, idx uint16, data []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dev == nil {
		return 0, fmt.Errorf("control: %w", wire.ErrDeviceNotFound)
	}
	return d.dev.Control(rType, request, val, idx, data)
}

// Close 释放接口与设备
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeLocked()
	return nil
}

func (d *Device) closeLocked() {
	if d.intf != nil {
		d.intf.Close()
	}
	if d.conf != nil {
		_ = d.conf.Close()
	}
	if d.dev != nil {
		_ = d.dev.Close()
	}
	if d.usb != nil {
		_ = d.usb.Close()
	}
	d.usb, d.dev, d.conf, d.intf = nil, nil, nil, nil
	d.in, d.out = nil, nil
}

func (d *Device) inEndpoint(ep uint8) (*gousb.InEndpoint, error) {
	if d.intf == nil {
		return nil, fmt.Errorf("ep %d: %w", ep, wire.ErrDeviceNotFound)
	}
	if e, ok := d.in[ep]; ok {
		return e, nil
	}
	e, err := d.intf.InEndpoint(int(ep))
	if err != nil {
		return nil, fmt.Errorf("in endpoint %d: %w", ep, err)
	}
	d.in[ep] = e
	return e, nil
}

func (d *Device) outEndpoint(ep uint8) (*gousb.OutEndpoint, error) {
	if d.intf == nil {
		return nil, fmt.Errorf("ep %d: %w", ep, wire.ErrDeviceNotFound)
	}
	if e, ok := d.out[ep]; ok {
		return e, nil
	}
	e, err := d.intf.OutEndpoint(int(ep))
	if err != nil {
		return nil, fmt.Errorf("out endpoint %d: %w", ep, err)
	}
	d.out[ep] = e
	return e, nil
}

func isTimeout(err error) bool {
	return errors.Is(err, gousb.ErrorTimeout) ||
		errors.Is(err, gousb.TransferTimedOut) ||
		errors.Is(err, gousb.TransferCancelled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Present 枚举总线判断 VID/PID 是否在线，不打开设备
func Present(vid, pid uint16) (bool, error) {
	usb := gousb.NewContext()
	defer usb.Close()

	found := false
	_, err := usb.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if desc.Vendor == gousb.ID(vid) && desc.Product == gousb.ID(pid) {
			found = true
		}
		return false
	})
	if err != nil && !found {
		return false, fmt.Errorf("enumerate: %w", err)
	}
	return found, nil
}
