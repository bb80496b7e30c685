package app

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/xray-bench/internal/config"
	"github.com/taoyao-code/xray-bench/internal/metrics"
	"github.com/taoyao-code/xray-bench/internal/protocol/dalsa"
	"github.com/taoyao-code/xray-bench/internal/protocol/faxitron"
	"github.com/taoyao-code/xray-bench/internal/protocol/fx3"
	"github.com/taoyao-code/xray-bench/internal/protocol/wire"
	"github.com/taoyao-code/xray-bench/internal/usbio"
)

// DalsaLink Teensy 链路：USB 句柄、编解码器与传感器客户端
type DalsaLink struct {
	Device *usbio.Device
	Codec  *wire.Codec
	Sensor *dalsa.Client
}

func (l *DalsaLink) Close() error { return l.Device.Close() }

// WireConfig 由配置生成编解码参数
func WireConfig(cfg cfgpkg.DalsaConfig) wire.Config {
	wc := wire.DefaultConfig()
	wc.OutEndpoint = cfg.OutEndpoint
	wc.InEndpoint = cfg.InEndpoint
	if cfg.ChunkSize > 0 {
		wc.ChunkSize = cfg.ChunkSize
	}
	if cfg.ReadTimeout > 0 {
		wc.ReadTimeout = cfg.ReadTimeout
	}
	wc.MaxRetries = cfg.MaxRetries
	return wc
}

// ReadoutConfig 由配置生成读出轮询参数
func ReadoutConfig(cfg cfgpkg.DalsaConfig) dalsa.ReadoutConfig {
	rc := dalsa.DefaultReadoutConfig()
	if cfg.PollInterval > 0 {
		rc.PollInterval = cfg.PollInterval
	}
	rc.MaxPolls = cfg.MaxPolls
	if cfg.BulkEndpoint != 0 {
		rc.BulkEndpoint = cfg.BulkEndpoint
	}
	return rc
}

// OpenDalsa 打开 Teensy 并组装协议栈
func OpenDalsa(cfg cfgpkg.DalsaConfig, m *metrics.AppMetrics, log *zap.Logger) (*DalsaLink, error) {
	dev, err := usbio.Open(usbio.Config{
		VendorID:     cfg.VendorID,
		ProductID:    cfg.ProductID,
		Interface:    cfg.Interface,
		WriteTimeout: cfg.WriteTimeout,
	}, log.Named("usb"))
	if err != nil {
		return nil, err
	}
	codec := wire.NewCodec(dev, WireConfig(cfg),
		wire.WithLogger(log.Named("wire")),
		wire.WithObserver(m.ObserveCommand),
	)
	return &DalsaLink{
		Device: dev,
		Codec:  codec,
		Sensor: dalsa.NewClient(codec, ReadoutConfig(cfg), nil, log.Named("dalsa")),
	}, nil
}

// OpenCabinet 按 link 选择透传或串口直连；返回的 Closer 可能为 nil
func OpenCabinet(cfg cfgpkg.FaxitronConfig, link *DalsaLink, log *zap.Logger) (*faxitron.Client, io.Closer, error) {
	fc := faxitron.DefaultConfig()
	if cfg.Margin > 0 {
		fc.Margin = cfg.Margin
	}
	if cfg.PollInterval > 0 {
		fc.PollInterval = cfg.PollInterval
	}

	var (
		tun    faxitron.Tunnel
		closer io.Closer
	)
	switch cfg.Link {
	case "serial":
		st, err := faxitron.OpenSerial(faxitron.SerialConfig{
			Port:        cfg.Serial.Port,
			BaudRate:    cfg.Serial.BaudRate,
			ReadTimeout: cfg.Serial.ReadTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		tun, closer = st, st
	default:
		if link == nil {
			return nil, nil, fmt.Errorf("faxitron link dalsa: %w", wire.ErrDeviceNotFound)
		}
		tun = faxitron.DalsaTunnel{Conn: link.Codec}
	}
	return faxitron.NewClient(tun, fc, nil, log.Named("faxitron")), closer, nil
}

// LoadPresets 未配置文件时返回空表
func LoadPresets(path string) (*faxitron.Presets, error) {
	if path == "" {
		return faxitron.ParsePresets(nil)
	}
	return faxitron.LoadPresets(path)
}

// OpenFX3 必要时先从 bootloader 恢复，再打开板卡
func OpenFX3(ctx context.Context, cfg cfgpkg.FX3Config, log *zap.Logger) (*fx3.Board, io.Closer, error) {
	rc := usbio.DefaultRecoveryConfig()
	rc.VendorID, rc.ProductID = cfg.VendorID, cfg.ProductID
	rc.BootloaderVendorID, rc.BootloaderProduct = cfg.BootloaderVendorID, cfg.BootloaderProduct
	rc.Image = cfg.Image
	rc.SettleDelay = cfg.SettleDelay
	rc.Attempts = cfg.Attempts
	rc.Interval = cfg.Interval

	if err := usbio.Recover(ctx, usbio.BusFinder, usbio.ExecFlasher{Tool: cfg.FlashTool}, nil, rc, log.Named("fx3")); err != nil {
		return nil, nil, err
	}
	dev, err := usbio.Open(usbio.Config{
		VendorID:  cfg.VendorID,
		ProductID: cfg.ProductID,
		Interface: fx3.Interface,
	}, log.Named("fx3"))
	if err != nil {
		return nil, nil, err
	}
	bc := fx3.DefaultConfig()
	if cfg.LogTimeout > 0 {
		bc.LogTimeout = cfg.LogTimeout
	}
	return fx3.NewBoard(dev, dev, bc, log.Named("fx3")), dev, nil
}
