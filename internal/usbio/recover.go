package usbio

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/xray-bench/internal/clock"
	"github.com/taoyao-code/xray-bench/internal/protocol/wire"
)

// Finder 判断设备是否在线
type Finder interface {
	Present(vid, pid uint16) (bool, error)
}

// FinderFunc 函数适配器
type FinderFunc func(vid, pid uint16) (bool, error)

func (f FinderFunc) Present(vid, pid uint16) (bool, error) { return f(vid, pid) }

// BusFinder 使用 gousb 枚举
var BusFinder Finder = FinderFunc(Present)

// Flasher 将固件镜像下载到 bootloader 设备
type Flasher interface {
	Flash(ctx context.Context, image string) error
}

// ExecFlasher 调用外部下载工具：<tool> -t RAM -i <image>
type ExecFlasher struct {
	Tool string
}

func (f ExecFlasher) Flash(ctx context.Context, image string) error {
	out, err := exec.CommandContext(ctx, f.Tool, "-t", "RAM", "-i", image).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", f.Tool, err, out)
	}
	return nil
}

// RecoveryConfig bootloader 恢复参数
type RecoveryConfig struct {
	VendorID           uint16
	ProductID          uint16
	BootloaderVendorID uint16
	BootloaderProduct  uint16
	Image              string
	SettleDelay        time.Duration
	Attempts           int
	Interval           time.Duration
}

// DefaultRecoveryConfig Faxitron FX3：20 次、每次 100ms
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		VendorID:           0x1996,
		ProductID:          0x0001,
		BootloaderVendorID: 0x04b4,
		BootloaderProduct:  0x00f3,
		SettleDelay:        2 * time.Second,
		Attempts:           20,
		Interval:           100 * time.Millisecond,
	}
}

// Recover 设备停在 bootloader 时先下载镜像，再等待应用 VID/PID 出现
// 刷写失败时本次会话不可用，直接返回错误
func Recover(ctx context.Context, finder Finder, flasher Flasher, clk clock.Clock, cfg RecoveryConfig, logger *zap.Logger) error {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	inBoot, err := finder.Present(cfg.BootloaderVendorID, cfg.BootloaderProduct)
	if err != nil {
		return err
	}
	if inBoot {
		logger.Info("device in bootloader, downloading image", zap.String("image", cfg.Image))
		if err := flasher.Flash(ctx, cfg.Image); err != nil {
			return fmt.Errorf("flash firmware: %w", err)
		}
		if err := clk.Sleep(ctx, cfg.SettleDelay); err != nil {
			return err
		}
	}

	for i := 0; i < cfg.Attempts; i++ {
		ok, err := finder.Present(cfg.VendorID, cfg.ProductID)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if err := clk.Sleep(ctx, cfg.Interval); err != nil {
			return err
		}
	}
	return fmt.Errorf("%04x:%04x not present after %d attempts: %w",
		cfg.VendorID, cfg.ProductID, cfg.Attempts, wire.ErrDeviceNotFound)
}
