package bootstrap

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taoyao-code/xray-bench/internal/api"
	"github.com/taoyao-code/xray-bench/internal/api/middleware"
	"github.com/taoyao-code/xray-bench/internal/app"
	"github.com/taoyao-code/xray-bench/internal/bench"
	cfgpkg "github.com/taoyao-code/xray-bench/internal/config"
	"github.com/taoyao-code/xray-bench/internal/health"
	"github.com/taoyao-code/xray-bench/internal/httpserver"
	"github.com/taoyao-code/xray-bench/internal/metrics"
	"github.com/taoyao-code/xray-bench/internal/protocol/debuglog"
)

// Run 统一启动流程：设备就绪后再对外提供 HTTP 控制台
func Run(cfg *cfgpkg.Config, log *zap.Logger) error {
	log.Info("starting xray bench", zap.String("env", cfg.App.Env))

	// ========== 阶段1: 指标 ==========
	reg := metrics.NewRegistry()
	appm := metrics.NewAppMetrics(reg)

	// ========== 阶段2: Teensy（必需，失败直接返回）==========
	link, err := app.OpenDalsa(cfg.Dalsa, appm, log)
	if err != nil {
		log.Error("open dalsa teensy failed", zap.Error(err))
		return err
	}
	defer link.Close()
	log.Info("dalsa teensy ready")

	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()

	healthAgg := health.NewAggregator(2*time.Second,
		health.NewDeviceChecker("dalsa", link.Sensor.Ping, true),
	)

	// ========== 阶段3: X 射线柜（可选）==========
	handler := api.NewHandler(link.Sensor, nil, log.Named("api"))
	deps := bench.Deps{
		Sensor:      link.Sensor,
		Drainer:     link.Codec,
		Reconnector: link.Device,
		Metrics:     appm,
	}
	if cfg.Faxitron.Enable {
		cabinet, closer, err := app.OpenCabinet(cfg.Faxitron, link, log)
		if err != nil {
			log.Error("open faxitron failed", zap.Error(err))
			return err
		}
		if closer != nil {
			closers = append(closers, closer)
		}
		presets, err := app.LoadPresets(cfg.Faxitron.PresetsFile)
		if err != nil {
			log.Error("load presets failed", zap.Error(err))
			return err
		}
		deps.Exposer = cabinet
		deps.CabinetDrainer = cabinet
		if cfg.Faxitron.Link != "serial" {
			deps.CabinetReconnector = link.Device
		}
		handler.Cabinet = cabinet
		handler.Presets = presets
		healthAgg.AddChecker(health.NewDeviceChecker("faxitron", func(ctx context.Context) error {
			_, err := cabinet.GetState(ctx)
			return err
		}, false))
		log.Info("faxitron ready", zap.String("link", cfg.Faxitron.Link), zap.Int("presets", len(presets.List())))
	}

	// ========== 阶段4: FX3 板（可选，失败只降级）==========
	if cfg.FX3.Enable {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		board, closer, err := app.OpenFX3(ctx, cfg.FX3, log)
		cancel()
		if err != nil {
			log.Warn("fx3 unavailable", zap.Error(err))
		} else {
			closers = append(closers, closer)
			handler.Logs = board
			handler.OnLogs = func(recs []debuglog.Record) {
				for _, r := range recs {
					appm.DebugLogTotal.WithLabelValues(r.Kind.String()).Inc()
				}
			}
			log.Info("fx3 ready")
		}
	}

	// ========== 阶段5: 任务调度 ==========
	runner := bench.NewRunner(deps, bench.DefaultConfig(), log.Named("bench"))
	defer runner.Close()
	handler.Jobs = runner

	// ========== 阶段6: HTTP 控制台 ==========
	metricsHandler := metrics.Handler(reg)
	if !cfg.Metrics.Enable {
		metricsHandler = nil
	}
	httpSrv := httpserver.New(cfg.HTTP, cfg.Metrics.Path, metricsHandler, healthAgg.Ready, log.Named("http"),
		func(r *gin.Engine) {
			api.RegisterRoutes(r, handler,
				middleware.AuthConfig{Enabled: cfg.Auth.Enabled, APIKeys: cfg.Auth.APIKeys},
				middleware.RateLimitConfig{
					Enabled:       cfg.RateLimit.Enabled,
					RatePerSecond: cfg.RateLimit.RatePerSecond,
					Burst:         cfg.RateLimit.Burst,
				},
				log.Named("api"),
			)
			health.RegisterHTTPRoutes(r, healthAgg)
		},
	)
	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.Start() }()
	log.Info("http console started", zap.String("addr", cfg.HTTP.Addr))

	// ========== 阶段7: 等待关闭信号 ==========
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		log.Info("received shutdown signal, gracefully shutting down...")
	case err := <-errCh:
		if err != nil {
			log.Error("http server error", zap.Error(err))
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	log.Info("shutdown complete")
	return nil
}
