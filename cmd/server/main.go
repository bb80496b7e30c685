package main

import (
	"flag"
	"os"

	"go.uber.org/zap"

	"github.com/taoyao-code/xray-bench/internal/app"
	"github.com/taoyao-code/xray-bench/internal/app/bootstrap"
	cfgpkg "github.com/taoyao-code/xray-bench/internal/config"
	"github.com/taoyao-code/xray-bench/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "config file (default: $XRB_CONFIG or configs/example.yaml)")
	flag.Parse()

	// 1) 加载配置
	cfg, err := cfgpkg.Load(*configPath)
	if err != nil {
		panic(err)
	}

	// 2) 初始化日志
	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("instance", app.InstanceID()))
	zap.ReplaceGlobals(logger)

	// 3) 启动
	if err := bootstrap.Run(cfg, logger); err != nil {
		logger.Error("bench exited with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}
