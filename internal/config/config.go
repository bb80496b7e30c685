package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AppConfig 应用基础信息
type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
}

// LumberjackConfig 日志滚动（lumberjack）配置
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig 日志级别与输出配置
type LoggingConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	File   LumberjackConfig `mapstructure:"file"`
}

// MetricsConfig Prometheus 指标暴露配置
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// AuthConfig 控制台 API Key
type AuthConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	APIKeys []string `mapstructure:"apiKeys"`
}

// RateLimitConfig 控制台限流
type RateLimitConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	RatePerSecond int  `mapstructure:"ratePerSecond"`
	Burst         int  `mapstructure:"burst"`
}

// DalsaConfig Teensy 桥接板
type DalsaConfig struct {
	VendorID     uint16        `mapstructure:"vendorId"`
	ProductID    uint16        `mapstructure:"productId"`
	Interface    int           `mapstructure:"interface"`
	OutEndpoint  uint8         `mapstructure:"outEndpoint"`
	InEndpoint   uint8         `mapstructure:"inEndpoint"`
	BulkEndpoint uint8         `mapstructure:"bulkEndpoint"`
	ChunkSize    int           `mapstructure:"chunkSize"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	MaxRetries   int           `mapstructure:"maxRetries"`
	PollInterval time.Duration `mapstructure:"pollInterval"`
	MaxPolls     int           `mapstructure:"maxPolls"`
}

// SerialConfig RS-232 直连
type SerialConfig struct {
	Port        string        `mapstructure:"port"`
	BaudRate    int           `mapstructure:"baudRate"`
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
}

// FaxitronConfig X 射线柜
type FaxitronConfig struct {
	Enable bool `mapstructure:"enable"`
	// Link dalsa：经 Teensy 透传；serial：串口直连
	Link         string        `mapstructure:"link"`
	Serial       SerialConfig  `mapstructure:"serial"`
	Margin       time.Duration `mapstructure:"margin"`
	PollInterval time.Duration `mapstructure:"pollInterval"`
	PresetsFile  string        `mapstructure:"presetsFile"`
}

// FX3Config Faxitron FX3 板
type FX3Config struct {
	Enable             bool          `mapstructure:"enable"`
	VendorID           uint16        `mapstructure:"vendorId"`
	ProductID          uint16        `mapstructure:"productId"`
	BootloaderVendorID uint16        `mapstructure:"bootloaderVendorId"`
	BootloaderProduct  uint16        `mapstructure:"bootloaderProductId"`
	FlashTool          string        `mapstructure:"flashTool"`
	Image              string        `mapstructure:"image"`
	SettleDelay        time.Duration `mapstructure:"settleDelay"`
	Attempts           int           `mapstructure:"attempts"`
	Interval           time.Duration `mapstructure:"interval"`
	LogTimeout         time.Duration `mapstructure:"logTimeout"`
}

// Config 顶层配置结构
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"rateLimit"`
	Dalsa     DalsaConfig     `mapstructure:"dalsa"`
	Faxitron  FaxitronConfig  `mapstructure:"faxitron"`
	FX3       FX3Config       `mapstructure:"fx3"`
}

// Load 从 YAML/TOML/JSON 文件与环境变量加载配置。
// 若 path 为空，则尝试从环境变量 XRB_CONFIG 读取；否则回退到 configs/example.yaml。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = os.Getenv("XRB_CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.SetConfigName("example")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	// 环境变量覆盖：前缀 XRB_，并将点号替换为下划线
	v.SetEnvPrefix("XRB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// 首次运行允许缺少配置文件，依赖默认值与环境变量
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验相互依赖的配置项
func (c *Config) Validate() error {
	switch c.Faxitron.Link {
	case "dalsa":
	case "serial":
		if c.Faxitron.Serial.Port == "" {
			return errors.New("faxitron.serial.port is required when faxitron.link=serial")
		}
	default:
		return fmt.Errorf("faxitron.link %q: want dalsa or serial", c.Faxitron.Link)
	}
	if c.Dalsa.MaxRetries < 0 {
		return errors.New("dalsa.maxRetries must not be negative")
	}
	if c.Auth.Enabled && len(c.Auth.APIKeys) == 0 {
		return errors.New("auth.enabled requires at least one auth.apiKeys entry")
	}
	if c.FX3.Enable && c.FX3.Attempts <= 0 {
		return errors.New("fx3.attempts must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "xray-bench")
	v.SetDefault("app.env", "dev")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.readTimeout", "5s")
	v.SetDefault("http.writeTimeout", "30s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.filename", "logs/xray-bench.log")
	v.SetDefault("logging.file.maxSize", 100)
	v.SetDefault("logging.file.maxBackups", 7)
	v.SetDefault("logging.file.maxAge", 30)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("auth.enabled", false)
	v.SetDefault("rateLimit.enabled", true)
	v.SetDefault("rateLimit.ratePerSecond", 20)
	v.SetDefault("rateLimit.burst", 40)

	v.SetDefault("dalsa.vendorId", 0x16c0)
	v.SetDefault("dalsa.productId", 0x0483)
	v.SetDefault("dalsa.interface", 2)
	v.SetDefault("dalsa.outEndpoint", 5)
	v.SetDefault("dalsa.inEndpoint", 6)
	v.SetDefault("dalsa.bulkEndpoint", 7)
	v.SetDefault("dalsa.chunkSize", 512)
	v.SetDefault("dalsa.readTimeout", "500ms")
	v.SetDefault("dalsa.writeTimeout", "1s")
	v.SetDefault("dalsa.maxRetries", 10)
	v.SetDefault("dalsa.pollInterval", "100ms")
	v.SetDefault("dalsa.maxPolls", 1200)

	v.SetDefault("faxitron.enable", true)
	v.SetDefault("faxitron.link", "dalsa")
	v.SetDefault("faxitron.serial.baudRate", 9600)
	v.SetDefault("faxitron.serial.readTimeout", "1s")
	v.SetDefault("faxitron.margin", "2s")
	v.SetDefault("faxitron.pollInterval", "50ms")

	v.SetDefault("fx3.enable", false)
	v.SetDefault("fx3.vendorId", 0x1996)
	v.SetDefault("fx3.productId", 0x0001)
	v.SetDefault("fx3.bootloaderVendorId", 0x04b4)
	v.SetDefault("fx3.bootloaderProductId", 0x00f3)
	v.SetDefault("fx3.flashTool", "download_fx3")
	v.SetDefault("fx3.settleDelay", "2s")
	v.SetDefault("fx3.attempts", 20)
	v.SetDefault("fx3.interval", "100ms")
	v.SetDefault("fx3.logTimeout", "1ms")
}
