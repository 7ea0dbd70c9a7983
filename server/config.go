package server

import (
	"time"

	"github.com/Trinoooo/eggie_echo/consts"
	"github.com/Trinoooo/eggie_echo/errs"
	"github.com/Trinoooo/eggie_echo/logs"
	"github.com/Trinoooo/eggie_echo/server/poller"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config 事件循环的全部配置项，yaml 的键名与 mapstructure 标签一致
type Config struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Backlog        int    `mapstructure:"backlog"`
	Backend        string `mapstructure:"backend"`
	Trigger        string `mapstructure:"trigger"`
	SelectCapacity int    `mapstructure:"select_capacity"`

	ReadQuota      int           `mapstructure:"read_quota"`
	WriteQuota     int           `mapstructure:"write_quota"`
	ReadBufferSize int           `mapstructure:"read_buffer_size"`
	HighWaterMark  int           `mapstructure:"high_water_mark"`
	LowWaterMark   int           `mapstructure:"low_water_mark"`
	WaitTimeout    time.Duration `mapstructure:"wait_timeout"`
	MaxEvents      int           `mapstructure:"max_events"`

	MetricsPushURL      string        `mapstructure:"metrics_push_url"`
	MetricsPushInterval time.Duration `mapstructure:"metrics_push_interval"`
}

// Tunables 运行期间可以热更新的部分
type Tunables struct {
	ReadQuota      int
	WriteQuota     int
	ReadBufferSize int
	HighWaterMark  int
	LowWaterMark   int
	WaitTimeout    time.Duration
}

const (
	keyHost                = "host"
	keyPort                = "port"
	keyBacklog             = "backlog"
	keyBackend             = "backend"
	keyTrigger             = "trigger"
	keySelectCapacity      = "select_capacity"
	keyReadQuota           = "read_quota"
	keyWriteQuota          = "write_quota"
	keyReadBufferSize      = "read_buffer_size"
	keyHighWaterMark       = "high_water_mark"
	keyLowWaterMark        = "low_water_mark"
	keyWaitTimeout         = "wait_timeout"
	keyMaxEvents           = "max_events"
	keyMetricsPushURL      = "metrics_push_url"
	keyMetricsPushInterval = "metrics_push_interval"
)

func DefaultConfig() *Config {
	return &Config{
		Host:                "0.0.0.0",
		Port:                consts.DefaultPort,
		Backlog:             128,
		Backend:             string(poller.KindEpoll),
		Trigger:             string(poller.LevelTriggered),
		SelectCapacity:      poller.FdSetSize,
		ReadQuota:           64 * consts.KB,
		WriteQuota:          64 * consts.KB,
		ReadBufferSize:      4 * consts.KB,
		HighWaterMark:       consts.MB,
		LowWaterMark:        256 * consts.KB,
		WaitTimeout:         time.Second,
		MaxEvents:           128,
		MetricsPushInterval: 5 * time.Second,
	}
}

func (cfg *Config) Tunables() Tunables {
	return Tunables{
		ReadQuota:      cfg.ReadQuota,
		WriteQuota:     cfg.WriteQuota,
		ReadBufferSize: cfg.ReadBufferSize,
		HighWaterMark:  cfg.HighWaterMark,
		LowWaterMark:   cfg.LowWaterMark,
		WaitTimeout:    cfg.WaitTimeout,
	}
}

// Apply 把热更新的部分写回配置
func (cfg *Config) Apply(t Tunables) {
	cfg.ReadQuota = t.ReadQuota
	cfg.WriteQuota = t.WriteQuota
	cfg.ReadBufferSize = t.ReadBufferSize
	cfg.HighWaterMark = t.HighWaterMark
	cfg.LowWaterMark = t.LowWaterMark
	cfg.WaitTimeout = t.WaitTimeout
}

func (cfg *Config) Validate() error {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return invalidParam(keyPort, cfg.Port)
	}
	if cfg.Backlog <= 0 {
		return invalidParam(keyBacklog, cfg.Backlog)
	}

	switch poller.Kind(cfg.Backend) {
	case poller.KindSelect:
		if cfg.SelectCapacity <= 0 || cfg.SelectCapacity > poller.FdSetSize {
			return invalidParam(keySelectCapacity, cfg.SelectCapacity)
		}
	case poller.KindPoll, poller.KindEpoll:
	default:
		return invalidParam(keyBackend, cfg.Backend)
	}

	switch poller.TriggerMode(cfg.Trigger) {
	case poller.LevelTriggered:
	case poller.EdgeTriggered:
		// 只有 epoll 支持边缘触发
		if poller.Kind(cfg.Backend) != poller.KindEpoll {
			return invalidParam(keyTrigger, cfg.Trigger)
		}
	default:
		return invalidParam(keyTrigger, cfg.Trigger)
	}

	if cfg.MaxEvents <= 0 {
		return invalidParam(keyMaxEvents, cfg.MaxEvents)
	}
	if cfg.MetricsPushURL != "" && cfg.MetricsPushInterval <= 0 {
		return invalidParam(keyMetricsPushInterval, cfg.MetricsPushInterval)
	}
	return cfg.Tunables().Validate()
}

func (t Tunables) Validate() error {
	if t.ReadQuota <= 0 {
		return invalidParam(keyReadQuota, t.ReadQuota)
	}
	if t.WriteQuota <= 0 {
		return invalidParam(keyWriteQuota, t.WriteQuota)
	}
	if t.ReadBufferSize <= 0 {
		return invalidParam(keyReadBufferSize, t.ReadBufferSize)
	}
	if t.HighWaterMark <= 0 {
		return invalidParam(keyHighWaterMark, t.HighWaterMark)
	}
	if t.LowWaterMark < 0 || t.LowWaterMark >= t.HighWaterMark {
		return invalidParam(keyLowWaterMark, t.LowWaterMark)
	}
	if t.WaitTimeout <= 0 {
		return invalidParam(keyWaitTimeout, t.WaitTimeout)
	}
	return nil
}

func invalidParam(key string, value any) error {
	e := errs.NewInvalidParamErr()
	logs.Error(e.Error(), zap.String(consts.LogFieldParams, key), zap.Any(consts.LogFieldValue, value))
	return e
}

// NewViper 创建带默认值的 viper 实例。
// path 为空时在默认目录下查找 config.yaml，文件不存在时只使用默认值。
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()
	def := DefaultConfig()
	v.SetDefault(keyHost, def.Host)
	v.SetDefault(keyPort, def.Port)
	v.SetDefault(keyBacklog, def.Backlog)
	v.SetDefault(keyBackend, def.Backend)
	v.SetDefault(keyTrigger, def.Trigger)
	v.SetDefault(keySelectCapacity, def.SelectCapacity)
	v.SetDefault(keyReadQuota, def.ReadQuota)
	v.SetDefault(keyWriteQuota, def.WriteQuota)
	v.SetDefault(keyReadBufferSize, def.ReadBufferSize)
	v.SetDefault(keyHighWaterMark, def.HighWaterMark)
	v.SetDefault(keyLowWaterMark, def.LowWaterMark)
	v.SetDefault(keyWaitTimeout, def.WaitTimeout)
	v.SetDefault(keyMaxEvents, def.MaxEvents)
	v.SetDefault(keyMetricsPushURL, def.MetricsPushURL)
	v.SetDefault(keyMetricsPushInterval, def.MetricsPushInterval)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(consts.DefaultConfigName)
		v.SetConfigType(consts.DefaultConfigType)
		v.AddConfigPath(consts.DefaultConfigPath)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			logs.Error("read config failed", zap.String(consts.LogFieldValue, path), zap.Error(err))
			return nil, errs.NewReadConfigErr().WithErr(err)
		}
		logs.Info("config file not found, use default config")
	}
	return v, nil
}

// Decode 从 viper 解析并校验配置
func Decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errs.NewReadConfigErr().WithErr(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadConfig(path string) (*Config, error) {
	v, err := NewViper(path)
	if err != nil {
		return nil, err
	}
	return Decode(v)
}
