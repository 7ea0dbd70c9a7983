package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Trinoooo/eggie_echo/consts"
	"github.com/Trinoooo/eggie_echo/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 8888, cfg.Port)
	assert.Equal(t, 128, cfg.Backlog)
	assert.Equal(t, "epoll", cfg.Backend)
	assert.Equal(t, "level", cfg.Trigger)
	assert.Equal(t, 1024, cfg.SelectCapacity)
	assert.Equal(t, 64*consts.KB, cfg.ReadQuota)
	assert.Equal(t, consts.MB, cfg.HighWaterMark)
	assert.Equal(t, 256*consts.KB, cfg.LowWaterMark)
	assert.Equal(t, time.Second, cfg.WaitTimeout)
}

// TestConfigValidate 非法配置
//   - 端口、backlog 越界
//   - 未知的 backend/trigger，select/poll 上使用边缘触发
//   - select 容量越界
//   - 低水位不小于高水位
//   - 配额、超时不为正
func TestConfigValidate(t *testing.T) {
	cases := map[string]func(cfg *Config){
		"port":            func(cfg *Config) { cfg.Port = 70000 },
		"backlog":         func(cfg *Config) { cfg.Backlog = 0 },
		"backend":         func(cfg *Config) { cfg.Backend = "kqueue" },
		"trigger":         func(cfg *Config) { cfg.Trigger = "both" },
		"edge on poll":    func(cfg *Config) { cfg.Backend = "poll"; cfg.Trigger = "edge" },
		"edge on select":  func(cfg *Config) { cfg.Backend = "select"; cfg.Trigger = "edge" },
		"select capacity": func(cfg *Config) { cfg.Backend = "select"; cfg.SelectCapacity = 2048 },
		"water marks":     func(cfg *Config) { cfg.LowWaterMark = cfg.HighWaterMark },
		"negative low":    func(cfg *Config) { cfg.LowWaterMark = -1 },
		"read quota":      func(cfg *Config) { cfg.ReadQuota = 0 },
		"write quota":     func(cfg *Config) { cfg.WriteQuota = -1 },
		"read buffer":     func(cfg *Config) { cfg.ReadBufferSize = 0 },
		"wait timeout":    func(cfg *Config) { cfg.WaitTimeout = 0 },
		"max events":      func(cfg *Config) { cfg.MaxEvents = 0 },
		"push interval":   func(cfg *Config) { cfg.MetricsPushURL = "http://localhost:9091"; cfg.MetricsPushInterval = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			assert.Equal(t, int64(errs.InvalidParamErrCode), errs.GetCode(cfg.Validate()))
		})
	}

	// select 容量只在 select 下检查
	cfg := DefaultConfig()
	cfg.SelectCapacity = 0
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
host: 127.0.0.1
port: 9999
backend: epoll
trigger: edge
read_quota: 8192
high_water_mark: 65536
low_water_mark: 1024
wait_timeout: 250ms
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, "edge", cfg.Trigger)
	assert.Equal(t, 8192, cfg.ReadQuota)
	assert.Equal(t, 65536, cfg.HighWaterMark)
	assert.Equal(t, 1024, cfg.LowWaterMark)
	assert.Equal(t, 250*time.Millisecond, cfg.WaitTimeout)
	// 文件里没有的键使用默认值
	assert.Equal(t, 128, cfg.Backlog)
	assert.Equal(t, 64*consts.KB, cfg.WriteQuota)
}

// TestLoadConfigErrors
//   - 指定的文件不存在
//   - 文件内容校验失败
func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, int64(errs.ReadConfigErrCode), errs.GetCode(err))

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: select\ntrigger: edge\n"), 0644))
	_, err = LoadConfig(path)
	assert.Equal(t, int64(errs.InvalidParamErrCode), errs.GetCode(err))
}

func TestTunables(t *testing.T) {
	cfg := DefaultConfig()
	tun := cfg.Tunables()
	tun.ReadQuota = 123
	tun.WaitTimeout = time.Minute
	require.NoError(t, tun.Validate())

	cfg.Apply(tun)
	assert.Equal(t, 123, cfg.ReadQuota)
	assert.Equal(t, time.Minute, cfg.WaitTimeout)
	assert.Equal(t, tun, cfg.Tunables())
}
