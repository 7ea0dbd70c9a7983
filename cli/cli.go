package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Trinoooo/eggie_echo/consts"
	"github.com/Trinoooo/eggie_echo/errs"
	"github.com/Trinoooo/eggie_echo/logs"
	"github.com/Trinoooo/eggie_echo/server"
	"github.com/Trinoooo/eggie_echo/server/poller"
	"github.com/fsnotify/fsnotify"
	"github.com/luci/go-render/render"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var (
	flagConfig = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "config file path, default to ~/eggie_echo/config/config.yaml.",
		EnvVars: []string{consts.ConfigFile},
	}
	flagHost = &cli.StringFlag{
		Name:    "host",
		Aliases: []string{"h"},
		Value:   "0.0.0.0",
		Usage:   "listen address, ipv4 or ipv6 literal.",
		EnvVars: []string{consts.Host},
	}
	flagPort = &cli.IntFlag{
		Name:    "port",
		Aliases: []string{"p"},
		Value:   consts.DefaultPort,
		Usage:   "listen port, 0 < port < 65535 are available.",
		Action: func(c *cli.Context, port int) error {
			if port <= 0 || port > 65535 {
				return invalidFlag("port", port)
			}
			return nil
		},
		EnvVars: []string{consts.Port},
	}
	flagBacklog = &cli.IntFlag{
		Name:    "backlog",
		Value:   128,
		Usage:   "accept queue length, 0 < backlog <= 4096 are available.",
		Action: func(c *cli.Context, backlog int) error {
			if backlog <= 0 || backlog > 4096 {
				return invalidFlag("backlog", backlog)
			}
			return nil
		},
		EnvVars: []string{consts.Backlog},
	}
	flagBackend = &cli.StringFlag{
		Name:    "backend",
		Aliases: []string{"b"},
		Value:   string(poller.KindEpoll),
		Usage:   "readiness backend, one of select/poll/epoll.",
		Action: func(c *cli.Context, backend string) error {
			switch poller.Kind(backend) {
			case poller.KindSelect, poller.KindPoll, poller.KindEpoll:
				return nil
			}
			return invalidFlag("backend", backend)
		},
		EnvVars: []string{consts.Backend},
	}
	flagTrigger = &cli.StringFlag{
		Name:    "trigger",
		Aliases: []string{"t"},
		Value:   string(poller.LevelTriggered),
		Usage:   "trigger mode, one of level/edge, edge is only available with epoll.",
		Action: func(c *cli.Context, trigger string) error {
			switch poller.TriggerMode(trigger) {
			case poller.LevelTriggered, poller.EdgeTriggered:
				return nil
			}
			return invalidFlag("trigger", trigger)
		},
		EnvVars: []string{consts.Trigger},
	}
	flagSelectCapacity = &cli.IntFlag{
		Name:    "select-capacity",
		Value:   poller.FdSetSize,
		Usage:   "max descriptors watched by select, 0 < capacity <= 1024 are available.",
		Action: func(c *cli.Context, capacity int) error {
			if capacity <= 0 || capacity > poller.FdSetSize {
				return invalidFlag("select-capacity", capacity)
			}
			return nil
		},
		EnvVars: []string{consts.SelectCapacity},
	}
	flagReadQuota = &cli.IntFlag{
		Name:    "read-quota",
		Value:   64 * consts.KB,
		Usage:   "max bytes read from one connection per readiness, 0 < quota <= 1GB are available.",
		Action:  positiveSize("read-quota"),
		EnvVars: []string{consts.ReadQuota},
	}
	flagWriteQuota = &cli.IntFlag{
		Name:    "write-quota",
		Value:   64 * consts.KB,
		Usage:   "max bytes written to one connection per readiness, 0 < quota <= 1GB are available.",
		Action:  positiveSize("write-quota"),
		EnvVars: []string{consts.WriteQuota},
	}
	flagHighWater = &cli.IntFlag{
		Name:    "high-water",
		Value:   consts.MB,
		Usage:   "pause reading when pending output reaches this size.",
		Action:  positiveSize("high-water"),
		EnvVars: []string{consts.HighWaterMark},
	}
	flagLowWater = &cli.IntFlag{
		Name:    "low-water",
		Value:   256 * consts.KB,
		Usage:   "resume reading when pending output drains below this size.",
		Action: func(c *cli.Context, size int) error {
			if size < 0 || size > consts.GB {
				return invalidFlag("low-water", size)
			}
			return nil
		},
		EnvVars: []string{consts.LowWaterMark},
	}
	flagWaitTimeout = &cli.DurationFlag{
		Name:    "wait-timeout",
		Value:   time.Second,
		Usage:   "max time a single wait blocks.",
		Action: func(c *cli.Context, timeout time.Duration) error {
			if timeout <= 0 {
				return invalidFlag("wait-timeout", timeout)
			}
			return nil
		},
		EnvVars: []string{consts.WaitTimeout},
	}
	flagMetricsPush = &cli.StringFlag{
		Name:    "metrics-push",
		Usage:   "prometheus pushgateway url, empty to disable.",
		EnvVars: []string{consts.MetricsPushURL},
	}
	flagBlocking = &cli.BoolFlag{
		Name:  "blocking",
		Usage: "set this flag to serve one client at a time with blocking io.",
	}
	flagWatchConfig = &cli.BoolFlag{
		Name:  "watch-config",
		Usage: "set this flag to apply quota, water mark and timeout changes of the config file at runtime.",
	}
)

// flag 名到配置键的映射，只有显式设置（命令行或环境变量）的 flag 会覆盖配置文件
var flagKeys = map[string]string{
	"host":            "host",
	"port":            "port",
	"backlog":         "backlog",
	"backend":         "backend",
	"trigger":         "trigger",
	"select-capacity": "select_capacity",
	"read-quota":      "read_quota",
	"write-quota":     "write_quota",
	"high-water":      "high_water_mark",
	"low-water":       "low_water_mark",
	"wait-timeout":    "wait_timeout",
	"metrics-push":    "metrics_push_url",
}

func invalidFlag(name string, value any) error {
	e := errs.NewInvalidParamErr()
	logs.Error(e.Error(), zap.String(consts.LogFieldParams, name), zap.Any(consts.LogFieldValue, value))
	return e
}

func positiveSize(name string) func(*cli.Context, int) error {
	return func(c *cli.Context, size int) error {
		if size <= 0 || size > consts.GB {
			return invalidFlag(name, size)
		}
		return nil
	}
}

type Wrapper struct {
	app *cli.App
}

func NewWrapper() *Wrapper {
	wrapper := &Wrapper{
		app: &cli.App{
			Name:    consts.AppName,
			Usage:   "a single-threaded readiness-driven tcp echo server",
			Version: consts.AppVersion,
		},
	}
	wrapper.modifyDefaultHelp()
	wrapper.withFlags()
	wrapper.withAction()
	wrapper.withAuthor()
	return wrapper
}

func (wrapper *Wrapper) Run(args []string) error {
	return wrapper.app.Run(args)
}

func (wrapper *Wrapper) modifyDefaultHelp() {
	cli.HelpFlag = &cli.BoolFlag{
		Name: "help",
	}
	cli.AppHelpTemplate = consts.HelpTemplate
}

func (wrapper *Wrapper) withFlags() {
	wrapper.app.Flags = []cli.Flag{
		flagConfig,
		flagHost,
		flagPort,
		flagBacklog,
		flagBackend,
		flagTrigger,
		flagSelectCapacity,
		flagReadQuota,
		flagWriteQuota,
		flagHighWater,
		flagLowWater,
		flagWaitTimeout,
		flagMetricsPush,
		flagBlocking,
		flagWatchConfig,
	}
}

func (wrapper *Wrapper) withAction() {
	wrapper.app.Action = func(ctx *cli.Context) error {
		defer logs.Sync()

		v, err := server.NewViper(ctx.String(flagConfig.Name))
		if err != nil {
			return err
		}
		for flag, key := range flagKeys {
			if ctx.IsSet(flag) {
				v.Set(key, ctx.Value(flag))
			}
		}
		cfg, err := server.Decode(v)
		if err != nil {
			return err
		}
		logs.Info(fmt.Sprintf("effective config: %s", render.Render(cfg)))

		if ctx.Bool(flagBlocking.Name) {
			return serveBlocking(cfg)
		}
		return serveEventLoop(v, cfg, ctx.Bool(flagWatchConfig.Name))
	}
}

func (wrapper *Wrapper) withAuthor() {
	wrapper.app.Authors = []*cli.Author{
		{
			Name:  "Trino",
			Email: "sujun.trinoooo@gmail.com",
		},
	}
}

type closer interface {
	Close() error
}

// handleSignal 收到 SIGINT/SIGTERM 后关闭服务，Serve 随之返回
func handleSignal(srv closer) {
	go func() {
		// bugfix: 使用缓冲通道避免执行信号处理程序（下面的for）之前有信号到达会被丢弃
		sig := make(chan os.Signal, 5)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		for s := range sig {
			logs.Info("shutdown...", zap.String(consts.LogFieldValue, s.String()))
			if err := srv.Close(); err != nil {
				logs.Error("server shutdown failed", zap.Error(err))
			}
		}
	}()
}

func serveBlocking(cfg *server.Config) error {
	srv, err := server.NewBlockingServer(cfg, server.LogMw)
	if err != nil {
		return err
	}
	handleSignal(srv)
	return srv.Serve()
}

func serveEventLoop(v *viper.Viper, cfg *server.Config, watch bool) error {
	helper := server.NewMetricsHelper()
	el, err := server.NewEventLoop(cfg,
		server.WithMetrics(helper),
		server.WithMiddlewares(server.LogMw, server.MetricsMw(helper)),
	)
	if err != nil {
		return err
	}

	if watch {
		v.OnConfigChange(func(e fsnotify.Event) {
			logs.Info("config file changed", zap.String(consts.LogFieldValue, e.Name), zap.String(consts.LogFieldStep, e.Op.String()))
			newCfg, err := server.Decode(v)
			if err != nil {
				logs.Warn("ignore invalid config", zap.Error(err))
				return
			}
			if err := el.Reconfigure(newCfg.Tunables()); err != nil {
				logs.Warn("reconfigure failed", zap.Error(err))
			}
		})
		v.WatchConfig()
	}

	handleSignal(el)
	return el.Serve()
}
