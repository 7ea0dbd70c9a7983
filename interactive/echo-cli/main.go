//go:build unix

package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Trinoooo/eggie_echo/consts"
	"github.com/Trinoooo/eggie_echo/interactive/echo-cli/handle"
	"github.com/Trinoooo/eggie_echo/utils"
	"github.com/chzyer/readline"
	"github.com/urfave/cli/v2"
)

func main() {
	wrapper := NewCliWrapper()
	if err := wrapper.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

var (
	flagHost = &cli.StringFlag{
		Name:    "host",
		Aliases: []string{"h"},
		Value:   "127.0.0.1",
		Usage:   "server host name.",
		EnvVars: []string{consts.Host},
	}
	flagPort = &cli.IntFlag{
		Name:    "port",
		Aliases: []string{"p"},
		Value:   consts.DefaultPort,
		Usage:   "server port number, 0 < port < 65535 are available.",
		Action: func(c *cli.Context, port int) error {
			if port <= 0 || port > 65535 {
				return errors.New("invalid params")
			}
			return nil
		},
		EnvVars: []string{consts.Port},
	}
	flagTimeout = &cli.DurationFlag{
		Name:    "timeout",
		Aliases: []string{"t"},
		Value:   5 * time.Second,
		Usage:   "timeout of dial and each echo round trip.",
	}
)

type CliWrapper struct {
	app *cli.App
}

func NewCliWrapper() *CliWrapper {
	wrapper := &CliWrapper{
		app: &cli.App{
			Name:    consts.AppName + "_client",
			Usage:   "client for - a single-threaded readiness-driven tcp echo server",
			Version: consts.AppVersion,
		},
	}
	wrapper.modifyDefaultHelp()
	wrapper.withFlags()
	wrapper.withAction()
	wrapper.withAuthor()
	return wrapper
}

func (wrapper *CliWrapper) Run(args []string) error {
	return wrapper.app.Run(args)
}

func (wrapper *CliWrapper) modifyDefaultHelp() {
	cli.HelpFlag = &cli.BoolFlag{
		Name: "help",
	}
}

func (wrapper *CliWrapper) withFlags() {
	wrapper.app.Flags = []cli.Flag{
		flagHost,
		flagPort,
		flagTimeout,
	}
}

func (wrapper *CliWrapper) withAction() {
	wrapper.app.Action = func(ctx *cli.Context) error {
		addr := net.JoinHostPort(ctx.String("host"), strconv.Itoa(ctx.Int("port")))
		client, err := handle.Dial(addr, ctx.Duration("timeout"))
		if err != nil {
			return err
		}
		defer client.Close()
		fmt.Println(utils.WrapInfo("connected to %s", client.RemoteAddr()))

		input, err := readline.NewEx(&readline.Config{
			Prompt:      "> ",
			HistoryFile: fmt.Sprintf("/tmp/%s/cli/cmd_history_%s", consts.AppName, time.Now().Format("20060102")),
		})
		if err != nil {
			return err
		}
		defer input.Close()
		input.CaptureExitSignal()

		for {
			str, err := input.Readline()
			if err != nil {
				if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
					return nil
				}
				fmt.Println(utils.WrapError("%v", err))
				continue
			}
			if strings.EqualFold(str, "exit") {
				return nil
			}
			if str == "" {
				fmt.Println(utils.WrapWarn("empty input is not sent"))
				continue
			}

			reply, err := client.Echo([]byte(str))
			if err != nil {
				// 服务端关闭了连接，没法继续
				return err
			}
			fmt.Println(utils.WrapEcho("%s", reply))
		}
	}
}

func (wrapper *CliWrapper) withAuthor() {
	wrapper.app.Authors = []*cli.Author{
		{
			Name:  "Trino",
			Email: "sujun.trinoooo@gmail.com",
		},
	}
}
