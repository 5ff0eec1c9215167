package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"

	"announcebot/internal/app"
	"announcebot/internal/plugin"
	"announcebot/internal/plugin/builtin/admin"
	"announcebot/internal/plugin/builtin/announce"
	"announcebot/internal/plugin/builtin/schedule"
	"announcebot/internal/plugin/builtin/start"
)

type options struct {
	Config string `short:"c" long:"config" env:"ANNOUNCEBOT_CONFIG" default:"./config.yaml" description:"path to config file (yaml or json)"`
	Token  string `long:"token" env:"ANNOUNCEBOT_TOKEN" description:"telegram bot token, overrides telegram.token"`
}

func main() {
	var opts options
	if _, err := flags.NewParser(&opts, flags.Default).Parse(); err != nil {
		if fe, ok := err.(*flags.Error); ok && fe.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(ctx, app.Options{
		ConfigPath: opts.Config,
		Token:      opts.Token,
		Plugins: []plugin.Plugin{
			start.New(),
			announce.New(),
			admin.New(),
			schedule.New(),
		},
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
		if ctx.Err() != nil {
			reason = app.StopSignal
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)
	if err := a.Err(); err != nil && reason == app.StopFatalError {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
