package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"

	"pagewatch/internal/app"
	"pagewatch/internal/config"
)

func main() {
	var cfgPath, envFile string
	var checkOnce bool
	flag.StringVar(&cfgPath, "config", os.Getenv("PAGEWATCH_CONFIG"), "path to config file (json or yaml); empty uses environment only")
	flag.StringVar(&envFile, "env-file", ".env", "optional dotenv file loaded before the environment is read")
	flag.BoolVar(&checkOnce, "validate", false, "load and validate the config, then exit")
	flag.Parse()

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintln(os.Stderr, "fatal: env file:", err)
			os.Exit(1)
		}
	}

	cfgm := config.NewManager(cfgPath)
	if _, err := cfgm.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal: config:", err)
		os.Exit(1)
	}
	if checkOnce {
		fmt.Println("config ok")
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgm)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		_ = a.Stop(context.Background(), app.StopFatalError)
		os.Exit(1)
	}
	// No-op outside systemd.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		fmt.Fprintln(os.Stderr, "stop:", err)
	}
	if err := a.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
