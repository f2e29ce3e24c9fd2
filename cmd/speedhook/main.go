package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"speedhook/internal/app"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	configFile  = kingpin.Flag("config", "Path to the config file (YAML or JSON)").Short('c').Default("./speedhook.yaml").String()
	once        = kingpin.Flag("once", "Run a single measure-and-publish cycle, then exit").Bool()
	showVersion = kingpin.Flag("version", "Print version information").Bool()
)

func main() {
	kingpin.Parse()
	if *showVersion {
		fmt.Printf("speedhook %s\n", version)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(ctx, *configFile, app.WithVersion(version))
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if *once {
		err := a.RunOnce(ctx)
		_ = a.Stop(context.Background(), app.StopOnce)
		if err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "cycle failed:", err)
			os.Exit(1)
		}
		return
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
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)
	if err := a.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
