package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"pacer/internal/app"
	logx "pacer/pkg/logx"
)

const (
	exitOK     = 0
	exitError  = 1
	exitFailed = 2
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], logx.Stdout(), logx.Stderr())
	cancel()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("pacer", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		cfgPath = fs.String("config", "./pacer.yaml", "path to config (yaml or json)")
		daemon  = fs.Bool("daemon", false, "run batches on the configured schedule until interrupted")
		asJSON  = fs.Bool("json", false, "print the run report as json")
		history = fs.Int("history", 0, "print the last N stored runs and exit")
	)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitError
	}

	a, err := app.New(*cfgPath)
	if err != nil {
		// no logger yet
		fmt.Fprintln(stderr, "fatal:", err)
		return exitError
	}
	defer a.Close()
	log := a.Logger()

	switch {
	case *history > 0:
		runs, err := a.History(ctx, *history)
		if err != nil {
			log.Error("reading history failed", logx.Err(err))
			return exitError
		}
		if err := app.RenderHistory(stdout, runs); err != nil {
			log.Error("render history failed", logx.Err(err))
			return exitError
		}
		return exitOK

	case *daemon:
		if err := a.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("daemon stopped with error", logx.Err(err))
			return exitError
		}
		return exitOK
	}

	rep, err := a.RunOnce(ctx)
	if err != nil {
		log.Error("run did not complete", logx.Err(err))
		return exitError
	}

	out := a.Config().Output
	format := out.FormatOrDefault()
	if *asJSON {
		format = "json"
	}
	if err := rep.Render(stdout, format, out.OrderOrDefault()); err != nil {
		log.Error("render report failed", logx.Err(err))
		return exitError
	}
	if rep.Failed > 0 {
		return exitFailed
	}
	return exitOK
}
