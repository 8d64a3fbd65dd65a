package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/golang/glog"

	"imageflasher/flasher"
)

const usageLine = "Usage: imageflasher [flags] <port> [<file> <address> [<sendTerminate>]]"

func main() {
	cfg := defaultConfig()

	listPorts := flag.Bool("list", false, "list available serial ports and exit")
	flag.BoolVar(&cfg.Watch, "watch", false, "re-upload the image whenever the file changes (one-shot mode only)")
	flag.IntVar(&cfg.BaudRate, "baud", cfg.BaudRate, "serial bit rate")
	flag.DurationVar(&cfg.AckTimeout, "ack-timeout", cfg.AckTimeout, "time to wait for each frame acknowledgment")
	flag.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "time allowed for a frame to leave the port")
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), usageLine)
		flag.PrintDefaults()
	}

	// glog writes to files unless told otherwise; keep the console the default
	_ = flag.Set("logtostderr", "true")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	go func() {
		// the first Ctrl+C cancels ctx, a second one kills the process
		<-ctx.Done()
		stop()
	}()

	code := run(ctx, NewApp(os.Stdin, os.Stdout, cfg), *listPorts, flag.Args())
	stop()

	glog.Flush()
	os.Exit(code)
}

func run(ctx context.Context, app *App, listPorts bool, args []string) int {
	if listPorts {
		return app.PrintPorts()
	}

	if len(args) < 1 || len(args) > 4 {
		fmt.Fprintln(app.out, usageLine)
		return 2
	}
	if len(args) == 2 {
		fmt.Fprintln(app.out, "Error: Missing address. "+usageLine)
		return 2
	}

	if err := app.Open(args[0]); err != nil {
		app.ReportError(err)
		if flasher.IsPortNotFound(err) {
			app.PrintPorts()
		}
		return 1
	}
	defer app.Close()

	if len(args) == 1 {
		app.Interactive(ctx)
		return 0
	}

	cmd, err := parseCommand(args[1:])
	if err != nil {
		fmt.Fprintf(app.out, "Error: %v\n", err)
		return 2
	}

	if !app.FlashCommand(ctx, cmd, oneShotBarWidth) {
		return 1
	}
	if app.cfg.Watch {
		if err := app.Watch(ctx, cmd); err != nil {
			app.ReportError(err)
			return 1
		}
	}
	return 0
}
