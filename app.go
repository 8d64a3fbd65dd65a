package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"imageflasher/flasher"
)

// Config holds the command line settings.
type Config struct {
	BaudRate     int
	AckTimeout   time.Duration
	WriteTimeout time.Duration
	Watch        bool
}

func defaultConfig() Config {
	sc := flasher.DefaultSerialConfig()
	return Config{
		BaudRate:     sc.BaudRate,
		AckTimeout:   sc.ReadTimeout,
		WriteTimeout: sc.WriteTimeout,
	}
}

// conn is an open link to the device
type conn interface {
	flasher.Transport
	io.Closer
}

// App owns the port for the lifetime of the process and runs commands against it.
type App struct {
	in  io.Reader
	out io.Writer
	cfg Config

	openPort  func(name string, cfg flasher.SerialConfig) (conn, error)
	listPorts func() ([]string, error)

	port     conn
	portName string
	flasher  *flasher.Flasher
}

// NewApp creates an App reading commands from in and writing to out.
func NewApp(in io.Reader, out io.Writer, cfg Config) *App {
	return &App{
		in:  in,
		out: out,
		cfg: cfg,
		openPort: func(name string, cfg flasher.SerialConfig) (conn, error) {
			port, err := flasher.OpenSerial(name, cfg)
			if err != nil {
				return nil, err
			}
			return port, nil
		},
		listPorts: flasher.ListPorts,
	}
}

// PrintPorts prints the serial ports and returns a process exit code.
func (a *App) PrintPorts() int {
	ports, err := a.listPorts()
	if err != nil {
		a.ReportError(err)
		return 1
	}
	if len(ports) == 0 {
		fmt.Fprintln(a.out, "No serial ports found.")
		return 0
	}

	fmt.Fprintln(a.out, "Available ports:")
	for _, p := range ports {
		fmt.Fprintf(a.out, "  %s\n", p)
	}
	return 0
}

// Open opens the named port at the configured rate.
func (a *App) Open(name string) error {
	if a.port != nil {
		return errors.Wrapf(flasher.ErrPortOpen, "open %s", name)
	}

	fmt.Fprintf(a.out, "Opening port %s...\n", name)
	port, err := a.openPort(name, flasher.SerialConfig{
		BaudRate:     a.cfg.BaudRate,
		ReadTimeout:  a.cfg.AckTimeout,
		WriteTimeout: a.cfg.WriteTimeout,
	})
	if err != nil {
		return err
	}

	a.port = port
	a.portName = name
	a.flasher = flasher.New(port,
		flasher.WithAckTimeout(a.cfg.AckTimeout),
		flasher.WithLogger(glogLogger{}),
	)

	glog.Infof("opened %s at %d baud", name, a.cfg.BaudRate)
	fmt.Fprintf(a.out, "Port %s opened successfully.\n", name)
	return nil
}

// Close closes the port if it is open. It is safe to call more than once.
func (a *App) Close() {
	if a.port == nil {
		return
	}

	fmt.Fprintln(a.out, "Closing port...")
	if err := a.port.Close(); err != nil {
		glog.Errorf("close %s: %v", a.portName, err)
	}
	a.port = nil
	a.flasher = nil
	fmt.Fprintln(a.out, "Port closed.")
}

// Flash uploads the file at path, drawing a progress bar barWidth characters wide.
func (a *App) Flash(ctx context.Context, path string, address uint32, sendTerminate bool, barWidth int) error {
	if a.flasher == nil {
		return flasher.ErrPortClosed
	}

	fmt.Fprintf(a.out, "Sending file '%s' to address 0x%08X...\n", path, address)

	bar := newProgressBar(a.out, barWidth)
	start := time.Now()
	err := a.flasher.WriteFile(ctx, path, address, sendTerminate, func(percent int) {
		_ = bar.Set(percent)
	})
	if err != nil {
		fmt.Fprintln(a.out)
		return err
	}

	_ = bar.Finish()
	glog.V(1).Infof("sent %s in %s", path, time.Since(start))
	fmt.Fprintln(a.out, "\nSending completed successfully.")
	return nil
}

// FlashCommand runs one parsed command and reports any fault. It returns
// whether the upload succeeded.
func (a *App) FlashCommand(ctx context.Context, cmd command, barWidth int) bool {
	if _, err := os.Stat(cmd.path); err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintf(a.out, "Error: File '%s' not found.\n", cmd.path)
		} else {
			a.ReportError(&flasher.SourceError{Path: cmd.path, Err: err})
		}
		return false
	}

	if err := a.Flash(ctx, cmd.path, cmd.address, cmd.sendTerminate, barWidth); err != nil {
		a.ReportError(err)
		return false
	}
	return true
}

// Interactive reads commands until "exit", end of input or ctx is done.
func (a *App) Interactive(ctx context.Context) {
	prompt := isTerminal(a.in)
	lines, readErr := a.readLines(ctx)

	fmt.Fprintln(a.out, "Enter the image file path and address to flash, or type 'exit' to quit.")
	for {
		if prompt {
			fmt.Fprint(a.out, "Enter command: ")
		}

		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(a.out)
			return
		case l, ok := <-lines:
			if !ok {
				if err := <-readErr; err != nil {
					glog.Errorf("read command: %v", err)
				}
				return
			}
			line = strings.TrimSpace(l)
		}

		if strings.EqualFold(line, "exit") {
			return
		}

		cmd, err := parseCommand(strings.Fields(line))
		if err != nil {
			fmt.Fprintf(a.out, "Error: %v\n", err)
			continue
		}

		a.FlashCommand(ctx, cmd, interactiveBarWidth)
	}
}

// readLines scans a.in on its own goroutine so a blocked read never holds up
// cancellation. lines is closed at end of input, after the scan error is sent.
func (a *App) readLines(ctx context.Context) (<-chan string, <-chan error) {
	lines := make(chan string)
	readErr := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(a.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				readErr <- nil
				return
			}
		}
		readErr <- scanner.Err()
	}()

	return lines, readErr
}

// ReportError prints err classified so the operator can tell a device that
// rejected data from a port that cannot be used at all.
func (a *App) ReportError(err error) {
	glog.Error(err)

	switch {
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(a.out, "Upload interrupted.")
	case flasher.IsProtocolFault(err):
		fmt.Fprintf(a.out, "Device Response Error: %v\n", err)
	case flasher.IsAccessDenied(err):
		fmt.Fprintf(a.out, "Port Access Error: %v. Please check if the port is being used by another program or if you have the necessary permissions.\n", err)
	case flasher.IsTransportFault(err), flasher.IsSourceFault(err):
		fmt.Fprintf(a.out, "IO Error: %v\n", err)
	default:
		fmt.Fprintf(a.out, "Unexpected Error: %v\n", err)
	}
}
