package main

import (
	"bytes"
	"context"
	"io"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/pkg/errors"

	"imageflasher/flasher"
)

func TestMain(m *testing.M) {
	_ = flag.Set("logtostderr", "true")
	os.Exit(m.Run())
}

// fakeConn acknowledges every frame with ack and records what was written
type fakeConn struct {
	mu     sync.Mutex
	ack    byte
	frames [][]byte
	closed int
}

func newFakeConn() *fakeConn {
	return &fakeConn{ack: flasher.AckByte}
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, append([]byte(nil), p...))
	return len(p), nil
}

func (c *fakeConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p[0] = c.ack
	return 1, nil
}

func (c *fakeConn) ResetInputBuffer() error  { return nil }
func (c *fakeConn) ResetOutputBuffer() error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *fakeConn) announces() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, f := range c.frames {
		if bytes.HasPrefix(f, flasher.AnnounceMarker[:]) {
			n++
		}
	}
	return n
}

func (c *fakeConn) frameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

// newTestApp returns an App whose port is already open on c
func newTestApp(t *testing.T, input string, c *fakeConn) (*App, *bytes.Buffer) {
	t.Helper()

	out := new(bytes.Buffer)
	app := NewApp(strings.NewReader(input), out, defaultConfig())
	app.openPort = func(string, flasher.SerialConfig) (conn, error) {
		return c, nil
	}
	if err := app.Open("/dev/ttyTEST"); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return app, out
}

func writeImage(t *testing.T, size int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "image.bin")
	if err := os.WriteFile(path, bytes.Repeat([]byte{0x42}, size), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAppOpenTwice(t *testing.T) {
	app, _ := newTestApp(t, "", newFakeConn())

	err := app.Open("/dev/ttyTEST")
	if !errors.Is(err, flasher.ErrPortOpen) {
		t.Fatalf("second Open() error = %v, want ErrPortOpen", err)
	}
}

func TestAppOpenFailure(t *testing.T) {
	out := new(bytes.Buffer)
	app := NewApp(strings.NewReader(""), out, defaultConfig())
	openErr := &flasher.TransportError{Op: "open /dev/ttyTEST", Err: syscall.EACCES}
	app.openPort = func(string, flasher.SerialConfig) (conn, error) {
		return nil, openErr
	}

	if err := app.Open("/dev/ttyTEST"); err != openErr {
		t.Fatalf("Open() error = %v, want %v", err, openErr)
	}
	if err := app.Flash(context.Background(), "image.bin", 0, true, oneShotBarWidth); !errors.Is(err, flasher.ErrPortClosed) {
		t.Errorf("Flash() on closed app error = %v, want ErrPortClosed", err)
	}
}

func TestAppCloseIdempotent(t *testing.T) {
	c := newFakeConn()
	app, out := newTestApp(t, "", c)

	app.Close()
	app.Close()

	if c.closed != 1 {
		t.Errorf("port closed %d times, want 1", c.closed)
	}
	if n := strings.Count(out.String(), "Port closed."); n != 1 {
		t.Errorf("\"Port closed.\" printed %d times, want 1", n)
	}
}

func TestAppFlash(t *testing.T) {
	c := newFakeConn()
	app, out := newTestApp(t, "", c)
	path := writeImage(t, 2500)

	if !app.FlashCommand(context.Background(), command{path: path, address: 0x00100000, sendTerminate: true}, oneShotBarWidth) {
		t.Fatalf("FlashCommand() failed, output:\n%s", out.String())
	}

	if got := c.frameCount(); got != 5 {
		t.Errorf("frames sent = %d, want 5", got)
	}
	if !strings.Contains(out.String(), "to address 0x00100000...") {
		t.Errorf("output missing address line:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "Sending completed successfully.") {
		t.Errorf("output missing completion line:\n%s", out.String())
	}
}

func TestAppFlashDeviceRejects(t *testing.T) {
	c := newFakeConn()
	c.ack = 0x55
	app, out := newTestApp(t, "", c)
	path := writeImage(t, 100)

	if app.FlashCommand(context.Background(), command{path: path, sendTerminate: true}, oneShotBarWidth) {
		t.Fatal("FlashCommand() succeeded, want failure")
	}

	if got := c.frameCount(); got != 1 {
		t.Errorf("frames sent = %d, want 1", got)
	}
	if !strings.Contains(out.String(), "Device Response Error") {
		t.Errorf("output missing device error:\n%s", out.String())
	}
}

func TestAppInteractive(t *testing.T) {
	path := writeImage(t, 3000)
	input := strings.Join([]string{
		"missing.bin 0x100",
		path + " zz",
		"onlyone",
		"",
		path + " 0x00100000 false",
		"EXIT",
		path + " 0x0",
	}, "\n") + "\n"

	c := newFakeConn()
	app, out := newTestApp(t, input, c)
	app.Interactive(context.Background())
	output := out.String()

	for _, want := range []string{
		"Enter the image file path and address to flash, or type 'exit' to quit.",
		"Error: File 'missing.bin' not found.",
		"Invalid address 'zz'",
		"Invalid command",
		"Sending file '" + path + "' to address 0x00100000...",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}

	if n := strings.Count(output, "Sending completed successfully."); n != 1 {
		t.Errorf("completed %d uploads, want 1", n)
	}
	// announce + 3 data frames, no terminate
	if got := c.frameCount(); got != 4 {
		t.Errorf("frames sent = %d, want 4", got)
	}
	if strings.Contains(output, "Enter command: ") {
		t.Error("prompt printed for non-terminal input")
	}
}

func TestAppInteractiveEndOfInput(t *testing.T) {
	app, _ := newTestApp(t, "missing.bin 0\n", newFakeConn())

	done := make(chan struct{})
	go func() {
		app.Interactive(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Interactive() did not return at end of input")
	}
}

func TestAppInteractiveStopsOnCancel(t *testing.T) {
	app, out := newTestApp(t, "", newFakeConn())
	in, w := io.Pipe()
	defer w.Close()
	app.in = in

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		app.Interactive(ctx)
		close(done)
	}()

	// stdin stays open; only the cancel can end the session
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Interactive() did not return after cancel")
	}
	if !strings.Contains(out.String(), "or type 'exit' to quit.") {
		t.Errorf("output missing banner:\n%s", out.String())
	}
}

func TestAppFlashCommandUnreadableFile(t *testing.T) {
	c := newFakeConn()
	app, out := newTestApp(t, "", c)
	// a path below a regular file fails with ENOTDIR, not ENOENT
	path := filepath.Join(writeImage(t, 10), "image.bin")

	if app.FlashCommand(context.Background(), command{path: path}, oneShotBarWidth) {
		t.Fatal("FlashCommand() succeeded, want failure")
	}

	if strings.Contains(out.String(), "not found") {
		t.Errorf("stat failure reported as missing file:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "IO Error") {
		t.Errorf("output missing IO error:\n%s", out.String())
	}
	if got := c.frameCount(); got != 0 {
		t.Errorf("frames sent = %d, want 0", got)
	}
}

func TestAppReportError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "ack timeout",
			err:  errors.Wrap(flasher.ErrAckTimeout, "announce frame"),
			want: "Device Response Error",
		},
		{
			name: "unexpected ack",
			err:  &flasher.UnexpectedAckError{Value: 0x55},
			want: "Device Response Error",
		},
		{
			name: "permission denied",
			err:  &flasher.TransportError{Op: "open /dev/ttyS0", Err: syscall.EACCES},
			want: "Port Access Error",
		},
		{
			name: "write timeout",
			err:  &flasher.TransportError{Op: "write", Err: flasher.ErrWriteTimeout},
			want: "IO Error",
		},
		{
			name: "source missing",
			err:  &flasher.SourceError{Path: "image.bin", Err: flasher.ErrSourceNotFound},
			want: "IO Error",
		},
		{
			name: "interrupted",
			err:  errors.Wrap(context.Canceled, "interrupted before data frame 2"),
			want: "Upload interrupted.",
		},
		{
			name: "other",
			err:  errors.New("boom"),
			want: "Unexpected Error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := new(bytes.Buffer)
			app := NewApp(strings.NewReader(""), out, defaultConfig())

			app.ReportError(tt.err)

			if !strings.HasPrefix(out.String(), tt.want) {
				t.Errorf("output = %q, want prefix %q", out.String(), tt.want)
			}
		})
	}
}

func TestAppPrintPorts(t *testing.T) {
	tests := []struct {
		name     string
		ports    []string
		err      error
		wantCode int
		want     string
	}{
		{
			name:     "ports found",
			ports:    []string{"/dev/ttyUSB0", "/dev/ttyACM0"},
			wantCode: 0,
			want:     "  /dev/ttyACM0",
		},
		{
			name:     "no ports",
			wantCode: 0,
			want:     "No serial ports found.",
		},
		{
			name:     "enumeration fails",
			err:      errors.New("no access"),
			wantCode: 1,
			want:     "Unexpected Error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := new(bytes.Buffer)
			app := NewApp(strings.NewReader(""), out, defaultConfig())
			app.listPorts = func() ([]string, error) { return tt.ports, tt.err }

			if code := app.PrintPorts(); code != tt.wantCode {
				t.Errorf("PrintPorts() = %d, want %d", code, tt.wantCode)
			}
			if !strings.Contains(out.String(), tt.want) {
				t.Errorf("output = %q, want %q", out.String(), tt.want)
			}
		})
	}
}
