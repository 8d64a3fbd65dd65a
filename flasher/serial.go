package flasher

import (
	"io/fs"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
)

var portAccessCodes = []serial.PortErrorCode{serial.PermissionDenied, serial.PortBusy}

// SerialConfig describes how a serial port is opened.
type SerialConfig struct {
	BaudRate int

	// ReadTimeout bounds every read, including the wait for an ACK
	ReadTimeout time.Duration

	// WriteTimeout bounds the time a written frame may take to leave the port
	WriteTimeout time.Duration
}

// DefaultSerialConfig returns 115200 baud with one second read and write windows.
func DefaultSerialConfig() SerialConfig {
	return SerialConfig{
		BaudRate:     BaudRate,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	}
}

// Serial is a Transport over a serial port.
type Serial struct {
	port         serial.Port
	name         string
	writeTimeout time.Duration

	// set while a timed out frame is still draining
	draining <-chan error
}

// OpenSerial opens name at 8N1 with DTR and RTS asserted.
func OpenSerial(name string, cfg SerialConfig) (*Serial, error) {
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = BaudRate
	}

	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, &TransportError{Op: "open " + name, Err: err}
	}

	if err := port.SetDTR(true); err != nil {
		port.Close()
		return nil, &TransportError{Op: "set DTR", Err: err}
	}
	if err := port.SetRTS(true); err != nil {
		port.Close()
		return nil, &TransportError{Op: "set RTS", Err: err}
	}

	if cfg.ReadTimeout > 0 {
		if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
			port.Close()
			return nil, &TransportError{Op: "set read timeout", Err: err}
		}
	}

	return &Serial{
		port:         port,
		name:         name,
		writeTimeout: cfg.WriteTimeout,
	}, nil
}

// Name returns the port name the connection was opened with.
func (s *Serial) Name() string {
	return s.name
}

// Read reads from the port. It returns (0, nil) when the read window expires.
func (s *Serial) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

// Write writes p and waits for it to be transmitted, failing with
// ErrWriteTimeout if that takes longer than the write window. After a timeout
// the next Write first waits for the earlier frame to drain and fails with
// ErrWriteTimeout, without writing, if it still has not.
func (s *Serial) Write(p []byte) (int, error) {
	if s.draining != nil {
		timer := time.NewTimer(s.writeTimeout)
		select {
		case <-s.draining:
			timer.Stop()
			s.draining = nil
		case <-timer.C:
			return 0, errors.Wrap(ErrWriteTimeout, "previous frame still draining")
		}
	}

	n, err := s.port.Write(p)
	if err != nil || s.writeTimeout <= 0 {
		return n, err
	}

	drained := make(chan error, 1)
	go func() {
		drained <- s.port.Drain()
	}()

	timer := time.NewTimer(s.writeTimeout)
	defer timer.Stop()

	select {
	case err := <-drained:
		return n, err
	case <-timer.C:
		s.draining = drained
		return n, ErrWriteTimeout
	}
}

// SetReadTimeout changes the read window.
func (s *Serial) SetReadTimeout(t time.Duration) error {
	return s.port.SetReadTimeout(t)
}

// ResetInputBuffer discards bytes received but not yet read.
func (s *Serial) ResetInputBuffer() error {
	return s.port.ResetInputBuffer()
}

// ResetOutputBuffer discards bytes written but not yet transmitted.
func (s *Serial) ResetOutputBuffer() error {
	return s.port.ResetOutputBuffer()
}

// Close releases the port.
func (s *Serial) Close() error {
	return s.port.Close()
}

// ListPorts returns the serial ports known to the operating system.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, errors.Wrap(err, "list serial ports")
	}
	return ports, nil
}

// IsPortNotFound reports whether err means the named port does not exist.
func IsPortNotFound(err error) bool {
	if errors.Is(err, fs.ErrNotExist) {
		return true
	}
	return hasPortErrorCode(err, serial.PortNotFound)
}

func hasPortErrorCode(err error, codes ...serial.PortErrorCode) bool {
	var portErr *serial.PortError
	if !errors.As(err, &portErr) {
		return false
	}
	for _, code := range codes {
		if portErr.Code() == code {
			return true
		}
	}
	return false
}
