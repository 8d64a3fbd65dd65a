package flasher

import (
	"io"
	"time"
)

// Image bootloader protocol constants
const (
	BaudRate = 115200

	// MaxDataLen is the largest payload a single data frame may carry
	MaxDataLen = 0x400

	// AckByte is the only reply the bootloader sends for an accepted frame
	AckByte = 0xAA

	DataMarker      = 0xDA
	TerminateMarker = 0xED

	// AnnounceFrameLen is marker (4) + length (4) + address (4) + checksum (2)
	AnnounceFrameLen = 14

	// sequenceFrameLen is marker + seq + ^seq + checksum, without payload
	sequenceFrameLen = 5

	checksumLen = 2

	// Frames past this count report progress every 10th frame instead of every 3rd
	denseReportThreshold = 250
)

// AnnounceMarker opens every transfer.
var AnnounceMarker = [4]byte{0xFE, 0x00, 0xFF, 0x01}

// Transport is the byte channel to the bootloader.
//
// Read must return (0, nil) or an error matching os.ErrDeadlineExceeded when no
// byte arrives within the transport's read window; both are treated as an ACK
// timeout. go.bug.st/serial ports behave this way once SetReadTimeout is set.
type Transport interface {
	io.Reader
	io.Writer
	ResetInputBuffer() error
	ResetOutputBuffer() error
}

// readTimeoutSetter is implemented by transports whose read window is adjustable.
type readTimeoutSetter interface {
	SetReadTimeout(t time.Duration) error
}

// Request describes a single image upload.
type Request struct {
	// Source is consumed sequentially from offset 0
	Source io.Reader

	// Length is the number of bytes announced and read from Source
	Length int64

	// Address is the destination memory address on the device
	Address uint32

	// SendTerminate appends the terminate frame after the last data frame
	SendTerminate bool
}

// ProgressFunc receives a completion percentage between 0 and 100.
// It is called synchronously from the transfer loop.
type ProgressFunc func(percent int)

// Logger is an optional logging interface that can be provided to the Flasher.
type Logger interface {
	// Debug logs a debug message with optional key-value pairs
	Debug(msg string, keysAndValues ...interface{})

	// Info logs an info message with optional key-value pairs
	Info(msg string, keysAndValues ...interface{})

	// Error logs an error message with optional key-value pairs
	Error(msg string, keysAndValues ...interface{})
}

// Flasher uploads images to the bootloader over a Transport.
//
// A Flasher does not own its transport and must not be shared between
// concurrent transfers.
type Flasher struct {
	port   Transport
	config Config
}
