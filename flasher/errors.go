package flasher

import (
	"fmt"
	"io/fs"

	"github.com/pkg/errors"
)

var (
	// ErrAckTimeout means no acknowledgment byte arrived after a frame was sent.
	ErrAckTimeout = errors.New("timeout waiting for ACK from the device")

	// ErrWriteTimeout means a frame was not flushed to the port in time.
	ErrWriteTimeout = errors.New("write timeout")

	// ErrSourceNotFound means the image file does not exist.
	ErrSourceNotFound = errors.New("source file not found")

	// ErrInvalidArgument marks caller misuse such as an oversized chunk.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrPortOpen is returned when opening a port that is already open.
	ErrPortOpen = errors.New("port is already open")

	// ErrPortClosed is returned when transferring without an open port.
	ErrPortClosed = errors.New("port is not open")
)

// UnexpectedAckError indicates the device answered a frame with something other than AckByte.
type UnexpectedAckError struct {
	Value byte
}

func (e *UnexpectedAckError) Error() string {
	return fmt.Sprintf("invalid ACK received: 0x%02X, expected: 0x%02X", e.Value, AckByte)
}

// TransportError wraps a failure of the underlying connection.
type TransportError struct {
	// Op is the transport operation that failed
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// SourceError wraps a failure to locate or read the image.
type SourceError struct {
	Path string
	Err  error
}

func (e *SourceError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("source: %v", e.Err)
	}
	return fmt.Sprintf("source %s: %v", e.Path, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// IsProtocolFault reports whether err means the device rejected or ignored a frame,
// as opposed to the port itself failing.
func IsProtocolFault(err error) bool {
	if errors.Is(err, ErrAckTimeout) {
		return true
	}
	var ackErr *UnexpectedAckError
	return errors.As(err, &ackErr)
}

// IsTransportFault reports whether err came from the connection.
func IsTransportFault(err error) bool {
	var tErr *TransportError
	return errors.As(err, &tErr)
}

// IsSourceFault reports whether err came from the image source.
func IsSourceFault(err error) bool {
	var sErr *SourceError
	return errors.As(err, &sErr)
}

// IsAccessDenied reports whether err means the port exists but cannot be used,
// either for lack of permission or because another program holds it.
func IsAccessDenied(err error) bool {
	if !IsTransportFault(err) {
		return false
	}
	if errors.Is(err, fs.ErrPermission) {
		return true
	}
	return hasPortErrorCode(err, portAccessCodes...)
}
