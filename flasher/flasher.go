package flasher

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"
)

// New creates a Flasher speaking over port. The caller keeps ownership of port.
func New(port Transport, opts ...Option) *Flasher {
	if port == nil {
		panic("port cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Flasher{
		port:   port,
		config: cfg,
	}
}

// Transfer uploads req.Length bytes from req.Source:
//  1. announce frame with length and address
//  2. one data frame per chunk, numbered from 1
//  3. a final 100% progress report
//  4. the terminate frame, numbered one past the last data frame, if requested
//
// Every frame must be acknowledged before the next is sent. The first fault
// aborts the transfer and is returned; nothing is retried. Cancelling ctx
// stops the transfer before the next frame goes out.
func (f *Flasher) Transfer(ctx context.Context, req Request, progress ProgressFunc) error {
	if req.Source == nil {
		return errors.Wrap(ErrInvalidArgument, "source cannot be nil")
	}
	if req.Length < 0 || req.Length > math.MaxUint32 {
		return errors.Wrapf(ErrInvalidArgument, "length %d does not fit the announce frame", req.Length)
	}

	if ts, ok := f.port.(readTimeoutSetter); ok {
		if err := ts.SetReadTimeout(f.config.AckTimeout); err != nil {
			return &TransportError{Op: "set read timeout", Err: err}
		}
	}

	chunkSize := int64(f.config.ChunkSize)
	frameCount := frameCountFor(req.Length, chunkSize)

	f.logInfo("sending announce frame",
		"length", req.Length,
		"address", hex32(req.Address),
		"frames", frameCount,
	)
	if err := f.sendFrame(BuildAnnounce(uint32(req.Length), req.Address)); err != nil {
		f.logError("announce frame rejected", "error", err)
		return errors.Wrap(err, "announce frame")
	}

	buf := make([]byte, chunkSize)
	frameNumber := 0
	for remaining := req.Length; remaining > 0; {
		n := chunkSize
		if remaining < n {
			n = remaining
		}

		if err := ctx.Err(); err != nil {
			return errors.Wrapf(err, "interrupted before data frame %d", frameNumber+1)
		}

		if _, err := io.ReadFull(req.Source, buf[:n]); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return &SourceError{Err: errors.Wrapf(err, "read chunk %d", frameNumber+1)}
		}

		frameNumber++
		frame, err := BuildData(uint8(frameNumber), buf[:n])
		if err != nil {
			return err
		}

		f.logDebug("sending data frame", "frame", frameNumber, "bytes", n)
		if err := f.sendFrame(frame); err != nil {
			f.logError("data frame rejected", "frame", frameNumber, "error", err)
			return errors.Wrapf(err, "data frame %d", frameNumber)
		}
		remaining -= n

		if progress != nil && progressDue(frameNumber, frameCount) {
			progress(Percent(frameNumber, frameCount))
		}
	}

	if progress != nil {
		progress(100)
	}

	if req.SendTerminate {
		seq := frameNumber + 1
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(err, "interrupted before terminate frame %d", seq)
		}
		f.logInfo("sending terminate frame", "frame", seq)
		if err := f.sendFrame(BuildTerminate(uint8(seq))); err != nil {
			f.logError("terminate frame rejected", "frame", seq, "error", err)
			return errors.Wrapf(err, "terminate frame %d", seq)
		}
	}

	f.logInfo("transfer complete", "frames", frameNumber, "bytes", req.Length)
	return nil
}

// WriteFile uploads the file at path to address.
func (f *Flasher) WriteFile(ctx context.Context, path string, address uint32, sendTerminate bool, progress ProgressFunc) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &SourceError{Path: path, Err: ErrSourceNotFound}
		}
		return &SourceError{Path: path, Err: err}
	}
	if info.IsDir() {
		return &SourceError{Path: path, Err: errors.Wrap(ErrInvalidArgument, "is a directory")}
	}

	file, err := os.Open(path)
	if err != nil {
		return &SourceError{Path: path, Err: err}
	}
	defer file.Close()

	return f.Transfer(ctx, Request{
		Source:        file,
		Length:        info.Size(),
		Address:       address,
		SendTerminate: sendTerminate,
	}, progress)
}

// frameCountFor returns ceil(length / chunkSize).
func frameCountFor(length, chunkSize int64) int {
	return int((length + chunkSize - 1) / chunkSize)
}

// Percent returns frameNumber*100/frameCount, or 100 when there are no frames.
func Percent(frameNumber, frameCount int) int {
	if frameCount <= 0 {
		return 100
	}
	return frameNumber * 100 / frameCount
}

// progressDue reports whether progress is reported after data frame frameNumber.
func progressDue(frameNumber, frameCount int) bool {
	if frameCount > denseReportThreshold {
		return frameNumber%10 == 0
	}
	return frameNumber%3 == 0
}

func hex32(v uint32) string {
	return fmt.Sprintf("0x%08X", v)
}

func (f *Flasher) logDebug(msg string, kv ...interface{}) {
	if f.config.Logger != nil {
		f.config.Logger.Debug(msg, kv...)
	}
}

func (f *Flasher) logInfo(msg string, kv ...interface{}) {
	if f.config.Logger != nil {
		f.config.Logger.Info(msg, kv...)
	}
}

func (f *Flasher) logError(msg string, kv ...interface{}) {
	if f.config.Logger != nil {
		f.config.Logger.Error(msg, kv...)
	}
}
