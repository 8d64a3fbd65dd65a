package flasher

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
)

// Checksum parameters expected by the bootloader (CRC-16/CCITT-FALSE).
const (
	crcPolynomial   = 0x1021
	crcInitialValue = 0xFFFF
	crcHighBit      = 0x8000
)

// Checksum computes the 16-bit CRC the bootloader verifies on every frame:
// polynomial 0x1021, initial value 0xFFFF, no reflection, no final XOR.
func Checksum(data []byte) uint16 {
	crc := uint16(crcInitialValue)

	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&crcHighBit != 0 {
				crc = crc<<1 ^ crcPolynomial
			} else {
				crc <<= 1
			}
		}
	}

	return crc
}

// appendChecksum appends the big-endian checksum of frame to frame.
func appendChecksum(frame []byte) []byte {
	return binary.BigEndian.AppendUint16(frame, Checksum(frame))
}

// BuildAnnounce builds the frame declaring the image length and destination address.
func BuildAnnounce(length, address uint32) []byte {
	frame := make([]byte, 0, AnnounceFrameLen)
	frame = append(frame, AnnounceMarker[:]...)
	frame = binary.BigEndian.AppendUint32(frame, length)
	frame = binary.BigEndian.AppendUint32(frame, address)
	return appendChecksum(frame)
}

// BuildData builds a numbered data frame carrying payload unpadded.
func BuildData(seq uint8, payload []byte) ([]byte, error) {
	if len(payload) > MaxDataLen {
		return nil, errors.Wrapf(ErrInvalidArgument, "data frame payload is %d bytes, limit is %d", len(payload), MaxDataLen)
	}

	frame := make([]byte, 0, sequenceFrameLen+len(payload))
	frame = append(frame, DataMarker, seq, ^seq)
	frame = append(frame, payload...)
	return appendChecksum(frame), nil
}

// BuildTerminate builds the frame that closes a transfer.
func BuildTerminate(seq uint8) []byte {
	frame := make([]byte, 0, sequenceFrameLen)
	frame = append(frame, TerminateMarker, seq, ^seq)
	return appendChecksum(frame)
}

// sendFrame writes frame and blocks until the device acknowledges it.
// Any stray bytes left on the port are purged after a good ACK.
func (f *Flasher) sendFrame(frame []byte) error {
	n, err := f.port.Write(frame)
	if err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	if n != len(frame) {
		return &TransportError{Op: "write", Err: io.ErrShortWrite}
	}

	ack, err := f.readAck()
	if err != nil {
		return err
	}
	if ack != AckByte {
		return &UnexpectedAckError{Value: ack}
	}

	if err := f.port.ResetInputBuffer(); err != nil {
		return &TransportError{Op: "discard input", Err: err}
	}
	if err := f.port.ResetOutputBuffer(); err != nil {
		return &TransportError{Op: "discard output", Err: err}
	}

	return nil
}

// readAck reads exactly one byte within the transport's read window.
func (f *Flasher) readAck() (byte, error) {
	buf := make([]byte, 1)

	n, err := f.port.Read(buf)
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded):
		return 0, ErrAckTimeout
	case err != nil:
		return 0, &TransportError{Op: "read", Err: err}
	case n == 0:
		return 0, ErrAckTimeout
	}

	return buf[0], nil
}
