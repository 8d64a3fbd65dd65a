// Package flasher uploads raw images to a device bootloader over a serial link.
//
// # Protocol
//
// Every frame ends with a big-endian CRC-16 of the preceding bytes and must be
// answered by a single 0xAA byte before the next frame is sent:
//
//	announce   FE 00 FF 01 | length (u32 BE) | address (u32 BE) | crc
//	data       DA | seq | ^seq | payload (<= 1024 bytes) | crc
//	terminate  ED | seq | ^seq | crc
//
// Data frames are numbered from 1. The terminate frame carries the number one
// past the last data frame.
//
// # Usage
//
//	port, err := flasher.OpenSerial("/dev/ttyUSB0", flasher.DefaultSerialConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer port.Close()
//
//	f := flasher.New(port, flasher.WithAckTimeout(time.Second))
//	err = f.WriteFile(ctx, "image.bin", 0x00100000, true, func(percent int) {
//	    fmt.Printf("\r%d%%", percent)
//	})
//
// Faults are never retried. Use IsProtocolFault to tell a device that rejected
// a frame from a port that failed.
package flasher
