package main

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"imageflasher/flasher"
)

// command is one upload request as typed by the operator
type command struct {
	path          string
	address       uint32
	sendTerminate bool
}

// parseCommand parses <file> <address> [<sendTerminate>]. Fields past the
// third are ignored.
func parseCommand(fields []string) (command, error) {
	if len(fields) < 2 {
		return command{}, errors.Wrap(flasher.ErrInvalidArgument, "Invalid command. Usage: <file> <address> [<sendTerminate>]")
	}

	address, err := parseAddress(fields[1])
	if err != nil {
		return command{}, err
	}

	cmd := command{
		path:          fields[0],
		address:       address,
		sendTerminate: true,
	}
	if len(fields) >= 3 {
		cmd.sendTerminate = parseSendTerminate(fields[2])
	}
	return cmd, nil
}

// parseAddress reads s as hexadecimal, with or without a 0x prefix.
func parseAddress(s string) (uint32, error) {
	digits := s
	if len(digits) >= 2 && (digits[:2] == "0x" || digits[:2] == "0X") {
		digits = digits[2:]
	}

	v, err := strconv.ParseUint(digits, 16, 32)
	if err != nil {
		return 0, errors.Wrapf(flasher.ErrInvalidArgument, "Invalid address '%s'. Address must be a valid hexadecimal integer", s)
	}
	return uint32(v), nil
}

// parseSendTerminate returns false only for an explicit false value.
func parseSendTerminate(s string) bool {
	v, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return true
	}
	return v
}
