package ptz

import (
	"fmt"
	"strings"

	"videosurveillance/platform/backend/errs"
)

// Command is one mechanical camera action.
type Command string

const (
	CommandUp      Command = "UP"
	CommandDown    Command = "DOWN"
	CommandLeft    Command = "LEFT"
	CommandRight   Command = "RIGHT"
	CommandZoomIn  Command = "ZOOM_IN"
	CommandZoomOut Command = "ZOOM_OUT"
	CommandStop    Command = "STOP"
)

const (
	maskUp      = 0x08
	maskDown    = 0x04
	maskLeft    = 0x02
	maskRight   = 0x01
	maskZoomIn  = 0x10
	maskZoomOut = 0x20
)

// Commands lists every command ParseCommand accepts.
func Commands() []Command {
	return []Command{
		CommandUp, CommandDown, CommandLeft, CommandRight,
		CommandZoomIn, CommandZoomOut, CommandStop,
	}
}

func ParseCommand(raw string) (Command, error) {
	switch Command(strings.ToUpper(strings.TrimSpace(raw))) {
	case CommandUp:
		return CommandUp, nil
	case CommandDown:
		return CommandDown, nil
	case CommandLeft:
		return CommandLeft, nil
	case CommandRight:
		return CommandRight, nil
	case CommandZoomIn:
		return CommandZoomIn, nil
	case CommandZoomOut:
		return CommandZoomOut, nil
	case CommandStop:
		return CommandStop, nil
	default:
		return "", fmt.Errorf("%w: %q", errs.ErrUnsupportedPTZCommand, raw)
	}
}

// Encode renders the 8-byte control frame as 16 uppercase hex characters.
// Directional commands carry speed in byte 4; zoom commands leave it zero
// and STOP zeroes everything but the header. The trailing byte is the sum
// of the first seven bytes mod 256.
func Encode(command Command, speed int) (string, error) {
	frame := [8]byte{0xA5, 0x0F, 0, 0, 0, 0, 0, 0}
	switch command {
	case CommandUp:
		frame[2] = maskUp
		frame[3] = byte(speed & 0xFF)
	case CommandDown:
		frame[2] = maskDown
		frame[3] = byte(speed & 0xFF)
	case CommandLeft:
		frame[2] = maskLeft
		frame[3] = byte(speed & 0xFF)
	case CommandRight:
		frame[2] = maskRight
		frame[3] = byte(speed & 0xFF)
	case CommandZoomIn:
		frame[4] = maskZoomIn
	case CommandZoomOut:
		frame[4] = maskZoomOut
	case CommandStop:
		// Header only.
	default:
		return "", fmt.Errorf("%w: %q", errs.ErrUnsupportedPTZCommand, string(command))
	}

	sum := 0
	for i := 0; i < 7; i++ {
		sum += int(frame[i])
	}
	frame[7] = byte(sum % 256)

	var b strings.Builder
	for _, value := range frame {
		fmt.Fprintf(&b, "%02X", value)
	}
	return b.String(), nil
}
