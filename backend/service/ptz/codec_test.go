package ptz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videosurveillance/platform/backend/errs"
)

func TestEncodeStopIgnoresSpeed(t *testing.T) {
	for _, speed := range []int{0, 50, 255, 1000} {
		frame, err := Encode(CommandStop, speed)
		require.NoError(t, err)
		assert.Equal(t, "A50F0000000000B4", frame)
	}
}

func TestEncodeDirectional(t *testing.T) {
	cases := []struct {
		command Command
		speed   int
		want    string
	}{
		{CommandUp, 50, "A50F0832000000EE"},
		{CommandDown, 0, "A50F0400000000B8"},
		{CommandLeft, 255, "A50F02FF000000B5"},
		{CommandRight, 1, "A50F0101000000B6"},
	}
	for _, tc := range cases {
		frame, err := Encode(tc.command, tc.speed)
		require.NoError(t, err)
		assert.Equal(t, tc.want, frame, "command %s", tc.command)
	}
}

func TestEncodeZoomLeavesSpeedByteZero(t *testing.T) {
	frame, err := Encode(CommandZoomIn, 120)
	require.NoError(t, err)
	assert.Equal(t, "A50F0000100000C4", frame)

	frame, err = Encode(CommandZoomOut, 120)
	require.NoError(t, err)
	assert.Equal(t, "A50F0000200000D4", frame)
}

func TestEncodeChecksumWraps(t *testing.T) {
	// A5+0F+08+FF = 1BB -> checksum BB.
	frame, err := Encode(CommandUp, 255)
	require.NoError(t, err)
	assert.Equal(t, "A50F08FF000000BB", frame)
}

func TestEncodeUnknownCommand(t *testing.T) {
	_, err := Encode(Command("SPIN"), 1)
	assert.ErrorIs(t, err, errs.ErrUnsupportedPTZCommand)
}

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand(" zoom_in ")
	require.NoError(t, err)
	assert.Equal(t, CommandZoomIn, cmd)

	_, err = ParseCommand("sideways")
	assert.ErrorIs(t, err, errs.ErrUnsupportedPTZCommand)
}
