package ws

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	cases := []struct {
		name      string
		opcode    Opcode
		payload   []byte
		threshold int
		mask      bool
	}{
		{"small unmasked binary", OpBinary, []byte("hello"), 0, false},
		{"small masked text", OpText, []byte("hello world"), 0, true},
		{"empty payload", OpBinary, nil, 0, false},
		{"126-boundary length", OpBinary, bytes.Repeat([]byte("x"), 126), 0, false},
		{"64-bit extended length", OpBinary, bytes.Repeat([]byte("y"), 70000), 0, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := WriteMessage(&buf, tc.opcode, tc.payload, tc.threshold, tc.mask, false)
			require.NoError(t, err)

			r := bufio.NewReader(&buf)
			f, err := ReadFrame(r, FrameOptions{AllowMaskedServerFrames: true})
			require.NoError(t, err)
			assert.True(t, f.FIN)
			assert.Equal(t, tc.opcode, f.Opcode)
			assert.Equal(t, tc.payload, f.Payload)
		})
	}
}

func TestWriteMessageFragmentsAtThreshold(t *testing.T) {
	var buf bytes.Buffer
	payload := bytes.Repeat([]byte("a"), 10)
	require.NoError(t, WriteMessage(&buf, OpText, payload, 4, false, false))

	r := bufio.NewReader(&buf)
	var assembled []byte
	first := true
	for {
		f, err := ReadFrame(r, FrameOptions{})
		require.NoError(t, err)
		if first {
			assert.Equal(t, OpText, f.Opcode)
			first = false
		} else {
			assert.Equal(t, OpContinuation, f.Opcode)
		}
		assembled = append(assembled, f.Payload...)
		if f.FIN {
			break
		}
	}
	assert.Equal(t, payload, assembled)
}

func TestReadFrameRejectsReservedOpcode(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(0x80 | 0x03) // FIN + reserved opcode 3
	buf.WriteByte(0x00)
	r := bufio.NewReader(&buf)
	_, err := ReadFrame(r, FrameOptions{})
	require.Error(t, err)
	var perr *ProtocolError
	assert.ErrorAs(t, err, &perr)
}

func TestReadFrameRejectsUnnegotiatedRSVBit(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(0x80 | 0x40 | byte(OpBinary)) // FIN + RSV1 + binary
	buf.WriteByte(0x00)
	r := bufio.NewReader(&buf)
	_, err := ReadFrame(r, FrameOptions{})
	require.Error(t, err)
}

func TestReadFrameAllowsRSV1WhenPermitted(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(0x80 | 0x40 | byte(OpBinary))
	buf.WriteByte(0x00)
	r := bufio.NewReader(&buf)
	f, err := ReadFrame(r, FrameOptions{PermittedRSVMask: 0x40})
	require.NoError(t, err)
	assert.True(t, f.RSV1)
}

func TestReadFrameRejectsMaskedServerFrameByDefault(t *testing.T) {
	var buf bytes.Buffer
	frame, err := BuildFrame(OpBinary, []byte("x"), true, true, false)
	require.NoError(t, err)
	buf.Write(frame)
	r := bufio.NewReader(&buf)
	_, err = ReadFrame(r, FrameOptions{})
	require.Error(t, err)
	var merr *MaskedServerFrameError
	assert.ErrorAs(t, err, &merr)
}

func TestReadFrameRejectsOversizedControlFrame(t *testing.T) {
	var buf bytes.Buffer
	payload := bytes.Repeat([]byte("z"), 126)
	frame, err := BuildFrame(OpPing, payload, true, false, false)
	require.NoError(t, err)
	buf.Write(frame)
	r := bufio.NewReader(&buf)
	_, err = ReadFrame(r, FrameOptions{})
	require.Error(t, err)
}

func TestReadFrameEnforcesMaxPayload(t *testing.T) {
	var buf bytes.Buffer
	payload := bytes.Repeat([]byte("q"), 1000)
	frame, err := BuildFrame(OpBinary, payload, true, false, false)
	require.NoError(t, err)
	buf.Write(frame)
	r := bufio.NewReader(&buf)
	_, err = ReadFrame(r, FrameOptions{MaxPayload: 100})
	require.Error(t, err)
}
