package transport

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeChannel wires a PlainChannel to an in-memory peer. net.Pipe is
// synchronous, so every test drives the server end from a goroutine.
func pipeChannel(t *testing.T) (*PlainChannel, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return &PlainChannel{conn: client, open: true}, server
}

func TestPlainCommandAckRoundTrip(t *testing.T) {
	ch, server := pipeChannel(t)

	done := make(chan error, 1)
	go func() {
		typ, payload, err := readFrame(server)
		if err != nil {
			done <- err
			return
		}
		assert.Equal(t, frameCommand, typ)
		var op Operation
		if err := json.Unmarshal(payload, &op); err != nil {
			done <- err
			return
		}
		assert.Equal(t, "reboot", op.Name)
		body, _ := json.Marshal(Result{ExitCode: 0, Output: "rebooting"})
		done <- writeFrame(server, frameAck, body)
	}()

	res, err := ch.Execute(context.Background(), Operation{
		Name:    "reboot",
		Payload: json.RawMessage(`{"delay":5}`),
	})
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "rebooting", res.Output)
	assert.True(t, ch.Open())
}

func TestPlainRemoteErrorKeepsChannelOpen(t *testing.T) {
	ch, server := pipeChannel(t)

	go func() {
		if _, _, err := readFrame(server); err != nil {
			return
		}
		writeFrame(server, frameError, []byte("unknown action"))
	}()

	_, err := ch.Execute(context.Background(), Operation{Name: "bogus"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown action")
	// A remote error is an answer, not a broken wire.
	assert.True(t, ch.Open())
}

func TestPlainOversizedFrameRejected(t *testing.T) {
	ch, server := pipeChannel(t)

	go func() {
		if _, _, err := readFrame(server); err != nil {
			return
		}
		header := make([]byte, 5)
		header[0] = frameAck
		binary.BigEndian.PutUint32(header[1:], maxFrameLen+1)
		server.Write(header)
	}()

	_, err := ch.Execute(context.Background(), Operation{Name: "inventory"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "frame too large")
	assert.False(t, ch.Open())
}

func TestPlainConnectionClosedMidFrame(t *testing.T) {
	ch, server := pipeChannel(t)

	go func() {
		if _, _, err := readFrame(server); err != nil {
			return
		}
		// Announce 64 bytes, deliver a few, then hang up.
		header := make([]byte, 5)
		header[0] = frameAck
		binary.BigEndian.PutUint32(header[1:], 64)
		server.Write(header)
		server.Write([]byte("partial"))
		server.Close()
	}()

	_, err := ch.Execute(context.Background(), Operation{Name: "ping"})
	require.Error(t, err)
	assert.False(t, ch.Open())
}

func TestPlainUnexpectedFrameTypeClosesChannel(t *testing.T) {
	ch, server := pipeChannel(t)

	go func() {
		if _, _, err := readFrame(server); err != nil {
			return
		}
		writeFrame(server, 0x55, []byte("?"))
	}()

	_, err := ch.Execute(context.Background(), Operation{Name: "ping"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected frame type")
	assert.False(t, ch.Open())
}

func TestPlainExecuteOnClosedChannel(t *testing.T) {
	ch, _ := pipeChannel(t)
	require.NoError(t, ch.Close())
	_, err := ch.Execute(context.Background(), Operation{Name: "ping"})
	require.Error(t, err)
}
