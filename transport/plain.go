package transport

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// Frame types on the plain wire. A frame is one type byte followed by a
// 4-byte big-endian payload length and the payload itself.
const (
	frameCommand byte = 0x02
	frameAck     byte = 0x06
	frameError   byte = 0x7F
)

const maxFrameLen = 16 << 20

// PlainChannel speaks the framed JSON protocol over a raw TCP socket.
type PlainChannel struct {
	mu   sync.Mutex
	conn net.Conn
	open bool
}

// DialPlain opens a plain channel; the credential rides inside each
// command frame since the wire itself offers no authentication.
func DialPlain(ctx context.Context, target string, port int, _ Credential) (Channel, error) {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(target, fmt.Sprint(port)))
	if err != nil {
		return nil, err
	}
	return &PlainChannel{conn: conn, open: true}, nil
}

func (c *PlainChannel) Kind() string { return KindPlain }

func (c *PlainChannel) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *PlainChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return nil
	}
	c.open = false
	return c.conn.Close()
}

// Execute sends one command frame and waits for the matching ack. The
// context deadline is honored at the socket read/write boundaries, which
// is where cooperative cancellation lands.
func (c *PlainChannel) Execute(ctx context.Context, op Operation) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return nil, errors.New("channel closed")
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := c.conn.SetDeadline(deadline); err != nil {
			return nil, err
		}
		defer c.conn.SetDeadline(time.Time{})
	}
	body, err := json.Marshal(op)
	if err != nil {
		return nil, err
	}
	if err := writeFrame(c.conn, frameCommand, body); err != nil {
		c.open = false
		return nil, err
	}
	typ, payload, err := readFrame(c.conn)
	if err != nil {
		c.open = false
		return nil, err
	}
	switch typ {
	case frameAck:
		var res Result
		if err := json.Unmarshal(payload, &res); err != nil {
			return nil, fmt.Errorf("decode ack: %w", err)
		}
		return &res, nil
	case frameError:
		return nil, fmt.Errorf("remote error: %s", string(payload))
	default:
		c.open = false
		return nil, fmt.Errorf("unexpected frame type 0x%02x", typ)
	}
}

func writeFrame(conn net.Conn, typ byte, payload []byte) error {
	header := make([]byte, 5)
	header[0] = typ
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))
	if _, err := conn.Write(header); err != nil {
		return err
	}
	_, err := conn.Write(payload)
	return err
}

func readFrame(conn net.Conn) (byte, []byte, error) {
	header := make([]byte, 5)
	if _, err := readFull(conn, header); err != nil {
		return 0, nil, err
	}
	length := binary.BigEndian.Uint32(header[1:])
	if length > maxFrameLen {
		return 0, nil, fmt.Errorf("frame too large: %d bytes", length)
	}
	payload := make([]byte, length)
	if _, err := readFull(conn, payload); err != nil {
		return 0, nil, err
	}
	return header[0], payload, nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, errors.New("connection closed mid-frame")
		}
		total += n
	}
	return total, nil
}
