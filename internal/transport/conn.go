// Package transport implements the replay wire protocol: length-prefixed
// frames over TCP, guarded by a shared-key challenge handshake.
package transport

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// MaxFrameSize bounds a single received frame.
const MaxFrameSize = 64 << 20

// ErrFrameTooLarge reports a frame header announcing more than MaxFrameSize bytes.
var ErrFrameTooLarge = errors.New("frame too large")

// Conn is a framed message connection. Each Send is delivered to the
// peer as exactly one message. Send and Recv may be used concurrently
// with each other, but not with themselves.
type Conn struct {
	nc net.Conn
	br *bufio.Reader

	wmu sync.Mutex
}

// NewConn wraps an established network connection.
func NewConn(nc net.Conn) *Conn {
	return &Conn{
		nc: nc,
		br: bufio.NewReader(nc),
	}
}

// Send writes payload as one frame.
func (c *Conn) Send(payload string) error {
	return c.SendBytes([]byte(payload))
}

// SendBytes writes b as one frame: a 4-byte big-endian length, then the bytes.
func (c *Conn) SendBytes(b []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	buf := make([]byte, 4+len(b))
	binary.BigEndian.PutUint32(buf, uint32(len(b)))
	copy(buf[4:], b)
	_, err := c.nc.Write(buf)
	return err
}

// Recv reads the next frame.
func (c *Conn) Recv() ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(c.br, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.br, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// SetDeadline sets read and write deadlines on the underlying connection.
func (c *Conn) SetDeadline(t time.Time) error { return c.nc.SetDeadline(t) }

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.nc.Close() }
