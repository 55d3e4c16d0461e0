// Package transport frames SMB2 messages over a TCP stream.
// Every message is prepended with a 4-byte header, which encodes the length of the message.
package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// DefaultPort is the direct-hosted SMB port.
const DefaultPort = "445"

// MaxMessageSize is the largest message the 3-byte length field can describe.
const MaxMessageSize = 1<<24 - 1

const (
	sessionMessage   = 0x00
	sessionKeepAlive = 0x85
)

var (
	ErrMessageTooLong = errors.New("message too long")
	ErrBadFrame       = errors.New("first byte is supposed to be zero")
	ErrClosed         = errors.New("use of closed connection")
)

// ConnectionError is returned for every transport-level failure.
// It is always fatal to the connection.
type ConnectionError struct {
	Op   string
	Addr string
	Err  error
}

// Error implements error.
func (e *ConnectionError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was caused by a deadline.
func (e *ConnectionError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// Conn is a framed SMB2 connection. Send and Receive may be called
// concurrently with each other, but each of them from one goroutine at a time.
type Conn struct {
	conn    net.Conn
	addr    string
	timeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// Dial connects to addr, adding the default SMB port if addr has none.
// The timeout bounds the dial and every subsequent write; zero disables it.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Conn, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, DefaultPort)
	}

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Addr: addr, Err: err}
	}

	return New(conn, timeout), nil
}

// New wraps an established stream.
func New(conn net.Conn, timeout time.Duration) *Conn {
	addr := ""
	if ra := conn.RemoteAddr(); ra != nil {
		addr = ra.String()
	}
	return &Conn{conn: conn, addr: addr, timeout: timeout}
}

// RemoteAddr returns the address of the peer.
func (c *Conn) RemoteAddr() string {
	return c.addr
}

// Send writes a single framed message.
func (c *Conn) Send(msg []byte) error {
	length := len(msg)
	if length > MaxMessageSize {
		return &ConnectionError{Op: "write", Addr: c.addr, Err: ErrMessageTooLong}
	}

	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[:4], uint32(length))
	copy(buf[4:], msg)

	if c.timeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}

	if _, err := c.conn.Write(buf); err != nil {
		return &ConnectionError{Op: "write", Addr: c.addr, Err: err}
	}

	return nil
}

// Receive blocks until one full message is read. NetBIOS keep-alive frames
// are skipped. No read deadline is applied: an idle connection is legal.
func (c *Conn) Receive() ([]byte, error) {
	hdr := make([]byte, 4)
	for {
		if _, err := io.ReadFull(c.conn, hdr); err != nil {
			return nil, &ConnectionError{Op: "read", Addr: c.addr, Err: err}
		}

		length := binary.BigEndian.Uint32(hdr) & MaxMessageSize
		switch hdr[0] {
		case sessionMessage:
		case sessionKeepAlive:
			if length > 0 {
				if _, err := io.CopyN(io.Discard, c.conn, int64(length)); err != nil {
					return nil, &ConnectionError{Op: "read", Addr: c.addr, Err: err}
				}
			}
			continue
		default:
			return nil, &ConnectionError{Op: "read", Addr: c.addr, Err: ErrBadFrame}
		}

		msg := make([]byte, length)
		if _, err := io.ReadFull(c.conn, msg); err != nil {
			return nil, &ConnectionError{Op: "read", Addr: c.addr, Err: err}
		}

		return msg, nil
	}
}

// Close releases the socket. It is safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		if err := c.conn.Close(); err != nil {
			c.closeErr = &ConnectionError{Op: "close", Addr: c.addr, Err: err}
		}
	})
	return c.closeErr
}
