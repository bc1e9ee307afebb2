package outgauge

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrTimeout is returned by Read when no telemetry arrived within the
// configured deadline. The caller treats this as "game idle", not a failure.
var ErrTimeout = errors.New("outgauge: read timed out")

// udpConn is the part of *net.UDPConn the listener needs; split out so tests
// can substitute a fake.
type udpConn interface {
	SetReadDeadline(t time.Time) error
	ReadFromUDP(b []byte) (int, *net.UDPAddr, error)
	Close() error
}

type resolveFunc func(network, address string) (*net.UDPAddr, error)
type listenFunc func(network string, laddr *net.UDPAddr) (udpConn, error)

// Listener receives OutGauge frames on a bound UDP socket.
type Listener struct {
	addr    string
	timeout time.Duration
	conn    udpConn
	buf     []byte
}

func NewListener(addr string, timeout time.Duration) (*Listener, error) {
	return newListener(addr, timeout, net.ResolveUDPAddr, func(network string, laddr *net.UDPAddr) (udpConn, error) {
		return net.ListenUDP(network, laddr)
	})
}

func newListener(addr string, timeout time.Duration, resolve resolveFunc, listen listenFunc) (*Listener, error) {
	laddr, err := resolve("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve listen addr: %w", err)
	}
	conn, err := listen("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen udp: %w", err)
	}
	if timeout <= 0 {
		timeout = 1 * time.Second
	}
	return &Listener{
		addr:    addr,
		timeout: timeout,
		conn:    conn,
		buf:     make([]byte, 256),
	}, nil
}

// Read blocks for at most the configured timeout and returns the next decoded
// frame. It returns ErrTimeout when no datagram arrived, net.ErrClosed after
// Close, and a decode error for malformed frames.
func (l *Listener) Read() (Packet, error) {
	if err := l.conn.SetReadDeadline(time.Now().Add(l.timeout)); err != nil {
		return Packet{}, err
	}
	n, _, err := l.conn.ReadFromUDP(l.buf)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return Packet{}, ErrTimeout
		}
		return Packet{}, err
	}
	return Decode(l.buf[:n])
}

func (l *Listener) Addr() string {
	return l.addr
}

func (l *Listener) Close() error {
	if l.conn == nil {
		return nil
	}
	return l.conn.Close()
}
