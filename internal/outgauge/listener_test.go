package outgauge

import (
	"errors"
	"net"
	"testing"
	"time"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

type fakeUDPConn struct {
	frames    [][]byte
	readErr   error
	deadlines []time.Time
	closed    bool
}

func (c *fakeUDPConn) SetReadDeadline(t time.Time) error {
	c.deadlines = append(c.deadlines, t)
	return nil
}

func (c *fakeUDPConn) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	if c.readErr != nil {
		return 0, nil, c.readErr
	}
	if len(c.frames) == 0 {
		return 0, nil, timeoutErr{}
	}
	f := c.frames[0]
	c.frames = c.frames[1:]
	return copy(b, f), nil, nil
}

func (c *fakeUDPConn) Close() error {
	c.closed = true
	return nil
}

func newTestListener(t *testing.T, conn udpConn) *Listener {
	t.Helper()
	l, err := newListener("0.0.0.0:4444", 50*time.Millisecond, net.ResolveUDPAddr,
		func(network string, laddr *net.UDPAddr) (udpConn, error) {
			return conn, nil
		})
	if err != nil {
		t.Fatalf("newListener() error: %v", err)
	}
	return l
}

func TestListener_ReadDecodesFrame(t *testing.T) {
	conn := &fakeUDPConn{frames: [][]byte{buildFrame(t, 20, true)}}
	l := newTestListener(t, conn)

	p, err := l.Read()
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if got := p.SpeedKMH(); got != 72.0 {
		t.Fatalf("speed=%v want 72.0", got)
	}
	if len(conn.deadlines) != 1 {
		t.Fatalf("expected a read deadline per read, got %d", len(conn.deadlines))
	}
}

func TestListener_TimeoutIsErrTimeout(t *testing.T) {
	l := newTestListener(t, &fakeUDPConn{})

	_, err := l.Read()
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err=%v want ErrTimeout", err)
	}
}

func TestListener_ShortFrameIsDecodeError(t *testing.T) {
	conn := &fakeUDPConn{frames: [][]byte{make([]byte, 10)}}
	l := newTestListener(t, conn)

	_, err := l.Read()
	if err == nil || errors.Is(err, ErrTimeout) {
		t.Fatalf("err=%v want decode error", err)
	}
}

func TestListener_CloseClosesConn(t *testing.T) {
	conn := &fakeUDPConn{}
	l := newTestListener(t, conn)

	if err := l.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if !conn.closed {
		t.Fatalf("underlying conn not closed")
	}
}
