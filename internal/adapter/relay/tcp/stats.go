package tcp

import (
	"net"

	"github.com/relaymesh/grelay/internal/core/ports"
)

// countDirection tags which side of a connection a countConn instance wraps,
// so byte counts are attributed to the right observer callback.
type countDirection int

const (
	directionInbound countDirection = iota
	directionOutbound
)

// countConn wraps a net.Conn and reports every successful Read to the
// observer (Write passes through uncounted), grounded on realm_core's CountStream<T>. Go's io.Copy operates
// on plain io.Reader/io.Writer so this only needs Read/Write, not the full
// net.Conn surface, but embedding net.Conn keeps deadlines/Close available
// to callers that need them (e.g. zero-copy splice).
type countConn struct {
	net.Conn
	observer  ports.TCPObserver
	id        uint64
	direction countDirection
}

func newCountConn(c net.Conn, observer ports.TCPObserver, id uint64, dir countDirection) *countConn {
	return &countConn{Conn: c, observer: observer, id: id, direction: dir}
}

// Read is the only method that reports: io.Copy reads from one side of the
// relay and writes to the other, so counting reads alone attributes every
// byte exactly once per direction instead of double-counting it on both the
// read and the matching write.
func (c *countConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if n > 0 {
		c.report(uint64(n))
	}
	return n, err
}

func (c *countConn) report(n uint64) {
	if c.observer == nil {
		return
	}
	switch c.direction {
	case directionInbound:
		c.observer.OnConnectionBytes(c.id, n, 0)
	case directionOutbound:
		c.observer.OnConnectionBytes(c.id, 0, n)
	}
}
