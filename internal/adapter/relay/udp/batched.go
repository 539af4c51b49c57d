package udp

import (
	"errors"
	"net"
	"time"
)

// batchedRecvOn blocks for the first datagram, then drains any further
// datagrams already queued on the socket (non-blocking) up to len(pkts),
// approximating realm_core's recvmmsg-based recv_some without requiring a
// platform-specific syscall: the first recv pays the blocking wait, every
// subsequent one bails out immediately once the kernel has nothing left
// buffered.
func (r *registry) batchedRecvOn(conn *net.UDPConn) error {
	_ = conn.SetReadDeadline(time.Time{})
	n, addr, err := conn.ReadFromUDP(r.pkts[0].buf)
	if err != nil {
		return err
	}
	r.pkts[0].n = n
	r.pkts[0].addr = addr
	count := 1

	for count < len(r.pkts) {
		_ = conn.SetReadDeadline(time.Now())
		c, a, err := conn.ReadFromUDP(r.pkts[count].buf)
		if err != nil {
			if isTimeout(err) {
				break
			}
			break
		}
		r.pkts[count].n = c
		r.pkts[count].addr = a
		count++
	}
	_ = conn.SetReadDeadline(time.Time{})
	r.cursor = count
	return nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
