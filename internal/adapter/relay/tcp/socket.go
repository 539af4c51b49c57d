package tcp

import (
	"context"
	"net"
	"time"

	"github.com/relaymesh/grelay/internal/core/domain"
)

// bind opens a plain TCP listening socket for an endpoint. BindOpts is
// accepted but not applied: the binding interface, IPv6-only and MPTCP
// acceptance settings are ignored.
func bind(laddr *net.TCPAddr, _ domain.BindOpts) (net.Listener, error) {
	return net.ListenTCP("tcp", laddr)
}

// dial connects to a remote peer honouring ConnectOpts' timeout and local
// bind address, then applies nodelay/keepalive the same way the teacher's
// proxy transport configures outbound connections (internal/adapter/proxy
// sherpa/service.go's DialContext).
func dial(ctx context.Context, raddr domain.RemoteAddr, opts *domain.ConnectOpts) (net.Conn, error) {
	dialer := &net.Dialer{}
	if opts.ConnectTimeoutMs > 0 {
		dialer.Timeout = time.Duration(opts.ConnectTimeoutMs) * time.Millisecond
	}
	if opts.BindAddress != nil {
		dialer.LocalAddr = opts.BindAddress
	}

	addr := raddr.String()
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
		if opts.TCPKeepaliveS > 0 {
			_ = tcpConn.SetKeepAlive(true)
			_ = tcpConn.SetKeepAlivePeriod(time.Duration(opts.TCPKeepaliveS) * time.Second)
		}
	}
	return conn, nil
}
