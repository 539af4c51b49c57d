package tcp

import (
	"bufio"
	"context"
	"errors"
	"net"
	"syscall"
	"time"

	"github.com/relaymesh/grelay/internal/adapter/health"
	"github.com/relaymesh/grelay/internal/adapter/proxyproto"
	"github.com/relaymesh/grelay/internal/core/domain"
	"github.com/relaymesh/grelay/internal/core/ports"
	"github.com/relaymesh/grelay/internal/logger"
)

// Run starts the TCP side of an endpoint: it binds the listener, reports
// readiness on ready, spins up the background health prober when the
// balancer is Failover, then accepts connections until ctx is cancelled.
// Grounded on realm_core::tcp::run_tcp_inner.
func Run(ctx context.Context, ep domain.Endpoint, ready chan<- error, observer ports.TCPObserver, log logger.StyledLogger) error {
	var failoverHealth *health.FailoverHealth
	if ep.ConnOpts.Balancer != nil && ep.ConnOpts.Balancer.Strategy() == "failover" {
		total := ep.ConnOpts.Balancer.Total()
		failoverHealth = health.NewFailoverHealth(total)
		if observer != nil {
			observer.OnFailoverHealth(failoverHealth)
		}

		peers := make([]net.Addr, 0, total)
		if ep.Raddr.Socket != nil {
			peers = append(peers, ep.Raddr.Socket)
		}
		for _, extra := range ep.ExtraRaddrs {
			if extra.Socket != nil {
				peers = append(peers, extra.Socket)
			}
		}
		if len(peers) > 0 {
			prober := health.NewProber(failoverHealth, peers, ep.ConnOpts.Failover, func(dialCtx context.Context, addr net.Addr, timeout time.Duration) error {
				conn, err := (&net.Dialer{Timeout: timeout}).DialContext(dialCtx, "tcp", addr.String())
				if err != nil {
					return err
				}
				return conn.Close()
			})
			go prober.Run(ctx)
		}
	}

	listener, err := bind(ep.Laddr, ep.BindOpts)
	if err != nil {
		ready <- err
		return err
	}
	ready <- nil

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			if errors.Is(err, syscall.ECONNABORTED) {
				log.Warn("tcp accept error", "error", err)
				continue
			}
			// any other accept error (e.g. EMFILE, a dead listener that
			// isn't net.ErrClosed) is fatal: propagate it so the manager's
			// crash watcher marks the instance Failed instead of spinning
			// on a broken listener forever.
			return err
		}

		if tcpConn, ok := conn.(*net.TCPConn); ok {
			_ = tcpConn.SetNoDelay(true)
			if ep.ConnOpts.TCPKeepaliveS > 0 {
				_ = tcpConn.SetKeepAlive(true)
				_ = tcpConn.SetKeepAlivePeriod(time.Duration(ep.ConnOpts.TCPKeepaliveS) * time.Second)
			}
		}

		var connID uint64
		if observer != nil {
			connID = observer.OnConnectionOpen(conn.RemoteAddr())
		}

		go func(c net.Conn) {
			if ep.ConnOpts.ProxyOpts.AcceptProxy {
				wrapped, err := acceptProxyHeader(c, time.Duration(ep.ConnOpts.ProxyOpts.AcceptProxyTimeout)*time.Second)
				if err != nil {
					log.Warn("rejecting connection with malformed PROXY header", "peer", c.RemoteAddr(), "error", err)
					_ = c.Close()
					if observer != nil {
						observer.OnConnectionEnd(connID, err)
					}
					return
				}
				c = wrapped
			}

			relayErr := ConnectAndRelay(ctx, c, ep.Raddr, ep.ExtraRaddrs, &ep.ConnOpts, failoverHealth, observer, connID)
			if observer != nil {
				observer.OnConnectionEnd(connID, relayErr)
			}
		}(conn)
	}
}

// proxyHeaderConn replaces a raw accepted conn's Read with the buffered
// reader proxyproto.ReadHeader leaves behind, so the handshake's lookahead
// bytes aren't lost to the relay that follows it.
type proxyHeaderConn struct {
	net.Conn
	br *bufio.Reader
}

func (c *proxyHeaderConn) Read(b []byte) (int, error) { return c.br.Read(b) }

// acceptProxyHeader reads and discards a PROXY v1/v2 header within timeout,
// rejecting the connection on a malformed header or timeout per the PROXY
// protocol's accept-side contract.
func acceptProxyHeader(conn net.Conn, timeout time.Duration) (net.Conn, error) {
	_, br, err := proxyproto.ReadHeader(conn, timeout)
	if err != nil {
		return nil, err
	}
	return &proxyHeaderConn{Conn: conn, br: br}, nil
}
