package tcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/relaymesh/grelay/internal/adapter/health"
	"github.com/relaymesh/grelay/internal/adapter/proxyproto"
	"github.com/relaymesh/grelay/internal/core/domain"
	"github.com/relaymesh/grelay/internal/core/ports"
)

// peekConn wraps the accepted client connection in a bufio.Reader so the
// relay can repeatedly "peek" for client disconnect without losing any bytes
// that arrive before a backend is selected: every subsequent read, including
// the final relay copy, goes through the same buffered reader.
type peekConn struct {
	net.Conn
	buf *bufio.Reader
}

func newPeekConn(c net.Conn) *peekConn {
	return &peekConn{Conn: c, buf: bufio.NewReader(c)}
}

func (p *peekConn) Read(b []byte) (int, error) { return p.buf.Read(b) }

// isClosed makes a best-effort non-blocking check for client disconnect by
// racing a 1-byte Peek against a short deadline. A timeout means "still
// open, nothing to read yet"; EOF or a hard error means "closed".
func (p *peekConn) isClosed() bool {
	_ = p.Conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	defer p.Conn.SetReadDeadline(time.Time{})

	_, err := p.buf.Peek(1)
	switch {
	case err == nil:
		return false
	case errors.Is(err, io.EOF):
		return true
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return false
		}
		return true
	}
}

// candidate pairs a peer token with its resolved remote address.
type candidate struct {
	idx   domain.Token
	raddr domain.RemoteAddr
}

// ConnectAndRelay is the per-connection pipeline: it picks a remote peer
// (consulting the balancer and, for Failover, the shared health state),
// dials it with fail-fast/retry semantics, then bridges bytes until either
// side closes. It is grounded on realm_core::tcp::middle::connect_and_relay.
func ConnectAndRelay(
	ctx context.Context,
	local net.Conn,
	raddr domain.RemoteAddr,
	extraRaddrs []domain.RemoteAddr,
	connOpts *domain.ConnectOpts,
	failoverHealth *health.FailoverHealth,
	observer ports.TCPObserver,
	connID uint64,
) error {
	peer := newPeekConn(local)

	localPeerAddr, _, _ := net.SplitHostPort(local.RemoteAddr().String())
	srcIP := net.ParseIP(localPeerAddr)

	isFailover := connOpts.Balancer != nil && connOpts.Balancer.Strategy() == "failover"
	var failover *health.FailoverHealth
	if isFailover {
		failover = failoverHealth
	}

	candidates := buildCandidates(connOpts, raddr, extraRaddrs, srcIP)

	var (
		lastErr  error
		selected *candidate
		remote   net.Conn
	)

	retryWindow := time.Duration(0)
	retrySleep := time.Duration(0)
	if isFailover {
		retryWindow = time.Duration(connOpts.Failover.RetryWindowMs) * time.Millisecond
		retrySleep = time.Duration(connOpts.Failover.RetrySleepMs) * time.Millisecond
	}
	start := time.Now()

	for {
		if peer.isClosed() {
			return fmt.Errorf("client disconnected")
		}

		allowed := candidates
		if failover != nil {
			filtered := make([]candidate, 0, len(candidates))
			for _, c := range candidates {
				if !failover.ShouldSkip(c.idx) {
					filtered = append(filtered, c)
				}
			}
			if len(filtered) > 0 {
				allowed = filtered
			}
		}

		for _, c := range allowed {
			useFailfast := failover != nil && !failover.IsRecentOK(c.idx, connOpts.Failover.OkTTLMs)

			var (
				conn net.Conn
				err  error
			)
			if useFailfast && isFailover && connOpts.Failover.FailfastTimeoutMs > 0 {
				conn, err = connectWithTimeout(ctx, peer, c.raddr, connOpts, time.Duration(connOpts.Failover.FailfastTimeoutMs)*time.Millisecond)
			} else {
				conn, err = connectWithLocalCancel(ctx, peer, c.raddr, connOpts)
			}

			if err != nil {
				lastErr = err
				if failover != nil {
					failover.MarkFail(c.idx, connOpts.Failover.BackoffBaseMs, connOpts.Failover.BackoffMaxMs)
				}
				continue
			}
			selected = &c
			remote = conn
			if failover != nil {
				failover.MarkOK(c.idx)
			}
			break
		}

		if remote != nil {
			break
		}
		if retryWindow == 0 {
			break
		}
		if time.Since(start) >= retryWindow {
			break
		}
		if retrySleep > 0 {
			time.Sleep(retrySleep)
		}
	}

	if remote == nil {
		if lastErr != nil {
			return lastErr
		}
		return fmt.Errorf("could not connect to any remote peer")
	}

	if observer != nil {
		observer.OnConnectionBackend(connID, selected.raddr)
	}

	if connOpts.ProxyOpts.SendProxy {
		if err := sendProxyHeader(local, remote, connOpts.ProxyOpts.SendProxyVersion); err != nil {
			_ = remote.Close()
			return fmt.Errorf("send PROXY header: %w", err)
		}
	}

	var localSide io.ReadWriteCloser = peer
	var remoteSide io.ReadWriteCloser = remote
	if observer != nil {
		localSide = struct {
			io.Reader
			io.Writer
			io.Closer
		}{newCountConn(peer, observer, connID, directionInbound), peer, peer}
		remoteSide = struct {
			io.Reader
			io.Writer
			io.Closer
		}{newCountConn(remote, observer, connID, directionOutbound), remote, remote}
	}

	err := runRelay(localSide, remoteSide)
	// relay errors are expected (client or backend closing) and are never
	// fatal to the listener; only connect-phase failures are returned.
	_ = err
	return nil
}

func buildCandidates(connOpts *domain.ConnectOpts, raddr domain.RemoteAddr, extras []domain.RemoteAddr, srcIP net.IP) []candidate {
	if connOpts.Balancer == nil {
		return []candidate{{idx: 0, raddr: raddr}}
	}
	tokens := connOpts.Balancer.Candidates(domain.BalanceCtx{SrcIP: srcIP})
	out := make([]candidate, 0, len(tokens))
	for _, tok := range tokens {
		if tok == 0 {
			out = append(out, candidate{idx: 0, raddr: raddr})
			continue
		}
		i := int(tok) - 1
		if i >= 0 && i < len(extras) {
			out = append(out, candidate{idx: tok, raddr: extras[i]})
		}
	}
	if len(out) == 0 {
		out = append(out, candidate{idx: 0, raddr: raddr})
	}
	return out
}

// connectWithLocalCancel races the dial against a poll of the client socket
// so a connect attempt against a slow/unresponsive peer doesn't outlive a
// client that has already hung up.
func connectWithLocalCancel(ctx context.Context, peer *peekConn, raddr domain.RemoteAddr, connOpts *domain.ConnectOpts) (net.Conn, error) {
	resultCh := make(chan struct {
		conn net.Conn
		err  error
	}, 1)
	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		conn, err := dial(dialCtx, raddr, connOpts)
		resultCh <- struct {
			conn net.Conn
			err  error
		}{conn, err}
	}()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case res := <-resultCh:
			return res.conn, res.err
		case <-ticker.C:
			if peer.isClosed() {
				cancel()
				return nil, fmt.Errorf("client disconnected")
			}
		}
	}
}

func connectWithTimeout(ctx context.Context, peer *peekConn, raddr domain.RemoteAddr, connOpts *domain.ConnectOpts, timeout time.Duration) (net.Conn, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return connectWithLocalCancel(timeoutCtx, peer, raddr, connOpts)
}

// sendProxyHeader emits a PROXY header to remote describing the accepted
// client's address as src and the dialed backend as dst, per send_proxy.
func sendProxyHeader(local, remote net.Conn, version int) error {
	src, ok := local.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return fmt.Errorf("client address is not TCP: %v", local.RemoteAddr())
	}
	dst, ok := remote.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return fmt.Errorf("backend address is not TCP: %v", remote.RemoteAddr())
	}
	return proxyproto.WriteHeader(remote, version, src, dst)
}
