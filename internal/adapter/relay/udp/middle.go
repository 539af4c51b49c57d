package udp

import (
	"fmt"
	"net"
	"time"
	"weak"

	"github.com/relaymesh/grelay/internal/core/domain"
	"github.com/relaymesh/grelay/internal/core/ports"
	"github.com/relaymesh/grelay/internal/logger"
	"github.com/relaymesh/grelay/pkg/pool"
)

// registryPool amortises the 64*65507 byte allocation a fresh registry
// costs across the many associateAndRelay/sendBack rounds a long-lived
// endpoint runs through.
var registryPool = pool.NewLitePool(func() *registry { return newRegistry(maxPackets) })

// runGuard is held strongly by the owning Run loop for as long as the
// endpoint is alive. send_back goroutines only ever see a weak.Pointer to
// it, so they notice the endpoint has shut down as soon as the last strong
// reference is dropped, without needing an explicit cancellation channel
// plumbed through every association. Grounded on realm_core's
// Arc<()>/Weak<()> run_guard pattern, expressed with Go 1.24's weak package.
type runGuard struct{}

func associateAndRelay(
	lis *net.UDPConn,
	raddr domain.RemoteAddr,
	connOpts *domain.ConnectOpts,
	sockmap *sockMap,
	observer ports.UDPObserver,
	guard weak.Pointer[runGuard],
	resolve func(host string, port uint16) (net.Addr, error),
	log logger.StyledLogger,
) error {
	reg := registryPool.Get()
	defer registryPool.Put(reg)

	for {
		if err := reg.batchedRecvOn(lis); err != nil {
			return err
		}

		resolved, err := resolveUDP(raddr, resolve)
		if err != nil {
			return err
		}

		reg.groupByAddr()

		var groupErr error
		reg.groupIter(func(group []packet) bool {
			laddr := group[0].addr
			rsock, err := sockmap.findOrInsert(laddr, func() (*net.UDPConn, error) {
				s, err := net.DialUDP("udp", nil, resolved)
				if err != nil {
					return nil, err
				}
				if observer != nil {
					observer.OnSessionOpen(laddr)
				}
				go sendBack(lis, laddr, s, connOpts, sockmap, observer, guard, log)
				log.Info("new udp association", "client", laddr.String(), "upstream", resolved.String())
				return s, nil
			})
			if err != nil {
				groupErr = err
				return false
			}

			var bytes uint64
			for _, p := range group {
				if _, err := rsock.Write(p.buf[:p.n]); err != nil {
					groupErr = err
					return false
				}
				bytes += uint64(p.n)
			}
			if observer != nil && bytes > 0 {
				observer.OnBytes(bytes, 0)
			}
			return true
		})
		if groupErr != nil {
			log.Warn("udp forward error", "error", groupErr)
		}
	}
}

func sendBack(
	lis *net.UDPConn,
	laddr *net.UDPAddr,
	rsock *net.UDPConn,
	connOpts *domain.ConnectOpts,
	sockmap *sockMap,
	observer ports.UDPObserver,
	guard weak.Pointer[runGuard],
	log logger.StyledLogger,
) {
	reg := registryPool.Get()
	defer registryPool.Put(reg)
	timeout := time.Duration(connOpts.AssociateTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	const pollInterval = 500 * time.Millisecond
	var idle time.Duration

loop:
	for {
		step := pollInterval
		if timeout < step {
			step = timeout
		}
		_ = rsock.SetReadDeadline(time.Now().Add(step))
		n, _, err := rsock.ReadFromUDP(reg.pkts[0].buf)
		if err != nil {
			if isTimeout(err) {
				if guard.Value() == nil {
					break loop
				}
				idle += step
				if idle < timeout {
					continue loop
				}
				// associate_timeout elapsed with nothing coming back;
				// the client is assumed gone.
				break loop
			}
			break loop
		}
		idle = 0
		reg.pkts[0].n = n
		reg.cursor = 1

		// drain any further datagrams already queued, same batching
		// strategy as the forward path.
		for reg.cursor < len(reg.pkts) {
			_ = rsock.SetReadDeadline(time.Now())
			c, _, err := rsock.ReadFromUDP(reg.pkts[reg.cursor].buf)
			if err != nil {
				break
			}
			reg.pkts[reg.cursor].n = c
			reg.cursor++
		}

		var bytes uint64
		for _, p := range reg.all() {
			if _, err := lis.WriteToUDP(p.buf[:p.n], laddr); err != nil {
				log.Warn("udp sendto client failed", "client", laddr.String(), "error", err)
				break loop
			}
			bytes += uint64(p.n)
		}
		if observer != nil && bytes > 0 {
			observer.OnBytes(0, bytes)
		}
	}

	sockmap.remove(laddr)
	if observer != nil {
		observer.OnSessionClose(laddr)
	}
}

func resolveUDP(raddr domain.RemoteAddr, resolve func(host string, port uint16) (net.Addr, error)) (*net.UDPAddr, error) {
	if raddr.Socket != nil {
		return &net.UDPAddr{IP: raddr.Socket.IP, Port: raddr.Socket.Port}, nil
	}
	if resolve == nil {
		return nil, fmt.Errorf("no resolver configured for domain name %s", raddr.Host)
	}
	addr, err := resolve(raddr.Host, raddr.Port)
	if err != nil {
		return nil, err
	}
	if udpAddr, ok := addr.(*net.UDPAddr); ok {
		return udpAddr, nil
	}
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		return &net.UDPAddr{IP: tcpAddr.IP, Port: tcpAddr.Port}, nil
	}
	return nil, fmt.Errorf("resolved address for %s has an unsupported type", raddr.Host)
}
