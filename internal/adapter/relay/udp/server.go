package udp

import (
	"context"
	"net"
	"runtime"
	"weak"

	"github.com/relaymesh/grelay/internal/core/domain"
	"github.com/relaymesh/grelay/internal/core/ports"
	"github.com/relaymesh/grelay/internal/logger"
)

// Run starts the UDP side of an endpoint: bind, report readiness on ready,
// then loop associate-and-relay rounds until ctx is cancelled. Grounded on
// realm_core::udp::run_udp_inner.
func Run(ctx context.Context, ep domain.Endpoint, ready chan<- error, observer ports.UDPObserver, resolver ports.Resolver, log logger.StyledLogger) error {
	udpLaddr := &net.UDPAddr{IP: ep.Laddr.IP, Port: ep.Laddr.Port, Zone: ep.Laddr.Zone}
	conn, err := net.ListenUDP("udp", udpLaddr)
	if err != nil {
		ready <- err
		return err
	}
	ready <- nil

	guardOwner := &runGuard{}
	guard := weak.Make(guardOwner)

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	sm := newSockMap()
	resolveFn := func(host string, port uint16) (net.Addr, error) {
		if resolver == nil {
			return nil, net.UnknownNetworkError("no resolver configured")
		}
		return resolver.Resolve(host, port)
	}

	for {
		err := associateAndRelay(conn, ep.Raddr, &ep.ConnOpts, sm, observer, guard, resolveFn, log)
		if err != nil {
			if ctx.Err() != nil {
				runtime.KeepAlive(guardOwner)
				return nil
			}
			log.Warn("udp relay round error", "error", err)
		}
	}
}
