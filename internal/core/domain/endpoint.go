package domain

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// RemoteAddr is either a resolved socket address or a host/port pair that
// must be resolved at connect time.
type RemoteAddr struct {
	Socket *net.TCPAddr
	Host   string
	Port   uint16
}

func NewRemoteAddrSocket(addr *net.TCPAddr) RemoteAddr {
	return RemoteAddr{Socket: addr}
}

func NewRemoteAddrDomain(host string, port uint16) RemoteAddr {
	return RemoteAddr{Host: host, Port: port}
}

func (r RemoteAddr) IsDomain() bool {
	return r.Socket == nil
}

func (r RemoteAddr) String() string {
	if r.Socket != nil {
		return r.Socket.String()
	}
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// ParseRemoteAddr mirrors the original "host:port or bare socket addr" parsing:
// try a literal numeric IP:port first (so a DNS name is never eagerly
// resolved here and left to the caller's own resolver/cache instead), then
// split on the last colon.
func ParseRemoteAddr(raw string) (RemoteAddr, error) {
	if host, port, err := net.SplitHostPort(raw); err == nil && net.ParseIP(stripBrackets(host)) != nil {
		if tcpAddr, err := net.ResolveTCPAddr("tcp", raw); err == nil {
			return NewRemoteAddrSocket(tcpAddr), nil
		}
		_ = port
	}
	idx := strings.LastIndex(raw, ":")
	if idx < 0 {
		return RemoteAddr{}, fmt.Errorf("missing host:port in %q", raw)
	}
	host, portStr := raw[:idx], raw[idx+1:]
	if host == "" {
		return RemoteAddr{}, fmt.Errorf("empty host in %q", raw)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return RemoteAddr{}, fmt.Errorf("invalid port in %q: %w", raw, err)
	}
	return NewRemoteAddrDomain(host, uint16(port)), nil
}

func stripBrackets(s string) string {
	return strings.NewReplacer("[", "", "]", "").Replace(s)
}

// FailoverOpts tunes the background health prober and the fail-fast/retry
// behaviour of a Failover-balanced endpoint. All durations are milliseconds.
type FailoverOpts struct {
	ProbeIntervalMs   uint64
	ProbeTimeoutMs    uint64
	FailfastTimeoutMs uint64
	OkTTLMs           uint64
	BackoffBaseMs     uint64
	BackoffMaxMs      uint64
	RetryWindowMs     uint64
	RetrySleepMs      uint64
}

func DefaultFailoverOpts() FailoverOpts {
	return FailoverOpts{
		ProbeIntervalMs:   2000,
		ProbeTimeoutMs:    200,
		FailfastTimeoutMs: 250,
		OkTTLMs:           6000,
		BackoffBaseMs:     500,
		BackoffMaxMs:      30000,
		RetryWindowMs:     0,
		RetrySleepMs:      200,
	}
}

func clampNonzero(v *uint64, min, max uint64) {
	if *v == 0 {
		return
	}
	if *v < min {
		*v = min
	} else if *v > max {
		*v = max
	}
}

// Sanitize clamps every field into a safe operating range, preventing a bad
// config from producing pathological busy loops or unbounded waits.
func (o *FailoverOpts) Sanitize() {
	clampNonzero(&o.ProbeIntervalMs, 200, 60_000)
	clampNonzero(&o.ProbeTimeoutMs, 50, 10_000)
	clampNonzero(&o.FailfastTimeoutMs, 50, 10_000)
	clampNonzero(&o.OkTTLMs, 200, 120_000)
	clampNonzero(&o.BackoffBaseMs, 50, 10_000)
	clampNonzero(&o.BackoffMaxMs, 100, 600_000)
	if o.BackoffMaxMs > 0 && o.BackoffBaseMs > 0 && o.BackoffMaxMs < o.BackoffBaseMs {
		o.BackoffMaxMs = o.BackoffBaseMs
	}

	if o.RetryWindowMs > 600_000 {
		o.RetryWindowMs = 600_000
	}
	if o.RetryWindowMs > 0 {
		if o.RetrySleepMs < 10 {
			o.RetrySleepMs = 10
		} else if o.RetrySleepMs > 10_000 {
			o.RetrySleepMs = 10_000
		}
	}
}

// ProxyOpts controls PROXY protocol handling on accept and on connect.
type ProxyOpts struct {
	SendProxy           bool
	AcceptProxy         bool
	SendProxyVersion    int
	AcceptProxyTimeout  int // seconds
}

func (o ProxyOpts) Enabled() bool {
	return o.SendProxy || o.AcceptProxy
}

// ConnectOpts controls how the relay dials (or associates with) a remote peer.
type ConnectOpts struct {
	SendMptcp          bool
	ConnectTimeoutMs   int
	AssociateTimeoutMs int
	TCPKeepaliveS      int
	TCPKeepaliveProbe  int
	BindAddress        *net.TCPAddr
	BindInterface      string

	ProxyOpts ProxyOpts

	Balancer Balancer
	Failover FailoverOpts
}

// BindOpts controls how the relay binds its listening socket.
type BindOpts struct {
	IPv6Only      bool
	AcceptMptcp   bool
	BindInterface string
}

func (b BindOpts) String() string {
	var sb strings.Builder
	if b.BindInterface != "" {
		fmt.Fprintf(&sb, "listen-iface=%s, ", b.BindInterface)
	}
	fmt.Fprintf(&sb, "ipv6-only=%v, ", b.IPv6Only)
	fmt.Fprintf(&sb, "accept-mptcp=%v", b.AcceptMptcp)
	return sb.String()
}

func (c ConnectOpts) String() string {
	var sb strings.Builder
	if c.BindInterface != "" {
		fmt.Fprintf(&sb, "send-iface=%s, ", c.BindInterface)
	}
	if c.BindAddress != nil {
		fmt.Fprintf(&sb, "send-through=%s, ", c.BindAddress)
	}
	fmt.Fprintf(&sb, "send-mptcp=%v; ", c.SendMptcp)
	fmt.Fprintf(&sb, "send-proxy=%v, send-proxy-version=%d, accept-proxy=%v, accept-proxy-timeout=%ds; ",
		c.ProxyOpts.SendProxy, c.ProxyOpts.SendProxyVersion, c.ProxyOpts.AcceptProxy, c.ProxyOpts.AcceptProxyTimeout)
	fmt.Fprintf(&sb, "tcp-keepalive=%ds[%d] connect-timeout=%dms, associate-timeout=%dms; ",
		c.TCPKeepaliveS, c.TCPKeepaliveProbe, c.ConnectTimeoutMs, c.AssociateTimeoutMs)
	if c.Balancer != nil {
		fmt.Fprintf(&sb, "balance=%s", c.Balancer.Strategy())
	}
	return sb.String()
}

// Endpoint is a fully-built, ready-to-run relay endpoint: one listening
// socket fanning out to a primary remote peer plus optional extra peers.
type Endpoint struct {
	Laddr        *net.TCPAddr
	Raddr        RemoteAddr
	BindOpts     BindOpts
	ConnOpts     ConnectOpts
	ExtraRaddrs  []RemoteAddr
}

func (e Endpoint) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s -> [%s", e.Laddr, e.Raddr)
	for _, r := range e.ExtraRaddrs {
		fmt.Fprintf(&sb, "|%s", r)
	}
	fmt.Fprintf(&sb, "]; options: %s; %s", e.BindOpts, e.ConnOpts)
	return sb.String()
}
