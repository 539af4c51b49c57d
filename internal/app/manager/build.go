// Package manager implements the instance manager control plane: the
// CRUD registry of configured endpoints, their start/stop/restart
// lifecycle, and the stats each running instance accumulates. Grounded
// on realm's api::Api plus src/conf/endpoint.rs for endpoint construction.
package manager

import (
	"errors"
	"net"
	"strings"
	"unicode"

	"github.com/relaymesh/grelay/internal/adapter/balancer"
	"github.com/relaymesh/grelay/internal/config"
	"github.com/relaymesh/grelay/internal/core/domain"
)

// BuildResult carries the built endpoint plus which transports it uses,
// mirroring realm's EndpointInfo{no_tcp, use_udp, endpoint}.
type BuildResult struct {
	UseTCP   bool
	UseUDP   bool
	Endpoint domain.Endpoint
}

// BuildEndpoint turns a serialised EndpointConf into a runnable
// domain.Endpoint, applying the network defaults carried over from the
// global config wherever the conf itself is silent. Ported field for
// field from try_build/try_build_local/try_build_remote_x/
// try_build_send_through/try_build_balancer.
func BuildEndpoint(conf config.EndpointConf, netdef config.NetworkConfig) (BuildResult, error) {
	laddr, err := net.ResolveTCPAddr("tcp", conf.Listen)
	if err != nil {
		return BuildResult{}, &domain.EndpointBuildError{Field: "listen", Err: err}
	}

	raddr, err := buildRemote(conf.Remote)
	if err != nil {
		return BuildResult{}, &domain.EndpointBuildError{Field: "remote", Err: err}
	}

	extraRaddrs := make([]domain.RemoteAddr, 0, len(conf.ExtraRemotes))
	for _, r := range conf.ExtraRemotes {
		ra, err := buildRemote(r)
		if err != nil {
			return BuildResult{}, &domain.EndpointBuildError{Field: "extra_remotes", Err: err}
		}
		extraRaddrs = append(extraRaddrs, ra)
	}

	useTCP, useUDP := true, false
	if conf.Network != nil {
		if conf.Network.UseTCP != nil {
			useTCP = *conf.Network.UseTCP
		}
		if conf.Network.UseUDP != nil {
			useUDP = *conf.Network.UseUDP
		}
	}
	if !useTCP && !useUDP {
		return BuildResult{}, &domain.EndpointBuildError{Field: "network", Err: errNoTransport{}}
	}

	bal, err := balancer.Parse(conf.Balance, len(conf.ExtraRemotes))
	if err != nil {
		return BuildResult{}, &domain.EndpointBuildError{Field: "balance", Err: err}
	}

	bindAddr, err := buildSendThrough(conf.Through)
	if err != nil {
		return BuildResult{}, &domain.EndpointBuildError{Field: "through", Err: err}
	}

	connOpts := domain.ConnectOpts{
		SendMptcp:          netdef.SendMptcp,
		ConnectTimeoutMs:   netdef.TCPTimeoutMs,
		AssociateTimeoutMs: netdef.AssociateTimeoutMs,
		TCPKeepaliveS:      netdef.TCPKeepaliveS,
		BindAddress:        bindAddr,
		BindInterface:      conf.Interface,
		Balancer:           bal,
		Failover:           domain.DefaultFailoverOpts(),
	}
	// per-endpoint network overrides inherit the global netdef unless the
	// endpoint explicitly sets its own value.
	if conf.Network != nil {
		if conf.Network.TCPTimeoutMs != nil {
			connOpts.ConnectTimeoutMs = *conf.Network.TCPTimeoutMs
		}
		if conf.Network.AssociateTimeoutMs != nil {
			connOpts.AssociateTimeoutMs = *conf.Network.AssociateTimeoutMs
		}
		if conf.Network.TCPKeepaliveS != nil {
			connOpts.TCPKeepaliveS = *conf.Network.TCPKeepaliveS
		}
		if conf.Network.Mptcp != nil {
			connOpts.SendMptcp = *conf.Network.Mptcp
		}
	}
	connOpts.Failover.Sanitize()

	ep := domain.Endpoint{
		Laddr: laddr,
		Raddr: raddr,
		BindOpts: domain.BindOpts{
			BindInterface: conf.ListenInterface,
		},
		ConnOpts:    connOpts,
		ExtraRaddrs: extraRaddrs,
	}

	return BuildResult{UseTCP: useTCP, UseUDP: useUDP, Endpoint: ep}, nil
}

type errNoTransport struct{}

func (errNoTransport) Error() string { return "both tcp and udp are disabled" }

func buildRemote(remote string) (domain.RemoteAddr, error) {
	return domain.ParseRemoteAddr(remote)
}

func buildSendThrough(through string) (*net.TCPAddr, error) {
	if through == "" {
		return nil, nil
	}
	if addr, err := net.ResolveTCPAddr("tcp", through); err == nil {
		return addr, nil
	}
	stripped := strings.NewReplacer("[", "", "]", "").Replace(through)
	ip := net.ParseIP(stripped)
	if ip == nil {
		return nil, errBadAddr(through)
	}
	return &net.TCPAddr{IP: ip, Port: 0}, nil
}

type errBadAddr string

func (e errBadAddr) Error() string { return "invalid address: " + string(e) }

// validateInstanceID rejects identifiers that would be awkward or unsafe
// as file names or URL path segments.
func validateInstanceID(id string) error {
	if id == "" {
		return errInvalidID("must not be empty")
	}
	if len(id) > 256 {
		return errInvalidID("must not exceed 256 characters")
	}
	if strings.IndexFunc(id, unicode.IsSpace) >= 0 {
		return errInvalidID("must not contain whitespace")
	}
	if strings.ContainsAny(id, "/\\") {
		return errInvalidID("must not contain `/` or `\\`")
	}
	return nil
}

type errInvalidID string

func (e errInvalidID) Error() string { return "invalid instance id: " + string(e) }

// IsInvalidID reports whether err was returned by validateInstanceID, so
// HTTP handlers can tell an id problem apart from an endpoint build failure
// and map each to its own error code.
func IsInvalidID(err error) bool {
	var e errInvalidID
	return errors.As(err, &e)
}
