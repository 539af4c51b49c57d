package manager

import (
	"strings"
	"testing"

	"github.com/relaymesh/grelay/internal/config"
)

func netdef() config.NetworkConfig {
	return config.NetworkConfig{TCPTimeoutMs: 1000, AssociateTimeoutMs: 2000, TCPKeepaliveS: 10}
}

func TestBuildEndpoint_InvalidRemoteMissingPort(t *testing.T) {
	conf := config.EndpointConf{Listen: "127.0.0.1:0", Remote: "example.com"}
	_, err := BuildEndpoint(conf, netdef())
	if err == nil || !strings.Contains(err.Error(), "invalid `remote`") {
		t.Fatalf("expected invalid remote error, got %v", err)
	}
}

func TestBuildEndpoint_InvalidRemoteEmptyHost(t *testing.T) {
	conf := config.EndpointConf{Listen: "127.0.0.1:0", Remote: ":80"}
	_, err := BuildEndpoint(conf, netdef())
	if err == nil || !strings.Contains(err.Error(), "empty host") {
		t.Fatalf("expected empty host error, got %v", err)
	}
}

func TestBuildEndpoint_FailoverWithoutWeightsInfersPeerCount(t *testing.T) {
	conf := config.EndpointConf{
		Listen:       "127.0.0.1:0",
		Remote:       "example.com:80",
		ExtraRemotes: []string{"example.org:80", "example.net:80"},
		Balance:      "failover",
	}
	res, err := BuildEndpoint(conf, netdef())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Endpoint.ConnOpts.Balancer.Strategy() != "failover" {
		t.Fatalf("expected failover strategy, got %s", res.Endpoint.ConnOpts.Balancer.Strategy())
	}
	if res.Endpoint.ConnOpts.Balancer.Total() != 3 {
		t.Fatalf("expected total 3, got %d", res.Endpoint.ConnOpts.Balancer.Total())
	}
}

func TestBuildEndpoint_FailoverRequiresHighestWeight(t *testing.T) {
	conf := config.EndpointConf{
		Listen:       "127.0.0.1:0",
		Remote:       "example.com:80",
		ExtraRemotes: []string{"example.org:80", "example.net:80"},
		Balance:      "failover: 1, 2, 1",
	}
	_, err := BuildEndpoint(conf, netdef())
	if err == nil || !strings.Contains(err.Error(), "highest weight") {
		t.Fatalf("expected highest-weight error, got %v", err)
	}
}

func TestBuildEndpoint_NetworkBothDisabledIsError(t *testing.T) {
	useTCP, useUDP := false, false
	conf := config.EndpointConf{
		Listen: "127.0.0.1:0",
		Remote: "example.com:80",
		Network: &struct {
			UseTCP             *bool `yaml:"tcp,omitempty" toml:"tcp,omitempty" json:"tcp,omitempty" mapstructure:"tcp"`
			UseUDP             *bool `yaml:"udp,omitempty" toml:"udp,omitempty" json:"udp,omitempty" mapstructure:"udp"`
			TCPTimeoutMs       *int  `yaml:"tcp_timeout_ms,omitempty" toml:"tcp_timeout_ms,omitempty" json:"tcp_timeout_ms,omitempty" mapstructure:"tcp_timeout_ms"`
			AssociateTimeoutMs *int  `yaml:"associate_timeout_ms,omitempty" toml:"associate_timeout_ms,omitempty" json:"associate_timeout_ms,omitempty" mapstructure:"associate_timeout_ms"`
			TCPKeepaliveS      *int  `yaml:"tcp_keepalive_s,omitempty" toml:"tcp_keepalive_s,omitempty" json:"tcp_keepalive_s,omitempty" mapstructure:"tcp_keepalive_s"`
			Mptcp              *bool `yaml:"mptcp,omitempty" toml:"mptcp,omitempty" json:"mptcp,omitempty" mapstructure:"mptcp"`
		}{UseTCP: &useTCP, UseUDP: &useUDP},
	}
	_, err := BuildEndpoint(conf, netdef())
	if err == nil || !strings.Contains(err.Error(), "network") {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestValidateInstanceID(t *testing.T) {
	cases := []struct {
		id      string
		wantErr bool
	}{
		{"", true},
		{"ok-id", false},
		{"has/slash", true},
		{"has\\backslash", true},
		{" leading-space", true},
		{strings.Repeat("a", 257), true},
		{strings.Repeat("a", 256), false},
	}
	for _, c := range cases {
		err := validateInstanceID(c.id)
		if (err != nil) != c.wantErr {
			t.Errorf("validateInstanceID(%q) error=%v, wantErr=%v", c.id, err, c.wantErr)
		}
	}
}
