package config

import "testing"

func TestDefaultConfig_HasSaneNetworkTimeouts(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Network.TCPTimeoutMs <= 0 {
		t.Fatal("expected a positive default tcp timeout")
	}
	if cfg.Network.AssociateTimeoutMs <= 0 {
		t.Fatal("expected a positive default udp associate timeout")
	}
	if cfg.API.Listen == "" {
		t.Fatal("expected a default API listen address")
	}
}
