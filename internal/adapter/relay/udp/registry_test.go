package udp

import (
	"net"
	"testing"
)

func TestRegistryGroupByAddrGroupsConsecutiveAndScattered(t *testing.T) {
	r := newRegistry(4)
	addrs := []string{"a", "b", "a", "a"}
	for i, a := range addrs {
		r.pkts[i].addr = mockUDPAddr(a)
		r.pkts[i].n = 1
	}
	r.cursor = len(addrs)

	r.groupByAddr()

	if len(r.groups) != 2 {
		t.Fatalf("expected 2 groups, got %d: %+v", len(r.groups), r.groups)
	}
	total := 0
	for _, g := range r.groups {
		total += g.end - g.start
	}
	if total != len(addrs) {
		t.Fatalf("expected groups to cover all %d packets, got %d", len(addrs), total)
	}
}

func TestRegistryResetClearsBookkeepingKeepsBuffers(t *testing.T) {
	r := newRegistry(2)
	r.cursor = 2
	r.groups = append(r.groups, packetRange{start: 0, end: 2})
	bufPtr := &r.pkts[0].buf[0]

	r.Reset()

	if r.cursor != 0 {
		t.Fatalf("expected cursor reset to 0, got %d", r.cursor)
	}
	if len(r.groups) != 0 {
		t.Fatalf("expected groups cleared, got %d", len(r.groups))
	}
	if &r.pkts[0].buf[0] != bufPtr {
		t.Fatal("expected packet buffers to survive Reset")
	}
}

func TestRegistryPoolRoundTrip(t *testing.T) {
	r := registryPool.Get()
	r.cursor = 3
	registryPool.Put(r)

	r2 := registryPool.Get()
	if r2.cursor != 0 {
		t.Fatalf("expected pooled registry to come back reset, got cursor=%d", r2.cursor)
	}
}

func mockUDPAddr(host string) *net.UDPAddr {
	ip := net.ParseIP("10.0.0.1")
	if host == "b" {
		ip = net.ParseIP("10.0.0.2")
	}
	return &net.UDPAddr{IP: ip, Port: 1}
}
