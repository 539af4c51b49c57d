package udp

import (
	"net"
	"sync"
)

// sockMap tracks the per-client upstream socket used for a UDP association,
// keyed by the client's observed source address. Grounded on
// realm_core::udp::sockmap::SockMap.
type sockMap struct {
	mu      sync.Mutex
	entries map[string]*net.UDPConn
}

func newSockMap() *sockMap {
	return &sockMap{entries: make(map[string]*net.UDPConn)}
}

// findOrInsert returns the existing upstream socket for laddr, or calls
// create to open a new one and registers it. create runs under the map's
// lock so two goroutines racing on the same client address can never open
// two upstream sockets for it.
func (s *sockMap) findOrInsert(laddr *net.UDPAddr, create func() (*net.UDPConn, error)) (*net.UDPConn, error) {
	key := laddr.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	if conn, ok := s.entries[key]; ok {
		return conn, nil
	}
	conn, err := create()
	if err != nil {
		return nil, err
	}
	s.entries[key] = conn
	return conn, nil
}

func (s *sockMap) remove(laddr *net.UDPAddr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conn, ok := s.entries[laddr.String()]; ok {
		_ = conn.Close()
		delete(s.entries, laddr.String())
	}
}

func (s *sockMap) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
