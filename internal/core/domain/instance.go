package domain

import (
	"sync"
	"time"
)

type InstanceStatus string

const (
	InstanceStatusRunning InstanceStatus = "running"
	InstanceStatusStopped InstanceStatus = "stopped"
	InstanceStatusFailed  InstanceStatus = "failed"
)

// Instance is the control-plane's view of one managed endpoint: its
// configuration plus current status. Grounded on realm's api::Instance.
type Instance struct {
	ID         string
	ExternalID string
	AutoStart  bool
	Status     InstanceStatus
	FailReason string
}

// ConnectionEntry describes one currently-open TCP connection for the
// connections listing endpoint.
type ConnectionEntry struct {
	ID       uint64
	SrcAddr  string
	Backend  string
	OpenedAt time.Time
}

// UDPSessionEntry describes one currently-open UDP association.
type UDPSessionEntry struct {
	ClientAddr string
	OpenedAt   time.Time
}

// BackendBytes tracks byte counters attributed to a specific backend
// address, used when an endpoint fans out across multiple remotes.
type BackendBytes struct {
	Inbound  uint64
	Outbound uint64
}

// InstanceStats accumulates the running counters for one instance. All
// counters are plain fields guarded by the embedded mutex rather than
// individual atomics, since most access is from API handlers that already
// need the lock for the maps.
type InstanceStats struct {
	mu sync.Mutex

	TotalInbound, TotalOutbound   uint64
	TCPInbound, TCPOutbound       uint64
	UDPInbound, UDPOutbound       uint64
	TotalConnections              uint64
	TCPConnections, UDPConnections uint64
	nextConnID                    uint64

	Connections       map[uint64]*ConnectionEntry
	TCPBytesByBackend map[string]*BackendBytes
	UDPSessions       map[string]*UDPSessionEntry
	LastSuccessBackend string
}

func NewInstanceStats() *InstanceStats {
	return &InstanceStats{
		Connections:       make(map[uint64]*ConnectionEntry),
		TCPBytesByBackend: make(map[string]*BackendBytes),
		UDPSessions:       make(map[string]*UDPSessionEntry),
	}
}

func (s *InstanceStats) NextConnID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextConnID++
	return s.nextConnID
}

func (s *InstanceStats) OnConnectionOpen(id uint64, srcAddr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TotalConnections++
	s.TCPConnections++
	s.Connections[id] = &ConnectionEntry{ID: id, SrcAddr: srcAddr, OpenedAt: time.Now()}
}

func (s *InstanceStats) OnConnectionBackend(id uint64, backend string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.Connections[id]; ok {
		c.Backend = backend
	}
	s.LastSuccessBackend = backend
	if _, ok := s.TCPBytesByBackend[backend]; !ok {
		s.TCPBytesByBackend[backend] = &BackendBytes{}
	}
}

func (s *InstanceStats) OnConnectionBytes(id uint64, inDelta, outDelta uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TotalInbound += inDelta
	s.TotalOutbound += outDelta
	s.TCPInbound += inDelta
	s.TCPOutbound += outDelta
	if c, ok := s.Connections[id]; ok && c.Backend != "" {
		if bb, ok := s.TCPBytesByBackend[c.Backend]; ok {
			bb.Inbound += inDelta
			bb.Outbound += outDelta
		}
	}
}

func (s *InstanceStats) OnConnectionEnd(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.TCPConnections > 0 {
		s.TCPConnections--
	}
	delete(s.Connections, id)
}

func (s *InstanceStats) OnUDPSessionOpen(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UDPConnections++
	s.UDPSessions[addr] = &UDPSessionEntry{ClientAddr: addr, OpenedAt: time.Now()}
}

func (s *InstanceStats) OnUDPSessionClose(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UDPConnections > 0 {
		s.UDPConnections--
	}
	delete(s.UDPSessions, addr)
}

func (s *InstanceStats) OnUDPBytes(inDelta, outDelta uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TotalInbound += inDelta
	s.TotalOutbound += outDelta
	s.UDPInbound += inDelta
	s.UDPOutbound += outDelta
}

// StatsSnapshot is a point-in-time copy of InstanceStats, safe to read
// without the original's lock and safe to hand to an HTTP handler.
type StatsSnapshot struct {
	TotalInbound, TotalOutbound   uint64
	TCPInbound, TCPOutbound       uint64
	UDPInbound, UDPOutbound       uint64
	TotalConnections              uint64
	TCPConnections, UDPConnections uint64
	LastSuccessBackend            string

	Connections    []ConnectionEntry
	UDPSessions    []UDPSessionEntry
	BytesByBackend map[string]BackendBytes
}

func (s *InstanceStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	conns := make([]ConnectionEntry, 0, len(s.Connections))
	for _, c := range s.Connections {
		conns = append(conns, *c)
	}
	sessions := make([]UDPSessionEntry, 0, len(s.UDPSessions))
	for _, u := range s.UDPSessions {
		sessions = append(sessions, *u)
	}
	bytesByBackend := make(map[string]BackendBytes, len(s.TCPBytesByBackend))
	for k, v := range s.TCPBytesByBackend {
		bytesByBackend[k] = *v
	}

	return StatsSnapshot{
		TotalInbound:       s.TotalInbound,
		TotalOutbound:      s.TotalOutbound,
		TCPInbound:         s.TCPInbound,
		TCPOutbound:        s.TCPOutbound,
		UDPInbound:         s.UDPInbound,
		UDPOutbound:        s.UDPOutbound,
		TotalConnections:   s.TotalConnections,
		TCPConnections:     s.TCPConnections,
		UDPConnections:     s.UDPConnections,
		LastSuccessBackend: s.LastSuccessBackend,
		Connections:        conns,
		UDPSessions:        sessions,
		BytesByBackend:     bytesByBackend,
	}
}

// ClearRuntimeState resets every live-connection view while leaving
// cumulative byte/connection counters in place, used before a restart so
// stale connection entries don't linger after their goroutines are gone.
func (s *InstanceStats) ClearRuntimeState() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Connections = make(map[uint64]*ConnectionEntry)
	s.UDPSessions = make(map[string]*UDPSessionEntry)
	s.TCPConnections = 0
	s.UDPConnections = 0
}
