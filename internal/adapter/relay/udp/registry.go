package udp

import "net"

const maxPackets = 64

// packet is one datagram read in a batch: its source address and the
// payload bytes actually received.
type packet struct {
	addr *net.UDPAddr
	buf  []byte
	n    int
}

func newPacket() packet {
	return packet{buf: make([]byte, 65507)}
}

// packetRange is a half-open [start,end) slice of the registry's packet
// array belonging to one source address, mirroring Rust's Range<u16>.
type packetRange struct {
	start, end int
}

// registry batches a round of recvfrom calls and groups the resulting
// packets by source address in place, avoiding any per-packet allocation.
// Grounded on realm_core::udp::middle::registry::Registry.
type registry struct {
	pkts   []packet
	groups []packetRange
	cursor int
}

func newRegistry(n int) *registry {
	pkts := make([]packet, n)
	for i := range pkts {
		pkts[i] = newPacket()
	}
	return &registry{pkts: pkts, groups: make([]packetRange, 0, n)}
}

// Reset clears a registry's bookkeeping for reuse while keeping its
// pre-allocated packet buffers, so the pool never re-zeroes the 64*65507
// byte backing arrays on checkout.
func (r *registry) Reset() {
	r.cursor = 0
	r.groups = r.groups[:0]
}

// groupByAddr groups the first r.cursor packets by source address using an
// O(n^2) stable in-place grouping pass: a sliding [beg,end) window is
// extended over consecutive equal addresses, and any later packet sharing
// the window's address is moved forward to extend it, shifting the packets
// in between back by one so every source keeps its arrival order. This is a
// port of realm_core's group_by_inner, preferred over a map-based grouping
// because it needs no extra allocation per batch.
func (r *registry) groupByAddr() {
	n := r.cursor
	r.groups = r.groups[:0]
	data := r.pkts[:n]

	maxn := len(data)
	if maxn == 0 {
		return
	}
	beg, end := 0, 1
	for end < maxn {
		if sameAddr(data[end].addr, data[beg].addr) {
			end++
			continue
		}
		probe := end + 1
		for probe < maxn {
			if sameAddr(data[probe].addr, data[beg].addr) {
				p := data[probe]
				copy(data[end+1:probe+1], data[end:probe])
				data[end] = p
				end++
			}
			probe++
		}
		r.groups = append(r.groups, packetRange{start: beg, end: end})
		beg, end = end, end+1
	}
	r.groups = append(r.groups, packetRange{start: beg, end: end})
}

func (r *registry) groupIter(yield func(group []packet) bool) {
	for _, g := range r.groups {
		if !yield(r.pkts[g.start:g.end]) {
			return
		}
	}
}

func (r *registry) all() []packet {
	return r.pkts[:r.cursor]
}

func sameAddr(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.IP.Equal(b.IP) && a.Port == b.Port && a.Zone == b.Zone
}
