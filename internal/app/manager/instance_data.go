package manager

import (
	"context"
	"net"
	"strings"
	"sync"

	"github.com/relaymesh/grelay/internal/adapter/health"
	"github.com/relaymesh/grelay/internal/config"
	"github.com/relaymesh/grelay/internal/core/domain"
)

// instanceData is the manager's internal bookkeeping for one instance: its
// serialisable configuration, runtime handles for whichever pipelines are
// currently running, and the generation counter used to detect a stale
// start/stop racing a newer one. Grounded on realm's Api's instance table
// (src/api.rs), which keeps join handles and a cancellation flag per entry.
type instanceData struct {
	mu sync.Mutex

	conf   config.InstanceConf
	status domain.InstanceStatus
	reason string

	stats    *domain.InstanceStats
	health   *health.FailoverHealth
	endpoint domain.Endpoint

	generation uint64
	cancel     context.CancelFunc
	done       chan struct{}
}

func newInstanceData(conf config.InstanceConf) *instanceData {
	status, reason := parseStatus(conf.Status)
	return &instanceData{
		conf:   conf,
		status: status,
		reason: reason,
		stats:  domain.NewInstanceStats(),
	}
}

// formatStatus renders a status plus its failure reason (if any) into the
// single string InstanceConf.Status persists, e.g. "failed: bind failed:
// address in use". Running and Stopped never carry a reason.
func formatStatus(status domain.InstanceStatus, reason string) string {
	if status == domain.InstanceStatusFailed && reason != "" {
		return string(domain.InstanceStatusFailed) + ": " + reason
	}
	return string(status)
}

// parseStatus is formatStatus's inverse, tolerant of an empty or unknown
// persisted value (treated as Stopped) so a hand-edited config file doesn't
// wedge the instance manager at load time.
func parseStatus(raw string) (domain.InstanceStatus, string) {
	if raw == "" {
		return domain.InstanceStatusStopped, ""
	}
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, string(domain.InstanceStatusFailed)) {
		reason := strings.TrimPrefix(raw, raw[:len(domain.InstanceStatusFailed)])
		reason = strings.TrimPrefix(reason, ":")
		reason = strings.TrimSpace(reason)
		return domain.InstanceStatusFailed, reason
	}
	switch domain.InstanceStatus(lower) {
	case domain.InstanceStatusRunning:
		return domain.InstanceStatusRunning, ""
	case domain.InstanceStatusStopped:
		return domain.InstanceStatusStopped, ""
	default:
		return domain.InstanceStatusStopped, ""
	}
}

func (d *instanceData) snapshot() domain.Instance {
	d.mu.Lock()
	defer d.mu.Unlock()
	return domain.Instance{
		ID:         d.conf.ID,
		ExternalID: d.conf.ExternalID,
		AutoStart:  d.conf.AutoStart,
		Status:     d.status,
		FailReason: d.reason,
	}
}

func (d *instanceData) isRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status == domain.InstanceStatusRunning
}

// instanceObserver adapts instanceData's stats accumulator to ports.TCPObserver and
// ports.UDPObserver, so the relay pipelines stay ignorant of the manager.
type instanceObserver struct {
	stats  *domain.InstanceStats
	onHealth func(*health.FailoverHealth)
}

func (o *instanceObserver) OnConnectionOpen(peer net.Addr) uint64 {
	id := o.stats.NextConnID()
	o.stats.OnConnectionOpen(id, peer.String())
	return id
}

func (o *instanceObserver) OnConnectionBackend(id uint64, backend domain.RemoteAddr) {
	o.stats.OnConnectionBackend(id, backend.String())
}

func (o *instanceObserver) OnConnectionBytes(id uint64, inboundDelta, outboundDelta uint64) {
	o.stats.OnConnectionBytes(id, inboundDelta, outboundDelta)
}

func (o *instanceObserver) OnConnectionEnd(id uint64, _ error) {
	o.stats.OnConnectionEnd(id)
}

func (o *instanceObserver) OnFailoverHealth(h *health.FailoverHealth) {
	if o.onHealth != nil {
		o.onHealth(h)
	}
}

func (o *instanceObserver) OnSessionOpen(peer net.Addr) {
	o.stats.OnUDPSessionOpen(peer.String())
}

func (o *instanceObserver) OnSessionClose(peer net.Addr) {
	o.stats.OnUDPSessionClose(peer.String())
}

func (o *instanceObserver) OnBytes(inboundDelta, outboundDelta uint64) {
	o.stats.OnUDPBytes(inboundDelta, outboundDelta)
}
