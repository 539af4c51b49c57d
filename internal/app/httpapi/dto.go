package httpapi

import (
	"github.com/relaymesh/grelay/internal/app/manager"
	"github.com/relaymesh/grelay/internal/config"
	"github.com/relaymesh/grelay/internal/core/domain"
)

// InstanceResponse is the wire shape of domain.Instance plus the config
// that produced it, so a caller can round-trip a GET straight into a PUT.
type InstanceResponse struct {
	ID         string              `json:"id"`
	ExternalID string              `json:"external_id,omitempty"`
	AutoStart  bool                `json:"auto_start"`
	Status     string              `json:"status"`
	FailReason string              `json:"fail_reason,omitempty"`
	Config     config.EndpointConf `json:"config"`
}

func newInstanceResponse(inst domain.Instance, conf config.EndpointConf) InstanceResponse {
	return InstanceResponse{
		ID:         inst.ID,
		ExternalID: inst.ExternalID,
		AutoStart:  inst.AutoStart,
		Status:     string(inst.Status),
		FailReason: inst.FailReason,
		Config:     conf,
	}
}

// CreateInstanceRequest is the POST /instances body: an EndpointConf plus
// the optional identity fields a caller may pin down ahead of time.
type CreateInstanceRequest struct {
	ID         string `json:"id,omitempty"`
	ExternalID string `json:"external_id,omitempty"`
	AutoStart  bool   `json:"auto_start,omitempty"`
	config.EndpointConf
}

// PatchAutoStartRequest is the PATCH /instances/{id} body.
type PatchAutoStartRequest struct {
	AutoStart bool `json:"auto_start"`
}

// BackendBytesResponse mirrors domain.BackendBytes with JSON tags.
type BackendBytesResponse struct {
	Inbound  uint64 `json:"inbound"`
	Outbound uint64 `json:"outbound"`
}

// InstanceStatsResponse is the GET /instances/{id}/stats body.
type InstanceStatsResponse struct {
	TotalInbound     uint64 `json:"total_inbound"`
	TotalOutbound    uint64 `json:"total_outbound"`
	TCPInbound       uint64 `json:"tcp_inbound"`
	TCPOutbound      uint64 `json:"tcp_outbound"`
	UDPInbound       uint64 `json:"udp_inbound"`
	UDPOutbound      uint64 `json:"udp_outbound"`
	TotalConnections uint64 `json:"total_connections"`
	TCPConnections   uint64 `json:"tcp_connections"`
	UDPConnections   uint64 `json:"udp_connections"`

	LastSuccessBackend string                           `json:"last_success_backend,omitempty"`
	BytesByBackend     map[string]BackendBytesResponse `json:"bytes_by_backend,omitempty"`
}

func newInstanceStatsResponse(s domain.StatsSnapshot) InstanceStatsResponse {
	bb := make(map[string]BackendBytesResponse, len(s.BytesByBackend))
	for addr, v := range s.BytesByBackend {
		bb[addr] = BackendBytesResponse{Inbound: v.Inbound, Outbound: v.Outbound}
	}
	return InstanceStatsResponse{
		TotalInbound:        s.TotalInbound,
		TotalOutbound:       s.TotalOutbound,
		TCPInbound:          s.TCPInbound,
		TCPOutbound:         s.TCPOutbound,
		UDPInbound:          s.UDPInbound,
		UDPOutbound:         s.UDPOutbound,
		TotalConnections:    s.TotalConnections,
		TCPConnections:      s.TCPConnections,
		UDPConnections:      s.UDPConnections,
		LastSuccessBackend:  s.LastSuccessBackend,
		BytesByBackend:      bb,
	}
}

// BackendRouteResponse is one entry of InstanceRouteResponse.Backends.
type BackendRouteResponse struct {
	Addr           string  `json:"addr"`
	Role           string  `json:"role"`
	State          string  `json:"state"`
	BackoffUntilMs *uint64 `json:"backoff_until_ms,omitempty"`
	OkRecent       bool    `json:"ok_recent"`
}

// InstanceRouteResponse is the GET /instances/{id}/route body: the
// balancer's current view of its candidate peers.
type InstanceRouteResponse struct {
	Strategy             string                          `json:"strategy"`
	PreferredBackend     string                          `json:"preferred_backend,omitempty"`
	LastSuccessBackend   string                          `json:"last_success_backend,omitempty"`
	Backends             []BackendRouteResponse          `json:"backends"`
	ConnectionsByBackend map[string]uint64                `json:"connections_by_backend"`
	BytesByBackend       map[string]BackendBytesResponse  `json:"bytes_by_backend"`
}

func newInstanceRouteResponse(r manager.RouteSnapshot) InstanceRouteResponse {
	backends := make([]BackendRouteResponse, 0, len(r.Backends))
	for _, b := range r.Backends {
		backends = append(backends, BackendRouteResponse{
			Addr:           b.Addr,
			Role:           b.Role,
			State:          b.State,
			BackoffUntilMs: b.BackoffUntilMs,
			OkRecent:       b.OkRecent,
		})
	}
	bb := make(map[string]BackendBytesResponse, len(r.BytesByBackend))
	for addr, v := range r.BytesByBackend {
		bb[addr] = BackendBytesResponse{Inbound: v.Inbound, Outbound: v.Outbound}
	}
	return InstanceRouteResponse{
		Strategy:             r.Strategy,
		PreferredBackend:     r.PreferredBackend,
		LastSuccessBackend:   r.LastSuccessBackend,
		Backends:             backends,
		ConnectionsByBackend: r.ConnectionsByBackend,
		BytesByBackend:       bb,
	}
}

// ConnectionResponse is one row of a GET /instances/{id}/connections page.
type ConnectionResponse struct {
	Protocol    string  `json:"protocol"`
	SrcAddr     string  `json:"src_addr"`
	Backend     string  `json:"backend,omitempty"`
	DurationSecs float64 `json:"duration_secs"`
}

// ConnectionsPage is the GET /instances/{id}/connections body.
type ConnectionsPage struct {
	Items  []ConnectionResponse `json:"items"`
	Total  int                  `json:"total"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
}
