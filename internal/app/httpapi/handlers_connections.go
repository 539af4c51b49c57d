package httpapi

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/relaymesh/grelay/internal/core/domain"
)

const (
	defaultConnectionsLimit = 100
	maxConnectionsLimit     = 1000
)

// instanceConnections implements GET /instances/{id}/connections, listing
// currently-open TCP connections and/or UDP sessions sorted by descending
// duration, each filterable by protocol and paginated with limit/offset.
func (s *Server) instanceConnections(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap, err := s.mgr.Stats(id)
	if err != nil {
		writeManagerError(w, err)
		return
	}

	protocol := r.URL.Query().Get("protocol")
	if protocol != "" && protocol != "tcp" && protocol != "udp" {
		writeError(w, http.StatusBadRequest, "invalid_query", "protocol must be \"tcp\" or \"udp\"")
		return
	}

	limit := defaultConnectionsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, "invalid_query", "limit must be a non-negative integer")
			return
		}
		if v > maxConnectionsLimit {
			v = maxConnectionsLimit
		}
		limit = v
	}

	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, "invalid_query", "offset must be a non-negative integer")
			return
		}
		offset = v
	}

	now := time.Now()
	items := make([]ConnectionResponse, 0, len(snap.Connections)+len(snap.UDPSessions))
	if protocol == "" || protocol == "tcp" {
		for _, c := range snap.Connections {
			items = append(items, connectionRow("tcp", c, now))
		}
	}
	if protocol == "" || protocol == "udp" {
		for _, u := range snap.UDPSessions {
			items = append(items, sessionRow(u, now))
		}
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].DurationSecs > items[j].DurationSecs
	})

	total := len(items)
	page := ConnectionsPage{Items: []ConnectionResponse{}, Total: total, Limit: limit, Offset: offset}
	if offset < total {
		end := offset + limit
		if end > total {
			end = total
		}
		page.Items = items[offset:end]
	}

	writeJSON(w, http.StatusOK, page)
}

func connectionRow(protocol string, c domain.ConnectionEntry, now time.Time) ConnectionResponse {
	return ConnectionResponse{
		Protocol:     protocol,
		SrcAddr:      c.SrcAddr,
		Backend:      c.Backend,
		DurationSecs: now.Sub(c.OpenedAt).Seconds(),
	}
}

func sessionRow(u domain.UDPSessionEntry, now time.Time) ConnectionResponse {
	return ConnectionResponse{
		Protocol:     "udp",
		SrcAddr:      u.ClientAddr,
		DurationSecs: now.Sub(u.OpenedAt).Seconds(),
	}
}
