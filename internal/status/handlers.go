package status

import (
	"net/http"
	"time"

	"github.com/nerrad567/meshbridge/internal/conn"
)

// HealthResponse is returned by /healthz.
type HealthResponse struct {
	Status string `json:"status"`
	State  string `json:"state"`
	Since  string `json:"since,omitempty"`
}

// StatusResponse is returned by /status.
type StatusResponse struct {
	Node          string         `json:"node"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Connection    ConnectionInfo `json:"connection"`
	Outbound      OutboundCounts `json:"outbound"`
	Inbound       InboundCounts  `json:"inbound"`
}

// ConnectionInfo describes the connection manager.
type ConnectionInfo struct {
	State           string `json:"state"`
	Since           string `json:"since,omitempty"`
	LinkAttempts    uint64 `json:"link_attempts"`
	SessionAttempts uint64 `json:"session_attempts"`
	SessionsUp      uint64 `json:"sessions_up"`
	FatalResets     uint64 `json:"fatal_resets"`
	TLSSource       string `json:"tls_source,omitempty"`
	TLSVerified     bool   `json:"tls_verified"`
	LastError       string `json:"last_error,omitempty"`
}

// OutboundCounts covers radio to broker.
type OutboundCounts struct {
	Published     uint64 `json:"published"`
	ZeroHop       uint64 `json:"dropped_zero_hop"`
	NotInPath     uint64 `json:"dropped_not_in_path"`
	Disconnected  uint64 `json:"dropped_disconnected"`
	Duplicate     uint64 `json:"dropped_duplicate"`
	EncodeErrors  uint64 `json:"encode_errors"`
	PublishErrors uint64 `json:"publish_errors"`
}

// InboundCounts covers broker to radio.
type InboundCounts struct {
	Received     uint64 `json:"received"`
	Queued       uint64 `json:"queued"`
	Echo         uint64 `json:"dropped_echo"`
	Duplicate    uint64 `json:"dropped_duplicate"`
	DecodeErrors uint64 `json:"decode_errors"`
	ParseErrors  uint64 `json:"parse_errors"`
	QueueFull    uint64 `json:"queue_full"`
}

func formatSince(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// handleHealth reports 200 while a broker session is up and 503 otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snap := s.src.Snapshot()

	resp := HealthResponse{
		Status: "ok",
		State:  snap.State.String(),
		Since:  formatSince(snap.Since),
	}
	code := http.StatusOK
	if snap.State != conn.SessionUp {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// handleStatus returns the full counter set.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.src.Stats()
	snap := s.src.Snapshot()

	info := ConnectionInfo{
		State:           snap.State.String(),
		Since:           formatSince(snap.Since),
		LinkAttempts:    snap.LinkAttempts,
		SessionAttempts: snap.SessionAttempts,
		SessionsUp:      snap.SessionsUp,
		FatalResets:     snap.FatalResets,
		TLSSource:       snap.TLSSource,
		TLSVerified:     snap.TLSVerified,
	}
	if snap.LastError != nil {
		info.LastError = snap.LastError.Error()
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		Node:          s.node,
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Connection:    info,
		Outbound: OutboundCounts{
			Published:     st.PacketsPublished,
			ZeroHop:       st.DroppedZeroHop,
			NotInPath:     st.DroppedNotInPath,
			Disconnected:  st.DroppedDisconnected,
			Duplicate:     st.DroppedDuplicateOut,
			EncodeErrors:  st.EncodeErrors,
			PublishErrors: st.PublishErrors,
		},
		Inbound: InboundCounts{
			Received:     st.MessagesReceived,
			Queued:       st.PacketsQueued,
			Echo:         st.DroppedEcho,
			Duplicate:    st.DroppedDuplicateIn,
			DecodeErrors: st.DecodeErrors(),
			ParseErrors:  st.ParseErrors,
			QueueFull:    st.QueueFull,
		},
	})
}
