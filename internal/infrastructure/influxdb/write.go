package influxdb

import (
	"context"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/meshbridge/internal/bridge"
	"github.com/nerrad567/meshbridge/internal/conn"
)

// Measurement names.
const (
	measurementBridge     = "bridge_stats"
	measurementConnection = "bridge_connection"
)

// StatsSource is what the reporter samples. *bridge.Bridge satisfies it.
type StatsSource interface {
	Stats() bridge.Stats
	Snapshot() conn.Snapshot
}

// WriteBridgeStats writes one sample of the bridge counters.
//
// The write is non-blocking; data is batched and sent asynchronously.
// Counters are cumulative, so rates are derived at query time.
func (c *Client) WriteBridgeStats(node string, s bridge.Stats, at time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		measurementBridge,
		map[string]string{
			"node": node,
		},
		map[string]interface{}{
			"packets_published":     s.PacketsPublished,
			"dropped_zero_hop":      s.DroppedZeroHop,
			"dropped_not_in_path":   s.DroppedNotInPath,
			"dropped_disconnected":  s.DroppedDisconnected,
			"dropped_duplicate_out": s.DroppedDuplicateOut,
			"encode_errors":         s.EncodeErrors,
			"publish_errors":        s.PublishErrors,
			"enqueue_dropped":       s.EnqueueDropped,
			"messages_received":     s.MessagesReceived,
			"packets_queued":        s.PacketsQueued,
			"dropped_echo":          s.DroppedEcho,
			"dropped_duplicate_in":  s.DroppedDuplicateIn,
			"decode_errors":         s.DecodeErrors(),
			"alloc_failures":        s.AllocFailures,
			"parse_errors":          s.ParseErrors,
			"queue_full":            s.QueueFull,
			"deliver_dropped":       s.DeliverDropped,
			"dedup_entries":         s.DedupEntries,
			"dedup_capacity":        s.DedupCapacity,
		},
		at,
	)

	c.writeAPI.WritePoint(point)
}

// WriteConnectionState writes the connection manager's state.
func (c *Client) WriteConnectionState(node string, snap conn.Snapshot, at time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		measurementConnection,
		map[string]string{
			"node":       node,
			"state":      snap.State.String(),
			"tls_source": snap.TLSSource,
		},
		map[string]interface{}{
			"session_up":       snap.State == conn.SessionUp,
			"link_attempts":    snap.LinkAttempts,
			"session_attempts": snap.SessionAttempts,
			"sessions_up":      snap.SessionsUp,
			"fatal_resets":     snap.FatalResets,
		},
		at,
	)

	c.writeAPI.WritePoint(point)
}

// Report samples src every interval until ctx is done, then flushes.
// Samples taken while the server is unreachable are dropped.
func (c *Client) Report(ctx context.Context, node string, interval time.Duration, src StatsSource) {
	if interval <= 0 {
		interval = defaultReportInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.Flush()
			return
		case now := <-ticker.C:
			if !c.checkHealth(ctx) {
				continue
			}
			c.WriteBridgeStats(node, src.Stats(), now)
			c.WriteConnectionState(node, src.Snapshot(), now)
		}
	}
}
