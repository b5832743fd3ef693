// Package metrics exposes bridge counters to Prometheus.
//
// The collector reads the bridge's counters at scrape time, so nothing on
// the packet path touches Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nerrad567/meshbridge/internal/bridge"
	"github.com/nerrad567/meshbridge/internal/conn"
)

const namespace = "meshbridge"

// Source is sampled on every scrape. *bridge.Bridge satisfies it.
type Source interface {
	Stats() bridge.Stats
	Snapshot() conn.Snapshot
}

// Pool reports free packets in the mesh packet pool. *mesh.Manager
// satisfies it.
type Pool interface {
	Available() int
}

// Collector implements prometheus.Collector over a Source and an optional
// Pool.
type Collector struct {
	src  Source
	pool Pool
	node string

	packets      *prometheus.Desc
	dropped      *prometheus.Desc
	decodeErrors *prometheus.Desc
	errors       *prometheus.Desc
	received     *prometheus.Desc
	queued       *prometheus.Desc
	state        *prometheus.Desc
	attempts     *prometheus.Desc
	sessionsUp   *prometheus.Desc
	fatalResets  *prometheus.Desc
	dedupEntries *prometheus.Desc
	dedupCap     *prometheus.Desc
	poolFree     *prometheus.Desc
}

// NewCollector builds a collector labelled with node. pool may be nil.
func NewCollector(src Source, pool Pool, node string) *Collector {
	constLabels := prometheus.Labels{"node": node}
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, constLabels)
	}

	return &Collector{
		src:  src,
		pool: pool,
		node: node,

		packets:      desc("packets_published_total", "Radio packets published to the broker."),
		dropped:      desc("packets_dropped_total", "Packets dropped before forwarding, by direction and reason.", "direction", "reason"),
		decodeErrors: desc("frame_decode_errors_total", "Inbound frames rejected by the decoder, by kind.", "kind"),
		errors:       desc("errors_total", "Encode, publish, allocation and parse failures.", "op"),
		received:     desc("messages_received_total", "Messages received from the broker."),
		queued:       desc("packets_queued_total", "Packets queued for radio transmission."),
		state:        desc("connection_state", "1 for the current connection state, 0 otherwise.", "state"),
		attempts:     desc("connect_attempts_total", "Connection attempts, by layer.", "layer"),
		sessionsUp:   desc("sessions_established_total", "Broker sessions established."),
		fatalResets:  desc("client_resets_total", "Client resets after repeated fatal connect failures."),
		dedupEntries: desc("dedup_entries", "Fingerprints held by the duplicate filter."),
		dedupCap:     desc("dedup_capacity", "Maximum fingerprints the duplicate filter holds."),
		poolFree:     desc("packet_pool_available", "Free packets in the mesh packet pool."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.packets, c.dropped, c.decodeErrors, c.errors, c.received,
		c.queued, c.state, c.attempts, c.sessionsUp, c.fatalResets,
		c.dedupEntries, c.dedupCap, c.poolFree,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()
	snap := c.src.Snapshot()

	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}

	counter(c.packets, s.PacketsPublished)
	counter(c.received, s.MessagesReceived)
	counter(c.queued, s.PacketsQueued)

	counter(c.dropped, s.DroppedZeroHop, "outbound", "zero_hop")
	counter(c.dropped, s.DroppedNotInPath, "outbound", "not_in_path")
	counter(c.dropped, s.DroppedDisconnected, "outbound", "disconnected")
	counter(c.dropped, s.DroppedDuplicateOut, "outbound", "duplicate")
	counter(c.dropped, s.EnqueueDropped, "outbound", "queue_full")
	counter(c.dropped, s.DroppedEcho, "inbound", "echo")
	counter(c.dropped, s.DroppedDuplicateIn, "inbound", "duplicate")
	counter(c.dropped, s.QueueFull, "inbound", "radio_queue_full")
	counter(c.dropped, s.DeliverDropped, "inbound", "deliver_queue_full")

	counter(c.decodeErrors, s.DecodeTooShort, "too_short")
	counter(c.decodeErrors, s.DecodeBadMagic, "invalid_magic")
	counter(c.decodeErrors, s.DecodeBadChecksum, "checksum_mismatch")
	counter(c.decodeErrors, s.DecodeStale, "stale")

	counter(c.errors, s.EncodeErrors, "encode")
	counter(c.errors, s.PublishErrors, "publish")
	counter(c.errors, s.AllocFailures, "alloc")
	counter(c.errors, s.ParseErrors, "parse")

	for _, st := range []conn.State{conn.Disconnected, conn.LinkConnecting, conn.LinkUpSessionConnecting, conn.SessionUp} {
		v := 0.0
		if st == snap.State {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, v, st.String())
	}

	counter(c.attempts, snap.LinkAttempts, "link")
	counter(c.attempts, snap.SessionAttempts, "session")
	counter(c.sessionsUp, snap.SessionsUp)
	counter(c.fatalResets, snap.FatalResets)

	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}
	gauge(c.dedupEntries, float64(s.DedupEntries))
	gauge(c.dedupCap, float64(s.DedupCapacity))
	if c.pool != nil {
		gauge(c.poolFree, float64(c.pool.Available()))
	}
}

// NewRegistry returns a registry holding the bridge collector plus the
// standard Go and process collectors.
func NewRegistry(src Source, pool Pool, node string) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewCollector(src, pool, node),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
