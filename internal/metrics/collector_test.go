package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/meshbridge/internal/bridge"
	"github.com/nerrad567/meshbridge/internal/conn"
	"github.com/nerrad567/meshbridge/internal/mesh"
)

type fakeSource struct {
	stats bridge.Stats
	snap  conn.Snapshot
}

func (f *fakeSource) Stats() bridge.Stats     { return f.stats }
func (f *fakeSource) Snapshot() conn.Snapshot { return f.snap }

func gather(t *testing.T, c prometheus.Collector) map[string]*dto.MetricFamily {
	t.Helper()
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))
	families, err := reg.Gather()
	require.NoError(t, err)

	out := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		out[mf.GetName()] = mf
	}
	return out
}

func labelsOf(m *dto.Metric) map[string]string {
	out := make(map[string]string)
	for _, lp := range m.GetLabel() {
		out[lp.GetName()] = lp.GetValue()
	}
	return out
}

func find(t *testing.T, mf *dto.MetricFamily, labels map[string]string) *dto.Metric {
	t.Helper()
	require.NotNil(t, mf)
	for _, m := range mf.GetMetric() {
		got := labelsOf(m)
		match := true
		for k, v := range labels {
			if got[k] != v {
				match = false
				break
			}
		}
		if match {
			return m
		}
	}
	t.Fatalf("no %s metric with labels %v", mf.GetName(), labels)
	return nil
}

func TestCollector_Counters(t *testing.T) {
	src := &fakeSource{
		stats: bridge.Stats{
			PacketsPublished:  5,
			DroppedZeroHop:    2,
			DroppedEcho:       1,
			DecodeBadChecksum: 3,
			PublishErrors:     4,
		},
		snap: conn.Snapshot{State: conn.SessionUp, SessionAttempts: 6, SessionsUp: 1},
	}

	families := gather(t, NewCollector(src, nil, "meshcore-0A0B0C"))

	published := find(t, families["meshbridge_packets_published_total"], nil)
	assert.Equal(t, 5.0, published.GetCounter().GetValue())
	assert.Equal(t, "meshcore-0A0B0C", labelsOf(published)["node"])

	zeroHop := find(t, families["meshbridge_packets_dropped_total"], map[string]string{"direction": "outbound", "reason": "zero_hop"})
	assert.Equal(t, 2.0, zeroHop.GetCounter().GetValue())

	echo := find(t, families["meshbridge_packets_dropped_total"], map[string]string{"direction": "inbound", "reason": "echo"})
	assert.Equal(t, 1.0, echo.GetCounter().GetValue())

	checksum := find(t, families["meshbridge_frame_decode_errors_total"], map[string]string{"kind": "checksum_mismatch"})
	assert.Equal(t, 3.0, checksum.GetCounter().GetValue())

	publish := find(t, families["meshbridge_errors_total"], map[string]string{"op": "publish"})
	assert.Equal(t, 4.0, publish.GetCounter().GetValue())

	sessions := find(t, families["meshbridge_connect_attempts_total"], map[string]string{"layer": "session"})
	assert.Equal(t, 6.0, sessions.GetCounter().GetValue())
}

func TestCollector_StateGauge(t *testing.T) {
	src := &fakeSource{snap: conn.Snapshot{State: conn.LinkConnecting}}

	families := gather(t, NewCollector(src, nil, "n1"))
	mf := families["meshbridge_connection_state"]
	require.Len(t, mf.GetMetric(), 4)

	for _, m := range mf.GetMetric() {
		want := 0.0
		if labelsOf(m)["state"] == "link_connecting" {
			want = 1
		}
		assert.Equal(t, want, m.GetGauge().GetValue(), labelsOf(m)["state"])
	}
}

func TestCollector_ReadsAtScrapeTime(t *testing.T) {
	src := &fakeSource{}
	c := NewCollector(src, nil, "n1")

	families := gather(t, c)
	assert.Equal(t, 0.0, find(t, families["meshbridge_packets_published_total"], nil).GetCounter().GetValue())

	src.stats.PacketsPublished = 9
	families = gather(t, c)
	assert.Equal(t, 9.0, find(t, families["meshbridge_packets_published_total"], nil).GetCounter().GetValue())
}

func TestCollector_OccupancyGauges(t *testing.T) {
	src := &fakeSource{stats: bridge.Stats{DedupEntries: 12, DedupCapacity: 128}}
	pool := mesh.NewManager(4, 1)
	pool.AllocNew()

	families := gather(t, NewCollector(src, pool, "n1"))

	assert.Equal(t, 12.0, find(t, families["meshbridge_dedup_entries"], nil).GetGauge().GetValue())
	assert.Equal(t, 128.0, find(t, families["meshbridge_dedup_capacity"], nil).GetGauge().GetValue())
	assert.Equal(t, 3.0, find(t, families["meshbridge_packet_pool_available"], nil).GetGauge().GetValue())
}

func TestCollector_WithoutPool(t *testing.T) {
	families := gather(t, NewCollector(&fakeSource{}, nil, "n1"))
	assert.NotContains(t, families, "meshbridge_packet_pool_available")
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry(&fakeSource{}, mesh.NewManager(4, 1), "n1")
	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["meshbridge_packets_published_total"])
	assert.True(t, names["go_goroutines"])
}
