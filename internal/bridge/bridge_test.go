package bridge

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/meshbridge/internal/clock"
	"github.com/nerrad567/meshbridge/internal/conn"
	"github.com/nerrad567/meshbridge/internal/dedup"
	"github.com/nerrad567/meshbridge/internal/frame"
	"github.com/nerrad567/meshbridge/internal/mesh"
	"github.com/nerrad567/meshbridge/internal/topic"
	"github.com/nerrad567/meshbridge/internal/transport/transporttest"
)

type stubLink struct{ up bool }

func (l *stubLink) Connected() bool             { return l.up }
func (l *stubLink) Begin(context.Context) error { l.up = true; return nil }
func (l *stubLink) Disconnect()                 { l.up = false }

type testBridge struct {
	*Bridge
	session *transporttest.Session
	packets *mesh.Manager
	clock   *clock.Fake
	link    *stubLink
}

const (
	baseTopic = "mesh/bridge"
	selfID    = "ab12cd"
	ownTopic  = baseTopic + "/" + selfID
	peerTopic = baseTopic + "/ff0011"
)

func newTestBridge(t *testing.T, cfg Config, routerOpts topic.Options) *testBridge {
	t.Helper()

	router, err := topic.New(routerOpts)
	require.NoError(t, err)

	tb := &testBridge{
		session: transporttest.New(),
		packets: mesh.NewManager(8, 8),
		clock:   clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		link:    &stubLink{up: true},
	}
	tb.Bridge, err = New(Options{
		Config:  cfg,
		Conn:    conn.Config{Host: "broker.local", Port: 1883, ClientID: selfID, QoS: 1},
		Session: tb.session,
		Link:    tb.link,
		Router:  router,
		Packets: tb.packets,
		Clock:   tb.clock,
	})
	require.NoError(t, err)
	return tb
}

func partitioned() topic.Options {
	return topic.Options{Base: baseTopic, ClientID: selfID, Partitioned: true}
}

func startedBridge(t *testing.T, cfg Config) *testBridge {
	t.Helper()
	tb := newTestBridge(t, cfg, partitioned())
	require.NoError(t, tb.Start(context.Background()))
	require.Equal(t, conn.SessionUp, tb.Snapshot().State)
	return tb
}

func (tb *testBridge) dataMessages(topic string) []transporttest.Message {
	var out []transporttest.Message
	for _, m := range tb.session.Published() {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// Header bytes carry the route type in bits 0-1 and the payload type in
// bits 2-5.
const (
	floodTextHeader  = byte(mesh.RouteFlood) | byte(mesh.PayloadTextMsg)<<2
	directTextHeader = byte(mesh.RouteDirect) | byte(mesh.PayloadTextMsg)<<2
)

func floodPacket(payload string) *mesh.Packet {
	return &mesh.Packet{
		Header:  floodTextHeader,
		Path:    []byte{0x11},
		Payload: []byte(payload),
	}
}

func directPacket(payload string, path ...byte) *mesh.Packet {
	return &mesh.Packet{
		Header:  directTextHeader,
		Path:    path,
		Payload: []byte(payload),
	}
}

func serialize(t *testing.T, pkt *mesh.Packet) []byte {
	t.Helper()
	buf := make([]byte, mesh.MaxPacketSize)
	n, err := pkt.WriteTo(buf)
	require.NoError(t, err)
	return buf[:n]
}

func encodeFrame(t *testing.T, clk clock.Clock, pkt *mesh.Packet) []byte {
	t.Helper()
	data, err := frame.NewCodec(frame.Version1, clk).Encode(serialize(t, pkt))
	require.NoError(t, err)
	return data
}

func TestNewRequiresCollaborators(t *testing.T) {
	router, err := topic.New(partitioned())
	require.NoError(t, err)
	session := transporttest.New()
	packets := mesh.NewManager(1, 1)
	link := &stubLink{}

	tests := []struct {
		name string
		opts Options
	}{
		{"session", Options{Link: link, Router: router, Packets: packets}},
		{"link", Options{Session: session, Router: router, Packets: packets}},
		{"router", Options{Session: session, Link: link, Packets: packets}},
		{"packets", Options{Session: session, Link: link, Router: router}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			assert.Error(t, err)
		})
	}
}

func TestStartTwice(t *testing.T) {
	tb := startedBridge(t, Config{})
	assert.ErrorIs(t, tb.Start(context.Background()), ErrAlreadyStarted)

	tb.Close()
	assert.ErrorIs(t, tb.Start(context.Background()), ErrClosed)
}

func TestSendPacketPublishesFrame(t *testing.T) {
	tb := startedBridge(t, Config{QoS: 1})
	pkt := floodPacket("hello mesh")

	tb.SendPacket(pkt)

	msgs := tb.dataMessages(ownTopic)
	require.Len(t, msgs, 1)
	assert.Equal(t, byte(1), msgs[0].QoS)
	assert.False(t, msgs[0].Retained)

	raw, err := frame.NewCodec(frame.Version1, tb.clock).Decode(msgs[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, serialize(t, pkt), raw)
	assert.Equal(t, uint64(1), tb.Stats().PacketsPublished)
}

func TestSendPacketSuppressesLoops(t *testing.T) {
	tb := startedBridge(t, Config{})
	pkt := floodPacket("once")

	tb.SendPacket(pkt)
	tb.SendPacket(pkt)

	again := floodPacket("once")
	again.Path = []byte{0x11, 0x22, 0x33}
	tb.SendPacket(again)

	assert.Len(t, tb.dataMessages(ownTopic), 1)
	assert.Equal(t, uint64(2), tb.Stats().DroppedDuplicateOut)
}

func TestSendPacketBeforeStartIsNoop(t *testing.T) {
	tb := newTestBridge(t, Config{}, partitioned())
	tb.SendPacket(floodPacket("early"))
	tb.SendPacket(nil)

	assert.Empty(t, tb.session.Published())
	assert.Equal(t, Stats{DedupCapacity: dedup.DefaultCapacity}, tb.Stats())
}

func TestSendPacketDropsZeroHopDirect(t *testing.T) {
	tb := startedBridge(t, Config{})

	tb.SendPacket(directPacket("neighbour only"))
	assert.Empty(t, tb.dataMessages(ownTopic))
	assert.Equal(t, uint64(1), tb.Stats().DroppedZeroHop)

	zeroHopFlood := floodPacket("flood")
	zeroHopFlood.Path = nil
	tb.SendPacket(zeroHopFlood)
	assert.Len(t, tb.dataMessages(ownTopic), 1, "zero-hop flood packets are bridged")
}

func TestRelayAwarePathCheckPrecedesFingerprint(t *testing.T) {
	tb := startedBridge(t, Config{RelayAware: true, SelfHash: 0x42})

	tb.SendPacket(directPacket("routed", 0x10, 0x20))
	assert.Empty(t, tb.dataMessages(ownTopic))
	assert.Equal(t, uint64(1), tb.Stats().DroppedNotInPath)

	tb.SendPacket(directPacket("routed", 0x10, 0x42))
	assert.Len(t, tb.dataMessages(ownTopic), 1, "overheard copy must not have been recorded")
}

func TestRelayAwareIgnoresFloodPackets(t *testing.T) {
	tb := startedBridge(t, Config{RelayAware: true, SelfHash: 0x42})
	tb.SendPacket(floodPacket("flood"))
	assert.Len(t, tb.dataMessages(ownTopic), 1)
}

func TestSendPacketWhileDisconnected(t *testing.T) {
	tb := startedBridge(t, Config{})
	pkt := floodPacket("later")

	tb.session.Drop()
	tb.SendPacket(pkt)
	assert.Equal(t, uint64(1), tb.Stats().DroppedDisconnected)
	assert.Empty(t, tb.dataMessages(ownTopic))

	tb.Tick(context.Background())
	tb.clock.Advance(conn.DefaultReconnectInterval)
	tb.Tick(context.Background())
	require.Equal(t, conn.SessionUp, tb.Snapshot().State)

	tb.SendPacket(pkt)
	assert.Len(t, tb.dataMessages(ownTopic), 1, "dropped packet was not recorded")
}

func TestSendPacketPublishFailure(t *testing.T) {
	tb := startedBridge(t, Config{})
	tb.session.FailPublish(assert.AnError)

	tb.SendPacket(floodPacket("x"))
	assert.Equal(t, uint64(1), tb.Stats().PublishErrors)
}

func TestOnMessageQueuesPacket(t *testing.T) {
	tb := startedBridge(t, Config{})
	pkt := floodPacket("from afar")

	tb.OnMessage(peerTopic, encodeFrame(t, tb.clock, pkt))

	select {
	case got := <-tb.packets.Inbound():
		assert.Equal(t, pkt.Payload, got.Payload)
		assert.Equal(t, pkt.Path, got.Path)
		assert.Equal(t, pkt.Header, got.Header)
		tb.packets.Free(got)
	default:
		t.Fatal("packet not queued")
	}
	assert.Equal(t, uint64(1), tb.Stats().PacketsQueued)
}

func TestOnMessageDropsEcho(t *testing.T) {
	tb := startedBridge(t, Config{})

	tb.OnMessage(ownTopic, encodeFrame(t, tb.clock, floodPacket("mine")))

	assert.Empty(t, tb.packets.Inbound())
	assert.Equal(t, uint64(1), tb.Stats().DroppedEcho)
}

func TestOnMessageDropsDuplicates(t *testing.T) {
	tb := startedBridge(t, Config{})
	data := encodeFrame(t, tb.clock, floodPacket("twice"))
	available := tb.packets.Available()

	tb.OnMessage(peerTopic, data)
	tb.OnMessage("mesh/bridge/0a0b0c", data)

	assert.Len(t, tb.packets.Inbound(), 1)
	assert.Equal(t, uint64(1), tb.Stats().DroppedDuplicateIn)
	assert.Equal(t, available-1, tb.packets.Available(), "duplicate returned to the pool")
}

func TestSingleTopicOwnFrameSuppressedByFingerprint(t *testing.T) {
	tb := newTestBridge(t, Config{}, topic.Options{Base: baseTopic, ClientID: selfID})
	require.NoError(t, tb.Start(context.Background()))
	pkt := floodPacket("round trip")

	tb.SendPacket(pkt)
	msgs := tb.dataMessages(baseTopic)
	require.Len(t, msgs, 1)

	tb.OnMessage(baseTopic, msgs[0].Payload)
	assert.Empty(t, tb.packets.Inbound())
	assert.Equal(t, uint64(1), tb.Stats().DroppedDuplicateIn)
}

func TestStatsReportDedupOccupancy(t *testing.T) {
	tb := startedBridge(t, Config{DedupCapacity: 2})
	assert.Equal(t, uint64(2), tb.Stats().DedupCapacity)
	assert.Zero(t, tb.Stats().DedupEntries)

	tb.OnMessage(peerTopic, encodeFrame(t, tb.clock, floodPacket("a")))
	assert.Equal(t, uint64(1), tb.Stats().DedupEntries)

	tb.OnMessage(peerTopic, encodeFrame(t, tb.clock, floodPacket("b")))
	tb.OnMessage(peerTopic, encodeFrame(t, tb.clock, floodPacket("c")))
	assert.Equal(t, uint64(2), tb.Stats().DedupEntries, "bounded by capacity")
}

func TestOnMessageDecodeErrors(t *testing.T) {
	tb := startedBridge(t, Config{FrameVersion: frame.Version2})
	codec := frame.NewCodec(frame.Version2, tb.clock)
	raw := serialize(t, floodPacket("p"))
	good, err := codec.Encode(raw)
	require.NoError(t, err)

	badMagic := append([]byte(nil), good...)
	badMagic[0] ^= 0xFF
	badSum := append([]byte(nil), good...)
	badSum[len(badSum)-1] ^= 0x01

	old := clock.NewFake(tb.clock.Now().Add(-frame.FreshnessWindow - time.Second))
	stale, err := frame.NewCodec(frame.Version2, old).Encode(raw)
	require.NoError(t, err)

	tb.OnMessage(peerTopic, good[:3])
	tb.OnMessage(peerTopic, badMagic)
	tb.OnMessage(peerTopic, badSum)
	tb.OnMessage(peerTopic, stale)

	s := tb.Stats()
	assert.Equal(t, uint64(1), s.DecodeTooShort)
	assert.Equal(t, uint64(1), s.DecodeBadMagic)
	assert.Equal(t, uint64(1), s.DecodeBadChecksum)
	assert.Equal(t, uint64(1), s.DecodeStale)
	assert.Equal(t, uint64(4), s.DecodeErrors())
	assert.Empty(t, tb.packets.Inbound())
}

func TestOnMessageAllocFailure(t *testing.T) {
	tb := startedBridge(t, Config{})
	var held []*mesh.Packet
	for p := tb.packets.AllocNew(); p != nil; p = tb.packets.AllocNew() {
		held = append(held, p)
	}

	tb.OnMessage(peerTopic, encodeFrame(t, tb.clock, floodPacket("no room")))
	assert.Equal(t, uint64(1), tb.Stats().AllocFailures)

	for _, p := range held {
		tb.packets.Free(p)
	}
	tb.OnMessage(peerTopic, encodeFrame(t, tb.clock, floodPacket("no room")))
	assert.Equal(t, uint64(1), tb.Stats().PacketsQueued, "failed alloc did not record the fingerprint")
}

func TestOnMessageParseFailureFreesPacket(t *testing.T) {
	tb := startedBridge(t, Config{})
	available := tb.packets.Available()
	data, err := frame.NewCodec(frame.Version1, tb.clock).Encode([]byte{0x01})
	require.NoError(t, err)

	tb.OnMessage(peerTopic, data)

	assert.Equal(t, uint64(1), tb.Stats().ParseErrors)
	assert.Equal(t, available, tb.packets.Available())
}

func TestOnMessageQueueFull(t *testing.T) {
	router, err := topic.New(partitioned())
	require.NoError(t, err)
	packets := mesh.NewManager(4, 1)
	b, err := New(Options{
		Conn:    conn.Config{ClientID: selfID},
		Session: transporttest.New(),
		Link:    &stubLink{up: true},
		Router:  router,
		Packets: packets,
	})
	require.NoError(t, err)

	b.OnMessage(peerTopic, encodeFrame(t, clock.Real{}, floodPacket("a")))
	b.OnMessage(peerTopic, encodeFrame(t, clock.Real{}, floodPacket("b")))

	assert.Equal(t, uint64(1), b.Stats().PacketsQueued)
	assert.Equal(t, uint64(1), b.Stats().QueueFull)
}

func TestDeliverIsHandledInOrderOnTick(t *testing.T) {
	tb := startedBridge(t, Config{})
	payloads := []string{"one", "two", "three"}
	for _, p := range payloads {
		require.True(t, tb.session.Deliver(baseTopic+"/+", peerTopic, encodeFrame(t, tb.clock, floodPacket(p))))
	}
	assert.Empty(t, tb.packets.Inbound(), "nothing handled before the tick")

	tb.Tick(context.Background())

	for _, want := range payloads {
		got := <-tb.packets.Inbound()
		assert.Equal(t, want, string(got.Payload))
	}
}

func TestDeliverCopiesPayload(t *testing.T) {
	tb := startedBridge(t, Config{})
	data := encodeFrame(t, tb.clock, floodPacket("copy"))

	tb.Deliver(peerTopic, data)
	data[0] = 0
	tb.Tick(context.Background())

	assert.Len(t, tb.packets.Inbound(), 1)
}

func TestDeliverQueueFull(t *testing.T) {
	tb := newTestBridge(t, Config{InboundQueue: 1}, partitioned())

	assert.True(t, tb.Deliver(peerTopic, []byte{1}))
	assert.False(t, tb.Deliver(peerTopic, []byte{2}))
	assert.Equal(t, uint64(1), tb.Stats().DeliverDropped)
}

func TestReentrantTickIsIgnored(t *testing.T) {
	tb := newTestBridge(t, Config{}, partitioned())
	tb.initialised = true
	tb.ticking = true

	tb.Tick(context.Background())

	assert.Zero(t, tb.session.Connects())
}

func TestStatusLifecycle(t *testing.T) {
	tb := startedBridge(t, Config{Version: "1.2.3"})
	statusTopic := baseTopic + "/status/" + selfID

	will := tb.session.Options()[0].Will
	require.NotNil(t, will)
	assert.Equal(t, statusTopic, will.Topic)
	assert.True(t, will.Retained)

	var lwt StatusMessage
	require.NoError(t, json.Unmarshal(will.Payload, &lwt))
	assert.Equal(t, StatusOffline, lwt.Status)
	assert.Equal(t, "unexpected_disconnect", lwt.Reason)

	status := tb.dataMessages(statusTopic)
	require.Len(t, status, 1)
	assert.True(t, status[0].Retained)

	var online StatusMessage
	require.NoError(t, json.Unmarshal(status[0].Payload, &online))
	assert.Equal(t, StatusOnline, online.Status)
	assert.Equal(t, selfID, online.Node)
	assert.Equal(t, "1.2.3", online.Version)
	require.NotNil(t, online.Topics)
	assert.Equal(t, ownTopic, online.Topics.Publish)

	tb.Close()

	status = tb.dataMessages(statusTopic)
	require.Len(t, status, 2)
	var offline StatusMessage
	require.NoError(t, json.Unmarshal(status[1].Payload, &offline))
	assert.Equal(t, StatusOffline, offline.Status)
	assert.Equal(t, "graceful_shutdown", offline.Reason)
	assert.False(t, tb.session.IsConnected())
}

func TestStatusRefresh(t *testing.T) {
	tb := startedBridge(t, Config{StatusInterval: time.Minute})
	statusTopic := baseTopic + "/status/" + selfID

	tb.clock.Advance(30 * time.Second)
	tb.Tick(context.Background())
	assert.Len(t, tb.dataMessages(statusTopic), 1)

	tb.clock.Advance(30 * time.Second)
	tb.Tick(context.Background())
	assert.Len(t, tb.dataMessages(statusTopic), 2)
}

func TestRunProcessesQueues(t *testing.T) {
	tb := newTestBridge(t, Config{TickInterval: time.Millisecond}, partitioned())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tb.Run(ctx) }()

	require.True(t, tb.Enqueue(floodPacket("via run")))
	assert.Eventually(t, func() bool {
		return tb.Stats().PacketsPublished == 1
	}, time.Second, time.Millisecond)

	require.True(t, tb.Deliver(peerTopic, encodeFrame(t, tb.clock, floodPacket("inbound via run"))))
	assert.Eventually(t, func() bool {
		return tb.Stats().PacketsQueued == 1
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
