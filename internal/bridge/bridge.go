package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/meshbridge/internal/certstore"
	"github.com/nerrad567/meshbridge/internal/clock"
	"github.com/nerrad567/meshbridge/internal/conn"
	"github.com/nerrad567/meshbridge/internal/dedup"
	"github.com/nerrad567/meshbridge/internal/frame"
	"github.com/nerrad567/meshbridge/internal/mesh"
	"github.com/nerrad567/meshbridge/internal/topic"
	"github.com/nerrad567/meshbridge/internal/transport"
)

// Defaults for Config fields left at zero.
const (
	DefaultTickInterval  = 100 * time.Millisecond
	DefaultInboundQueue  = 64
	DefaultOutboundQueue = 64
)

// Logger is the structured logger used by the bridge.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// PacketManager is the mesh side of the bridge: it supplies packets for
// inbound frames and takes them for transmission.
type PacketManager interface {
	// AllocNew returns a free packet, or nil when none is available.
	AllocNew() *mesh.Packet

	// Free returns an unused packet.
	Free(pkt *mesh.Packet)

	// QueueInbound takes ownership of pkt. It reports false, and frees
	// pkt, when the queue is full.
	QueueInbound(pkt *mesh.Packet) bool
}

// Config holds bridge behaviour settings.
type Config struct {
	// FrameVersion selects the wire frame layout. Default Version1.
	FrameVersion frame.Version

	// QoS for data frames.
	QoS byte

	// RelayAware forwards direct packets only when SelfHash is in the path.
	RelayAware bool
	SelfHash   byte

	// DedupCapacity is the number of fingerprints remembered.
	DedupCapacity int

	TickInterval  time.Duration
	InboundQueue  int
	OutboundQueue int

	// StatusInterval republishes the online status while the session is
	// up. Zero publishes only on connect.
	StatusInterval time.Duration

	// Version is reported in status messages.
	Version string
}

// Options wires a Bridge.
type Options struct {
	Config Config

	// Conn holds broker address, credentials and reconnect pacing.
	Conn conn.Config

	Session transport.Session
	Link    conn.Link
	Router  *topic.Router
	Packets PacketManager

	// Clock defaults to the real clock.
	Clock clock.Clock

	// CertStore holds the persisted broker CA. Optional.
	CertStore certstore.Store

	// Logger is optional.
	Logger Logger
}

type message struct {
	topic   string
	payload []byte
}

// Bridge connects the mesh packet pipeline to the broker.
//
// Thread Safety: Deliver, Enqueue, Stats and Snapshot are safe for concurrent
// use. Every other method must be called from the goroutine running Run, or
// from a single goroutine when Run is not used.
type Bridge struct {
	cfg     Config
	codec   *frame.Codec
	filter  *dedup.Filter
	conn    *conn.Manager
	session transport.Session
	router  *topic.Router
	packets PacketManager
	clock   clock.Clock
	logger  Logger
	status  *statusReporter

	// Reused for every outbound packet. Owned by the bridge goroutine.
	packetBuf [mesh.MaxPacketSize]byte
	frameBuf  [frame.MaxFrameSize]byte

	initialised bool
	closed      bool
	ticking     bool

	inbound  chan message
	outbound chan *mesh.Packet

	stats counters
}

// New creates a bridge. Call Start or Run to begin operation.
func New(opts Options) (*Bridge, error) {
	if opts.Session == nil {
		return nil, fmt.Errorf("bridge: session is required")
	}
	if opts.Link == nil {
		return nil, fmt.Errorf("bridge: link is required")
	}
	if opts.Router == nil {
		return nil, fmt.Errorf("bridge: topic router is required")
	}
	if opts.Packets == nil {
		return nil, fmt.Errorf("bridge: packet manager is required")
	}

	cfg := opts.Config
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.InboundQueue <= 0 {
		cfg.InboundQueue = DefaultInboundQueue
	}
	if cfg.OutboundQueue <= 0 {
		cfg.OutboundQueue = DefaultOutboundQueue
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}

	b := &Bridge{
		cfg:      cfg,
		codec:    frame.NewCodec(cfg.FrameVersion, clk),
		filter:   dedup.New(cfg.DedupCapacity),
		session:  opts.Session,
		router:   opts.Router,
		packets:  opts.Packets,
		clock:    clk,
		logger:   logger,
		inbound:  make(chan message, cfg.InboundQueue),
		outbound: make(chan *mesh.Packet, cfg.OutboundQueue),
	}

	b.stats.dedupCapacity.Store(uint64(b.filter.Capacity()))

	b.status = &statusReporter{
		node:    opts.Conn.ClientID,
		version: cfg.Version,
		topic:   opts.Router.StatusTopic(),
		topics: StatusTopics{
			Publish:   opts.Router.PublishTopic(),
			Subscribe: opts.Router.SubscribeTopic(),
		},
		interval:  cfg.StatusInterval,
		clock:     clk,
		startTime: clk.Now(),
		publisher: opts.Session,
	}

	cm, err := conn.New(conn.Options{
		Config:        opts.Conn,
		Link:          opts.Link,
		Session:       opts.Session,
		Router:        opts.Router,
		Handler:       func(topic string, payload []byte) { b.Deliver(topic, payload) },
		Clock:         clk,
		CertStore:     opts.CertStore,
		Will:          b.status.will(),
		Logger:        logger,
		OnSessionUp:   b.onSessionUp,
		OnSessionDown: b.onSessionDown,
	})
	if err != nil {
		return nil, err
	}
	b.conn = cm

	return b, nil
}

// Start marks the bridge initialised and runs the first tick.
func (b *Bridge) Start(ctx context.Context) error {
	if b.closed {
		return ErrClosed
	}
	if b.initialised {
		return ErrAlreadyStarted
	}
	b.initialised = true

	b.logger.Info("bridge starting",
		"publish", b.router.PublishTopic(),
		"subscribe", b.router.SubscribeTopic(),
		"frame_version", int(b.codec.Version()),
		"relay_aware", b.cfg.RelayAware,
	)
	b.Tick(ctx)
	return nil
}

// Run starts the bridge if needed and processes ticks, inbound messages and
// outbound packets until ctx is cancelled. It does not call Close.
func (b *Bridge) Run(ctx context.Context) error {
	if !b.initialised {
		if err := b.Start(ctx); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(b.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b.Tick(ctx)
		case msg := <-b.inbound:
			b.OnMessage(msg.topic, msg.payload)
		case pkt := <-b.outbound:
			b.SendPacket(pkt)
		}
	}
}

// Tick advances the connection state machine and handles messages delivered
// since the last tick, in delivery order. A Tick started while another is in
// progress returns immediately.
func (b *Bridge) Tick(ctx context.Context) {
	if b.ticking || b.closed {
		return
	}
	b.ticking = true
	defer func() { b.ticking = false }()

	b.conn.Tick(ctx)

	for n := len(b.inbound); n > 0; n-- {
		msg := <-b.inbound
		b.OnMessage(msg.topic, msg.payload)
	}

	if b.conn.State() == conn.SessionUp && b.status.due() {
		if err := b.status.publishOnline(b.Stats()); err != nil {
			b.logger.Warn("status refresh failed", "error", err)
		}
	}
}

// SendPacket publishes a packet heard on the radio. Packets that must not
// cross the bridge, or cannot right now, are dropped. pkt is not retained.
func (b *Bridge) SendPacket(pkt *mesh.Packet) {
	if !b.initialised || b.closed || pkt == nil {
		return
	}

	if pkt.IsRouteDirect() && pkt.PathLen() == 0 {
		b.stats.droppedZeroHop.Add(1)
		return
	}

	// Path membership is checked before the fingerprint so a packet we did
	// not route is never recorded as relayed.
	if b.cfg.RelayAware && pkt.IsRouteDirect() && !pkt.PathContains(b.cfg.SelfHash) {
		b.stats.droppedNotInPath.Add(1)
		b.logger.Debug("not relaying direct packet outside our path",
			"path_len", pkt.PathLen(),
			"self_hash", b.cfg.SelfHash,
		)
		return
	}

	if b.conn.State() != conn.SessionUp || !b.session.IsConnected() {
		b.stats.droppedDisconnected.Add(1)
		return
	}

	fp := pkt.Fingerprint()
	if b.seen(fp) {
		b.stats.droppedDuplicateOut.Add(1)
		b.logger.Debug("suppressing already bridged packet", "fingerprint", fp.String())
		return
	}

	n, err := pkt.WriteTo(b.packetBuf[:])
	if err != nil {
		b.stats.encodeErrors.Add(1)
		b.logger.Warn("serialising packet failed", "error", err)
		return
	}
	size, err := b.codec.EncodeInto(b.frameBuf[:], b.packetBuf[:n])
	if err != nil {
		b.stats.encodeErrors.Add(1)
		b.logger.Warn("framing packet failed", "error", err, "size", n)
		return
	}

	if err := b.session.Publish(b.router.PublishTopic(), b.frameBuf[:size], b.cfg.QoS, false); err != nil {
		b.stats.publishErrors.Add(1)
		b.logger.Warn("publishing frame failed", "topic", b.router.PublishTopic(), "error", err)
		return
	}

	b.stats.packetsPublished.Add(1)
	b.logger.Debug("bridged packet to broker",
		"fingerprint", fp.String(),
		"route", int(pkt.RouteType()),
		"payload_type", int(pkt.PayloadType()),
		"bytes", size,
	)
}

// OnMessage handles one message received from the broker.
func (b *Bridge) OnMessage(topic string, data []byte) {
	b.stats.messagesReceived.Add(1)

	if b.router.IsEcho(topic) {
		b.stats.droppedEcho.Add(1)
		return
	}

	payload, err := b.codec.Decode(data)
	if err != nil {
		kind := frame.KindOf(err)
		b.stats.decodeError(kind)
		b.logger.Warn("dropping undecodable frame",
			"topic", topic,
			"reason", kind.String(),
			"size", len(data),
			"error", err,
		)
		return
	}

	pkt := b.packets.AllocNew()
	if pkt == nil {
		b.stats.allocFailures.Add(1)
		b.logger.Warn("packet pool exhausted, dropping frame", "topic", topic)
		return
	}

	if err := pkt.ReadFrom(payload); err != nil {
		b.packets.Free(pkt)
		b.stats.parseErrors.Add(1)
		b.logger.Warn("dropping malformed mesh packet", "topic", topic, "error", err)
		return
	}

	fp := pkt.Fingerprint()
	if b.seen(fp) {
		b.packets.Free(pkt)
		b.stats.droppedDuplicateIn.Add(1)
		b.logger.Debug("dropping duplicate from broker", "topic", topic, "fingerprint", fp.String())
		return
	}

	if !b.packets.QueueInbound(pkt) {
		b.stats.queueFull.Add(1)
		b.logger.Warn("radio queue full, dropping packet", "fingerprint", fp.String())
		return
	}
	b.stats.packetsQueued.Add(1)
}

// Deliver queues a broker message for the bridge goroutine. It never blocks
// and reports false when the queue is full.
func (b *Bridge) Deliver(topic string, payload []byte) bool {
	msg := message{topic: topic, payload: append([]byte(nil), payload...)}
	select {
	case b.inbound <- msg:
		return true
	default:
		b.stats.deliverDropped.Add(1)
		return false
	}
}

// Enqueue queues a radio packet for SendPacket on the bridge goroutine. The
// caller must not modify pkt afterwards. It never blocks and reports false
// when the queue is full.
func (b *Bridge) Enqueue(pkt *mesh.Packet) bool {
	select {
	case b.outbound <- pkt:
		return true
	default:
		b.stats.enqueueDropped.Add(1)
		return false
	}
}

// seen checks fp against the duplicate filter and records the table size.
func (b *Bridge) seen(fp mesh.Fingerprint) bool {
	dup := b.filter.HasSeen(fp)
	b.stats.dedupEntries.Store(uint64(b.filter.Len()))
	return dup
}

// Stats returns a snapshot of the bridge counters.
func (b *Bridge) Stats() Stats {
	return b.stats.snapshot()
}

// Snapshot returns the connection state.
func (b *Bridge) Snapshot() conn.Snapshot {
	return b.conn.Snapshot()
}

// Router returns the topic layout in use.
func (b *Bridge) Router() *topic.Router {
	return b.router
}

// Close publishes the offline status and disconnects.
func (b *Bridge) Close() {
	if b.closed {
		return
	}
	b.closed = true

	if b.conn.State() == conn.SessionUp && b.session.IsConnected() {
		if err := b.status.publishOffline("graceful_shutdown"); err != nil {
			b.logger.Warn("publishing offline status failed", "error", err)
		}
	}
	b.conn.Close()
	b.logger.Info("bridge stopped")
}

func (b *Bridge) onSessionUp() {
	if err := b.status.publishOnline(b.Stats()); err != nil {
		b.logger.Warn("publishing online status failed", "error", err)
	}
}

func (b *Bridge) onSessionDown(err error) {
	b.logger.Warn("bridge offline, frames are dropped until reconnected", "reason", err)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
