package bridge

import (
	"sync/atomic"

	"github.com/nerrad567/meshbridge/internal/frame"
)

// Stats is a snapshot of bridge counters.
type Stats struct {
	// Outbound (radio to broker).
	PacketsPublished    uint64
	DroppedZeroHop      uint64
	DroppedNotInPath    uint64
	DroppedDisconnected uint64
	DroppedDuplicateOut uint64
	EncodeErrors        uint64
	PublishErrors       uint64
	EnqueueDropped      uint64

	// Inbound (broker to radio).
	MessagesReceived   uint64
	PacketsQueued      uint64
	DroppedEcho        uint64
	DroppedDuplicateIn uint64
	DecodeTooShort     uint64
	DecodeBadMagic     uint64
	DecodeBadChecksum  uint64
	DecodeStale        uint64
	AllocFailures      uint64
	ParseErrors        uint64
	QueueFull          uint64
	DeliverDropped     uint64

	// Duplicate filter occupancy.
	DedupEntries  uint64
	DedupCapacity uint64
}

// DecodeErrors returns the total of all decode failures.
func (s Stats) DecodeErrors() uint64 {
	return s.DecodeTooShort + s.DecodeBadMagic + s.DecodeBadChecksum + s.DecodeStale
}

// counters are written on the bridge goroutine and read from anywhere.
type counters struct {
	packetsPublished    atomic.Uint64
	droppedZeroHop      atomic.Uint64
	droppedNotInPath    atomic.Uint64
	droppedDisconnected atomic.Uint64
	droppedDuplicateOut atomic.Uint64
	encodeErrors        atomic.Uint64
	publishErrors       atomic.Uint64
	enqueueDropped      atomic.Uint64

	messagesReceived   atomic.Uint64
	packetsQueued      atomic.Uint64
	droppedEcho        atomic.Uint64
	droppedDuplicateIn atomic.Uint64
	decodeTooShort     atomic.Uint64
	decodeBadMagic     atomic.Uint64
	decodeBadChecksum  atomic.Uint64
	decodeStale        atomic.Uint64
	allocFailures      atomic.Uint64
	parseErrors        atomic.Uint64
	queueFull          atomic.Uint64
	deliverDropped     atomic.Uint64

	dedupEntries  atomic.Uint64
	dedupCapacity atomic.Uint64
}

func (c *counters) decodeError(kind frame.DecodeErrorKind) {
	switch kind {
	case frame.TooShort:
		c.decodeTooShort.Add(1)
	case frame.InvalidMagic:
		c.decodeBadMagic.Add(1)
	case frame.ChecksumMismatch:
		c.decodeBadChecksum.Add(1)
	case frame.Stale:
		c.decodeStale.Add(1)
	}
}

func (c *counters) snapshot() Stats {
	return Stats{
		PacketsPublished:    c.packetsPublished.Load(),
		DroppedZeroHop:      c.droppedZeroHop.Load(),
		DroppedNotInPath:    c.droppedNotInPath.Load(),
		DroppedDisconnected: c.droppedDisconnected.Load(),
		DroppedDuplicateOut: c.droppedDuplicateOut.Load(),
		EncodeErrors:        c.encodeErrors.Load(),
		PublishErrors:       c.publishErrors.Load(),
		EnqueueDropped:      c.enqueueDropped.Load(),

		MessagesReceived:   c.messagesReceived.Load(),
		PacketsQueued:      c.packetsQueued.Load(),
		DroppedEcho:        c.droppedEcho.Load(),
		DroppedDuplicateIn: c.droppedDuplicateIn.Load(),
		DecodeTooShort:     c.decodeTooShort.Load(),
		DecodeBadMagic:     c.decodeBadMagic.Load(),
		DecodeBadChecksum:  c.decodeBadChecksum.Load(),
		DecodeStale:        c.decodeStale.Load(),
		AllocFailures:      c.allocFailures.Load(),
		ParseErrors:        c.parseErrors.Load(),
		QueueFull:          c.queueFull.Load(),
		DeliverDropped:     c.deliverDropped.Load(),

		DedupEntries:  c.dedupEntries.Load(),
		DedupCapacity: c.dedupCapacity.Load(),
	}
}
