package mesh

import "sync"

// Manager defaults.
const (
	DefaultPoolSize   = 32
	DefaultQueueDepth = 16
)

// Manager allocates packets from a bounded pool and queues packets received
// from the bridge for transmission on the radio.
//
// Thread Safety: all methods are safe for concurrent use.
type Manager struct {
	mu    sync.Mutex
	free  []*Packet
	inUse int
	size  int

	inbound chan *Packet
}

// NewManager creates a manager with poolSize packets and an inbound queue of
// queueDepth. Non-positive values use the defaults.
func NewManager(poolSize, queueDepth int) *Manager {
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	if queueDepth <= 0 {
		queueDepth = DefaultQueueDepth
	}

	m := &Manager{
		free:    make([]*Packet, 0, poolSize),
		size:    poolSize,
		inbound: make(chan *Packet, queueDepth),
	}
	for range poolSize {
		m.free = append(m.free, &Packet{
			Path:    make([]byte, 0, MaxPathSize),
			Payload: make([]byte, 0, MaxPayloadSize),
		})
	}
	return m
}

// AllocNew takes a packet from the pool, or returns nil when the pool is
// exhausted.
func (m *Manager) AllocNew() *Packet {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.free) == 0 {
		return nil
	}
	p := m.free[len(m.free)-1]
	m.free = m.free[:len(m.free)-1]
	m.inUse++
	return p
}

// Free returns a packet to the pool.
func (m *Manager) Free(p *Packet) {
	if p == nil {
		return
	}
	p.Reset()

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.free) < m.size {
		m.free = append(m.free, p)
		m.inUse--
	}
}

// QueueInbound hands a packet to the radio side. If the queue is full the
// packet is freed and false is returned.
func (m *Manager) QueueInbound(p *Packet) bool {
	select {
	case m.inbound <- p:
		return true
	default:
		m.Free(p)
		return false
	}
}

// Inbound returns the queue the radio side drains. Consumers must Free each
// packet after transmitting it.
func (m *Manager) Inbound() <-chan *Packet {
	return m.inbound
}

// Available returns the number of free packets.
func (m *Manager) Available() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.free)
}
