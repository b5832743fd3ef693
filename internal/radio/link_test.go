package radio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/meshbridge/internal/mesh"
)

// pipePort is a serial port whose receive side is fed by the test and
// whose transmit side is recorded.
type pipePort struct {
	rx *io.PipeReader
	tx *io.PipeWriter

	mu      sync.Mutex
	written bytes.Buffer
	closed  bool
}

func newPipePort() *pipePort {
	rx, tx := io.Pipe()
	return &pipePort{rx: rx, tx: tx}
}

func (p *pipePort) Read(b []byte) (int, error) { return p.rx.Read(b) }

func (p *pipePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errors.New("port closed")
	}
	return p.written.Write(b)
}

func (p *pipePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.rx.Close()
}

func (p *pipePort) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.written.Bytes()...)
}

func (p *pipePort) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type collectingSink struct {
	mu      sync.Mutex
	packets []*mesh.Packet
	full    bool
}

func (s *collectingSink) Enqueue(pkt *mesh.Packet) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return false
	}
	s.packets = append(s.packets, pkt)
	return true
}

func (s *collectingSink) Packets() []*mesh.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*mesh.Packet(nil), s.packets...)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

func serialize(t *testing.T, pkt *mesh.Packet) []byte {
	t.Helper()
	buf := make([]byte, mesh.MaxPacketSize)
	n, err := pkt.WriteTo(buf)
	require.NoError(t, err)
	return buf[:n]
}

func floodPacket(payload ...byte) *mesh.Packet {
	return &mesh.Packet{
		Header:  byte(mesh.RouteFlood) | byte(mesh.PayloadTextMsg)<<2,
		Path:    []byte{0x11},
		Payload: payload,
	}
}

func startLink(t *testing.T, port *pipePort, sink Sink, queue Queue) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewLink(port, sink, queue, nopLogger{}).Run(ctx)
	}()
	t.Cleanup(cancel)
	return cancel, done
}

func TestLink_ReceivesPackets(t *testing.T) {
	port := newPipePort()
	sink := &collectingSink{}
	_, _ = startLink(t, port, sink, mesh.NewManager(4, 4))

	raw := serialize(t, floodPacket(0xDE, 0xAD))

	wire, err := AppendMessage(nil, Message{Type: 0x42, Payload: []byte("log line")})
	require.NoError(t, err)
	wire, err = AppendMessage(wire, Message{Type: MessageRawPacket, Payload: []byte{0x01}})
	require.NoError(t, err)
	wire, err = AppendMessage(wire, Message{Type: MessageRawPacket, Payload: raw})
	require.NoError(t, err)

	go port.tx.Write(wire) //nolint:errcheck

	require.Eventually(t, func() bool { return len(sink.Packets()) == 1 }, time.Second, 5*time.Millisecond)
	got := sink.Packets()[0]
	assert.Equal(t, []byte{0xDE, 0xAD}, got.Payload)
	assert.Equal(t, []byte{0x11}, got.Path)
}

func TestLink_TransmitsQueuedPackets(t *testing.T) {
	port := newPipePort()
	mgr := mesh.NewManager(4, 4)
	_, _ = startLink(t, port, &collectingSink{}, mgr)

	pkt := mgr.AllocNew()
	require.NotNil(t, pkt)
	pkt.Header = byte(mesh.RouteFlood) | byte(mesh.PayloadAdvert)<<2
	pkt.Payload = append(pkt.Payload, 0xAA, 0x7D)
	require.True(t, mgr.QueueInbound(pkt))

	require.Eventually(t, func() bool { return len(port.Written()) > 0 }, time.Second, 5*time.Millisecond)

	msg, err := NewReader(bytes.NewReader(port.Written())).ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, MessageRawPacket, msg.Type)

	var decoded mesh.Packet
	require.NoError(t, decoded.ReadFrom(msg.Payload))
	assert.Equal(t, []byte{0xAA, 0x7D}, decoded.Payload)

	require.Eventually(t, func() bool { return mgr.Available() == 4 }, time.Second, 5*time.Millisecond,
		"transmitted packet should return to the pool")
}

func TestLink_StopsOnCancel(t *testing.T) {
	port := newPipePort()
	cancel, done := startLink(t, port, &collectingSink{}, mesh.NewManager(1, 1))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.True(t, port.IsClosed())
}

func TestLink_StopsOnReadError(t *testing.T) {
	port := newPipePort()
	_, done := startLink(t, port, &collectingSink{}, mesh.NewManager(1, 1))

	port.tx.CloseWithError(errors.New("device unplugged"))

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "device unplugged")
	case <-time.After(time.Second):
		t.Fatal("Run did not return after read error")
	}
}

func TestLink_SinkFull(t *testing.T) {
	port := newPipePort()
	sink := &collectingSink{full: true}
	_, done := startLink(t, port, sink, mesh.NewManager(1, 1))

	raw := serialize(t, floodPacket(1))
	wire, err := AppendMessage(nil, Message{Type: MessageRawPacket, Payload: raw})
	require.NoError(t, err)

	_, err = port.tx.Write(wire)
	require.NoError(t, err)
	port.tx.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	assert.Empty(t, sink.Packets())
}
