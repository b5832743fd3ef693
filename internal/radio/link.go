// Package radio connects the bridge to a LoRa radio over a serial port.
//
// Packets heard by the radio are handed to the bridge; packets queued by
// the bridge for transmission are written back to the radio.
package radio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"

	"github.com/nerrad567/meshbridge/internal/infrastructure/config"
	"github.com/nerrad567/meshbridge/internal/mesh"
)

// DefaultBaudRate is used when the configuration leaves it unset.
const DefaultBaudRate = 115200

// Sink receives packets heard on the radio. *bridge.Bridge satisfies it.
type Sink interface {
	Enqueue(pkt *mesh.Packet) bool
}

// Queue supplies packets to transmit. *mesh.Manager satisfies it.
type Queue interface {
	Inbound() <-chan *mesh.Packet
	Free(pkt *mesh.Packet)
}

// Logger is the logging dependency.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Link shuttles packets between a serial port and the bridge.
type Link struct {
	port   io.ReadWriteCloser
	sink   Sink
	queue  Queue
	logger Logger

	closeOnce sync.Once
}

// Open opens the configured serial port.
func Open(cfg config.RadioConfig) (serial.Port, error) {
	baud := cfg.BaudRate
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("opening radio port %s: %w", cfg.Port, err)
	}
	return port, nil
}

// NewLink creates a link over port. Run takes ownership of port.
func NewLink(port io.ReadWriteCloser, sink Sink, queue Queue, logger Logger) *Link {
	return &Link{
		port:   port,
		sink:   sink,
		queue:  queue,
		logger: logger,
	}
}

// Run reads and writes until ctx is done or the port fails, then closes the
// port. It returns nil on cancellation.
func (l *Link) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	readErr := make(chan error, 1)
	go func() {
		readErr <- l.readLoop()
	}()

	writeErr := l.writeLoop(ctx, readErr)
	l.close()

	if errors.Is(writeErr, context.Canceled) {
		return nil
	}
	return writeErr
}

// writeLoop transmits queued packets until ctx is done or the reader stops.
func (l *Link) writeLoop(ctx context.Context, readErr <-chan error) error {
	var (
		packetBuf [mesh.MaxPacketSize]byte
		wire      []byte
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return fmt.Errorf("radio read: %w", err)
		case pkt := <-l.queue.Inbound():
			n, err := pkt.WriteTo(packetBuf[:])
			l.queue.Free(pkt)
			if err != nil {
				l.logger.Warn("dropping unserialisable packet", "error", err)
				continue
			}

			wire, err = AppendMessage(wire[:0], Message{Type: MessageRawPacket, Payload: packetBuf[:n]})
			if err != nil {
				l.logger.Warn("dropping unframeable packet", "error", err)
				continue
			}
			if _, err := l.port.Write(wire); err != nil {
				return fmt.Errorf("radio write: %w", err)
			}
		}
	}
}

// readLoop hands received packets to the sink until the port fails.
func (l *Link) readLoop() error {
	r := NewReader(l.port)
	for {
		msg, err := r.ReadMessage()
		switch {
		case err == nil:
		case errors.Is(err, ErrCRCMismatch), errors.Is(err, ErrBadEscape),
			errors.Is(err, ErrMessageTooLarge), errors.Is(err, ErrUnexpectedStart):
			l.logger.Warn("discarding corrupt radio message", "error", err)
			continue
		default:
			return err
		}

		if msg.Type != MessageRawPacket {
			l.logger.Debug("ignoring radio message", "type", msg.Type, "size", len(msg.Payload))
			continue
		}

		pkt := &mesh.Packet{}
		if err := pkt.ReadFrom(msg.Payload); err != nil {
			l.logger.Warn("discarding malformed packet from radio", "error", err)
			continue
		}
		if !l.sink.Enqueue(pkt) {
			l.logger.Warn("bridge queue full, dropping radio packet")
		}
	}
}

func (l *Link) close() {
	l.closeOnce.Do(func() {
		if err := l.port.Close(); err != nil {
			l.logger.Error("closing radio port failed", "error", err)
		}
	})
}
