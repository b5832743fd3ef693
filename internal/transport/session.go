// Package transport defines the publish/subscribe session the bridge runs
// over. Implementations live under internal/infrastructure (MQTT and NATS).
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
)

// MessageHandler receives messages for a subscription. It is invoked on the
// client library's own goroutine and must not block.
type MessageHandler func(topic string, payload []byte)

// Will is the message the broker publishes on this session's behalf when
// the session ends without a clean disconnect.
type Will struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// SessionOptions describes one connect attempt.
type SessionOptions struct {
	Host     string
	Port     int
	ClientID string
	Username string
	Password string

	// TLS enables a secure channel when non-nil. ServerName is already set.
	TLS *tls.Config

	// Will is optional.
	Will *Will
}

// Address returns host:port.
func (o SessionOptions) Address() string {
	return fmt.Sprintf("%s:%d", o.Host, o.Port)
}

// Session is a broker session. Implementations must not reconnect on their
// own: reconnection is paced by the connection manager.
type Session interface {
	// Connect establishes the session. It returns when the broker has
	// accepted or refused the connection, or ctx is done.
	Connect(ctx context.Context, opts SessionOptions) error

	// Subscribe registers handler for messages matching topic.
	Subscribe(topic string, qos byte, handler MessageHandler) error

	// Publish sends payload. It returns ErrNotConnected without a session.
	// The caller may reuse payload as soon as Publish returns.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// IsConnected reports whether the session is currently established.
	IsConnected() bool

	// Disconnect ends the session cleanly.
	Disconnect()

	// Reset discards all client state so the next Connect starts fresh.
	Reset()
}
