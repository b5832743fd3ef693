package mqtt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"syscall"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/nerrad567/meshbridge/internal/infrastructure/config"
	"github.com/nerrad567/meshbridge/internal/transport"
)

// Session is a transport.Session backed by paho.mqtt.golang.
//
// A fresh paho client is built on every Connect, so nothing survives a
// failed attempt. Paho's own reconnect loop is disabled; the connection
// manager paces retries.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Session struct {
	cfg config.MQTTConfig

	client pahomqtt.Client
	mu     sync.RWMutex

	// newClient builds the paho client for each attempt.
	newClient func(*pahomqtt.ClientOptions) pahomqtt.Client

	// logger for error/panic logging (optional, set via SetLogger).
	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

var _ transport.Session = (*Session)(nil)

// New creates an unconnected session.
func New(cfg config.MQTTConfig) *Session {
	return &Session{cfg: cfg, newClient: pahomqtt.NewClient}
}

// Connect establishes a session with the broker described by opts.
//
// It returns once the broker has answered the CONNECT, or when ctx is done.
// Failures are classified as transport.ErrAuthRejected,
// transport.ErrConnectionRefused or transport.ErrConnectFailed.
func (s *Session) Connect(ctx context.Context, opts transport.SessionOptions) error {
	po := buildClientOptions(s.cfg, opts)
	po.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		if logger := s.getLogger(); logger != nil {
			logger.Warn("MQTT connection lost", "error", err)
		}
	})

	client := s.newClient(po)

	s.mu.Lock()
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(0)
	}
	s.client = client
	s.mu.Unlock()

	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		s.abandon(client, token)
		return fmt.Errorf("%w: %w", transport.ErrTimeout, ctx.Err())
	}

	if err := token.Error(); err != nil {
		return classifyConnectError(err)
	}
	return nil
}

// abandon forgets a client whose connect timed out and disconnects it once
// the pending connect settles, so a late CONNACK cannot leave a live
// session behind.
func (s *Session) abandon(client pahomqtt.Client, token pahomqtt.Token) {
	s.mu.Lock()
	if s.client == client {
		s.client = nil
	}
	s.mu.Unlock()

	go func() {
		<-token.Done()
		client.Disconnect(0)
	}()
}

// classifyConnectError maps paho and socket errors onto transport classes.
func classifyConnectError(err error) error {
	switch {
	case errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword),
		errors.Is(err, packets.ErrorRefusedNotAuthorised):
		return fmt.Errorf("%w: %w", transport.ErrAuthRejected, err)
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, packets.ErrorRefusedServerUnavailable),
		strings.Contains(err.Error(), "connection refused"):
		return fmt.Errorf("%w: %w", transport.ErrConnectionRefused, err)
	default:
		return fmt.Errorf("%w: %w", transport.ErrConnectFailed, err)
	}
}

// IsConnected reports whether the paho client holds an established session.
func (s *Session) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client != nil && s.client.IsConnected()
}

// Disconnect ends the session, waiting briefly for in-flight work.
func (s *Session) Disconnect() {
	s.mu.RLock()
	client := s.client
	s.mu.RUnlock()

	if client != nil && client.IsConnected() {
		client.Disconnect(defaultDisconnectQuiesce)
	}
}

// Reset drops the paho client entirely. The next Connect builds a new one.
func (s *Session) Reset() {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()

	if client != nil && client.IsConnected() {
		client.Disconnect(0)
	}
}

// currentClient returns the paho client if it is connected.
func (s *Session) currentClient() (pahomqtt.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.client == nil || !s.client.IsConnected() {
		return nil, transport.ErrNotConnected
	}
	return s.client, nil
}

// SetLogger sets a logger for error and panic logging.
// If not set, errors in handlers are silently ignored.
func (s *Session) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

// getLogger returns the current logger (may be nil).
func (s *Session) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

// wrapHandler wraps a MessageHandler with panic recovery and optional logging.
func (s *Session) wrapHandler(handler transport.MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := s.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered",
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		handler(msg.Topic(), msg.Payload())
	}
}
