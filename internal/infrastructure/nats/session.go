package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"syscall"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"github.com/nerrad567/meshbridge/internal/infrastructure/config"
	"github.com/nerrad567/meshbridge/internal/transport"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultFlushTimeout   = 5 * time.Second
	defaultPingInterval   = 60 * time.Second
)

// ErrInvalidTopic is returned for topics that cannot be expressed as a
// subject.
var ErrInvalidTopic = errors.New("nats: topic cannot be mapped to a subject")

// Logger is the optional logging dependency.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Session is a transport.Session backed by nats.go. Reconnection is
// disabled; the connection manager decides when to try again.
type Session struct {
	cfg config.NATSConfig

	mu   sync.RWMutex
	conn *natsgo.Conn
	subs []*natsgo.Subscription

	logger Logger
}

var _ transport.Session = (*Session)(nil)

// New creates an unconnected session.
func New(cfg config.NATSConfig) *Session {
	return &Session{cfg: cfg}
}

// SetLogger sets the logger. Must be called before Connect.
func (s *Session) SetLogger(logger Logger) {
	s.logger = logger
}

func (s *Session) buildOptions(opts transport.SessionOptions, timeout time.Duration) []natsgo.Option {
	name := s.cfg.Name
	if name == "" {
		name = opts.ClientID
	}

	pingInterval := defaultPingInterval
	if s.cfg.PingInterval > 0 {
		pingInterval = time.Duration(s.cfg.PingInterval) * time.Second
	}

	o := []natsgo.Option{
		natsgo.NoReconnect(),
		natsgo.Timeout(timeout),
		natsgo.PingInterval(pingInterval),
		natsgo.Name(name),
		natsgo.DisconnectErrHandler(s.handleDisconnect),
		natsgo.ErrorHandler(s.handleError),
	}

	if opts.Username != "" {
		o = append(o, natsgo.UserInfo(opts.Username, opts.Password))
	}
	if opts.TLS != nil {
		o = append(o, natsgo.Secure(opts.TLS.Clone()))
	}

	return o
}

func serverURL(opts transport.SessionOptions) string {
	scheme := "nats"
	if opts.TLS != nil {
		scheme = "tls"
	}
	return fmt.Sprintf("%s://%s", scheme, opts.Address())
}

// Connect dials the server. opts.Will is ignored: NATS has no last will.
func (s *Session) Connect(ctx context.Context, opts transport.SessionOptions) error {
	timeout := defaultConnectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}

	s.Reset()

	type result struct {
		conn *natsgo.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := natsgo.Connect(serverURL(opts), s.buildOptions(opts, timeout)...)
		done <- result{conn, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return classifyConnectError(r.err)
		}
		s.mu.Lock()
		s.conn = r.conn
		s.mu.Unlock()
		return nil
	case <-ctx.Done():
		// Close whatever the dial eventually produces.
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return fmt.Errorf("%w: %w", transport.ErrTimeout, ctx.Err())
	}
}

// classifyConnectError maps nats.go errors onto transport classes.
func classifyConnectError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, natsgo.ErrAuthorization),
		errors.Is(err, natsgo.ErrAuthExpired),
		strings.Contains(msg, "authorization violation"):
		return fmt.Errorf("%w: %w", transport.ErrAuthRejected, err)
	case errors.Is(err, natsgo.ErrNoServers),
		errors.Is(err, syscall.ECONNREFUSED),
		strings.Contains(msg, "connection refused"):
		return fmt.Errorf("%w: %w", transport.ErrConnectionRefused, err)
	default:
		return fmt.Errorf("%w: %w", transport.ErrConnectFailed, err)
	}
}

func (s *Session) handleDisconnect(_ *natsgo.Conn, err error) {
	if s.logger != nil && err != nil {
		s.logger.Warn("NATS connection lost", "error", err)
	}
}

func (s *Session) handleError(_ *natsgo.Conn, sub *natsgo.Subscription, err error) {
	if s.logger == nil {
		return
	}
	subject := ""
	if sub != nil {
		subject = sub.Subject
	}
	s.logger.Error("NATS async error", "subject", subject, "error", err)
}

// Subscribe maps topic onto a subject and delivers messages with their
// subject converted back to a topic.
func (s *Session) Subscribe(topic string, _ byte, handler transport.MessageHandler) error {
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", transport.ErrSubscribeFailed)
	}
	subject, err := SubjectFromTopic(topic)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil || !s.conn.IsConnected() {
		return transport.ErrNotConnected
	}

	sub, err := s.conn.Subscribe(subject, func(msg *natsgo.Msg) {
		defer func() {
			if r := recover(); r != nil && s.logger != nil {
				s.logger.Error("NATS handler panic recovered", "subject", msg.Subject, "panic", r)
			}
		}()
		handler(TopicFromSubject(msg.Subject), msg.Data)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", transport.ErrSubscribeFailed, err)
	}
	s.subs = append(s.subs, sub)
	return nil
}

// Publish sends payload. QoS above zero flushes before returning so the
// server has seen the message. Retained is not supported and ignored.
func (s *Session) Publish(topic string, payload []byte, qos byte, _ bool) error {
	subject, err := SubjectFromTopic(topic)
	if err != nil {
		return err
	}
	if strings.ContainsAny(subject, "*>") {
		return fmt.Errorf("%w: wildcard in publish subject %q", ErrInvalidTopic, subject)
	}

	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil || !conn.IsConnected() {
		return transport.ErrNotConnected
	}

	// nats.go copies payload into its write buffer before returning.
	if err := conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("%w: %w", transport.ErrPublishFailed, err)
	}
	if qos > 0 {
		if err := conn.FlushTimeout(s.flushTimeout()); err != nil {
			if errors.Is(err, natsgo.ErrTimeout) {
				return fmt.Errorf("%w: %w", transport.ErrTimeout, err)
			}
			return fmt.Errorf("%w: %w", transport.ErrPublishFailed, err)
		}
	}
	return nil
}

func (s *Session) flushTimeout() time.Duration {
	if s.cfg.FlushTimeout > 0 {
		return time.Duration(s.cfg.FlushTimeout) * time.Second
	}
	return defaultFlushTimeout
}

// IsConnected reports whether the connection is established.
func (s *Session) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn != nil && s.conn.IsConnected()
}

// Disconnect drains subscriptions and closes the connection.
func (s *Session) Disconnect() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.subs = nil
	s.mu.Unlock()

	if conn == nil {
		return
	}
	if err := conn.Drain(); err != nil {
		conn.Close()
	}
}

// Reset closes the connection without draining.
func (s *Session) Reset() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.subs = nil
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// SubjectFromTopic converts an MQTT-style topic into a NATS subject.
func SubjectFromTopic(topic string) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("%w: empty topic", ErrInvalidTopic)
	}
	if strings.ContainsAny(topic, ". \t\r\n*>") {
		return "", fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}

	levels := strings.Split(topic, "/")
	for i, level := range levels {
		switch {
		case level == "":
			return "", fmt.Errorf("%w: empty level in %q", ErrInvalidTopic, topic)
		case level == "+":
			levels[i] = "*"
		case level == "#":
			if i != len(levels)-1 {
				return "", fmt.Errorf("%w: # must be last in %q", ErrInvalidTopic, topic)
			}
			levels[i] = ">"
		case strings.ContainsAny(level, "+#"):
			return "", fmt.Errorf("%w: partial wildcard in %q", ErrInvalidTopic, topic)
		}
	}
	return strings.Join(levels, "."), nil
}

// TopicFromSubject converts a concrete subject back into a topic.
func TopicFromSubject(subject string) string {
	return strings.ReplaceAll(subject, ".", "/")
}
