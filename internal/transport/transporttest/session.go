// Package transporttest provides an in-memory transport.Session for tests.
package transporttest

import (
	"context"
	"sync"

	"github.com/nerrad567/meshbridge/internal/transport"
)

// Message is a message recorded by Publish.
type Message struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// Session is a scripted transport.Session. The zero value is not usable;
// call New.
type Session struct {
	mu sync.Mutex

	connectErrs  []error
	subscribeErr error
	publishErr   error

	connected bool
	handlers  map[string]transport.MessageHandler
	published []Message
	options   []transport.SessionOptions

	resets      int
	disconnects int
}

// New returns a Session that accepts every connection.
func New() *Session {
	return &Session{handlers: make(map[string]transport.MessageHandler)}
}

// FailConnect queues errors returned by the next Connect calls, in order.
// A nil entry lets that attempt succeed.
func (s *Session) FailConnect(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectErrs = append(s.connectErrs, errs...)
}

// FailSubscribe makes Subscribe return err.
func (s *Session) FailSubscribe(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribeErr = err
}

// FailPublish makes Publish return err.
func (s *Session) FailPublish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishErr = err
}

// Drop simulates the broker closing the session.
func (s *Session) Drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
}

// Connect implements transport.Session.
func (s *Session) Connect(ctx context.Context, opts transport.SessionOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.options = append(s.options, opts)
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(s.connectErrs) > 0 {
		err := s.connectErrs[0]
		s.connectErrs = s.connectErrs[1:]
		if err != nil {
			return err
		}
	}
	s.connected = true
	return nil
}

// Subscribe implements transport.Session.
func (s *Session) Subscribe(topic string, _ byte, handler transport.MessageHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return transport.ErrNotConnected
	}
	if s.subscribeErr != nil {
		return s.subscribeErr
	}
	s.handlers[topic] = handler
	return nil
}

// Publish implements transport.Session.
func (s *Session) Publish(topic string, payload []byte, qos byte, retained bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return transport.ErrNotConnected
	}
	if s.publishErr != nil {
		return s.publishErr
	}
	s.published = append(s.published, Message{
		Topic:    topic,
		Payload:  append([]byte(nil), payload...),
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

// IsConnected implements transport.Session.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Disconnect implements transport.Session.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.disconnects++
}

// Reset implements transport.Session.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.handlers = make(map[string]transport.MessageHandler)
	s.resets++
}

// Deliver invokes the handler subscribed with filter as the broker would.
// It reports whether a handler was registered.
func (s *Session) Deliver(filter, topic string, payload []byte) bool {
	s.mu.Lock()
	h, ok := s.handlers[filter]
	s.mu.Unlock()
	if !ok {
		return false
	}
	h(topic, payload)
	return true
}

// Published returns a copy of the messages published so far.
func (s *Session) Published() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.published...)
}

// Options returns the options passed to every Connect call.
func (s *Session) Options() []transport.SessionOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transport.SessionOptions(nil), s.options...)
}

// Connects returns the number of Connect calls.
func (s *Session) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.options)
}

// Resets returns the number of Reset calls.
func (s *Session) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

// Disconnects returns the number of Disconnect calls.
func (s *Session) Disconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnects
}

// Subscribed reports whether a handler is registered for filter.
func (s *Session) Subscribed(filter string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handlers[filter]
	return ok
}

var _ transport.Session = (*Session)(nil)
