// Package conn drives the two-layer connection of the bridge: the host
// network link and the broker session on top of it.
//
// The Manager never sleeps. Each call to Tick looks at the clock and the
// reported link and session state and takes at most one step per layer.
// Attempts on each layer are paced independently, so a broker that keeps
// refusing connections is retried every ReconnectInterval and no faster.
package conn

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/meshbridge/internal/certstore"
	"github.com/nerrad567/meshbridge/internal/clock"
	"github.com/nerrad567/meshbridge/internal/topic"
	"github.com/nerrad567/meshbridge/internal/transport"
)

// Default intervals and timeouts.
const (
	DefaultLinkReconnectInterval = 30 * time.Second
	DefaultReconnectInterval     = 30 * time.Second

	// DefaultInitialLinkTimeout bounds the first link attempt after start.
	DefaultInitialLinkTimeout = 30 * time.Second

	// DefaultLinkConnectTimeout bounds every later link attempt.
	DefaultLinkConnectTimeout = 3 * time.Second

	DefaultSessionConnectTimeout = 10 * time.Second

	// fatalResetThreshold is the number of consecutive fatal session
	// failures after which the session is reset.
	fatalResetThreshold = 2
)

// Link is the network layer below the session.
type Link interface {
	// Connected reports whether the link is usable.
	Connected() bool

	// Begin starts bringing the link up. It must not block.
	Begin(ctx context.Context) error

	// Disconnect abandons the link.
	Disconnect()
}

// Logger is the structured logger used by the manager.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// TLSSource builds the TLS config for a session attempt.
type TLSSource func(host string, insecure bool) (*tls.Config, certstore.Source)

// Config holds broker and pacing settings.
type Config struct {
	Host     string
	Port     int
	ClientID string
	Username string
	Password string

	TLS         bool
	TLSInsecure bool

	// QoS is used for the subscription.
	QoS byte

	LinkReconnectInterval time.Duration
	ReconnectInterval     time.Duration
	InitialLinkTimeout    time.Duration
	LinkConnectTimeout    time.Duration
	SessionConnectTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.LinkReconnectInterval <= 0 {
		c.LinkReconnectInterval = DefaultLinkReconnectInterval
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = DefaultReconnectInterval
	}
	if c.InitialLinkTimeout <= 0 {
		c.InitialLinkTimeout = DefaultInitialLinkTimeout
	}
	if c.LinkConnectTimeout <= 0 {
		c.LinkConnectTimeout = DefaultLinkConnectTimeout
	}
	if c.SessionConnectTimeout <= 0 {
		c.SessionConnectTimeout = DefaultSessionConnectTimeout
	}
}

// Options wires a Manager.
type Options struct {
	Config  Config
	Link    Link
	Session transport.Session
	Router  *topic.Router

	// Handler receives messages from the subscription.
	Handler transport.MessageHandler

	// Clock defaults to the real clock.
	Clock clock.Clock

	// CertStore is consulted by the default TLSSource. Optional.
	CertStore certstore.Store

	// TLSSource overrides certificate resolution. Optional.
	TLSSource TLSSource

	// Will is registered with every session attempt. Optional.
	Will *transport.Will

	// Logger is optional.
	Logger Logger

	// OnSessionUp is called after the session is established and
	// subscribed. Optional.
	OnSessionUp func()

	// OnSessionDown is called when an established session is lost.
	// Optional.
	OnSessionDown func(err error)
}

// Snapshot is a point-in-time view of the manager for status reporting.
type Snapshot struct {
	State           State
	Since           time.Time
	LinkAttempts    uint64
	SessionAttempts uint64
	SessionsUp      uint64
	FatalResets     uint64
	LastError       error
	TLSSource       string

	// TLSVerified is true when the last TLS attempt verified the broker's
	// certificate.
	TLSVerified bool
}

// Manager is the connection state machine.
//
// Thread Safety: Tick and Close must be called from a single goroutine.
// State and Snapshot are safe to call from any goroutine.
type Manager struct {
	cfg     Config
	link    Link
	session transport.Session
	router  *topic.Router
	handler transport.MessageHandler
	clock   clock.Clock
	tlsSrc  TLSSource
	will    *transport.Will
	logger  Logger

	onUp   func()
	onDown func(error)

	state        State
	since        time.Time
	linkDeadline time.Time

	linkAttempted      bool
	lastLinkAttempt    time.Time
	sessionAttempted   bool
	lastSessionAttempt time.Time
	consecutiveFatal   int

	linkAttempts    uint64
	sessionAttempts uint64
	sessionsUp      uint64
	fatalResets     uint64
	lastErr         error
	tlsSource       string
	tlsVerified     bool

	snapMu sync.RWMutex
	snap   Snapshot
}

// New creates a Manager in the Disconnected state.
func New(opts Options) (*Manager, error) {
	if opts.Link == nil {
		return nil, fmt.Errorf("conn: link is required")
	}
	if opts.Session == nil {
		return nil, fmt.Errorf("conn: session is required")
	}
	if opts.Router == nil {
		return nil, fmt.Errorf("conn: topic router is required")
	}
	if opts.Handler == nil {
		return nil, fmt.Errorf("conn: message handler is required")
	}

	cfg := opts.Config
	cfg.applyDefaults()

	m := &Manager{
		cfg:     cfg,
		link:    opts.Link,
		session: opts.Session,
		router:  opts.Router,
		handler: opts.Handler,
		clock:   opts.Clock,
		tlsSrc:  opts.TLSSource,
		will:    opts.Will,
		logger:  opts.Logger,
		onUp:    opts.OnSessionUp,
		onDown:  opts.OnSessionDown,
	}
	if m.clock == nil {
		m.clock = clock.Real{}
	}
	if m.logger == nil {
		m.logger = nopLogger{}
	}
	if m.tlsSrc == nil {
		store := opts.CertStore
		logger := m.logger
		m.tlsSrc = func(host string, insecure bool) (*tls.Config, certstore.Source) {
			return certstore.TLSConfig(host, insecure, store, logger)
		}
	}

	m.since = m.clock.Now()
	m.publish()
	return m, nil
}

// Tick advances the state machine.
func (m *Manager) Tick(ctx context.Context) {
	now := m.clock.Now()

	switch m.state {
	case Disconnected:
		if m.link.Connected() {
			m.setState(LinkUpSessionConnecting, now)
			m.maybeConnectSession(ctx, now)
			return
		}
		if m.linkAttempted && now.Sub(m.lastLinkAttempt) < m.cfg.LinkReconnectInterval {
			return
		}
		m.beginLink(ctx, now)

	case LinkConnecting:
		if m.link.Connected() {
			m.logger.Info("network link up", "attempt", m.linkAttempts)
			m.setState(LinkUpSessionConnecting, now)
			m.maybeConnectSession(ctx, now)
			return
		}
		if !now.Before(m.linkDeadline) {
			m.logger.Warn("network link attempt timed out",
				"attempt", m.linkAttempts,
				"retry_in", m.cfg.LinkReconnectInterval.String(),
			)
			m.link.Disconnect()
			m.setState(Disconnected, now)
		}

	case LinkUpSessionConnecting:
		if !m.link.Connected() {
			m.logger.Warn("network link lost before session was established")
			m.setState(Disconnected, now)
			return
		}
		m.maybeConnectSession(ctx, now)

	case SessionUp:
		switch {
		case !m.link.Connected():
			m.logger.Warn("network link lost, dropping session")
			m.session.Disconnect()
			m.sessionDown(ErrLinkLost, now)
		case !m.session.IsConnected():
			m.logger.Warn("broker session lost")
			m.sessionDown(ErrSessionLost, now)
		}
	}
}

func (m *Manager) beginLink(ctx context.Context, now time.Time) {
	timeout := m.cfg.LinkConnectTimeout
	if !m.linkAttempted {
		timeout = m.cfg.InitialLinkTimeout
	}
	m.linkAttempted = true
	m.lastLinkAttempt = now
	m.linkAttempts++
	m.linkDeadline = now.Add(timeout)

	m.logger.Info("connecting network link", "attempt", m.linkAttempts, "timeout", timeout.String())
	if err := m.link.Begin(ctx); err != nil {
		m.lastErr = err
		m.logger.Error("network link attempt failed", "error", err)
		m.setState(Disconnected, now)
		return
	}
	m.setState(LinkConnecting, now)
}

func (m *Manager) maybeConnectSession(ctx context.Context, now time.Time) {
	if m.sessionAttempted && now.Sub(m.lastSessionAttempt) < m.cfg.ReconnectInterval {
		return
	}
	m.sessionAttempted = true
	m.lastSessionAttempt = now
	m.sessionAttempts++

	if err := m.connectSession(ctx); err != nil {
		m.sessionFailed(err, now)
		return
	}

	m.consecutiveFatal = 0
	m.lastErr = nil
	m.sessionsUp++
	m.logger.Info("broker session established",
		"host", m.cfg.Host,
		"port", m.cfg.Port,
		"client_id", m.cfg.ClientID,
		"subscribe", m.router.SubscribeTopic(),
		"publish", m.router.PublishTopic(),
	)
	m.setState(SessionUp, now)
	if m.onUp != nil {
		m.onUp()
	}
}

// connectSession performs one session attempt. Configuration problems are
// reported before the transport is touched.
func (m *Manager) connectSession(ctx context.Context) error {
	if err := m.router.Validate(); err != nil {
		return err
	}
	if m.cfg.Username != "" && m.cfg.Password == "" {
		return ErrMissingCredentials
	}

	opts := transport.SessionOptions{
		Host:     m.cfg.Host,
		Port:     m.cfg.Port,
		ClientID: m.cfg.ClientID,
		Username: m.cfg.Username,
		Password: m.cfg.Password,
		Will:     m.will,
	}
	if m.cfg.TLS {
		cfg, src := m.tlsSrc(m.cfg.Host, m.cfg.TLSInsecure)
		opts.TLS = cfg
		m.tlsSource = src.String()
		m.tlsVerified = src.Verified()
	}

	m.logger.Debug("connecting broker session",
		"attempt", m.sessionAttempts,
		"address", opts.Address(),
		"tls", m.cfg.TLS,
	)

	cctx, cancel := context.WithTimeout(ctx, m.cfg.SessionConnectTimeout)
	defer cancel()
	if err := m.session.Connect(cctx, opts); err != nil {
		return err
	}

	if err := m.session.Subscribe(m.router.SubscribeTopic(), m.cfg.QoS, m.handler); err != nil {
		m.session.Disconnect()
		return err
	}
	return nil
}

func (m *Manager) sessionFailed(err error, now time.Time) {
	m.lastErr = err
	m.logger.Error("broker session attempt failed",
		"attempt", m.sessionAttempts,
		"error", err,
		"retry_in", m.cfg.ReconnectInterval.String(),
	)

	if transport.IsFatal(err) {
		m.consecutiveFatal++
		if m.consecutiveFatal >= fatalResetThreshold {
			m.logger.Warn("resetting broker session after repeated fatal failures",
				"failures", m.consecutiveFatal,
			)
			m.session.Reset()
			m.fatalResets++
			m.consecutiveFatal = 0
		}
	} else {
		m.consecutiveFatal = 0
	}

	m.setState(Disconnected, now)
}

func (m *Manager) sessionDown(err error, now time.Time) {
	m.lastErr = err
	m.setState(Disconnected, now)
	if m.onDown != nil {
		m.onDown(err)
	}
}

func (m *Manager) setState(s State, now time.Time) {
	if s != m.state {
		m.logger.Debug("connection state changed", "from", m.state.String(), "to", s.String())
		m.state = s
		m.since = now
	}
	m.publish()
}

func (m *Manager) publish() {
	m.snapMu.Lock()
	m.snap = Snapshot{
		State:           m.state,
		Since:           m.since,
		LinkAttempts:    m.linkAttempts,
		SessionAttempts: m.sessionAttempts,
		SessionsUp:      m.sessionsUp,
		FatalResets:     m.fatalResets,
		LastError:       m.lastErr,
		TLSSource:       m.tlsSource,
		TLSVerified:     m.tlsVerified,
	}
	m.snapMu.Unlock()
}

// State returns the current state.
func (m *Manager) State() State {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return m.snap.State
}

// Snapshot returns the current state and counters.
func (m *Manager) Snapshot() Snapshot {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return m.snap
}

// Close disconnects the session and then the link.
func (m *Manager) Close() {
	if m.session.IsConnected() {
		m.session.Disconnect()
	}
	m.link.Disconnect()
	m.setState(Disconnected, m.clock.Now())
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
