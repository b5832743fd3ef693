package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/meshbridge/internal/infrastructure/config"
	"github.com/nerrad567/meshbridge/internal/transport"
)

// Connection constants.
const (
	// defaultConnectTimeout caps a connect attempt when the context has no
	// deadline.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// brokerURL returns the paho broker URL for opts.
func brokerURL(opts transport.SessionOptions) string {
	scheme := "tcp"
	if opts.TLS != nil {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s", scheme, opts.Address())
}

// buildClientOptions creates paho MQTT options for one session attempt.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// depending on opts.TLS)
//   - Client ID and credentials
//   - TLS configuration with SNI already set by the caller
//   - Last Will and Testament, when provided
//   - No automatic reconnection: retries are paced by the caller
func buildClientOptions(cfg config.MQTTConfig, opts transport.SessionOptions) *pahomqtt.ClientOptions {
	po := pahomqtt.NewClientOptions()

	po.AddBroker(brokerURL(opts))
	po.SetClientID(opts.ClientID)

	if opts.Username != "" {
		po.SetUsername(opts.Username)
		po.SetPassword(opts.Password)
	}

	po.SetCleanSession(cfg.CleanSession)

	// Reconnection belongs to the connection manager.
	po.SetAutoReconnect(false)
	po.SetConnectRetry(false)

	po.SetConnectTimeout(defaultConnectTimeout)

	keepAlive := defaultKeepAlive
	if cfg.KeepAlive > 0 {
		keepAlive = time.Duration(cfg.KeepAlive) * time.Second
	}
	po.SetKeepAlive(keepAlive)

	if opts.TLS != nil {
		tlsConfig := opts.TLS.Clone()
		if tlsConfig.MinVersion < tlsMinVersion {
			tlsConfig.MinVersion = tlsMinVersion
		}
		po.SetTLSConfig(tlsConfig)
	}

	if w := opts.Will; w != nil {
		po.SetBinaryWill(w.Topic, w.Payload, w.QoS, w.Retained)
	}

	return po
}

// publishTimeout returns the configured publish timeout.
func publishTimeout(cfg config.MQTTConfig) time.Duration {
	if cfg.PublishTimeout > 0 {
		return time.Duration(cfg.PublishTimeout) * time.Second
	}
	return defaultPublishTimeout
}
