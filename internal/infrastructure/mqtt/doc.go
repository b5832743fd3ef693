// Package mqtt provides the MQTT session the bridge runs over.
//
// This package manages:
//   - One broker session per connect attempt, with no automatic reconnect
//   - Synchronous publishing, so callers can reuse their buffers
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Classification of connect failures into transport error classes
//
// # Architecture
//
// The connection manager owns the retry cadence and the decision to reset
// a client after repeated fatal failures. Session therefore builds a fresh
// paho client on each Connect and never reconnects in the background.
//
//	BridgeCore → conn.Manager → mqtt.Session → Broker
//
// # Security Considerations
//
//   - TLS is enabled by passing a tls.Config in transport.SessionOptions
//   - The minimum TLS version is raised to 1.2 when lower
//   - Credentials are only sent when a username is configured
//
// # Usage
//
//	s := mqtt.New(cfg.MQTT)
//	err := s.Connect(ctx, transport.SessionOptions{
//	    Host:     "broker.local",
//	    Port:     1883,
//	    ClientID: "meshcore-0A0B0C",
//	})
//	if err != nil {
//	    return err
//	}
//	defer s.Disconnect()
//
//	err = s.Subscribe("meshcore/bridge/+", 1, func(topic string, payload []byte) {
//	    log.Printf("Received: %s = %x", topic, payload)
//	})
package mqtt
