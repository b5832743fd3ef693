package mqtt

import "errors"

// Domain-specific errors for MQTT operations.
// Connection failures are additionally classified with the transport
// package's error classes; use errors.Is() to check for either.
var (
	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned when an empty topic is provided.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")

	// ErrNilHandler is returned when subscribing without a handler.
	ErrNilHandler = errors.New("mqtt: handler cannot be nil")

	// ErrPayloadTooLarge is returned when a payload exceeds maxPayloadSize.
	ErrPayloadTooLarge = errors.New("mqtt: payload too large")
)
