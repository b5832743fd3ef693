package topic

import "errors"

// Topic configuration errors. These are detected at connect time and abort
// the session attempt until the configuration is fixed.
var (
	// ErrEmptyBase is returned when no base topic is configured.
	ErrEmptyBase = errors.New("topic: base topic cannot be empty")

	// ErrInvalidClientID is returned when partitioned mode is selected with a
	// client id that is empty or contains a topic separator or wildcard.
	ErrInvalidClientID = errors.New("topic: client id must be non-empty and contain no '/', '+' or '#'")

	// ErrWildcardTopic is returned when the base topic contains an MQTT
	// wildcard. The base is part of the publish topic, and publishing to a
	// wildcard is invalid.
	ErrWildcardTopic = errors.New("topic: wildcard not allowed in base topic")
)
