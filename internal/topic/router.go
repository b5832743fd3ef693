// Package topic derives the publish, subscribe and status topics a bridge
// node uses on the shared broker.
//
// Two layouts are supported:
//
//	partitioned:  publish mesh/bridge/ab12cd   subscribe mesh/bridge/+
//	single-topic: publish mesh/bridge          subscribe mesh/bridge
//
// Partitioned mode lets many nodes share one base topic. Each node hears
// every other node and filters its own echo by exact topic match.
package topic

import (
	"fmt"
	"strings"
)

const (
	// singleLevelWildcard matches exactly one topic level.
	singleLevelWildcard = "+"

	// multiLevelWildcard matches any number of trailing levels.
	multiLevelWildcard = "#"

	statusSegment = "status"
)

// Options configures a Router.
type Options struct {
	// Base is the topic prefix shared by all bridge nodes.
	Base string

	// ClientID identifies this node. Required in partitioned mode.
	ClientID string

	// Partitioned selects per-node publish topics.
	Partitioned bool
}

// Router holds the topics computed for one bridge node. It is immutable after
// construction.
type Router struct {
	base        string
	clientID    string
	partitioned bool
	publish     string
	subscribe   string
}

// New computes the topic layout for opts.
//
// Wildcards in the base topic are not rejected here. They are reported by
// Validate, which the connection manager calls before every session attempt
// so the diagnostic is logged on each retry.
func New(opts Options) (*Router, error) {
	base := strings.TrimRight(opts.Base, "/")
	if base == "" {
		return nil, ErrEmptyBase
	}

	r := &Router{
		base:        base,
		clientID:    opts.ClientID,
		partitioned: opts.Partitioned,
	}

	if opts.Partitioned {
		if opts.ClientID == "" || strings.ContainsAny(opts.ClientID, "/+#") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidClientID, opts.ClientID)
		}
		r.publish = base + "/" + opts.ClientID
		r.subscribe = base + "/" + singleLevelWildcard
	} else {
		r.publish = base
		r.subscribe = base
	}

	return r, nil
}

// PublishTopic returns the topic this node publishes frames to.
func (r *Router) PublishTopic() string { return r.publish }

// SubscribeTopic returns the filter this node subscribes with.
func (r *Router) SubscribeTopic() string { return r.subscribe }

// Validate reports configuration that cannot be used for a session.
//
// A wildcard in the base topic is rejected in both modes: in single-topic
// mode the base is the publish topic itself, and in partitioned mode it
// prefixes it.
func (r *Router) Validate() error {
	if strings.Contains(r.base, multiLevelWildcard) || strings.Contains(r.base, singleLevelWildcard) {
		return fmt.Errorf("%w: %q", ErrWildcardTopic, r.base)
	}
	return nil
}

// IsEcho reports whether a message received on topic was published by this
// node.
//
// Only partitioned mode can tell echoes apart by topic. In single-topic mode
// every node publishes to the subscribed topic, so IsEcho returns false and
// the node's own frames are dropped by the duplicate filter instead, which
// recorded them on the way out.
func (r *Router) IsEcho(topic string) bool {
	return r.partitioned && topic == r.publish
}

// StatusTopic returns the retained status topic for this node.
//
// Example: mesh/bridge/status/ab12cd
//
// In partitioned mode the extra level keeps status messages out of the
// base/+ subscription. In single-topic mode without a client id the status
// topic is base/status.
func (r *Router) StatusTopic() string {
	if r.clientID == "" {
		return r.base + "/" + statusSegment
	}
	return r.base + "/" + statusSegment + "/" + r.clientID
}
