package bridge

import (
	"encoding/json"
	"time"

	"github.com/nerrad567/meshbridge/internal/clock"
	"github.com/nerrad567/meshbridge/internal/transport"
)

// NodeStatus is the operational status published for a bridge node.
type NodeStatus string

const (
	// StatusOnline indicates the node is bridging.
	StatusOnline NodeStatus = "online"

	// StatusOffline indicates the node left, cleanly or via its will.
	StatusOffline NodeStatus = "offline"
)

// statusQoS is used for all status messages.
const statusQoS = 1

// StatusMessage is the retained status of a node.
// Topic: {base}/status/{client_id}
type StatusMessage struct {
	Node          string          `json:"node"`
	Timestamp     time.Time       `json:"timestamp"`
	Status        NodeStatus      `json:"status"`
	Reason        string          `json:"reason,omitempty"`
	Version       string          `json:"version,omitempty"`
	UptimeSeconds int64           `json:"uptime_seconds,omitempty"`
	Topics        *StatusTopics   `json:"topics,omitempty"`
	Statistics    *StatusCounters `json:"statistics,omitempty"`
}

// StatusTopics lists the data topics of the node.
type StatusTopics struct {
	Publish   string `json:"publish"`
	Subscribe string `json:"subscribe"`
}

// StatusCounters is the subset of Stats carried in status messages.
type StatusCounters struct {
	PacketsPublished uint64 `json:"packets_published"`
	PacketsQueued    uint64 `json:"packets_queued"`
	Duplicates       uint64 `json:"duplicates"`
	DecodeErrors     uint64 `json:"decode_errors"`
}

// statusReporter publishes the node's retained status. It runs on the
// bridge goroutine.
type statusReporter struct {
	node      string
	version   string
	topic     string
	topics    StatusTopics
	interval  time.Duration
	clock     clock.Clock
	startTime time.Time
	publisher transport.Session

	lastPublish time.Time
}

func (r *statusReporter) message(status NodeStatus, reason string) StatusMessage {
	now := r.clock.Now()
	return StatusMessage{
		Node:          r.node,
		Timestamp:     now.UTC(),
		Status:        status,
		Reason:        reason,
		Version:       r.version,
		UptimeSeconds: int64(now.Sub(r.startTime).Seconds()),
	}
}

// will returns the message the broker publishes if the session dies.
func (r *statusReporter) will() *transport.Will {
	msg := StatusMessage{
		Node:   r.node,
		Status: StatusOffline,
		Reason: "unexpected_disconnect",
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil
	}
	return &transport.Will{Topic: r.topic, Payload: payload, QoS: statusQoS, Retained: true}
}

func (r *statusReporter) publishOnline(stats Stats) error {
	msg := r.message(StatusOnline, "")
	topics := r.topics
	msg.Topics = &topics
	msg.Statistics = &StatusCounters{
		PacketsPublished: stats.PacketsPublished,
		PacketsQueued:    stats.PacketsQueued,
		Duplicates:       stats.DroppedDuplicateIn + stats.DroppedDuplicateOut,
		DecodeErrors:     stats.DecodeErrors(),
	}
	return r.publish(msg)
}

func (r *statusReporter) publishOffline(reason string) error {
	msg := r.message(StatusOffline, reason)
	msg.UptimeSeconds = 0
	return r.publish(msg)
}

// due reports whether a periodic refresh should be published.
func (r *statusReporter) due() bool {
	if r.interval <= 0 {
		return false
	}
	return r.clock.Now().Sub(r.lastPublish) >= r.interval
}

func (r *statusReporter) publish(msg StatusMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	r.lastPublish = r.clock.Now()
	return r.publisher.Publish(r.topic, payload, statusQoS, true)
}
