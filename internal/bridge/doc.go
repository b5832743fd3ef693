// Package bridge carries mesh packets between the local radio and a shared
// publish/subscribe broker.
//
// # Outbound
//
// Packets heard on the radio are offered to SendPacket. Zero-hop direct
// packets stay local. In relay-aware mode a direct packet is forwarded only
// if this node's hash is in its path. Packets seen before are suppressed.
// The rest are framed and published to this node's publish topic.
//
// # Inbound
//
// Messages from the broker are queued with Deliver and handled on the bridge
// goroutine. Echoes of our own frames, undecodable frames and duplicates are
// dropped. Everything else is parsed into a packet from the mesh packet pool
// and queued for transmission on the radio.
//
// # Concurrency
//
// Run owns all bridge state. Transport callbacks and the radio reader only
// hand work to it through Deliver and Enqueue, so the duplicate filter and
// the outbound frame buffer are never shared.
//
// # Status
//
// When the broker session comes up a retained "online" status is published
// to the node's status topic. Close replaces it with "offline", and the
// session's will publishes the same if the process dies.
package bridge
