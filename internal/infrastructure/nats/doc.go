// Package nats provides a NATS session for the bridge.
//
// NATS has no retained messages and no last will, so status messages are
// best-effort: the online status is published on connect and the offline
// status only on a graceful shutdown. Topics are mapped onto subjects by
// replacing "/" with "." and the MQTT wildcards "+" and "#" with "*" and
// ">".
package nats
