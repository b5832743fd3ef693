// Package mesh is the bridge's view of the radio mesh.
//
// It decodes just enough of a MeshCore packet for forwarding policy (route
// type, payload type, path) and for loop detection (the fingerprint), and it
// provides the bounded packet manager that received packets are allocated
// from and queued to on their way back onto the radio.
//
// # Packet Layout
//
//	byte 0:     header (route type bits 0-1, payload type bits 2-5, version bits 6-7)
//	bytes 1-4:  transport codes (transport routes only, 2 × uint16 LE)
//	next byte:  path length
//	next N:     path (one hash byte per hop)
//	remainder:  payload
package mesh
