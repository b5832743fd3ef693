// Package frame implements the bridge wire framing.
//
// Every mesh packet crossing the pub/sub transport is wrapped in a small
// frame so receivers can cheaply reject traffic that is not ours, corrupted
// in transit, or replayed long after it was sent.
//
// # Wire Format
//
// All multi-byte fields are big-endian:
//
//	offset 0: magic      (2 bytes, 0xC03E)
//	offset 2: checksum   (2 bytes, Fletcher-16 over timestamp ‖ payload)
//	offset 4: timestamp  (4 bytes, Unix seconds, Version2 only)
//	offset N: payload    (1..MaxPayload bytes)
//
// Version1 frames carry no timestamp and are byte-compatible with firmware
// bridges that predate freshness checking. Both ends of a deployment must be
// configured with the same version.
//
// # Usage
//
//	codec := frame.NewCodec(frame.Version2, clock.Real{})
//	wire, err := codec.Encode(raw)
//	...
//	payload, err := codec.Decode(wire)
//	if errors.Is(err, frame.ErrStale) {
//	    // replayed or badly delayed
//	}
package frame
