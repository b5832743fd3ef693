package mesh

import "errors"

// Packet errors.
var (
	// ErrPacketTooShort is returned when raw bytes end before the payload.
	ErrPacketTooShort = errors.New("mesh: packet too short")

	// ErrPathTooLong is returned when the path length exceeds MaxPathSize.
	ErrPathTooLong = errors.New("mesh: path too long")

	// ErrPayloadTooLong is returned when the payload exceeds MaxPayloadSize.
	ErrPayloadTooLong = errors.New("mesh: payload too long")

	// ErrBufferTooSmall is returned when WriteTo is given a short buffer.
	ErrBufferTooSmall = errors.New("mesh: buffer too small")
)
