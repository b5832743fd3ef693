package mesh

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// Size limits of the MeshCore wire format.
const (
	MaxPathSize    = 64
	MaxPayloadSize = 184

	// MaxPacketSize is the largest serialised packet.
	MaxPacketSize = 1 + transportCodesSize + 1 + MaxPathSize + MaxPayloadSize

	// FingerprintSize is the number of hash bytes kept per packet.
	FingerprintSize = 8

	transportCodesSize = 4
)

// RouteType is the low two bits of the header.
type RouteType byte

const (
	RouteTransportFlood  RouteType = 0x00
	RouteFlood           RouteType = 0x01
	RouteDirect          RouteType = 0x02
	RouteTransportDirect RouteType = 0x03
)

// PayloadType is bits 2-5 of the header.
type PayloadType byte

const (
	PayloadRequest    PayloadType = 0x00
	PayloadResponse   PayloadType = 0x01
	PayloadTextMsg    PayloadType = 0x02
	PayloadAck        PayloadType = 0x03
	PayloadAdvert     PayloadType = 0x04
	PayloadGroupText  PayloadType = 0x05
	PayloadGroupData  PayloadType = 0x06
	PayloadAnonReq    PayloadType = 0x07
	PayloadPath       PayloadType = 0x08
	PayloadTrace      PayloadType = 0x09
	PayloadMultipart  PayloadType = 0x0A
	PayloadRawCustom  PayloadType = 0x0F
)

const (
	payloadTypeMask  = 0x0F
	payloadTypeShift = 2
	routeTypeMask    = 0x03
)

// Fingerprint identifies a logical packet independently of the path it took.
type Fingerprint [FingerprintSize]byte

// String returns the fingerprint as hex.
func (f Fingerprint) String() string {
	return fmt.Sprintf("%X", f[:])
}

// Packet is a parsed mesh packet.
type Packet struct {
	Header         byte
	TransportCodes [2]uint16
	Path           []byte
	Payload        []byte
}

// RouteType returns the packet's route type.
func (p *Packet) RouteType() RouteType {
	return RouteType(p.Header & routeTypeMask)
}

// PayloadType returns the packet's payload type.
func (p *Packet) PayloadType() PayloadType {
	return PayloadType((p.Header >> payloadTypeShift) & payloadTypeMask)
}

// HasTransportCodes reports whether the route type carries transport codes.
func (p *Packet) HasTransportCodes() bool {
	rt := p.RouteType()
	return rt == RouteTransportFlood || rt == RouteTransportDirect
}

// IsRouteDirect reports whether the packet follows an explicit path.
func (p *Packet) IsRouteDirect() bool {
	rt := p.RouteType()
	return rt == RouteDirect || rt == RouteTransportDirect
}

// PathLen returns the number of hops recorded in the path.
func (p *Packet) PathLen() int {
	return len(p.Path)
}

// PathContains reports whether hash appears in the recorded path.
func (p *Packet) PathContains(hash byte) bool {
	return bytes.IndexByte(p.Path, hash) >= 0
}

// Fingerprint derives the packet's loop-detection identity from its payload
// type and payload. TRACE packets also mix in the path length, since each hop
// legitimately re-sends the same payload with a longer path.
func (p *Packet) Fingerprint() Fingerprint {
	h := sha256.New()
	h.Write([]byte{byte(p.PayloadType())})
	if p.PayloadType() == PayloadTrace {
		h.Write([]byte{byte(len(p.Path))})
	}
	h.Write(p.Payload)

	var fp Fingerprint
	copy(fp[:], h.Sum(nil))
	return fp
}

// Size returns the serialised length of the packet.
func (p *Packet) Size() int {
	n := 1 + 1 + len(p.Path) + len(p.Payload)
	if p.HasTransportCodes() {
		n += transportCodesSize
	}
	return n
}

// WriteTo serialises the packet into buf and returns the number of bytes
// written.
func (p *Packet) WriteTo(buf []byte) (int, error) {
	if len(p.Path) > MaxPathSize {
		return 0, fmt.Errorf("%w: %d hops", ErrPathTooLong, len(p.Path))
	}
	if len(p.Payload) > MaxPayloadSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrPayloadTooLong, len(p.Payload))
	}
	size := p.Size()
	if len(buf) < size {
		return 0, fmt.Errorf("%w: need %d, have %d", ErrBufferTooSmall, size, len(buf))
	}

	i := 0
	buf[i] = p.Header
	i++
	if p.HasTransportCodes() {
		binary.LittleEndian.PutUint16(buf[i:], p.TransportCodes[0])
		binary.LittleEndian.PutUint16(buf[i+2:], p.TransportCodes[1])
		i += transportCodesSize
	}
	buf[i] = byte(len(p.Path))
	i++
	i += copy(buf[i:], p.Path)
	i += copy(buf[i:], p.Payload)

	return i, nil
}

// ReadFrom parses raw into p, replacing its contents. Path and payload are
// copied, so raw may be reused afterwards.
func (p *Packet) ReadFrom(raw []byte) error {
	if len(raw) < 2 {
		return fmt.Errorf("%w: %d bytes", ErrPacketTooShort, len(raw))
	}

	i := 0
	p.Header = raw[i]
	i++

	p.TransportCodes = [2]uint16{}
	if p.HasTransportCodes() {
		if len(raw) < i+transportCodesSize+1 {
			return fmt.Errorf("%w: missing transport codes", ErrPacketTooShort)
		}
		p.TransportCodes[0] = binary.LittleEndian.Uint16(raw[i:])
		p.TransportCodes[1] = binary.LittleEndian.Uint16(raw[i+2:])
		i += transportCodesSize
	}

	pathLen := int(raw[i])
	i++
	if pathLen > MaxPathSize {
		return fmt.Errorf("%w: %d hops", ErrPathTooLong, pathLen)
	}
	if len(raw) < i+pathLen {
		return fmt.Errorf("%w: path truncated", ErrPacketTooShort)
	}
	p.Path = append(p.Path[:0], raw[i:i+pathLen]...)
	i += pathLen

	payload := raw[i:]
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLong, len(payload))
	}
	p.Payload = append(p.Payload[:0], payload...)

	return nil
}

// Reset clears the packet for reuse.
func (p *Packet) Reset() {
	p.Header = 0
	p.TransportCodes = [2]uint16{}
	p.Path = p.Path[:0]
	p.Payload = p.Payload[:0]
}
