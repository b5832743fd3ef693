package frame

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/nerrad567/meshbridge/internal/clock"
)

// Magic identifies bridge frames on the transport.
const Magic uint16 = 0xC03E

// Frame layout constants.
const (
	magicSize     = 2
	checksumSize  = 2
	timestampSize = 4

	// MaxFrameSize is the largest frame the bridge will put on the transport.
	MaxFrameSize = 264

	// FreshnessWindow is the maximum accepted age of a Version2 frame.
	FreshnessWindow = 300 * time.Second
)

// Version selects the frame layout.
type Version int

const (
	// Version1 frames have no timestamp.
	Version1 Version = 1

	// Version2 frames carry a 4-byte Unix timestamp after the checksum.
	Version2 Version = 2
)

// HeaderSize returns the number of bytes preceding the payload.
func (v Version) HeaderSize() int {
	if v == Version2 {
		return magicSize + checksumSize + timestampSize
	}
	return magicSize + checksumSize
}

// MaxPayload returns the largest payload that fits in a frame.
func (v Version) MaxPayload() int {
	return MaxFrameSize - v.HeaderSize()
}

// Valid reports whether v is a known version.
func (v Version) Valid() bool {
	return v == Version1 || v == Version2
}

// Codec encodes and decodes frames of a single version.
// A Codec holds no mutable state and is safe for concurrent use.
type Codec struct {
	version Version
	clock   clock.Clock
}

// NewCodec creates a codec. An invalid version falls back to Version1 and a
// nil clock to the system clock.
func NewCodec(version Version, clk clock.Clock) *Codec {
	if !version.Valid() {
		version = Version1
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Codec{version: version, clock: clk}
}

// Version returns the codec's frame version.
func (c *Codec) Version() Version {
	return c.version
}

// Encode wraps payload in a newly allocated frame.
func (c *Codec) Encode(payload []byte) ([]byte, error) {
	buf := make([]byte, c.version.HeaderSize()+len(payload))
	n, err := c.EncodeInto(buf, payload)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// EncodeInto writes the frame for payload into dst and returns its length.
// dst is left untouched on error.
func (c *Codec) EncodeInto(dst, payload []byte) (int, error) {
	if len(payload) == 0 {
		return 0, ErrEmptyPayload
	}
	if len(payload) > c.version.MaxPayload() {
		return 0, fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, len(payload), c.version.MaxPayload())
	}
	header := c.version.HeaderSize()
	total := header + len(payload)
	if len(dst) < total {
		return 0, fmt.Errorf("%w: need %d, have %d", ErrBufferTooSmall, total, len(dst))
	}

	binary.BigEndian.PutUint16(dst[0:2], Magic)
	if c.version == Version2 {
		binary.BigEndian.PutUint32(dst[4:8], c.unixNow())
	}
	copy(dst[header:total], payload)

	// Checksum covers everything after the checksum field.
	binary.BigEndian.PutUint16(dst[2:4], Fletcher16(dst[magicSize+checksumSize:total]))

	return total, nil
}

// Decode validates a received frame and returns a copy of its payload.
// Failures are reported as *DecodeError.
func (c *Codec) Decode(data []byte) ([]byte, error) {
	header := c.version.HeaderSize()
	if len(data) < header {
		return nil, &DecodeError{Kind: TooShort, Detail: fmt.Sprintf("%d bytes, header is %d", len(data), header)}
	}

	if magic := binary.BigEndian.Uint16(data[0:2]); magic != Magic {
		return nil, &DecodeError{Kind: InvalidMagic, Detail: fmt.Sprintf("0x%04X", magic)}
	}

	received := binary.BigEndian.Uint16(data[2:4])
	if computed := Fletcher16(data[magicSize+checksumSize:]); computed != received {
		return nil, &DecodeError{
			Kind:   ChecksumMismatch,
			Detail: fmt.Sprintf("received 0x%04X, computed 0x%04X", received, computed),
		}
	}

	if c.version == Version2 {
		sent := binary.BigEndian.Uint32(data[4:8])
		if age := c.ageSeconds(sent); age > uint32(FreshnessWindow/time.Second) {
			return nil, &DecodeError{Kind: Stale, Detail: fmt.Sprintf("age %ds", age)}
		}
	}

	if len(data) == header {
		return nil, &DecodeError{Kind: TooShort, Detail: "empty payload"}
	}

	payload := make([]byte, len(data)-header)
	copy(payload, data[header:])
	return payload, nil
}

// ageSeconds returns now - sent, saturating at zero when the sender's clock
// is ahead of ours.
func (c *Codec) ageSeconds(sent uint32) uint32 {
	now := c.unixNow()
	if now < sent {
		return 0
	}
	return now - sent
}

func (c *Codec) unixNow() uint32 {
	return uint32(c.clock.Now().Unix()) //nolint:gosec // wire format is 32-bit Unix seconds
}
