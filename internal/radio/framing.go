package radio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Serial framing bytes. A message is START followed by the escaped body:
// type, little-endian u16 length, payload, little-endian CRC-16.
const (
	frameStart   = 0xAA
	escape       = 0x7D
	escapedStart = 0x8A
	escapedEsc   = 0x5D
)

// Message types exchanged with the radio.
const (
	// MessageRawPacket carries one serialised mesh packet.
	MessageRawPacket byte = 0x01
)

// maxMessagePayload bounds a message so a corrupt length cannot make the
// reader allocate without limit.
const maxMessagePayload = 1024

var (
	// ErrCRCMismatch is returned when a message fails its checksum.
	ErrCRCMismatch = errors.New("radio: CRC mismatch")

	// ErrBadEscape is returned for an escape byte followed by anything
	// other than a valid escape code.
	ErrBadEscape = errors.New("radio: invalid escape sequence")

	// ErrMessageTooLarge is returned when a declared length exceeds
	// maxMessagePayload.
	ErrMessageTooLarge = errors.New("radio: message too large")

	// ErrUnexpectedStart is returned when a START byte appears inside a
	// message body. The reader resynchronises on it.
	ErrUnexpectedStart = errors.New("radio: unexpected start byte")
)

// Message is one framed serial message.
type Message struct {
	Type    byte
	Payload []byte
}

func crc16(crc uint16, data []byte) uint16 {
	for _, b := range data {
		a := (crc >> 8) ^ uint16(b)
		crc = (a << 2) ^ (a << 1) ^ a ^ (crc << 8)
	}
	return crc
}

func appendEscaped(dst []byte, data ...byte) []byte {
	for _, b := range data {
		switch b {
		case frameStart:
			dst = append(dst, escape, escapedStart)
		case escape:
			dst = append(dst, escape, escapedEsc)
		default:
			dst = append(dst, b)
		}
	}
	return dst
}

// AppendMessage appends the framed form of m to dst.
func AppendMessage(dst []byte, m Message) ([]byte, error) {
	if len(m.Payload) > maxMessagePayload {
		return dst, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(m.Payload))
	}

	var head [3]byte
	head[0] = m.Type
	binary.LittleEndian.PutUint16(head[1:], uint16(len(m.Payload)))

	crc := crc16(0, head[:])
	crc = crc16(crc, m.Payload)
	var tail [2]byte
	binary.LittleEndian.PutUint16(tail[:], crc)

	dst = append(dst, frameStart)
	dst = appendEscaped(dst, head[:]...)
	dst = appendEscaped(dst, m.Payload...)
	dst = appendEscaped(dst, tail[:]...)
	return dst, nil
}

// Reader decodes messages from a byte stream.
type Reader struct {
	r *bufio.Reader

	// synced is set once a START byte has been consumed for the next message.
	synced bool
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// readByte returns the next unescaped body byte.
func (d *Reader) readByte() (byte, error) {
	b, err := d.r.ReadByte()
	if err != nil {
		return 0, err
	}
	switch b {
	case frameStart:
		d.synced = true
		return 0, ErrUnexpectedStart
	case escape:
		next, err := d.r.ReadByte()
		if err != nil {
			return 0, err
		}
		switch next {
		case escapedStart:
			return frameStart, nil
		case escapedEsc:
			return escape, nil
		case frameStart:
			d.synced = true
			return 0, ErrUnexpectedStart
		default:
			return 0, fmt.Errorf("%w: 0x%02X", ErrBadEscape, next)
		}
	default:
		return b, nil
	}
}

func (d *Reader) readFull(buf []byte) error {
	for i := range buf {
		b, err := d.readByte()
		if err != nil {
			return err
		}
		buf[i] = b
	}
	return nil
}

// ReadMessage returns the next message. Bytes before a START are skipped.
// Framing errors are returned without consuming the following message, so
// callers can log and call ReadMessage again. io errors are returned as is.
func (d *Reader) ReadMessage() (Message, error) {
	for !d.synced {
		b, err := d.r.ReadByte()
		if err != nil {
			return Message{}, err
		}
		d.synced = b == frameStart
	}
	d.synced = false

	var head [3]byte
	if err := d.readFull(head[:]); err != nil {
		return Message{}, err
	}
	size := int(binary.LittleEndian.Uint16(head[1:]))
	if size > maxMessagePayload {
		return Message{}, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, size)
	}

	payload := make([]byte, size)
	if err := d.readFull(payload); err != nil {
		return Message{}, err
	}

	var tail [2]byte
	if err := d.readFull(tail[:]); err != nil {
		return Message{}, err
	}

	want := crc16(crc16(0, head[:]), payload)
	if got := binary.LittleEndian.Uint16(tail[:]); got != want {
		return Message{}, fmt.Errorf("%w: got 0x%04X, want 0x%04X", ErrCRCMismatch, got, want)
	}

	return Message{Type: head[0], Payload: payload}, nil
}
