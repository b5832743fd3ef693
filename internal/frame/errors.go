package frame

import (
	"errors"
	"fmt"
)

// Encode errors.
var (
	// ErrPayloadTooLarge is returned when the payload exceeds MaxPayload.
	ErrPayloadTooLarge = errors.New("frame: payload too large")

	// ErrEmptyPayload is returned when encoding a zero-length payload.
	ErrEmptyPayload = errors.New("frame: empty payload")

	// ErrBufferTooSmall is returned when EncodeInto is given a short buffer.
	ErrBufferTooSmall = errors.New("frame: destination buffer too small")
)

// Decode failure sentinels. A *DecodeError matches the sentinel for its Kind
// under errors.Is.
var (
	ErrTooShort         = errors.New("frame: too short")
	ErrInvalidMagic     = errors.New("frame: invalid magic")
	ErrChecksumMismatch = errors.New("frame: checksum mismatch")
	ErrStale            = errors.New("frame: stale timestamp")
)

// DecodeErrorKind classifies why a received frame was rejected.
type DecodeErrorKind int

const (
	TooShort DecodeErrorKind = iota + 1
	InvalidMagic
	ChecksumMismatch
	Stale
)

// String returns the kind as used in log fields and metric labels.
func (k DecodeErrorKind) String() string {
	switch k {
	case TooShort:
		return "too_short"
	case InvalidMagic:
		return "invalid_magic"
	case ChecksumMismatch:
		return "checksum_mismatch"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}

// DecodeError describes a rejected frame.
type DecodeError struct {
	Kind   DecodeErrorKind
	Detail string
}

func (e *DecodeError) Error() string {
	if e.Detail == "" {
		return e.sentinel().Error()
	}
	return fmt.Sprintf("%s: %s", e.sentinel(), e.Detail)
}

// Is reports whether target is the sentinel for this error's kind.
func (e *DecodeError) Is(target error) bool {
	return target == e.sentinel()
}

func (e *DecodeError) sentinel() error {
	switch e.Kind {
	case TooShort:
		return ErrTooShort
	case InvalidMagic:
		return ErrInvalidMagic
	case ChecksumMismatch:
		return ErrChecksumMismatch
	case Stale:
		return ErrStale
	default:
		return errors.New("frame: decode failed")
	}
}

// KindOf extracts the DecodeErrorKind from err, or 0 if err is not a
// *DecodeError.
func KindOf(err error) DecodeErrorKind {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Kind
	}
	return 0
}
