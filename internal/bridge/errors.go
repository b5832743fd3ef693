package bridge

import "errors"

var (
	// ErrAlreadyStarted is returned by Start on a running bridge.
	ErrAlreadyStarted = errors.New("bridge: already started")

	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("bridge: closed")
)
