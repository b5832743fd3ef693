package transport

import "errors"

// Session error classes. Implementations wrap their library errors with one
// of these so the connection manager can classify failures without knowing
// the underlying client.
var (
	// ErrAuthRejected is returned when the broker refuses the credentials.
	ErrAuthRejected = errors.New("transport: authentication rejected")

	// ErrConnectionRefused is returned when the broker actively refuses the
	// connection.
	ErrConnectionRefused = errors.New("transport: connection refused")

	// ErrConnectFailed is returned for any other failed connect attempt.
	ErrConnectFailed = errors.New("transport: connect failed")

	// ErrNotConnected is returned when publishing or subscribing without a
	// session.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrPublishFailed is returned when a publish is not acknowledged.
	ErrPublishFailed = errors.New("transport: publish failed")

	// ErrSubscribeFailed is returned when a subscription is refused.
	ErrSubscribeFailed = errors.New("transport: subscribe failed")

	// ErrTimeout is returned when an operation exceeds its deadline.
	ErrTimeout = errors.New("transport: operation timed out")
)

// IsFatal reports whether err belongs to a failure class that leaves the
// underlying client in a state worth resetting before the next attempt.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuthRejected) || errors.Is(err, ErrConnectionRefused)
}
