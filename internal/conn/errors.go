package conn

import "errors"

var (
	// ErrMissingCredentials is returned when a username is configured
	// without a password.
	ErrMissingCredentials = errors.New("conn: username configured without password")

	// ErrLinkLost is reported to OnSessionDown when the link drops under an
	// established session.
	ErrLinkLost = errors.New("conn: network link lost")

	// ErrSessionLost is reported to OnSessionDown when the broker session
	// drops.
	ErrSessionLost = errors.New("conn: broker session lost")
)
