package conn

// State is the connection state of the bridge.
type State int

const (
	// Disconnected: no link, or the link is up and the next session attempt
	// is not yet due.
	Disconnected State = iota

	// LinkConnecting: a link attempt is in progress and has a deadline.
	LinkConnecting

	// LinkUpSessionConnecting: the link is up and a session is being
	// established.
	LinkUpSessionConnecting

	// SessionUp: the broker session is established and subscribed.
	SessionUp
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case LinkConnecting:
		return "link_connecting"
	case LinkUpSessionConnecting:
		return "session_connecting"
	case SessionUp:
		return "session_up"
	default:
		return "unknown"
	}
}
