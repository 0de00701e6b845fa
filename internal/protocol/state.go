package protocol

// ChannelState is the lifecycle state of one Sync Channel.
type ChannelState int

// Channel states in lifecycle order.
const (
	StateConnecting ChannelState = iota
	StateAuthenticating
	StateSubscribed
	StateClosed
)

func (s ChannelState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateSubscribed:
		return "subscribed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CanTransition reports whether a channel may move from s to next.
// Closed is reachable from every state except itself and is terminal.
func (s ChannelState) CanTransition(next ChannelState) bool {
	if s == StateClosed {
		return false
	}
	if next == StateClosed {
		return true
	}
	return next == s+1
}
