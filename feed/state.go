package feed

// State is the connection state of the realtime channel.
type State int

const (
	// Disconnected: not started, or stopped.
	Disconnected State = iota
	// Connecting: a push channel attempt is in progress.
	Connecting
	// Open: the push channel is delivering messages.
	Open
	// Reconnecting: waiting out a backoff delay before redialing.
	Reconnecting
	// FallbackPolling: the push channel has been abandoned for this
	// session; the feed refreshes by periodic polling instead.
	FallbackPolling
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Reconnecting:
		return "reconnecting"
	case FallbackPolling:
		return "fallback_polling"
	default:
		return "unknown"
	}
}
