package feed

import "context"

// Dialer opens a push stream to the feed endpoint. The channel treats the
// transport as opaque; SSE and WebSocket implementations are provided.
type Dialer interface {
	// Dial establishes the stream. It must respect ctx cancellation and
	// return once the connection is usable (the "onOpen" moment).
	Dial(ctx context.Context) (Stream, error)
}

// Stream delivers raw feed messages one at a time, in arrival order.
type Stream interface {
	// Recv blocks for the next message. It returns an error when the
	// stream breaks or is closed.
	Recv() ([]byte, error)
	// Close tears the stream down. Safe to call concurrently with Recv.
	Close() error
}
