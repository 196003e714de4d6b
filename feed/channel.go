// Package feed maintains a live local copy of the beacon feed. It drives
// a push channel (SSE or WebSocket) through an explicit connection state
// machine with bounded exponential reconnect backoff and a permanent
// fallback to periodic polling, applying feed deltas strictly in arrival
// order on a single goroutine.
//
// Channel failures never surface as errors to the embedding application;
// they only move the state machine. Connectivity is observable through
// State.
package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PollFunc fetches the full current feed list; used in fallback mode.
type PollFunc func(ctx context.Context) ([]Item, error)

// Event kinds emitted to the optional OnEvent callback.
const (
	EventLoaded      = "loaded"       // snapshot applied
	EventItemAdded   = "item_added"   // one item prepended
	EventItemUpdated = "item_updated" // one item replaced in place
	EventRefreshed   = "refreshed"    // list replaced after a content change
)

// Event describes one applied feed change. Events are delivered from the
// channel's run goroutine, in application order.
type Event struct {
	Kind  string
	Item  *Item  // set for item_added / item_updated
	Items []Item // set for loaded / refreshed
}

// Config configures a Channel. Dialer is required; Poll is strongly
// recommended, since without it fallback mode has nothing to do.
type Config struct {
	Dialer Dialer
	Poll   PollFunc

	// LocalUser is the signed-in wallet address; items it authored do not
	// count as unseen. May be updated later via SetLocalUser.
	LocalUser string

	// ConnectTimeout bounds the push channel dial; exceeding it abandons
	// the push channel for polling. Default 5s.
	ConnectTimeout time.Duration
	// BackoffBase and BackoffCap bound reconnect delays:
	// delay(n) = min(base << n, cap). Defaults 1s / 30s.
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// MaxReconnectAttempts before abandoning the push channel. Default 5.
	MaxReconnectAttempts int
	// PollInterval is the fallback refresh cadence. Default 10s.
	PollInterval time.Duration

	// OnEvent, when set, receives applied changes in order.
	OnEvent func(Event)
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// Channel is the realtime feed connection and its local feed state.
type Channel struct {
	cfg Config
	log *zap.Logger

	mu        sync.Mutex
	state     State
	attempt   int
	connID    string
	lastPing  int64
	localUser string

	items      []Item
	unseen     int
	lastSeen   int64
	pagination Pagination

	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// New creates a channel in the Disconnected state.
func New(cfg Config) *Channel {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 30 * time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 5
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Channel{
		cfg:       cfg,
		log:       log,
		state:     Disconnected,
		localUser: cfg.LocalUser,
	}
}

// Start launches the connection loop. Calling Start on a running channel
// is a no-op.
func (c *Channel) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.started = true
	go c.run(ctx)
}

// Stop closes the channel, cancels all timers and pending reconnects, and
// returns once the run loop has exited. The channel ends Disconnected.
func (c *Channel) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	cancel, done := c.cancel, c.done
	c.started = false
	c.mu.Unlock()

	cancel()
	<-done
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Items returns a copy of the local feed list, newest first.
func (c *Channel) Items() []Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Item(nil), c.items...)
}

// UnseenCount returns the number of items from other authors received
// since the last ResetUnseen.
func (c *Channel) UnseenCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unseen
}

// ResetUnseen clears the unseen badge counter.
func (c *Channel) ResetUnseen() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unseen = 0
}

// ConnectionID returns the server-assigned connection id, if any.
func (c *Channel) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connID
}

// Pagination returns the most recent paging block from the server.
func (c *Channel) Pagination() Pagination {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pagination
}

// SetLocalUser updates the signed-in wallet address used for unseen
// accounting. Pass "" on logout.
func (c *Channel) SetLocalUser(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.localUser = address
}

// run is the connection loop. All message application happens here, one
// message at a time.
func (c *Channel) run(ctx context.Context) {
	defer close(c.done)
	defer c.setState(Disconnected)

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		c.setState(Connecting)

		stream, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, errConnectTimeout) {
				// The push channel never opened within the window; abandon it
				// for this session.
				c.log.Warn("feed connect timed out, falling back to polling")
				c.pollLoop(ctx)
				return
			}
			attempt++
			if attempt > c.cfg.MaxReconnectAttempts {
				c.log.Warn("feed reconnect attempts exhausted, falling back to polling",
					zap.Int("attempts", attempt-1))
				c.pollLoop(ctx)
				return
			}
			c.setReconnecting(attempt)
			if !sleepCtx(ctx, c.backoff(attempt)) {
				return
			}
			continue
		}

		c.setState(Open)
		attempt = 0

		err = c.readLoop(ctx, stream)
		stream.Close()
		if ctx.Err() != nil {
			return
		}
		c.log.Debug("feed stream closed", zap.Error(err))

		attempt++
		if attempt > c.cfg.MaxReconnectAttempts {
			c.log.Warn("feed reconnect attempts exhausted, falling back to polling",
				zap.Int("attempts", attempt-1))
			c.pollLoop(ctx)
			return
		}
		c.setReconnecting(attempt)
		if !sleepCtx(ctx, c.backoff(attempt)) {
			return
		}
	}
}

var errConnectTimeout = errors.New("feed connect timeout")

// dial attempts the push channel within the connect window.
func (c *Channel) dial(ctx context.Context) (Stream, error) {
	dctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	stream, err := c.cfg.Dialer.Dial(dctx)
	if err != nil {
		if dctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, errConnectTimeout
		}
		return nil, err
	}
	return stream, nil
}

// readLoop receives and applies messages until the stream breaks. Messages
// that fail to decode are dropped, not fatal.
func (c *Channel) readLoop(ctx context.Context, stream Stream) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			stream.Close()
		case <-stop:
		}
	}()

	for {
		data, err := stream.Recv()
		if err != nil {
			return err
		}
		msg, err := Decode(data)
		if err != nil {
			c.log.Warn("dropping feed message", zap.Error(err))
			continue
		}
		c.apply(msg)
	}
}

// pollLoop is the permanent fallback: periodic full refreshes until Stop.
func (c *Channel) pollLoop(ctx context.Context) {
	c.setState(FallbackPolling)
	if c.cfg.Poll == nil {
		c.log.Warn("no poll function configured, feed is frozen")
		<-ctx.Done()
		return
	}

	c.pollOnce(ctx)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pollOnce(ctx)
		}
	}
}

func (c *Channel) pollOnce(ctx context.Context) {
	items, err := c.cfg.Poll(ctx)
	if err != nil {
		if ctx.Err() == nil {
			c.log.Warn("feed poll failed", zap.Error(err))
		}
		return
	}
	c.apply(&FullRefresh{Items: items})
}

// backoff doubles the base delay per attempt, capped: 1s, 2s, 4s... up to
// BackoffCap.
func (c *Channel) backoff(attempt int) time.Duration {
	d := c.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.cfg.BackoffCap {
			return c.cfg.BackoffCap
		}
	}
	return d
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != s {
		c.log.Debug("feed state change",
			zap.Stringer("from", c.state), zap.Stringer("to", s))
	}
	c.state = s
	if s != Reconnecting {
		c.attempt = 0
	}
}

func (c *Channel) setReconnecting(attempt int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = Reconnecting
	c.attempt = attempt
}

// ReconnectAttempt returns the current backoff attempt number; zero unless
// the channel is reconnecting.
func (c *Channel) ReconnectAttempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// sleepCtx waits d or until ctx is done; reports whether the full wait
// elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
