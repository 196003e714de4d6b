package beacon

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/beaconlabs/beacon-go/api"
	"github.com/beaconlabs/beacon-go/feed"
	"github.com/beaconlabs/beacon-go/store"
)

// Client is the application-facing entry point. It bundles the
// payment-gated write path, the read stores, and the live feed channel
// for one user session.
type Client struct {
	cfg    Config
	payer  Payer
	gated  *GatedClient
	proofs *ProofCache
	reads  *api.Client
	stores *store.Stores
	feed   *feed.Channel
	log    *zap.Logger
}

// Option customizes a Client.
type Option func(*clientOptions)

type clientOptions struct {
	httpClient *http.Client
	logger     *zap.Logger
	onEvent    func(feed.Event)
}

// WithClientHTTP overrides the HTTP client used for both the gated write
// path and the read endpoints.
func WithClientHTTP(hc *http.Client) Option {
	return func(o *clientOptions) { o.httpClient = hc }
}

// WithLogger sets the session logger. Defaults to a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *clientOptions) { o.logger = log }
}

// WithFeedEvents registers a callback for applied feed changes.
func WithFeedEvents(fn func(feed.Event)) Option {
	return func(o *clientOptions) { o.onEvent = fn }
}

// New creates a session client. payer may be nil for a signed-out,
// read-only session; paid operations then fail with wallet_not_connected.
func New(cfg Config, payer Payer, opts ...Option) *Client {
	if cfg.BeaconPriceSOL <= 0 {
		cfg.BeaconPriceSOL = DefaultBeaconPriceSOL
	}
	if cfg.ProofTTL <= 0 {
		cfg.ProofTTL = DefaultProofTTL
	}

	o := clientOptions{
		httpClient: http.DefaultClient,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	proofs := NewProofCache(cfg.ProofTTL)
	gated := NewGatedClient(payer, proofs,
		WithHTTPClient(o.httpClient),
		WithGatedLogger(o.logger),
	)
	reads := api.NewClient(cfg.APIBaseURL, api.WithHTTPClient(o.httpClient))

	localUser := ""
	if payer != nil {
		localUser = payer.UserAddress()
	}

	ch := feed.New(feed.Config{
		Dialer:    feedDialer(cfg.FeedURL, o.httpClient),
		Poll:      pollFunc(reads),
		LocalUser: localUser,
		OnEvent:   o.onEvent,
		Logger:    o.logger,
	})

	return &Client{
		cfg:    cfg,
		payer:  payer,
		gated:  gated,
		proofs: proofs,
		reads:  reads,
		stores: store.NewStores(reads),
		feed:   ch,
		log:    o.logger,
	}
}

// feedDialer picks the push transport from the URL scheme.
func feedDialer(feedURL string, hc *http.Client) feed.Dialer {
	if strings.HasPrefix(feedURL, "ws://") || strings.HasPrefix(feedURL, "wss://") {
		return &feed.WSDialer{URL: feedURL}
	}
	return &feed.SSEDialer{URL: feedURL, Client: hc}
}

func pollFunc(reads *api.Client) feed.PollFunc {
	return func(ctx context.Context) ([]feed.Item, error) {
		items, _, err := reads.PollFeed(ctx, 1, 20)
		return items, err
	}
}

// Feed returns the realtime feed channel. Call its Start to connect.
func (c *Client) Feed() *feed.Channel { return c.feed }

// Stores returns the batched read stores.
func (c *Client) Stores() *store.Stores { return c.stores }

// Reads returns the raw read API client.
func (c *Client) Reads() *api.Client { return c.reads }

// UserAddress returns the signed-in wallet address, or "".
func (c *Client) UserAddress() string {
	if c.payer == nil {
		return ""
	}
	return c.payer.UserAddress()
}

// CreateBeacon publishes a beacon, paying the posting fee on first use
// and reusing the cached proof while it lasts.
func (c *Client) CreateBeacon(ctx context.Context, content string) (json.RawMessage, error) {
	payload := map[string]any{
		"content":       content,
		"walletAddress": c.UserAddress(),
	}
	return c.gated.Do(ctx, c.cfg.APIBaseURL+"/api/beacon-secure", payload, ActionBeacon)
}

// SendTip sends amountSOL to recipient attached to a beacon, with an
// optional message.
func (c *Client) SendTip(ctx context.Context, beaconID, recipient string, amountSOL float64, message string) (json.RawMessage, error) {
	payload := map[string]any{
		"beaconId":  beaconID,
		"recipient": recipient,
		"amount":    amountSOL,
		"sender":    c.UserAddress(),
	}
	if message != "" {
		payload["message"] = message
	}
	return c.gated.Do(ctx, c.cfg.APIBaseURL+"/api/tip-secure", payload, TipAction(recipient, amountSOL))
}

// Deposit moves amountSOL into the user's platform balance.
func (c *Client) Deposit(ctx context.Context, amountSOL float64) (json.RawMessage, error) {
	payload := map[string]any{
		"amount":        amountSOL,
		"walletAddress": c.UserAddress(),
	}
	return c.gated.Do(ctx, c.cfg.APIBaseURL+"/api/platform-deposit-secure", payload, DepositAction(amountSOL))
}

// Logout drops everything tied to the signed-in user: their payment
// proofs, the viewer-dependent read caches, and the feed's unseen
// accounting. The feed connection itself stays up.
func (c *Client) Logout() {
	if addr := c.UserAddress(); addr != "" {
		c.proofs.InvalidateUser(addr)
	}
	c.payer = nil
	c.gated.SetPayer(nil)
	c.stores.Clear()
	c.feed.SetLocalUser("")
	c.feed.ResetUnseen()
}

// Close stops the feed channel and shuts down the read stores.
func (c *Client) Close() {
	c.feed.Stop()
	c.stores.Close()
}
