package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/beaconlabs/beacon-go/feed"
)

// Client calls the backend read endpoints. The viewer-specific flags in
// engagement responses (isLiked, isRugged) come from the server's own
// session view; the client sends no identity of its own.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a read client for the backend at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ProfilesBatch fetches profiles for many wallet addresses in one call.
// The backend answers with an array of profile objects; addresses it does
// not know are simply absent from it.
func (c *Client) ProfilesBatch(ctx context.Context, addresses []string) (map[string]*Profile, error) {
	q := url.Values{"addresses": {strings.Join(addresses, ",")}}
	var resp struct {
		Success  bool      `json:"success"`
		Profiles []Profile `json:"profiles"`
	}
	if err := c.get(ctx, "/api/user-profiles-batch", q, &resp); err != nil {
		return nil, err
	}
	out := make(map[string]*Profile, len(resp.Profiles))
	for i := range resp.Profiles {
		out[resp.Profiles[i].WalletAddress] = &resp.Profiles[i]
	}
	return out, nil
}

// Profile fetches a single profile; nil (no error) when the address has
// none.
func (c *Client) Profile(ctx context.Context, address string) (*Profile, error) {
	q := url.Values{"walletAddress": {address}}
	var resp struct {
		Success bool     `json:"success"`
		Profile *Profile `json:"profile"`
	}
	if err := c.get(ctx, "/api/user-profiles", q, &resp); err != nil {
		return nil, err
	}
	return resp.Profile, nil
}

// LikesBatch fetches like counts for many beacons, with the signed-in
// viewer's own like flag as the server sees it.
func (c *Client) LikesBatch(ctx context.Context, beaconIDs []string) (map[string]Engagement, error) {
	var resp struct {
		Success bool `json:"success"`
		Likes   []struct {
			BeaconID string `json:"beacon_id"`
			Count    int    `json:"count"`
			IsLiked  bool   `json:"isLiked"`
		} `json:"likes"`
	}
	if err := c.get(ctx, "/api/beacon-likes-batch", idsQuery(beaconIDs), &resp); err != nil {
		return nil, err
	}
	out := make(map[string]Engagement, len(resp.Likes))
	for _, l := range resp.Likes {
		out[l.BeaconID] = Engagement{Count: l.Count, ByViewer: l.IsLiked}
	}
	return out, nil
}

// RugsBatch fetches rug counts for many beacons, with the signed-in
// viewer's own rug flag as the server sees it.
func (c *Client) RugsBatch(ctx context.Context, beaconIDs []string) (map[string]Engagement, error) {
	var resp struct {
		Success bool `json:"success"`
		Rugs    []struct {
			BeaconID string `json:"beacon_id"`
			Count    int    `json:"count"`
			IsRugged bool   `json:"isRugged"`
		} `json:"rugs"`
	}
	if err := c.get(ctx, "/api/beacon-rugs-batch", idsQuery(beaconIDs), &resp); err != nil {
		return nil, err
	}
	out := make(map[string]Engagement, len(resp.Rugs))
	for _, r := range resp.Rugs {
		out[r.BeaconID] = Engagement{Count: r.Count, ByViewer: r.IsRugged}
	}
	return out, nil
}

func idsQuery(beaconIDs []string) url.Values {
	return url.Values{"beaconIds": {strings.Join(beaconIDs, ",")}}
}

// TipsBatch fetches the tips attached to many beacons.
func (c *Client) TipsBatch(ctx context.Context, beaconIDs []string) (map[string][]Tip, error) {
	q := idsQuery(beaconIDs)
	var resp struct {
		Success bool `json:"success"`
		Tips    []struct {
			BeaconID string `json:"beacon_id"`
			Messages []Tip  `json:"messages"`
		} `json:"tips"`
	}
	if err := c.get(ctx, "/api/beacon-tips-batch", q, &resp); err != nil {
		return nil, err
	}
	out := make(map[string][]Tip, len(resp.Tips))
	for _, t := range resp.Tips {
		out[t.BeaconID] = t.Messages
	}
	return out, nil
}

// RepliesBatch fetches the replies attached to many beacons.
func (c *Client) RepliesBatch(ctx context.Context, beaconIDs []string) (map[string][]Reply, error) {
	q := idsQuery(beaconIDs)
	var resp struct {
		Success bool `json:"success"`
		Replies []struct {
			BeaconID string  `json:"beacon_id"`
			Messages []Reply `json:"messages"`
		} `json:"replies"`
	}
	if err := c.get(ctx, "/api/beacon-replies-batch", q, &resp); err != nil {
		return nil, err
	}
	out := make(map[string][]Reply, len(resp.Replies))
	for _, r := range resp.Replies {
		out[r.BeaconID] = r.Messages
	}
	return out, nil
}

// PollFeed fetches one page of the feed; the fallback path when no push
// channel is available.
func (c *Client) PollFeed(ctx context.Context, page, limit int) ([]feed.Item, feed.Pagination, error) {
	q := url.Values{
		"page":  {strconv.Itoa(page)},
		"limit": {strconv.Itoa(limit)},
	}
	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Items      []feed.Item     `json:"items"`
			Pagination feed.Pagination `json:"pagination"`
		} `json:"data"`
	}
	if err := c.get(ctx, "/api/beacons-polling", q, &resp); err != nil {
		return nil, feed.Pagination{}, err
	}
	return resp.Data.Items, resp.Data.Pagination, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("GET %s: decode response: %w", path, err)
	}
	return nil
}
