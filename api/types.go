// Package api is the thin HTTP client for the beacon backend's read
// endpoints: profile, engagement, tip and reply lookups (batched where
// the backend supports it) and the polling fallback for the feed.
package api

// Profile is a user's public profile keyed by wallet address.
type Profile struct {
	WalletAddress string `json:"wallet_address"`
	Username      string `json:"username,omitempty"`
	DisplayName   string `json:"display_name,omitempty"`
	AvatarURL     string `json:"avatar_url,omitempty"`
	Bio           string `json:"bio,omitempty"`
}

// Engagement is one beacon's count for a reaction kind plus whether the
// viewing user has reacted.
type Engagement struct {
	Count    int  `json:"count"`
	ByViewer bool `json:"byViewer"`
}

// Tip is a single tip attached to a beacon.
type Tip struct {
	ID        string  `json:"id"`
	Sender    string  `json:"sender"`
	AmountSOL float64 `json:"amount"`
	Message   string  `json:"message,omitempty"`
	Timestamp int64   `json:"timestamp"`
}

// Reply is a threaded reply to a beacon.
type Reply struct {
	ID        string `json:"id"`
	Author    string `json:"author"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}
