package store

import (
	"context"
	"time"

	"github.com/beaconlabs/beacon-go/api"
)

// Freshness windows per resource. Profiles change rarely; engagement
// counts churn with every interaction.
const (
	profileTTL    = 10 * time.Minute
	engagementTTL = 30 * time.Second
	tipTTL        = 2 * time.Minute
	replyTTL      = 2 * time.Minute
)

// Batch collection windows per resource.
const (
	profileDelay    = 100 * time.Millisecond
	engagementDelay = 50 * time.Millisecond
	tipDelay        = 100 * time.Millisecond
	replyDelay      = 100 * time.Millisecond
)

// Stores bundles the per-resource batchers the application reads through.
// Profiles are keyed by wallet address; the rest by beacon id.
//
// OwnProfile shares the profile cache but skips the batch window: it
// fetches one profile immediately with concurrent callers deduplicated,
// which is what the signed-in user's header wants.
type Stores struct {
	Profiles   *Batcher[*api.Profile]
	OwnProfile *Group[*api.Profile]
	Likes      *Batcher[api.Engagement]
	Rugs       *Batcher[api.Engagement]
	Tips       *Batcher[[]api.Tip]
	Replies    *Batcher[[]api.Reply]
}

// NewStores wires the batchers to the read client.
func NewStores(client *api.Client) *Stores {
	profileCache := NewCache[*api.Profile](profileTTL)
	return &Stores{
		Profiles: NewBatcher(
			profileCache,
			profileDelay,
			func(ctx context.Context, keys []string) (map[string]*api.Profile, error) {
				return client.ProfilesBatch(ctx, keys)
			},
			WithSingleFallback[*api.Profile](client.Profile),
		),
		OwnProfile: NewGroup(profileCache, client.Profile),
		Likes: NewBatcher(
			NewCache[api.Engagement](engagementTTL),
			engagementDelay,
			client.LikesBatch,
		),
		Rugs: NewBatcher(
			NewCache[api.Engagement](engagementTTL),
			engagementDelay,
			client.RugsBatch,
		),
		Tips: NewBatcher(
			NewCache[[]api.Tip](tipTTL),
			tipDelay,
			client.TipsBatch,
		),
		Replies: NewBatcher(
			NewCache[[]api.Reply](replyTTL),
			replyDelay,
			client.RepliesBatch,
		),
	}
}

// Clear drops every cached value across all resources; used on logout so
// viewer-dependent data is refetched.
func (s *Stores) Clear() {
	s.Profiles.Clear()
	s.Likes.Clear()
	s.Rugs.Clear()
	s.Tips.Clear()
	s.Replies.Clear()
}

// Close shuts down all batchers, failing any pending lookups.
func (s *Stores) Close() {
	s.Profiles.Close()
	s.Likes.Close()
	s.Rugs.Close()
	s.Tips.Close()
	s.Replies.Close()
}
