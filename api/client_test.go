package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfilesBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/user-profiles-batch", r.URL.Path)
		assert.Equal(t, "alice,bob,ghost", r.URL.Query().Get("addresses"))
		// The backend returns a flat array; unknown addresses are simply
		// not in it.
		fmt.Fprint(w, `{"success":true,"profiles":[
			{"wallet_address":"alice","username":"al"},
			{"wallet_address":"bob","username":"bo"}
		]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	profiles, err := c.ProfilesBatch(context.Background(), []string{"alice", "bob", "ghost"})
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, "al", profiles["alice"].Username)
	assert.Equal(t, "bo", profiles["bob"].Username)
	assert.NotContains(t, profiles, "ghost")
}

func TestProfileSingle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/user-profiles", r.URL.Path)
		assert.Equal(t, "alice", r.URL.Query().Get("walletAddress"))
		fmt.Fprint(w, `{"success":true,"profile":{"wallet_address":"alice","username":"al"}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	profile, err := c.Profile(context.Background(), "alice")
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, "al", profile.Username)
}

func TestProfileAbsent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":true,"profile":null}`)
	}))
	defer srv.Close()

	profile, err := NewClient(srv.URL).Profile(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, profile)
}

func TestLikesBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/beacon-likes-batch", r.URL.Path)
		assert.Equal(t, "b1,b2", r.URL.Query().Get("beaconIds"))
		fmt.Fprint(w, `{"success":true,"likes":[
			{"beacon_id":"b1","count":3,"isLiked":true},
			{"beacon_id":"b2","count":0,"isLiked":false}
		]}`)
	}))
	defer srv.Close()

	likes, err := NewClient(srv.URL).LikesBatch(context.Background(), []string{"b1", "b2"})
	require.NoError(t, err)
	assert.Equal(t, Engagement{Count: 3, ByViewer: true}, likes["b1"])
	assert.Equal(t, Engagement{Count: 0, ByViewer: false}, likes["b2"])
}

func TestRugsBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/beacon-rugs-batch", r.URL.Path)
		assert.Equal(t, "b1", r.URL.Query().Get("beaconIds"))
		fmt.Fprint(w, `{"success":true,"rugs":[{"beacon_id":"b1","count":2,"isRugged":true}]}`)
	}))
	defer srv.Close()

	rugs, err := NewClient(srv.URL).RugsBatch(context.Background(), []string{"b1"})
	require.NoError(t, err)
	assert.Equal(t, Engagement{Count: 2, ByViewer: true}, rugs["b1"])
}

func TestTipsAndRepliesBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "b1", r.URL.Query().Get("beaconIds"))
		switch r.URL.Path {
		case "/api/beacon-tips-batch":
			fmt.Fprint(w, `{"success":true,"tips":[
				{"beacon_id":"b1","messages":[{"id":"t1","sender":"bob","amount":0.05,"timestamp":1000}]}
			]}`)
		case "/api/beacon-replies-batch":
			fmt.Fprint(w, `{"success":true,"replies":[
				{"beacon_id":"b1","messages":[{"id":"r1","author":"bob","content":"gm","timestamp":1000}]}
			]}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	tips, err := c.TipsBatch(context.Background(), []string{"b1"})
	require.NoError(t, err)
	require.Len(t, tips["b1"], 1)
	assert.Equal(t, 0.05, tips["b1"][0].AmountSOL)

	replies, err := c.RepliesBatch(context.Background(), []string{"b1"})
	require.NoError(t, err)
	require.Len(t, replies["b1"], 1)
	assert.Equal(t, "gm", replies["b1"][0].Content)
}

func TestPollFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/beacons-polling", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		fmt.Fprint(w, `{"success":true,"data":{
			"items":[{"id":"b1","author":"bob","timestamp":1000}],
			"pagination":{"page":1,"limit":20,"total":1,"totalPages":1,"hasNext":false,"hasPrev":false}
		}}`)
	}))
	defer srv.Close()

	items, pagination, err := NewClient(srv.URL).PollFeed(context.Background(), 1, 20)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "b1", items[0].ID)
	assert.Equal(t, 1, pagination.Total)
}

func TestErrorStatusSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `{"error":"upstream"}`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Profile(context.Background(), "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
