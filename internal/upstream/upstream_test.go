package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fnfo/chat/internal/config"
)

func upstreamConfig(profileURL, matchmakingURL string) config.UpstreamConfig {
	return config.UpstreamConfig{
		ProfileURL:      profileURL,
		MatchmakingURL:  matchmakingURL,
		Timeout:         2 * time.Second,
		ProfileCacheTTL: 5 * time.Minute,
	}
}

func TestFetchRoomFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rooms/match-1", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"roomId":  "match-1",
			"players": []string{"u1", "u2"},
			"mode":    "ranked",
		})
	}))
	defer srv.Close()

	c := NewMatchmakingClient(upstreamConfig(srv.URL, srv.URL), zaptest.NewLogger(t))
	got, err := c.FetchRoom(context.Background(), "match-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "match-1", got.RoomID)
	assert.Equal(t, []string{"u1", "u2"}, got.Players)
	assert.Equal(t, "ranked", got.Mode)
}

func TestFetchRoomUnknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewMatchmakingClient(upstreamConfig(srv.URL, srv.URL), zaptest.NewLogger(t))
	got, err := c.FetchRoom(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFetchRoomTransportError(t *testing.T) {
	c := NewMatchmakingClient(upstreamConfig("http://127.0.0.1:1", "http://127.0.0.1:1"), zaptest.NewLogger(t))
	_, err := c.FetchRoom(context.Background(), "r1")
	assert.Error(t, err)
}

func TestResolveCachesProfile(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/by-identity/u1", r.URL.Path)
		json.NewEncoder(w).Encode(Profile{IdentityID: "u1", Name: "Alice", Country: "AR"})
	}))
	defer srv.Close()

	res := NewProfileResolver(upstreamConfig(srv.URL, srv.URL), zaptest.NewLogger(t))

	for i := 0; i < 3; i++ {
		p, err := res.Resolve(context.Background(), "u1")
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, "Alice", p.Name)
		assert.Equal(t, "AR", p.Country)
	}
	assert.Equal(t, int32(1), calls.Load(), "repeated lookups must hit the cache")

	res.Invalidate("u1")
	_, err := res.Resolve(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load(), "invalidate must force a refetch")
}

func TestResolveUnknownProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	res := NewProfileResolver(upstreamConfig(srv.URL, srv.URL), zaptest.NewLogger(t))
	p, err := res.Resolve(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestDisplayNameFallsBack(t *testing.T) {
	res := NewProfileResolver(upstreamConfig("http://127.0.0.1:1", "http://127.0.0.1:1"), zaptest.NewLogger(t))
	name := res.DisplayName(context.Background(), "u1", "User_abc123")
	assert.Equal(t, "User_abc123", name)
}

func TestResolveMany(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/by-identity/u1":
			json.NewEncoder(w).Encode(Profile{IdentityID: "u1", Name: "Alice"})
		case "/by-identity/u2":
			json.NewEncoder(w).Encode(Profile{IdentityID: "u2", Name: "Bob"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	res := NewProfileResolver(upstreamConfig(srv.URL, srv.URL), zaptest.NewLogger(t))
	got := res.ResolveMany(context.Background(), []string{"u1", "u2", "u3"})
	require.Len(t, got, 2)
	assert.Equal(t, "Alice", got["u1"].Name)
	assert.Equal(t, "Bob", got["u2"].Name)
}

func TestFallbackName(t *testing.T) {
	assert.Equal(t, "User_f00bar", FallbackName("uid-deadbeef-f00bar"))
	assert.Equal(t, "User_u1", FallbackName("u1"))
}

func TestProfileCacheExpiry(t *testing.T) {
	cache := NewProfileCache(time.Minute)
	now := time.Unix(1000, 0)
	cache.now = func() time.Time { return now }

	cache.Put("u1", Profile{IdentityID: "u1", Name: "Alice"})

	got, ok := cache.Get("u1")
	require.True(t, ok)
	assert.Equal(t, "Alice", got.Name)

	now = now.Add(2 * time.Minute)
	_, ok = cache.Get("u1")
	assert.False(t, ok, "expired entry must not be returned")
	assert.Equal(t, 0, cache.Len(), "expired entry is dropped on read")
}

func TestProfileCacheClear(t *testing.T) {
	cache := NewProfileCache(time.Minute)
	cache.Put("u1", Profile{Name: "Alice"})
	cache.Put("u2", Profile{Name: "Bob"})
	require.Equal(t, 2, cache.Len())

	cache.Clear()
	assert.Equal(t, 0, cache.Len())
}

func TestProfileCacheZeroTTLDisables(t *testing.T) {
	cache := NewProfileCache(0)
	cache.Put("u1", Profile{Name: "Alice"})
	_, ok := cache.Get("u1")
	assert.False(t, ok)
}
