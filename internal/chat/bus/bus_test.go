package bus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fnfo/chat/internal/testutil"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	rc := testutil.NewRedisContainer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := zaptest.NewLogger(t)
	a := New(rc.Store.Redis(), logger)
	b := New(rc.Store.Redis(), logger)
	defer a.Close()
	defer b.Close()

	var mu sync.Mutex
	var got []string
	handler := func(name string) Handler {
		return func(_ context.Context, payload []byte) {
			var evt RoomEvent
			require.NoError(t, json.Unmarshal(payload, &evt))
			mu.Lock()
			got = append(got, name+":"+evt.RoomID)
			mu.Unlock()
		}
	}

	require.NoError(t, a.Subscribe(ctx, ChannelChatEvents, handler("a")))
	require.NoError(t, b.Subscribe(ctx, ChannelChatEvents, handler("b")))

	// Publisher is also a subscriber: it must receive its own event.
	require.NoError(t, a.Publish(ctx, ChannelChatEvents, RoomEvent{
		RoomID: "r1",
		Event:  "chat:message",
		Data:   json.RawMessage(`{"text":"hi"}`),
	}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"a:r1", "b:r1"}, got)
}

func TestRoomNotificationRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	rc := testutil.NewRedisContainer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := New(rc.Store.Redis(), zaptest.NewLogger(t))
	defer b.Close()

	received := make(chan RoomNotification, 1)
	require.NoError(t, b.Subscribe(ctx, ChannelRoomNotifications, func(_ context.Context, payload []byte) {
		var n RoomNotification
		require.NoError(t, json.Unmarshal(payload, &n))
		received <- n
	}))

	sent := RoomNotification{
		RoomID:    "match-42",
		Players:   []string{"u1", "u2"},
		Mode:      "ranked",
		Timestamp: time.Now().UnixMilli(),
	}
	require.NoError(t, b.Publish(ctx, ChannelRoomNotifications, sent))

	select {
	case got := <-received:
		assert.Equal(t, sent, got)
	case <-time.After(5 * time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestCloseStopsConsumers(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	rc := testutil.NewRedisContainer(t)
	ctx := context.Background()

	b := New(rc.Store.Redis(), zaptest.NewLogger(t))
	require.NoError(t, b.Subscribe(ctx, ChannelChatEvents, func(context.Context, []byte) {}))

	done := make(chan struct{})
	go func() {
		b.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}
}
