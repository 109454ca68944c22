package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fnfo/chat/internal/testutil"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	rc := testutil.NewRedisContainer(t)
	return NewLog(rc.Store.Redis(), 4*time.Hour, zaptest.NewLogger(t))
}

func TestAppendAssignsIncreasingIDs(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	log := newTestLog(t)
	ctx := context.Background()

	var prev string
	for i := 0; i < 10; i++ {
		id, err := log.Append(ctx, "r1", Message{
			From:      "Alice",
			SenderID:  "u1",
			Text:      fmt.Sprintf("message %d", i),
			Timestamp: time.Now().UnixMilli(),
		})
		require.NoError(t, err)
		require.NotEmpty(t, id)
		assert.Greater(t, id, prev, "ids must be strictly increasing")
		prev = id
	}
}

func TestReadLastChronologicalSuffix(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	log := newTestLog(t)
	ctx := context.Background()

	ids := make([]string, 0, 8)
	for i := 0; i < 8; i++ {
		id, err := log.Append(ctx, "r1", Message{
			From:      "Alice",
			SenderID:  "u1",
			Text:      fmt.Sprintf("m%d", i),
			Timestamp: int64(1000 + i),
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	msgs, err := log.ReadLast(ctx, "r1", 5)
	require.NoError(t, err)
	require.Len(t, msgs, 5)

	// Oldest-first, and a suffix of the full history.
	for i, m := range msgs {
		assert.Equal(t, ids[3+i], m.ID)
		assert.Equal(t, fmt.Sprintf("m%d", 3+i), m.Text)
		assert.Equal(t, int64(1003+i), m.Timestamp)
	}
}

func TestReadLastShorterThanCount(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	log := newTestLog(t)
	ctx := context.Background()

	_, err := log.Append(ctx, "r1", Message{From: "Bob", SenderID: "u2", Text: "hello", Timestamp: 42})
	require.NoError(t, err)

	msgs, err := log.ReadLast(ctx, "r1", 50)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Text)
	assert.Equal(t, "Bob", msgs[0].From)
	assert.Equal(t, "u2", msgs[0].SenderID)
	assert.Equal(t, int64(42), msgs[0].Timestamp)
}

func TestReadLastEmptyRoom(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	log := newTestLog(t)

	msgs, err := log.ReadLast(context.Background(), "no-such-room", 50)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestReadLastZeroCount(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	log := newTestLog(t)

	msgs, err := log.ReadLast(context.Background(), "r1", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestRoomsAreIsolated(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	log := newTestLog(t)
	ctx := context.Background()

	_, err := log.Append(ctx, "r1", Message{From: "Alice", SenderID: "u1", Text: "for r1", Timestamp: 1})
	require.NoError(t, err)
	_, err = log.Append(ctx, "r2", Message{From: "Bob", SenderID: "u2", Text: "for r2", Timestamp: 2})
	require.NoError(t, err)

	msgs, err := log.ReadLast(ctx, "r2", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "for r2", msgs[0].Text)
}
