// Package history provides the per-room append-only message log backed
// by shared-store streams.
package history

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const streamPrefix = "stream:chat:"

// Message is a single immutable chat message. The ID is assigned by the
// store on append and is strictly increasing within a room.
type Message struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	SenderID  string `json:"identityId"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// Log stores room message history in append-only streams with a sliding
// retention window.
type Log struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewLog creates a Log with the given retention window.
//
// Precondition: rdb and logger must be non-nil; ttl must be positive.
func NewLog(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Log {
	return &Log{rdb: rdb, ttl: ttl, logger: logger}
}

func streamKey(roomID string) string {
	return streamPrefix + roomID
}

// Append writes a message to the room's stream and returns the assigned
// message id. Every append slides the room's retention window forward.
//
// Precondition: roomID must be non-empty; msg.Text must be non-empty.
// Postcondition: Returns a store-assigned id strictly greater than any
// id previously assigned in the room.
func (l *Log) Append(ctx context.Context, roomID string, msg Message) (string, error) {
	key := streamKey(roomID)

	id, err := l.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		Values: map[string]interface{}{
			"from":       msg.From,
			"identityId": msg.SenderID,
			"text":       msg.Text,
			"timestamp":  strconv.FormatInt(msg.Timestamp, 10),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("appending message to room %s: %w", roomID, err)
	}

	if err := l.rdb.Expire(ctx, key, l.ttl).Err(); err != nil {
		// Retention slide failed; the previous TTL still bounds the stream.
		l.logger.Warn("refreshing stream ttl failed",
			zap.String("room_id", roomID),
			zap.Error(err),
		)
	}

	return id, nil
}

// ReadLast returns up to count most recent messages, oldest first.
// The primary path reads the stream tail in reverse and re-orders; when
// that read is unavailable the full-range scan produces the same result.
//
// Postcondition: The result is chronological, has length <= count, and
// is a suffix of the room's full history. An unknown room yields an
// empty slice, never an error.
func (l *Log) ReadLast(ctx context.Context, roomID string, count int) ([]Message, error) {
	if count <= 0 {
		return nil, nil
	}
	key := streamKey(roomID)

	entries, err := l.rdb.XRevRangeN(ctx, key, "+", "-", int64(count)).Result()
	if err == nil {
		msgs := make([]Message, 0, len(entries))
		for i := len(entries) - 1; i >= 0; i-- {
			msgs = append(msgs, decode(entries[i]))
		}
		return msgs, nil
	}

	l.logger.Warn("reverse range read failed, falling back to full scan",
		zap.String("room_id", roomID),
		zap.Error(err),
	)

	all, err := l.rdb.XRange(ctx, key, "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("reading history for room %s: %w", roomID, err)
	}
	if len(all) > count {
		all = all[len(all)-count:]
	}
	msgs := make([]Message, 0, len(all))
	for _, entry := range all {
		msgs = append(msgs, decode(entry))
	}
	return msgs, nil
}

func decode(entry redis.XMessage) Message {
	msg := Message{ID: entry.ID}
	if v, ok := entry.Values["from"].(string); ok {
		msg.From = v
	}
	if v, ok := entry.Values["identityId"].(string); ok {
		msg.SenderID = v
	}
	if v, ok := entry.Values["text"].(string); ok {
		msg.Text = v
	}
	if v, ok := entry.Values["timestamp"].(string); ok {
		if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
			msg.Timestamp = ts
		}
	}
	return msg
}
