// Package room provides room metadata, roster authorization, and
// membership tracking on the shared store.
package room

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Room status values.
const (
	StatusActive = "active"
	StatusClosed = "closed"
)

// CanJoin rejection reasons, surfaced verbatim in acks.
const (
	ReasonNotFound  = "room not found"
	ReasonNotPlayer = "not a player in this room"
)

const (
	infoPrefix      = "room:info:"
	userRoomsPrefix = "user:rooms:"
)

// Info is the stored metadata of a chat room.
type Info struct {
	RoomID    string   `json:"roomId"`
	Status    string   `json:"status"`
	Players   []string `json:"players"`
	Mode      string   `json:"mode"`
	CreatedAt int64    `json:"createdAt"`
	ClosedAt  int64    `json:"closedAt,omitempty"`
}

// Closed reports whether the room no longer accepts new messages.
func (i Info) Closed() bool {
	return i.Status == StatusClosed
}

// UpstreamRoom is a room as known by the orchestration service.
type UpstreamRoom struct {
	RoomID  string   `json:"roomId"`
	Players []string `json:"players"`
	Mode    string   `json:"mode"`
}

// OrchestrationClient pulls room definitions from the orchestration
// service. FetchRoom returns (nil, nil) when the room is unknown
// upstream; transport failures degrade to the same answer at the
// implementation's discretion.
type OrchestrationClient interface {
	FetchRoom(ctx context.Context, roomID string) (*UpstreamRoom, error)
}

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Directory manages room metadata and per-identity membership records.
type Directory struct {
	rdb      *redis.Client
	upstream OrchestrationClient
	ttl      time.Duration
	relaxed  bool
	logger   *zap.Logger
}

// NewDirectory creates a Directory.
//
// Precondition: rdb and logger must be non-nil; ttl must be positive.
// upstream may be nil, in which case unknown rooms are never pulled lazily.
// relaxed disables roster authorization entirely (development mode).
func NewDirectory(rdb *redis.Client, upstream OrchestrationClient, ttl time.Duration, relaxed bool, logger *zap.Logger) *Directory {
	return &Directory{
		rdb:      rdb,
		upstream: upstream,
		ttl:      ttl,
		relaxed:  relaxed,
		logger:   logger,
	}
}

func infoKey(roomID string) string {
	return infoPrefix + roomID
}

func userRoomsKey(identityID string) string {
	return userRoomsPrefix + identityID
}

// CreateRoom upserts room metadata and refreshes the retention TTL.
// Calling it twice with the same roomID overwrites metadata without
// touching message history.
//
// Precondition: roomID must be non-empty. players may be empty (open room).
// Postcondition: Returns the stored Info.
func (d *Directory) CreateRoom(ctx context.Context, roomID string, players []string, mode string) (Info, error) {
	if mode == "" {
		mode = "unknown"
	}
	info := Info{
		RoomID:    roomID,
		Status:    StatusActive,
		Players:   players,
		Mode:      mode,
		CreatedAt: time.Now().UnixMilli(),
	}

	roster, err := json.Marshal(info.Players)
	if err != nil {
		return Info{}, fmt.Errorf("encoding roster for room %s: %w", roomID, err)
	}

	key := infoKey(roomID)
	pipe := d.rdb.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"roomId":    info.RoomID,
		"status":    info.Status,
		"players":   string(roster),
		"mode":      info.Mode,
		"createdAt": strconv.FormatInt(info.CreatedAt, 10),
	})
	pipe.Expire(ctx, key, d.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return Info{}, fmt.Errorf("storing room %s: %w", roomID, err)
	}

	d.logger.Info("chat room registered",
		zap.String("room_id", roomID),
		zap.String("mode", info.Mode),
		zap.Int("players", len(info.Players)),
	)
	return info, nil
}

// GetInfo returns the room metadata, or nil when the room is unknown.
func (d *Directory) GetInfo(ctx context.Context, roomID string) (*Info, error) {
	fields, err := d.rdb.HGetAll(ctx, infoKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading room %s: %w", roomID, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	info := &Info{
		RoomID: fields["roomId"],
		Status: fields["status"],
		Mode:   fields["mode"],
	}
	if raw := fields["players"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &info.Players); err != nil {
			// A mangled roster must not lock players out of an open room.
			info.Players = nil
		}
	}
	if v, err := strconv.ParseInt(fields["createdAt"], 10, 64); err == nil {
		info.CreatedAt = v
	}
	if v, err := strconv.ParseInt(fields["closedAt"], 10, 64); err == nil {
		info.ClosedAt = v
	}
	return info, nil
}

// CanJoin decides whether the identity may join the room. In relaxed
// mode everyone is allowed. Otherwise the identity must appear in the
// stored roster; an absent roster means the room is open. Unknown rooms
// are pulled lazily from the orchestration service and created locally;
// the upsert makes concurrent lazy creations across instances converge.
//
// Postcondition: A non-nil error indicates a store failure only; every
// authorization outcome is expressed in the Decision.
func (d *Directory) CanJoin(ctx context.Context, roomID, identityID string) (Decision, error) {
	if d.relaxed {
		return Decision{Allowed: true}, nil
	}

	info, err := d.GetInfo(ctx, roomID)
	if err != nil {
		return Decision{}, err
	}

	if info == nil {
		upstream := d.fetchUpstream(ctx, roomID)
		if upstream == nil {
			return Decision{Allowed: false, Reason: ReasonNotFound}, nil
		}
		if _, err := d.CreateRoom(ctx, roomID, upstream.Players, upstream.Mode); err != nil {
			return Decision{}, err
		}
		if !contains(upstream.Players, identityID) {
			return Decision{Allowed: false, Reason: ReasonNotPlayer}, nil
		}
		return Decision{Allowed: true}, nil
	}

	if len(info.Players) > 0 && !contains(info.Players, identityID) {
		return Decision{Allowed: false, Reason: ReasonNotPlayer}, nil
	}
	return Decision{Allowed: true}, nil
}

func (d *Directory) fetchUpstream(ctx context.Context, roomID string) *UpstreamRoom {
	if d.upstream == nil {
		return nil
	}
	upstream, err := d.upstream.FetchRoom(ctx, roomID)
	if err != nil {
		// Upstream unavailability degrades to "room not found".
		d.logger.Warn("orchestration lookup failed",
			zap.String("room_id", roomID),
			zap.Error(err),
		)
		return nil
	}
	return upstream
}

// CloseRoom marks the room closed. History and membership keep their
// existing TTLs; nothing is deleted here.
func (d *Directory) CloseRoom(ctx context.Context, roomID string) error {
	key := infoKey(roomID)
	pipe := d.rdb.Pipeline()
	pipe.HSet(ctx, key,
		"status", StatusClosed,
		"closedAt", strconv.FormatInt(time.Now().UnixMilli(), 10),
	)
	// Bound the key even if it was created by this call.
	pipe.ExpireNX(ctx, key, d.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("closing room %s: %w", roomID, err)
	}

	d.logger.Info("chat room closed", zap.String("room_id", roomID))
	return nil
}

// AddMember records that the identity joined the room and refreshes the
// membership record's TTL.
func (d *Directory) AddMember(ctx context.Context, roomID, identityID string) error {
	key := userRoomsKey(identityID)
	pipe := d.rdb.Pipeline()
	pipe.SAdd(ctx, key, roomID)
	pipe.Expire(ctx, key, d.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("adding %s to room %s: %w", identityID, roomID, err)
	}
	return nil
}

// RemoveMember removes the identity's membership in the room.
func (d *Directory) RemoveMember(ctx context.Context, roomID, identityID string) error {
	if err := d.rdb.SRem(ctx, userRoomsKey(identityID), roomID).Err(); err != nil {
		return fmt.Errorf("removing %s from room %s: %w", identityID, roomID, err)
	}
	return nil
}

// MemberRooms returns the ids of all rooms the identity has joined.
// Used by disconnect cleanup.
func (d *Directory) MemberRooms(ctx context.Context, identityID string) ([]string, error) {
	rooms, err := d.rdb.SMembers(ctx, userRoomsKey(identityID)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing rooms for %s: %w", identityID, err)
	}
	return rooms, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
