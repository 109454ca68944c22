package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fnfo/chat/internal/auth"
	"github.com/fnfo/chat/internal/chat/bus"
	"github.com/fnfo/chat/internal/chat/history"
	"github.com/fnfo/chat/internal/chat/room"
	"github.com/fnfo/chat/internal/config"
	"github.com/fnfo/chat/internal/upstream"
)

// Rejection reasons surfaced in acks, beyond those the directory returns.
const (
	reasonEmptyMessage  = "empty message"
	reasonRateLimited   = "rate limit exceeded"
	reasonRoomClosed    = "room is closed"
	reasonMissingRoomID = "roomId is required"
	reasonInternal      = "internal error"
	reasonUserUnknown   = "user not found"
)

// RoomDirectory is the slice of the room directory the gateway uses.
type RoomDirectory interface {
	CanJoin(ctx context.Context, roomID, identityID string) (room.Decision, error)
	GetInfo(ctx context.Context, roomID string) (*room.Info, error)
	CreateRoom(ctx context.Context, roomID string, players []string, mode string) (room.Info, error)
	AddMember(ctx context.Context, roomID, identityID string) error
	RemoveMember(ctx context.Context, roomID, identityID string) error
	MemberRooms(ctx context.Context, identityID string) ([]string, error)
}

// MessageLog is the slice of the message log the gateway uses.
type MessageLog interface {
	Append(ctx context.Context, roomID string, msg history.Message) (string, error)
	ReadLast(ctx context.Context, roomID string, count int) ([]history.Message, error)
}

// RateLimiter decides whether an identity may send another message.
type RateLimiter interface {
	Allow(ctx context.Context, identityID string) (bool, error)
}

// EventBus publishes fan-out events to every instance.
type EventBus interface {
	Publish(ctx context.Context, channel string, v interface{}) error
}

// NameResolver resolves identities to display attributes.
type NameResolver interface {
	Resolve(ctx context.Context, identityID string) (*upstream.Profile, error)
	DisplayName(ctx context.Context, identityID, fallback string) string
}

// Gateway owns the session lifecycle and the room event flow. Every
// broadcast, local or remote, goes out through the bus and comes back
// in through HandleChatEvent on each instance's own subscription, so
// there is exactly one delivery path.
type Gateway struct {
	hub       *Hub
	directory RoomDirectory
	messages  MessageLog
	limiter   RateLimiter
	bus       EventBus
	profiles  NameResolver
	authn     *auth.Authenticator
	cfg       config.ChatConfig
	logger    *zap.Logger
}

// New creates a Gateway.
//
// Precondition: all collaborators and logger must be non-nil.
func New(
	hub *Hub,
	directory RoomDirectory,
	messages MessageLog,
	limiter RateLimiter,
	eventBus EventBus,
	profiles NameResolver,
	authn *auth.Authenticator,
	cfg config.ChatConfig,
	logger *zap.Logger,
) *Gateway {
	return &Gateway{
		hub:       hub,
		directory: directory,
		messages:  messages,
		limiter:   limiter,
		bus:       eventBus,
		profiles:  profiles,
		authn:     authn,
		cfg:       cfg,
		logger:    logger,
	}
}

// Hub exposes the connection registry, mainly for the transport layer
// and health reporting.
func (g *Gateway) Hub() *Hub {
	return g.hub
}

// Authenticate validates a handshake payload and resolves the display
// name for verified identities.
func (g *Gateway) Authenticate(ctx context.Context, payload AuthPayload) (auth.Identity, error) {
	identity, err := g.authn.Authenticate(ctx, auth.Handshake{
		Token:      payload.Token,
		IdentityID: payload.IdentityID,
		Username:   payload.Username,
	})
	if err != nil {
		return auth.Identity{}, err
	}
	if identity.Username == "" {
		identity.Username = g.profiles.DisplayName(ctx, identity.ID, upstream.FallbackName(identity.ID))
	}
	return identity, nil
}

// JoinRoom authorizes the identity, attaches the connection, records
// membership, and replays recent history. The join announcement goes to
// every other member; the joiner learns the outcome from the ack.
// Idempotent: re-joining re-confirms membership and re-delivers history
// without announcing again.
func (g *Gateway) JoinRoom(ctx context.Context, conn *Conn, payload JoinPayload) (JoinAck, Ack) {
	if payload.RoomID == "" {
		return JoinAck{}, AckErr(reasonMissingRoomID)
	}

	decision, err := g.directory.CanJoin(ctx, payload.RoomID, conn.IdentityID())
	if err != nil {
		g.logger.Error("join authorization failed",
			zap.String("room_id", payload.RoomID),
			zap.String("identity_id", conn.IdentityID()),
			zap.Error(err),
		)
		return JoinAck{}, AckErr(reasonInternal)
	}
	if !decision.Allowed {
		return JoinAck{}, AckErr(decision.Reason)
	}

	already, err := g.hub.JoinRoom(conn.ID(), payload.RoomID)
	if err != nil {
		return JoinAck{}, AckErr(reasonInternal)
	}
	if err := g.directory.AddMember(ctx, payload.RoomID, conn.IdentityID()); err != nil {
		if !already {
			g.hub.LeaveRoom(conn.ID(), payload.RoomID)
		}
		g.logger.Error("recording membership failed",
			zap.String("room_id", payload.RoomID),
			zap.Error(err),
		)
		return JoinAck{}, AckErr(reasonInternal)
	}

	msgs, err := g.messages.ReadLast(ctx, payload.RoomID, g.cfg.HistoryLimit)
	if err != nil {
		// The join stands; the client starts with an empty backlog.
		g.logger.Warn("history replay failed",
			zap.String("room_id", payload.RoomID),
			zap.Error(err),
		)
		msgs = nil
	}
	if msgs == nil {
		msgs = []history.Message{}
	}

	if !already {
		g.announce(ctx, payload.RoomID, SystemUserJoined, conn)
	}

	g.logger.Info("user joined room",
		zap.String("room_id", payload.RoomID),
		zap.String("identity_id", conn.IdentityID()),
	)
	return JoinAck{Ok: true, RoomID: payload.RoomID, Last: msgs}, Ack{Ok: true}
}

// LeaveRoom detaches the connection, drops the membership record, and
// announces the departure to remaining members. No-op if the connection
// was not attached. Fire and forget: failures are logged, never surfaced.
func (g *Gateway) LeaveRoom(ctx context.Context, conn *Conn, payload LeavePayload) {
	if payload.RoomID == "" {
		return
	}
	if !g.hub.LeaveRoom(conn.ID(), payload.RoomID) {
		return
	}
	if err := g.directory.RemoveMember(ctx, payload.RoomID, conn.IdentityID()); err != nil {
		g.logger.Warn("removing membership failed",
			zap.String("room_id", payload.RoomID),
			zap.String("identity_id", conn.IdentityID()),
			zap.Error(err),
		)
	}
	g.announce(ctx, payload.RoomID, SystemUserLeft, conn)
}

// SendMessage validates, rate-limits, persists, and broadcasts a chat
// message. The sender receives the broadcast too; the ack carries the
// store-assigned id.
func (g *Gateway) SendMessage(ctx context.Context, conn *Conn, payload MessagePayload) (MessageAck, Ack) {
	if payload.RoomID == "" {
		return MessageAck{}, AckErr(reasonMissingRoomID)
	}

	text := payload.Text
	if runes := []rune(text); len(runes) > g.cfg.MaxMessageLength {
		text = string(runes[:g.cfg.MaxMessageLength])
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return MessageAck{}, AckErr(reasonEmptyMessage)
	}

	allowed, err := g.limiter.Allow(ctx, conn.IdentityID())
	if err != nil {
		g.logger.Error("rate limit check failed",
			zap.String("identity_id", conn.IdentityID()),
			zap.Error(err),
		)
		return MessageAck{}, AckErr(reasonInternal)
	}
	if !allowed {
		return MessageAck{}, AckErr(reasonRateLimited)
	}

	info, err := g.directory.GetInfo(ctx, payload.RoomID)
	if err != nil {
		return MessageAck{}, AckErr(reasonInternal)
	}
	if info != nil && info.Closed() {
		return MessageAck{}, AckErr(reasonRoomClosed)
	}

	msg := history.Message{
		From:      conn.Username(),
		SenderID:  conn.IdentityID(),
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
	}
	id, err := g.messages.Append(ctx, payload.RoomID, msg)
	if err != nil {
		g.logger.Error("persisting message failed",
			zap.String("room_id", payload.RoomID),
			zap.Error(err),
		)
		return MessageAck{}, AckErr(reasonInternal)
	}
	msg.ID = id

	g.publishRoomEvent(ctx, payload.RoomID, EventChatMessage, "", msg)

	return MessageAck{Ok: true, MessageID: id, Timestamp: msg.Timestamp}, Ack{Ok: true}
}

// SetTyping broadcasts a typing signal to everyone else in the room.
// Fire and forget.
func (g *Gateway) SetTyping(ctx context.Context, conn *Conn, payload TypingPayload) {
	if payload.RoomID == "" {
		return
	}
	g.publishRoomEvent(ctx, payload.RoomID, EventChatTyping, conn.IdentityID(), TypingEvent{
		RoomID:     payload.RoomID,
		IdentityID: conn.IdentityID(),
		Username:   conn.Username(),
		IsTyping:   payload.IsTyping,
	})
}

// LookupUser resolves another user's public profile.
func (g *Gateway) LookupUser(ctx context.Context, payload UserInfoPayload) (UserInfoAck, Ack) {
	if payload.IdentityID == "" {
		return UserInfoAck{}, AckErr(reasonUserUnknown)
	}
	profile, err := g.profiles.Resolve(ctx, payload.IdentityID)
	if err != nil {
		g.logger.Warn("profile lookup failed",
			zap.String("identity_id", payload.IdentityID),
			zap.Error(err),
		)
		return UserInfoAck{}, AckErr(reasonInternal)
	}
	if profile == nil {
		return UserInfoAck{}, AckErr(reasonUserUnknown)
	}
	name := profile.Name
	if name == "" {
		name = upstream.FallbackName(payload.IdentityID)
	}
	return UserInfoAck{
		Ok: true,
		User: UserProfile{
			IdentityID: payload.IdentityID,
			Name:       name,
			Country:    profile.Country,
		},
	}, Ack{Ok: true}
}

// Disconnect announces the departure in every room the identity was a
// member of and drops all of its state for this connection. Safe to
// call once per connection; the transport guarantees exactly one call.
func (g *Gateway) Disconnect(ctx context.Context, conn *Conn) {
	rooms, err := g.directory.MemberRooms(ctx, conn.IdentityID())
	if err != nil {
		g.logger.Warn("listing rooms on disconnect failed",
			zap.String("identity_id", conn.IdentityID()),
			zap.Error(err),
		)
	}

	for _, roomID := range rooms {
		g.announce(ctx, roomID, SystemUserDisconnected, conn)
		if err := g.directory.RemoveMember(ctx, roomID, conn.IdentityID()); err != nil {
			g.logger.Warn("removing membership on disconnect failed",
				zap.String("room_id", roomID),
				zap.String("identity_id", conn.IdentityID()),
				zap.Error(err),
			)
		}
	}

	g.hub.Unregister(conn.ID())
	g.logger.Info("connection closed",
		zap.String("conn_id", conn.ID()),
		zap.String("identity_id", conn.IdentityID()),
	)
}

// announce emits a system notice to the room, excluding the actor's
// own connections.
func (g *Gateway) announce(ctx context.Context, roomID, noticeType string, conn *Conn) {
	var text string
	switch noticeType {
	case SystemUserJoined:
		text = conn.Username() + " joined the room"
	case SystemUserLeft:
		text = conn.Username() + " left the room"
	case SystemUserDisconnected:
		text = conn.Username() + " disconnected"
	}
	g.publishRoomEvent(ctx, roomID, EventSystem, conn.IdentityID(), SystemEvent{
		RoomID:     roomID,
		Type:       noticeType,
		Text:       text,
		IdentityID: conn.IdentityID(),
		Username:   conn.Username(),
		Timestamp:  time.Now().UnixMilli(),
	})
}

func (g *Gateway) publishRoomEvent(ctx context.Context, roomID, event, excludeID string, data interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("encoding room event failed",
			zap.String("event", event),
			zap.Error(err),
		)
		return
	}
	err = g.bus.Publish(ctx, bus.ChannelChatEvents, bus.RoomEvent{
		RoomID:    roomID,
		Event:     event,
		ExcludeID: excludeID,
		Data:      raw,
	})
	if err != nil {
		g.logger.Error("publishing room event failed",
			zap.String("event", event),
			zap.String("room_id", roomID),
			zap.Error(err),
		)
	}
}

// HandleChatEvent consumes one fan-out payload and delivers it to the
// local connections of the target room. Wired to the chat events
// channel; this instance's own publishes arrive here as well.
func (g *Gateway) HandleChatEvent(_ context.Context, payload []byte) {
	var event bus.RoomEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		g.logger.Warn("discarding malformed chat event", zap.Error(err))
		return
	}

	frame, err := json.Marshal(Envelope{Event: event.Event, Data: event.Data})
	if err != nil {
		g.logger.Error("encoding broadcast frame failed", zap.Error(err))
		return
	}
	g.hub.Broadcast(event.RoomID, event.ExcludeID, frame)
}

// HandleRoomNotification consumes an orchestration announcement and
// registers the room ahead of the first join.
func (g *Gateway) HandleRoomNotification(ctx context.Context, payload []byte) {
	var note bus.RoomNotification
	if err := json.Unmarshal(payload, &note); err != nil {
		g.logger.Warn("discarding malformed room notification", zap.Error(err))
		return
	}
	if note.RoomID == "" {
		return
	}
	if _, err := g.directory.CreateRoom(ctx, note.RoomID, note.Players, note.Mode); err != nil {
		g.logger.Error("registering announced room failed",
			zap.String("room_id", note.RoomID),
			zap.Error(err),
		)
	}
}
