package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/fnfo/chat/internal/chat/history"
)

// Client-to-server event names. The first frame on a fresh connection
// must be EventAuth.
const (
	EventAuth        = "auth"
	EventRoomJoin    = "room:join"
	EventRoomLeave   = "room:leave"
	EventChatMessage = "chat:message"
	EventChatTyping  = "chat:typing"
	EventUserInfo    = "user:info"
)

// Server-to-client event names. EventChatMessage and EventChatTyping
// are reused for broadcasts.
const (
	EventAck    = "ack"
	EventSystem = "system"
)

// System notice types.
const (
	SystemUserJoined       = "user_joined"
	SystemUserLeft         = "user_left"
	SystemUserDisconnected = "user_disconnected"
)

// Envelope is the wire frame. Seq correlates a request with its ack;
// requests carrying no Seq are never acked.
type Envelope struct {
	Event string          `json:"event"`
	Seq   uint64          `json:"seq,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EncodeEnvelope marshals an envelope with the given data payload.
func EncodeEnvelope(event string, seq uint64, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Seq: seq, Data: raw})
}

// Ack is the response payload to an acked request. Extra fields ride in
// the operation-specific ack types; the Ok/Msg pair is universal.
type Ack struct {
	Ok  bool   `json:"ok"`
	Msg string `json:"msg,omitempty"`
}

// AckErr builds a rejection ack with the given reason.
func AckErr(msg string) Ack {
	return Ack{Ok: false, Msg: msg}
}

// AuthPayload is the handshake frame data.
type AuthPayload struct {
	Token      string `json:"token,omitempty"`
	IdentityID string `json:"identityId,omitempty"`
	Username   string `json:"username,omitempty"`
}

// AuthAck confirms a successful handshake.
type AuthAck struct {
	Ok         bool   `json:"ok"`
	IdentityID string `json:"identityId"`
	Username   string `json:"username"`
	Mode       string `json:"mode"`
}

// JoinPayload asks to join a room.
type JoinPayload struct {
	RoomID string `json:"roomId"`
}

// JoinAck confirms a join and replays recent history, oldest first.
type JoinAck struct {
	Ok     bool              `json:"ok"`
	RoomID string            `json:"roomId"`
	Last   []history.Message `json:"last"`
}

// LeavePayload asks to leave a room. Never acked.
type LeavePayload struct {
	RoomID string `json:"roomId"`
}

// MessagePayload sends a chat message to a room.
type MessagePayload struct {
	RoomID string `json:"roomId"`
	Text   string `json:"text"`
}

// MessageAck confirms a stored message.
type MessageAck struct {
	Ok        bool   `json:"ok"`
	MessageID string `json:"messageId"`
	Timestamp int64  `json:"timestamp"`
}

// TypingPayload signals typing state to a room. Never acked.
type TypingPayload struct {
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

// TypingEvent is the broadcast form of a typing signal.
type TypingEvent struct {
	RoomID     string `json:"roomId"`
	IdentityID string `json:"identityId"`
	Username   string `json:"username"`
	IsTyping   bool   `json:"isTyping"`
}

// UserInfoPayload asks for another user's public profile.
type UserInfoPayload struct {
	IdentityID string `json:"identityId"`
}

// UserProfile is the public profile shape returned to clients.
type UserProfile struct {
	IdentityID string `json:"identityId"`
	Name       string `json:"name"`
	Country    string `json:"country,omitempty"`
}

// UserInfoAck carries the resolved profile.
type UserInfoAck struct {
	Ok   bool        `json:"ok"`
	User UserProfile `json:"user"`
}

// SystemEvent announces a membership change to a room.
type SystemEvent struct {
	RoomID     string `json:"roomId"`
	Type       string `json:"type"`
	Text       string `json:"text"`
	IdentityID string `json:"identityId"`
	Username   string `json:"username"`
	Timestamp  int64  `json:"timestamp"`
}
