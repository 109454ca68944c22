package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fnfo/chat/internal/config"
)

const (
	reasonMalformedFrame = "malformed frame"
	reasonAuthFirst      = "first frame must be auth"
	reasonUnknownEvent   = "unknown event"
)

// Handler adapts the gateway to the websocket transport. It owns the
// read loop, the writer goroutine, and the handshake deadline.
type Handler struct {
	gw     *Gateway
	cfg    config.HTTPConfig
	logger *zap.Logger
}

// NewHandler creates a websocket Handler.
//
// Precondition: gw and logger must be non-nil.
func NewHandler(gw *Gateway, cfg config.HTTPConfig, logger *zap.Logger) *Handler {
	return &Handler{gw: gw, cfg: cfg, logger: logger}
}

// Serve runs one websocket session to completion. The first frame must
// be an auth envelope within the handshake timeout; everything after
// that is dispatched until the peer goes away.
func (h *Handler) Serve(ws *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, authSeq, ok := h.handshake(ctx, ws)
	if !ok {
		_ = ws.Close()
		return
	}

	// The writer drains the outbound buffer; a failed write tears down
	// the socket, which in turn ends the read loop.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for frame := range conn.Out() {
			_ = ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.logger.Debug("websocket write failed",
					zap.String("conn_id", conn.ID()),
					zap.Error(err),
				)
				_ = ws.Close()
				return
			}
		}
	}()

	h.sendAck(conn, authSeq, AuthAck{
		Ok:         true,
		IdentityID: conn.IdentityID(),
		Username:   conn.Username(),
		Mode:       conn.mode,
	})

	_ = ws.SetReadDeadline(time.Time{})
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			break
		}
		h.dispatch(ctx, conn, raw)
	}

	h.gw.Disconnect(ctx, conn)
	_ = ws.Close()
	<-writerDone
}

// handshake reads and authenticates the first frame. Rejections are
// written directly since no writer goroutine exists yet.
func (h *Handler) handshake(ctx context.Context, ws *websocket.Conn) (*Conn, uint64, bool) {
	_ = ws.SetReadDeadline(time.Now().Add(h.cfg.HandshakeTimeout))

	_, raw, err := ws.ReadMessage()
	if err != nil {
		return nil, 0, false
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		h.rejectDirect(ws, 0, reasonMalformedFrame)
		return nil, 0, false
	}
	if env.Event != EventAuth {
		h.rejectDirect(ws, env.Seq, reasonAuthFirst)
		return nil, 0, false
	}

	var payload AuthPayload
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			h.rejectDirect(ws, env.Seq, reasonMalformedFrame)
			return nil, 0, false
		}
	}

	identity, err := h.gw.Authenticate(ctx, payload)
	if err != nil {
		h.rejectDirect(ws, env.Seq, err.Error())
		return nil, 0, false
	}

	conn := NewConn(uuid.NewString(), identity.ID, identity.Username, 0)
	conn.mode = string(identity.Mode)
	if err := h.gw.Hub().Register(conn); err != nil {
		h.rejectDirect(ws, env.Seq, reasonInternal)
		return nil, 0, false
	}

	h.logger.Info("connection authenticated",
		zap.String("conn_id", conn.ID()),
		zap.String("identity_id", identity.ID),
		zap.String("mode", string(identity.Mode)),
	)
	return conn, env.Seq, true
}

func (h *Handler) dispatch(ctx context.Context, conn *Conn, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		h.logger.Debug("discarding malformed frame", zap.String("conn_id", conn.ID()))
		return
	}

	switch env.Event {
	case EventRoomJoin:
		var payload JoinPayload
		if !h.decode(conn, env, &payload) {
			return
		}
		joinAck, ack := h.gw.JoinRoom(ctx, conn, payload)
		if ack.Ok {
			h.sendAck(conn, env.Seq, joinAck)
		} else {
			h.sendAck(conn, env.Seq, ack)
		}

	case EventRoomLeave:
		var payload LeavePayload
		if !h.decode(conn, env, &payload) {
			return
		}
		h.gw.LeaveRoom(ctx, conn, payload)

	case EventChatMessage:
		var payload MessagePayload
		if !h.decode(conn, env, &payload) {
			return
		}
		msgAck, ack := h.gw.SendMessage(ctx, conn, payload)
		if ack.Ok {
			h.sendAck(conn, env.Seq, msgAck)
		} else {
			h.sendAck(conn, env.Seq, ack)
		}

	case EventChatTyping:
		var payload TypingPayload
		if !h.decode(conn, env, &payload) {
			return
		}
		h.gw.SetTyping(ctx, conn, payload)

	case EventUserInfo:
		var payload UserInfoPayload
		if !h.decode(conn, env, &payload) {
			return
		}
		infoAck, ack := h.gw.LookupUser(ctx, payload)
		if ack.Ok {
			h.sendAck(conn, env.Seq, infoAck)
		} else {
			h.sendAck(conn, env.Seq, ack)
		}

	case EventAuth:
		// Already authenticated; a second auth frame is a protocol error.
		h.sendAck(conn, env.Seq, AckErr(reasonUnknownEvent))

	default:
		h.sendAck(conn, env.Seq, AckErr(reasonUnknownEvent))
	}
}

func (h *Handler) decode(conn *Conn, env Envelope, v interface{}) bool {
	if err := json.Unmarshal(env.Data, v); err != nil {
		h.sendAck(conn, env.Seq, AckErr(reasonMalformedFrame))
		return false
	}
	return true
}

// sendAck enqueues an ack envelope. Requests without a seq get none.
func (h *Handler) sendAck(conn *Conn, seq uint64, data interface{}) {
	if seq == 0 {
		return
	}
	frame, err := EncodeEnvelope(EventAck, seq, data)
	if err != nil {
		h.logger.Error("encoding ack failed", zap.Error(err))
		return
	}
	if err := conn.Push(frame); err != nil {
		h.logger.Debug("ack dropped",
			zap.String("conn_id", conn.ID()),
			zap.Error(err),
		)
	}
}

// rejectDirect writes a rejection before the connection is registered.
func (h *Handler) rejectDirect(ws *websocket.Conn, seq uint64, msg string) {
	frame, err := EncodeEnvelope(EventAck, seq, AckErr(msg))
	if err != nil {
		return
	}
	_ = ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
	_ = ws.WriteMessage(websocket.TextMessage, frame)
}
