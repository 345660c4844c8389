// ABOUTME: WebSocket handlers for conversation channels and the presence feed
// ABOUTME: Bridges socket reads/writes to the hub's bounded outbound queues

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/relayhq/livedesk/internal/auth"
	"github.com/relayhq/livedesk/internal/conversation"
	"github.com/relayhq/livedesk/internal/event"
	"github.com/relayhq/livedesk/internal/hub"
	"github.com/relayhq/livedesk/internal/store"
)

const maxInboundBytes = 64 * 1024

// handleChatSocket upgrades /ws/conversations/{id} to a websocket, attaches
// the connection to the conversation channel, and pumps events both ways
// until either side disconnects.
func (g *Gateway) handleChatSocket(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	if identity == nil {
		sendJSONError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	conversationID := strings.TrimPrefix(r.URL.Path, "/ws/conversations/")
	if conversationID == "" || strings.Contains(conversationID, "/") {
		sendJSONError(w, http.StatusBadRequest, "missing conversation id")
		return
	}

	conn := hub.NewConn(identity.Username, identity.Role, conversationID, g.config.Chat.OutboundBuffer)

	// Authorize and replay history before accepting the upgrade so a
	// rejected attach surfaces as a plain HTTP error, not a closed socket.
	if err := g.conversation.Attach(r.Context(), conn); err != nil {
		g.sendDomainError(w, err)
		return
	}

	sock, err := websocket.Accept(w, r, nil)
	if err != nil {
		g.hub.Detach(conn)
		g.logger.Warn("websocket accept failed", "error", err, "conversation_id", conversationID)
		return
	}
	sock.SetReadLimit(maxInboundBytes)

	g.presence.Connect(identity.Username, identity.Role)
	g.logger.Info("chat socket attached",
		"conversation_id", conversationID,
		"username", identity.Username,
		"role", identity.Role)

	defer func() {
		g.typing.Stop(conversationID, identity.Username)
		g.hub.Detach(conn)
		g.presence.Disconnect(identity.Username)
		g.logger.Info("chat socket detached",
			"conversation_id", conversationID,
			"username", identity.Username)
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go g.writePump(ctx, cancel, sock, conn)
	g.readChatLoop(ctx, sock, conn, identity)
}

// writePump drains the connection's outbound queue onto the socket. When the
// hub closes the queue (detach, conversation closed, slow consumer) the
// socket is closed normally and the read loop unblocks.
func (g *Gateway) writePump(ctx context.Context, cancel context.CancelFunc, sock *websocket.Conn, conn *hub.Conn) {
	defer cancel()
	for evt := range conn.Events() {
		if err := wsjson.Write(ctx, sock, evt); err != nil {
			return
		}
	}
	sock.Close(websocket.StatusNormalClosure, "")
}

// readChatLoop dispatches inbound events from a conversation socket. Unknown
// or rejected events produce an error event on this connection only; the
// socket stays open.
func (g *Gateway) readChatLoop(ctx context.Context, sock *websocket.Conn, conn *hub.Conn, identity *auth.Identity) {
	for {
		_, data, err := sock.Read(ctx)
		if err != nil {
			return
		}

		var in event.Event
		if err := json.Unmarshal(data, &in); err != nil {
			conn.Notify(event.NewError("invalid_payload", "malformed event"))
			continue
		}

		switch in.Type {
		case event.TypeMessage:
			if strings.TrimSpace(in.Content) == "" {
				conn.Notify(event.NewError("invalid_payload", "empty message body"))
				continue
			}
			if _, err := g.conversation.Send(ctx, conn.ConversationID, identity, in.Content); err != nil {
				conn.Notify(g.rejectEvent(err))
			}

		case event.TypeTypingStart:
			g.typing.Start(conn.ConversationID, identity.Username)

		case event.TypeTypingStop:
			g.typing.Stop(conn.ConversationID, identity.Username)

		case event.TypeMessageRead:
			if in.MessageID == "" {
				conn.Notify(event.NewError("invalid_payload", "message_id is required"))
				continue
			}
			if err := g.conversation.MarkRead(ctx, in.MessageID, identity); err != nil {
				conn.Notify(g.rejectEvent(err))
			}

		default:
			conn.Notify(event.NewError("unknown_type", "unknown event type: "+string(in.Type)))
		}
	}
}

// handlePresenceSocket upgrades /ws/presence for supervisors. The feed is
// read-only: inbound frames are drained and ignored.
func (g *Gateway) handlePresenceSocket(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	if identity == nil {
		sendJSONError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	if !identity.IsSupervisor() {
		sendJSONError(w, http.StatusForbidden, "supervisors only")
		return
	}

	sock, err := websocket.Accept(w, r, nil)
	if err != nil {
		g.logger.Warn("presence socket accept failed", "error", err)
		return
	}
	sock.SetReadLimit(maxInboundBytes)

	conn := hub.NewConn(identity.Username, identity.Role, "", g.config.Chat.OutboundBuffer)
	g.presence.Attach(conn)
	g.presence.Connect(identity.Username, identity.Role)
	g.logger.Info("presence feed attached", "username", identity.Username)

	defer func() {
		g.hub.Detach(conn)
		g.presence.Disconnect(identity.Username)
		g.logger.Info("presence feed detached", "username", identity.Username)
	}()

	// CloseRead drains inbound frames and cancels the context on disconnect
	ctx := sock.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-conn.Events():
			if !ok {
				sock.Close(websocket.StatusNormalClosure, "")
				return
			}
			if err := wsjson.Write(ctx, sock, evt); err != nil {
				return
			}
		}
	}
}

// rejectEvent maps domain errors onto the error-event codes defined for the
// live channel.
func (g *Gateway) rejectEvent(err error) *event.Event {
	switch {
	case errors.Is(err, conversation.ErrNotAuthorized):
		return event.NewError("not_authorized", "not authorized for this conversation")
	case errors.Is(err, conversation.ErrConversationClosed):
		return event.NewError("conversation_closed", "conversation is closed")
	case errors.Is(err, store.ErrNotFound):
		return event.NewError("not_found", "no such entity")
	default:
		g.logger.Error("inbound event failed", "error", err)
		return event.NewError("internal", "internal error")
	}
}
