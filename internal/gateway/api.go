// ABOUTME: REST API handlers for login and conversation lifecycle operations
// ABOUTME: Maps domain errors to HTTP status codes and shapes JSON responses

package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/relayhq/livedesk/internal/auth"
	"github.com/relayhq/livedesk/internal/conversation"
	"github.com/relayhq/livedesk/internal/store"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type conversationResponse struct {
	ID        string    `json:"id"`
	Customer  string    `json:"customer"`
	Agent     *string   `json:"agent"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type messageResponse struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Sender         string    `json:"sender"`
	SenderRole     string    `json:"sender_role"`
	Body           string    `json:"body"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

func toConversationResponse(conv *store.Conversation) conversationResponse {
	return conversationResponse{
		ID:        conv.ID,
		Customer:  conv.Customer,
		Agent:     conv.Agent,
		Status:    string(conv.Status),
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
	}
}

func toMessageResponse(msg *store.Message) messageResponse {
	return messageResponse{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Sender:         msg.Sender,
		SenderRole:     string(msg.SenderRole),
		Body:           msg.Body,
		Status:         string(msg.Status),
		CreatedAt:      msg.CreatedAt,
	}
}

// handleLogin checks credentials and issues a JWT, both in the response body
// and as the access_token cookie that websocket upgrades rely on.
func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		sendJSONError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := g.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			sendJSONError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		g.logger.Error("login lookup failed", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		sendJSONError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	identity := &auth.Identity{Username: user.Username, Role: user.Role}
	token, err := g.verifier.Generate(identity, g.config.Auth.TokenTTL)
	if err != nil {
		g.logger.Error("token generation failed", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.TokenCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(g.config.Auth.TokenTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	g.logger.Info("user logged in", "username", user.Username, "role", user.Role)
	sendJSON(w, http.StatusOK, loginResponse{
		Token:    token,
		Username: user.Username,
		Role:     string(user.Role),
	})
}

// handleConversations serves the collection endpoint: GET lists the
// conversations visible to the caller, POST opens one for a customer.
func (g *Gateway) handleConversations(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	if identity == nil {
		sendJSONError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	switch r.Method {
	case http.MethodGet:
		convs, err := g.conversation.List(r.Context(), identity)
		if err != nil {
			g.sendDomainError(w, err)
			return
		}
		out := make([]conversationResponse, len(convs))
		for i, c := range convs {
			out[i] = toConversationResponse(c)
		}
		sendJSON(w, http.StatusOK, map[string]any{"conversations": out})

	case http.MethodPost:
		conv, created, err := g.conversation.Create(r.Context(), identity)
		if err != nil {
			g.sendDomainError(w, err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		sendJSON(w, status, toConversationResponse(conv))

	default:
		sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleConversationRoutes dispatches /api/conversations/{id} and its
// sub-resources: messages, accept, close.
func (g *Gateway) handleConversationRoutes(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	if identity == nil {
		sendJSONError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/conversations/")
	parts := strings.SplitN(rest, "/", 2)
	conversationID := parts[0]
	if conversationID == "" {
		sendJSONError(w, http.StatusBadRequest, "missing conversation id")
		return
	}

	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		conv, err := g.conversation.Get(r.Context(), conversationID, identity)
		if err != nil {
			g.sendDomainError(w, err)
			return
		}
		sendJSON(w, http.StatusOK, toConversationResponse(conv))

	case "messages":
		if r.Method != http.MethodGet {
			sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		msgs, err := g.conversation.History(r.Context(), conversationID, identity)
		if err != nil {
			g.sendDomainError(w, err)
			return
		}
		out := make([]messageResponse, len(msgs))
		for i, m := range msgs {
			out[i] = toMessageResponse(m)
		}
		sendJSON(w, http.StatusOK, map[string]any{"messages": out})

	case "accept":
		if r.Method != http.MethodPost {
			sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		conv, err := g.conversation.Accept(r.Context(), conversationID, identity)
		if err != nil {
			g.sendDomainError(w, err)
			return
		}
		sendJSON(w, http.StatusOK, toConversationResponse(conv))

	case "close":
		if r.Method != http.MethodPost {
			sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		conv, err := g.conversation.Close(r.Context(), conversationID, identity)
		if err != nil {
			g.sendDomainError(w, err)
			return
		}
		sendJSON(w, http.StatusOK, toConversationResponse(conv))

	default:
		sendJSONError(w, http.StatusNotFound, "not found")
	}
}

// sendDomainError translates conversation and store errors into HTTP
// responses. Unknown errors are logged and masked as 500s.
func (g *Gateway) sendDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conversation.ErrNotAuthorized):
		sendJSONError(w, http.StatusForbidden, "not authorized")
	case errors.Is(err, store.ErrNotFound):
		sendJSONError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, conversation.ErrAlreadyAssigned):
		sendJSONError(w, http.StatusConflict, "conversation already assigned")
	case errors.Is(err, conversation.ErrInvalidTransition):
		sendJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, conversation.ErrConversationClosed):
		sendJSONError(w, http.StatusConflict, "conversation is closed")
	default:
		g.logger.Error("request failed", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func sendJSONError(w http.ResponseWriter, status int, msg string) {
	sendJSON(w, status, map[string]string{"error": msg})
}
