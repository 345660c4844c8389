// ABOUTME: Conversation lifecycle state machine and message delivery tracker
// ABOUTME: All per-conversation mutations are serialized through a keyed mutex

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/relayhq/livedesk/internal/auth"
	"github.com/relayhq/livedesk/internal/event"
	"github.com/relayhq/livedesk/internal/hub"
	"github.com/relayhq/livedesk/internal/store"
)

// ConversationStore defines what the service needs from storage
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *store.Conversation) error
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	GetOpenConversationByCustomer(ctx context.Context, customer string) (*store.Conversation, error)
	ListConversationsByCustomer(ctx context.Context, customer string) ([]*store.Conversation, error)
	ListConversationsForAgent(ctx context.Context, agent string) ([]*store.Conversation, error)
	ListActiveConversations(ctx context.Context) ([]*store.Conversation, error)
	AcceptConversation(ctx context.Context, id, agent string) error
	CloseConversation(ctx context.Context, id string) error

	SaveMessage(ctx context.Context, msg *store.Message) error
	GetMessage(ctx context.Context, id string) (*store.Message, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*store.Message, error)
	AdvanceMessageStatus(ctx context.Context, id string, to store.MessageStatus) (bool, error)
}

// Service owns conversation state transitions and the message log. Status
// changes and messages fan out through the hub; persistence happens before
// any broadcast.
type Service struct {
	store        ConversationStore
	hub          *hub.Hub
	locks        *keyedMutex
	historyLimit int
	logger       *slog.Logger
}

// New creates a conversation service. historyLimit caps catch-up replay on
// attach; negative means full history. Pass nil logger for default.
func New(store ConversationStore, h *hub.Hub, historyLimit int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:        store,
		hub:          h,
		locks:        newKeyedMutex(),
		historyLimit: historyLimit,
		logger:       logger.With("component", "conversation"),
	}
}

// Create opens a new conversation for a customer. If the customer already
// has an OPEN conversation it is returned instead of creating a second one.
// The returned bool reports whether a new conversation was created.
func (s *Service) Create(ctx context.Context, actor *auth.Identity) (*store.Conversation, bool, error) {
	if actor.Role != store.RoleCustomer {
		return nil, false, fmt.Errorf("%w: only customers start conversations", ErrNotAuthorized)
	}

	if existing, err := s.store.GetOpenConversationByCustomer(ctx, actor.Username); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	now := time.Now()
	conv := &store.Conversation{
		ID:        uuid.New().String(),
		Customer:  actor.Username,
		Status:    store.StatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, false, err
	}

	s.logger.Info("conversation created", "conversation_id", conv.ID, "customer", conv.Customer)
	s.hub.BroadcastPresence(event.NewConversationStatus(conv.ID, string(conv.Status), ""))

	return conv, true, nil
}

// Accept assigns an OPEN conversation to an agent. Concurrent accepts
// resolve through the store's compare-and-set: exactly one agent wins and
// the loser gets ErrAlreadyAssigned.
func (s *Service) Accept(ctx context.Context, conversationID string, actor *auth.Identity) (*store.Conversation, error) {
	if actor.Role != store.RoleAgent {
		return nil, fmt.Errorf("%w: only agents accept conversations", ErrNotAuthorized)
	}

	unlock := s.locks.Lock(conversationID)
	defer unlock()

	if err := s.store.AcceptConversation(ctx, conversationID, actor.Username); err != nil {
		if errors.Is(err, store.ErrConflict) {
			conv, getErr := s.store.GetConversation(ctx, conversationID)
			if getErr != nil {
				return nil, getErr
			}
			if conv.Status == store.StatusClosed {
				return nil, fmt.Errorf("%w: conversation is closed", ErrInvalidTransition)
			}
			return nil, ErrAlreadyAssigned
		}
		return nil, err
	}

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("conversation accepted",
		"conversation_id", conversationID,
		"agent", actor.Username)
	s.broadcastStatus(conv)

	return conv, nil
}

// Close moves a conversation to CLOSED. Only the assigned agent or a
// supervisor may close; an OPEN conversation may also be closed (abandoned).
// All live connections for the conversation are detached with a
// normal-closure signal.
func (s *Service) Close(ctx context.Context, conversationID string, actor *auth.Identity) (*store.Conversation, error) {
	unlock := s.locks.Lock(conversationID)
	defer unlock()

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if !actor.IsSupervisor() {
		if actor.Role != store.RoleAgent || conv.Agent == nil || *conv.Agent != actor.Username {
			return nil, fmt.Errorf("%w: only the assigned agent or a supervisor may close", ErrNotAuthorized)
		}
	}

	if err := s.store.CloseConversation(ctx, conversationID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("%w: conversation is closed", ErrInvalidTransition)
		}
		return nil, err
	}

	conv, err = s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("conversation closed",
		"conversation_id", conversationID,
		"actor", actor.Username)
	s.broadcastStatus(conv)
	s.hub.DetachAll(conversationID)

	return conv, nil
}

// Get returns a conversation if the actor may see it.
func (s *Service) Get(ctx context.Context, conversationID string, actor *auth.Identity) (*store.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := authorize(conv, actor); err != nil {
		return nil, err
	}
	return conv, nil
}

// List returns the conversations visible to the actor: customers see their
// own, agents see the open queue plus their assignments, supervisors see
// everything active.
func (s *Service) List(ctx context.Context, actor *auth.Identity) ([]*store.Conversation, error) {
	switch actor.Role {
	case store.RoleCustomer:
		return s.store.ListConversationsByCustomer(ctx, actor.Username)
	case store.RoleAgent:
		return s.store.ListConversationsForAgent(ctx, actor.Username)
	case store.RoleSupervisor:
		return s.store.ListActiveConversations(ctx)
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrNotAuthorized, actor.Role)
	}
}

// History returns a conversation's messages in append order.
func (s *Service) History(ctx context.Context, conversationID string, actor *auth.Identity) ([]*store.Message, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := authorize(conv, actor); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, conversationID, 0)
}

// Attach authorizes a connection for its conversation, registers it with the
// hub, and replays recent history so the connection catches up before any
// new broadcast. Detach is the hub's job and needs no authorization.
func (s *Service) Attach(ctx context.Context, c *hub.Conn) error {
	unlock := s.locks.Lock(c.ConversationID)
	defer unlock()

	conv, err := s.store.GetConversation(ctx, c.ConversationID)
	if err != nil {
		return err
	}

	identity := &auth.Identity{Username: c.Username, Role: c.Role}
	if err := authorize(conv, identity); err != nil {
		return err
	}

	messages, err := s.store.ListMessages(ctx, c.ConversationID, s.historyLimit)
	if err != nil {
		return fmt.Errorf("loading catch-up history: %w", err)
	}

	replay := make([]*event.Event, len(messages))
	for i, msg := range messages {
		replay[i] = event.NewMessage(msg.ID, msg.Sender, msg.Body, string(msg.Status), msg.CreatedAt)
	}

	s.hub.Attach(c.ConversationID, c, replay)
	return nil
}

// Send appends a message to the conversation log and broadcasts it. The
// message is not broadcast unless the append succeeds; a failed append is
// surfaced to the sender, who may retry. If a counterpart connection is
// attached at broadcast time the message is immediately marked DELIVERED.
func (s *Service) Send(ctx context.Context, conversationID string, actor *auth.Identity, body string) (*store.Message, error) {
	unlock := s.locks.Lock(conversationID)
	defer unlock()

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := authorize(conv, actor); err != nil {
		return nil, err
	}
	if conv.Status == store.StatusClosed {
		return nil, ErrConversationClosed
	}

	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Sender:         actor.Username,
		SenderRole:     actor.Role,
		Body:           body,
		Status:         store.MessageStatusSent,
		CreatedAt:      time.Now(),
	}

	// Record first, then broadcast
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("recording message: %w", err)
	}

	if s.hub.OtherAttached(conversationID, actor.Username) {
		if _, err := s.store.AdvanceMessageStatus(ctx, msg.ID, store.MessageStatusDelivered); err != nil {
			s.logger.Error("failed to mark message delivered", "error", err, "message_id", msg.ID)
		} else {
			msg.Status = store.MessageStatusDelivered
		}
	}

	s.hub.Broadcast(conversationID, event.NewMessage(msg.ID, msg.Sender, msg.Body, string(msg.Status), msg.CreatedAt), "")

	s.logger.Debug("message sent",
		"conversation_id", conversationID,
		"message_id", msg.ID,
		"sender", msg.Sender,
		"status", msg.Status)

	return msg, nil
}

// MarkDelivered advances a message to DELIVERED. Backward or repeated moves
// are no-ops, not errors.
func (s *Service) MarkDelivered(ctx context.Context, messageID string) error {
	return s.advance(ctx, messageID, store.MessageStatusDelivered)
}

// MarkRead advances a message to READ on behalf of a reader. A reader never
// marks their own messages; that receipt is silently dropped.
func (s *Service) MarkRead(ctx context.Context, messageID string, reader *auth.Identity) error {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.Sender == reader.Username {
		return nil
	}
	return s.advance(ctx, messageID, store.MessageStatusRead)
}

// advance performs a forward-only status move and, when the status actually
// changed, broadcasts a lightweight update event instead of a full replay.
func (s *Service) advance(ctx context.Context, messageID string, to store.MessageStatus) error {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(msg.ConversationID)
	defer unlock()

	changed, err := s.store.AdvanceMessageStatus(ctx, messageID, to)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	s.hub.Broadcast(msg.ConversationID, event.NewMessageStatus(messageID, string(to)), "")
	return nil
}

// broadcastStatus publishes a state-change event to the conversation's
// connections and to the presence feed, so supervisor views stay consistent
// without polling.
func (s *Service) broadcastStatus(conv *store.Conversation) {
	agent := ""
	if conv.Agent != nil {
		agent = *conv.Agent
	}
	evt := event.NewConversationStatus(conv.ID, string(conv.Status), agent)
	s.hub.Broadcast(conv.ID, evt, "")
	s.hub.BroadcastPresence(evt)
}

// authorize allows the conversation's customer, its assigned agent, and any
// supervisor; everyone else is rejected.
func authorize(conv *store.Conversation, actor *auth.Identity) error {
	if actor.IsSupervisor() {
		return nil
	}
	if actor.Role == store.RoleCustomer && conv.Customer == actor.Username {
		return nil
	}
	if actor.Role == store.RoleAgent && conv.Agent != nil && *conv.Agent == actor.Username {
		return nil
	}
	return ErrNotAuthorized
}
