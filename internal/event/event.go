// ABOUTME: Wire protocol events exchanged over conversation and presence channels
// ABOUTME: Every event carries an explicit type tag; payload shape is never inferred

package event

import "time"

// Type tags an event on the wire. Inbound events without a known type are
// rejected rather than guessed at from payload shape.
type Type string

const (
	// Conversation channel, both directions
	TypeMessage     Type = "message"
	TypeTypingStart Type = "typing.start"
	TypeTypingStop  Type = "typing.stop"

	// Conversation channel, inbound only: read receipt for a message
	TypeMessageRead Type = "message.read"

	// Conversation channel, outbound only
	TypeMessageStatus      Type = "message.status"
	TypeConversationStatus Type = "conversation.status"

	// Presence channel, outbound only
	TypePresenceSnapshot Type = "presence.snapshot"
	TypePresenceOnline   Type = "presence.online"
	TypePresenceOffline  Type = "presence.offline"

	// Rejected-event signal sent back to the originating connection
	TypeError Type = "error"
)

// OnlineUser is one entry in a presence snapshot
type OnlineUser struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// Event is the envelope for everything sent over a live channel.
// Only the fields relevant to the tagged type are populated.
type Event struct {
	Type Type `json:"type"`

	// Message fields (message, message.read, message.status)
	MessageID string `json:"message_id,omitempty"`
	Sender    string `json:"sender,omitempty"`
	Content   string `json:"content,omitempty"`
	Status    string `json:"status,omitempty"`

	// Conversation fields (conversation.status)
	ConversationID string `json:"conversation_id,omitempty"`
	Agent          string `json:"agent,omitempty"`

	// Typing and presence fields
	User string `json:"user,omitempty"`
	Role string `json:"role,omitempty"`

	// Presence snapshot
	Users []OnlineUser `json:"users,omitempty"`

	// Error fields (rejected-event signal)
	Code   string `json:"code,omitempty"`
	Detail string `json:"detail,omitempty"`

	Timestamp time.Time `json:"timestamp,omitzero"`
}

// NewMessage builds the broadcast form of a chat message.
func NewMessage(id, sender, content, status string, ts time.Time) *Event {
	return &Event{
		Type:      TypeMessage,
		MessageID: id,
		Sender:    sender,
		Content:   content,
		Status:    status,
		Timestamp: ts,
	}
}

// NewMessageStatus builds a lightweight delivery-status update.
func NewMessageStatus(messageID, status string) *Event {
	return &Event{
		Type:      TypeMessageStatus,
		MessageID: messageID,
		Status:    status,
		Timestamp: time.Now(),
	}
}

// NewConversationStatus announces a lifecycle transition.
func NewConversationStatus(conversationID, status, agent string) *Event {
	return &Event{
		Type:           TypeConversationStatus,
		ConversationID: conversationID,
		Status:         status,
		Agent:          agent,
		Timestamp:      time.Now(),
	}
}

// NewTyping builds a typing.start or typing.stop event for a user.
func NewTyping(t Type, user string) *Event {
	return &Event{Type: t, User: user, Timestamp: time.Now()}
}

// NewPresenceOnline announces a user coming online.
func NewPresenceOnline(user, role string) *Event {
	return &Event{Type: TypePresenceOnline, User: user, Role: role, Timestamp: time.Now()}
}

// NewPresenceOffline announces a user going offline.
func NewPresenceOffline(user string) *Event {
	return &Event{Type: TypePresenceOffline, User: user, Timestamp: time.Now()}
}

// NewPresenceSnapshot seeds a newly attached presence-feed connection.
func NewPresenceSnapshot(users []OnlineUser) *Event {
	return &Event{Type: TypePresenceSnapshot, Users: users, Timestamp: time.Now()}
}

// NewError builds a rejected-event signal for the originating connection.
func NewError(code, detail string) *Event {
	return &Event{Type: TypeError, Code: code, Detail: detail, Timestamp: time.Now()}
}
