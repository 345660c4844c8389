// ABOUTME: Store interface and data types for livedesk persistence
// ABOUTME: Defines User, Conversation, Message structs and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateUser is returned when trying to create a user whose username is taken
var ErrDuplicateUser = errors.New("username already exists")

// ErrConflict is returned when a compare-and-set update matched no rows,
// meaning another writer got there first or the entity left the expected state.
var ErrConflict = errors.New("state conflict")

// Role identifies what a user is allowed to do
type Role string

const (
	RoleCustomer   Role = "CUSTOMER"
	RoleAgent      Role = "AGENT"
	RoleSupervisor Role = "SUPERVISOR"
)

// ValidRoles lists all valid roles
var ValidRoles = []Role{RoleCustomer, RoleAgent, RoleSupervisor}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleAgent, RoleSupervisor:
		return true
	}
	return false
}

// ConversationStatus is the lifecycle state of a conversation
type ConversationStatus string

const (
	StatusOpen     ConversationStatus = "OPEN"
	StatusAssigned ConversationStatus = "ASSIGNED"
	StatusClosed   ConversationStatus = "CLOSED"
)

// MessageStatus tracks delivery progress of a message. Transitions are
// forward-only: SENT -> DELIVERED -> READ.
type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "SENT"
	MessageStatusDelivered MessageStatus = "DELIVERED"
	MessageStatusRead      MessageStatus = "READ"
)

// statusRank orders delivery statuses for forward-only comparison
var statusRank = map[MessageStatus]int{
	MessageStatusSent:      0,
	MessageStatusDelivered: 1,
	MessageStatusRead:      2,
}

// Before reports whether s precedes other in the delivery sequence.
func (s MessageStatus) Before(other MessageStatus) bool {
	return statusRank[s] < statusRank[other]
}

// User is an authenticated identity with a role. Usernames are unique and
// serve as the identity key on the wire and in presence tracking.
type User struct {
	ID           string
	Username     string
	Role         Role
	PasswordHash string
	CreatedAt    time.Time
}

// Conversation is a bounded support session between a customer and at most
// one agent. Agent is set if and only if the conversation has been accepted.
type Conversation struct {
	ID        string
	Customer  string // customer username
	Agent     *string
	Status    ConversationStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one entry in a conversation's append-only log
type Message struct {
	ID             string
	ConversationID string
	Sender         string // sender username
	SenderRole     Role
	Body           string
	Status         MessageStatus
	CreatedAt      time.Time
}

// Store defines the interface for livedesk persistence
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	GetOpenConversationByCustomer(ctx context.Context, customer string) (*Conversation, error)
	ListConversationsByCustomer(ctx context.Context, customer string) ([]*Conversation, error)
	ListConversationsForAgent(ctx context.Context, agent string) ([]*Conversation, error)
	ListActiveConversations(ctx context.Context) ([]*Conversation, error)

	// AcceptConversation atomically moves an OPEN conversation to ASSIGNED and
	// records the agent. Returns ErrConflict if the conversation is no longer
	// OPEN, ErrNotFound if it does not exist.
	AcceptConversation(ctx context.Context, id, agent string) error

	// CloseConversation atomically moves an OPEN or ASSIGNED conversation to
	// CLOSED. Returns ErrConflict if it is already CLOSED, ErrNotFound if it
	// does not exist.
	CloseConversation(ctx context.Context, id string) error

	// Messages (append-only log)
	SaveMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)

	// AdvanceMessageStatus moves a message's delivery status forward. Backward
	// or same-state moves are a no-op and report changed=false.
	AdvanceMessageStatus(ctx context.Context, id string, to MessageStatus) (changed bool, err error)

	// Close releases any resources held by the store
	Close() error
}
