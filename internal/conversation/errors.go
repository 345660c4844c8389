// ABOUTME: Sentinel errors for conversation lifecycle and access decisions
// ABOUTME: Checked with errors.Is by the API and websocket layers

package conversation

import "errors"

// ErrInvalidTransition is returned when a lifecycle transition is attempted
// from a state that forbids it. The conversation is left unchanged.
var ErrInvalidTransition = errors.New("invalid transition")

// ErrAlreadyAssigned is returned when accepting a conversation another agent
// already holds, including the loser of a concurrent accept race.
var ErrAlreadyAssigned = errors.New("conversation already assigned")

// ErrNotAuthorized is returned when an identity may not attach to or act on
// a conversation.
var ErrNotAuthorized = errors.New("not authorized for this conversation")

// ErrConversationClosed is returned when sending to a CLOSED conversation.
var ErrConversationClosed = errors.New("conversation closed")
