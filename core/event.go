package core

import "time"

// Event is an inbound occurrence delivered by the transport. Delivery is
// at-least-once; handlers must treat duplicate delivery of the same event
// as idempotent.
type Event interface {
	// EventConversation scopes the event for per-conversation serialization.
	EventConversation() string
}

// TextMessage is a new message observed in a conversation.
type TextMessage struct {
	ID           string
	Conversation string
	Sender       string
	SenderIsBot  bool
	Text         string
	ReplyTo      string
	Timestamp    time.Time
}

func (e TextMessage) EventConversation() string { return e.Conversation }

// MemberJoined signals a new participant in a conversation.
type MemberJoined struct {
	Conversation string
	Sender       string
	Timestamp    time.Time
}

func (e MemberJoined) EventConversation() string { return e.Conversation }

// MessageEdited replaces the text of a previously observed message.
// NewText may be empty (media-only edit); such an edit is valid and simply
// produces no embedding.
type MessageEdited struct {
	ID           string
	Conversation string
	NewText      string
}

func (e MessageEdited) EventConversation() string { return e.Conversation }

// MessageDeleted logically removes a previously observed message.
type MessageDeleted struct {
	ID           string
	Conversation string
}

func (e MessageDeleted) EventConversation() string { return e.Conversation }
