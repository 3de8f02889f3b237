package core

import "time"

// Lifecycle tracks what happened to a message after it was first observed.
// Deleted and edited messages stay in the log; only their retrievability
// changes.
type Lifecycle int

const (
	LifecycleActive Lifecycle = iota
	LifecycleEdited
	LifecycleDeleted
)

func (l Lifecycle) String() string {
	switch l {
	case LifecycleActive:
		return "active"
	case LifecycleEdited:
		return "edited"
	case LifecycleDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Message is one observed event in a conversation. The history store owns the
// canonical record; the vector index only holds a copy of the embedding plus
// the (conversation, id) reference.
type Message struct {
	// ID is the transport-assigned identifier, unique within Conversation.
	ID           string
	Conversation string
	Sender       string
	SenderIsBot  bool

	// Text is empty for non-text events (stickers, media).
	Text string

	// ReplyTo references another message in the same conversation, if any.
	ReplyTo string

	// Seq is the store-assigned arrival position, strictly increasing per
	// conversation. It is the tie-break source for similarity ranking, not
	// Timestamp, which may arrive out of order under transport redelivery.
	Seq uint64

	Timestamp time.Time
	Lifecycle Lifecycle

	// Embedding is nil until computed. Once set it is immutable; an edit
	// clears it and a fresh vector is computed for the new text.
	Embedding []float32
}
