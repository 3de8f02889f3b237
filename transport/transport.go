// Package transport defines the boundary to the messaging platform. The core
// only sees typed events in and a send call out; connection management,
// retries and platform formats live in the adapter implementations.
package transport

import (
	"context"

	"github.com/overx-ai/gentle-man-tg-bot/core"
)

// Dispatcher delivers outbound replies. referenceID, when non-empty, lets the
// platform render the reply as a backlink to that message.
type Dispatcher interface {
	Send(ctx context.Context, conversation, text, referenceID string) (outboundID string, err error)
}

// Adapter is a full platform connection. Listen must only be called after
// Connect; the returned channel closes when the context is cancelled or the
// adapter is closed.
type Adapter interface {
	Connect(ctx context.Context) error
	Listen(ctx context.Context) (<-chan core.Event, error)
	Dispatcher
	Close() error
}
