// Package gateway is the websocket adapter to the bot-API bridge. Events
// arrive as JSON frames; outbound replies are written on the same socket.
package gateway

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/overx-ai/gentle-man-tg-bot/core"
)

// frame is the wire format of the bridge, both directions.
type frame struct {
	Type         string `json:"type"` // message, member_joined, edited, deleted, send
	ID           string `json:"id,omitempty"`
	Conversation string `json:"conversation"`
	Sender       string `json:"sender,omitempty"`
	SenderIsBot  bool   `json:"sender_is_bot,omitempty"`
	Text         string `json:"text,omitempty"`
	ReplyTo      string `json:"reply_to,omitempty"`
	ReferenceID  string `json:"reference_id,omitempty"`
	Timestamp    int64  `json:"ts,omitempty"`
}

type Adapter struct {
	url  string
	conn *websocket.Conn

	writeMu sync.Mutex
	closed  chan struct{}
}

// New creates an adapter for the given gateway websocket URL.
func New(url string) *Adapter {
	return &Adapter{url: url, closed: make(chan struct{})}
}

func (a *Adapter) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.url, nil)
	if err != nil {
		return fmt.Errorf("dial gateway %s: %w", a.url, err)
	}
	a.conn = conn
	log.Printf("[GATEWAY] connected to %s", a.url)
	return nil
}

// Listen reads frames until the connection drops or ctx is cancelled. Frames
// with unknown types are logged and skipped.
func (a *Adapter) Listen(ctx context.Context) (<-chan core.Event, error) {
	if a.conn == nil {
		return nil, fmt.Errorf("listen: not connected")
	}

	events := make(chan core.Event, 64)
	go func() {
		defer close(events)
		for {
			var f frame
			if err := a.conn.ReadJSON(&f); err != nil {
				select {
				case <-a.closed:
				case <-ctx.Done():
				default:
					log.Printf("[GATEWAY] read failed: %v", err)
				}
				return
			}
			ev, ok := decode(f)
			if !ok {
				log.Printf("[GATEWAY] skipping frame with unknown type %q", f.Type)
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

func decode(f frame) (core.Event, bool) {
	switch f.Type {
	case "message":
		return core.TextMessage{
			ID:           f.ID,
			Conversation: f.Conversation,
			Sender:       f.Sender,
			SenderIsBot:  f.SenderIsBot,
			Text:         f.Text,
			ReplyTo:      f.ReplyTo,
			Timestamp:    time.Unix(f.Timestamp, 0),
		}, true
	case "member_joined":
		return core.MemberJoined{
			Conversation: f.Conversation,
			Sender:       f.Sender,
			Timestamp:    time.Unix(f.Timestamp, 0),
		}, true
	case "edited":
		return core.MessageEdited{ID: f.ID, Conversation: f.Conversation, NewText: f.Text}, true
	case "deleted":
		return core.MessageDeleted{ID: f.ID, Conversation: f.Conversation}, true
	default:
		return nil, false
	}
}

// Send writes an outbound reply and returns the id assigned to it. The
// gateway echoes our id back to the platform, so the engine can store its own
// reply under the same identifier.
func (a *Adapter) Send(ctx context.Context, conversation, text, referenceID string) (string, error) {
	if a.conn == nil {
		return "", fmt.Errorf("send: not connected")
	}
	id := uuid.New().String()

	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = a.conn.SetWriteDeadline(deadline)
		defer a.conn.SetWriteDeadline(time.Time{})
	}
	err := a.conn.WriteJSON(frame{
		Type:         "send",
		ID:           id,
		Conversation: conversation,
		Text:         text,
		ReferenceID:  referenceID,
		Timestamp:    time.Now().Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("send to %s: %w", conversation, err)
	}
	return id, nil
}

func (a *Adapter) Close() error {
	close(a.closed)
	if a.conn == nil {
		return nil
	}
	a.writeMu.Lock()
	_ = a.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	a.writeMu.Unlock()
	return a.conn.Close()
}
