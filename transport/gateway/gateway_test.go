package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/overx-ai/gentle-man-tg-bot/core"
)

func TestDecodeFrames(t *testing.T) {
	ev, ok := decode(frame{Type: "message", ID: "m1", Conversation: "c1",
		Sender: "alice", Text: "hi", ReplyTo: "m0", Timestamp: 1700000000})
	if !ok {
		t.Fatal("message frame not decoded")
	}
	msg, ok := ev.(core.TextMessage)
	if !ok || msg.ID != "m1" || msg.ReplyTo != "m0" || msg.Sender != "alice" {
		t.Fatalf("unexpected event: %+v", ev)
	}

	ev, ok = decode(frame{Type: "member_joined", Conversation: "c1", Sender: "bob"})
	if !ok {
		t.Fatal("join frame not decoded")
	}
	if _, isJoin := ev.(core.MemberJoined); !isJoin {
		t.Fatalf("unexpected event: %+v", ev)
	}

	ev, ok = decode(frame{Type: "edited", ID: "m1", Conversation: "c1", Text: "new"})
	if !ok {
		t.Fatal("edit frame not decoded")
	}
	if edit, isEdit := ev.(core.MessageEdited); !isEdit || edit.NewText != "new" {
		t.Fatalf("unexpected event: %+v", ev)
	}

	ev, ok = decode(frame{Type: "deleted", ID: "m1", Conversation: "c1"})
	if !ok {
		t.Fatal("delete frame not decoded")
	}
	if _, isDel := ev.(core.MessageDeleted); !isDel {
		t.Fatalf("unexpected event: %+v", ev)
	}

	if _, ok := decode(frame{Type: "sticker_set_changed"}); ok {
		t.Fatal("unknown frame type must be rejected")
	}
}

func TestRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan frame, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		// Push one inbound event, then wait for the bot's reply frame.
		if err := conn.WriteJSON(frame{Type: "message", ID: "m1", Conversation: "c1",
			Sender: "alice", Text: "hello bot", Timestamp: time.Now().Unix()}); err != nil {
			t.Errorf("write event: %v", err)
			return
		}
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			t.Errorf("read reply: %v", err)
			return
		}
		received <- f
	}))
	defer srv.Close()

	a := New("ws" + strings.TrimPrefix(srv.URL, "http"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer a.Close()

	events, err := a.Listen(ctx)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	select {
	case ev := <-events:
		msg, ok := ev.(core.TextMessage)
		if !ok || msg.ID != "m1" || msg.Text != "hello bot" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-ctx.Done():
		t.Fatal("no event arrived")
	}

	outID, err := a.Send(ctx, "c1", "hello alice", "m1")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if outID == "" {
		t.Fatal("send returned an empty id")
	}

	select {
	case f := <-received:
		if f.Type != "send" || f.ID != outID || f.ReferenceID != "m1" || f.Text != "hello alice" {
			t.Fatalf("unexpected outbound frame: %+v", f)
		}
	case <-ctx.Done():
		t.Fatal("server never received the reply frame")
	}
}

func TestSendBeforeConnect(t *testing.T) {
	a := New("ws://nowhere.invalid")
	if _, err := a.Send(context.Background(), "c1", "hi", ""); err == nil {
		t.Fatal("send without a connection must fail")
	}
	if _, err := a.Listen(context.Background()); err == nil {
		t.Fatal("listen without a connection must fail")
	}
}
