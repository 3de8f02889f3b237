package engine_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/overx-ai/gentle-man-tg-bot/core"
	"github.com/overx-ai/gentle-man-tg-bot/embed"
	"github.com/overx-ai/gentle-man-tg-bot/embed/mock"
	"github.com/overx-ai/gentle-man-tg-bot/engine"
	"github.com/overx-ai/gentle-man-tg-bot/gate"
	"github.com/overx-ai/gentle-man-tg-bot/history"
	"github.com/overx-ai/gentle-man-tg-bot/respond"
	"github.com/overx-ai/gentle-man-tg-bot/retrieval"
	"github.com/overx-ai/gentle-man-tg-bot/state"
	chromemindex "github.com/overx-ai/gentle-man-tg-bot/vector/chromem"
)

// recordingDispatcher collects outbound sends and mints sequential ids.
type recordingDispatcher struct {
	mu    sync.Mutex
	sends []sentReply
}

type sentReply struct {
	Conversation string
	Text         string
	ReferenceID  string
}

func (d *recordingDispatcher) Send(ctx context.Context, conversation, text, referenceID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sends = append(d.sends, sentReply{conversation, text, referenceID})
	return fmt.Sprintf("bot-%d", len(d.sends)), nil
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sends)
}

func (d *recordingDispatcher) last() sentReply {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sends[len(d.sends)-1]
}

// capturingGenerator records the prompts it was asked to answer.
type capturingGenerator struct {
	mu      sync.Mutex
	prompts []string
}

func (g *capturingGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	return "a reply", nil
}

func (g *capturingGenerator) lastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}

// delayingEmbedder widens the race window in concurrency tests.
type delayingEmbedder struct {
	inner embed.Embedder
	delay time.Duration
}

func (d *delayingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	time.Sleep(d.delay)
	return d.inner.Embed(ctx, text)
}

func (d *delayingEmbedder) Dimensions() int { return d.inner.Dimensions() }

type fixture struct {
	eng        *engine.Engine
	store      *history.Store
	states     *state.Tracker
	dispatcher *recordingDispatcher
	generator  *capturingGenerator
	index      *chromemindex.Index
	embedder   embed.Embedder
}

func newFixture(embedder embed.Embedder) *fixture {
	if embedder == nil {
		embedder = mock.New(8)
	}
	index := chromemindex.New()
	store := history.New(index)
	states := state.NewTracker()
	g := gate.New(gate.DefaultPolicy(), states)
	retriever := retrieval.New(store, index, embedder, time.Second)
	generator := &capturingGenerator{}
	assembler := respond.NewAssembler(generator, time.Second, 0)
	dispatcher := &recordingDispatcher{}

	eng := engine.New(engine.Config{
		BotID:       "bot-id",
		BotUsername: "gentlebot",
	}, store, index, states, g, retriever, assembler, dispatcher, embedder)

	return &fixture{eng, store, states, dispatcher, generator, index, embedder}
}

func textEvent(id, sender, text string) core.TextMessage {
	return core.TextMessage{
		ID: id, Conversation: "c1", Sender: sender, Text: text, Timestamp: time.Now(),
	}
}

func TestMentionProducesReply(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	ev := textEvent("m1", "alice", "hey @gentlebot, thoughts?")
	if err := f.eng.HandleEvent(ctx, ev); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if f.dispatcher.count() != 1 {
		t.Fatalf("expected 1 dispatch, got %d", f.dispatcher.count())
	}
	sent := f.dispatcher.last()
	if sent.ReferenceID != "m1" || sent.Conversation != "c1" {
		t.Fatalf("unexpected send: %+v", sent)
	}

	// The bot's own reply lands in history so later reply-chains resolve.
	own, ok := f.store.Get("c1", "bot-1")
	if !ok || own.Sender != "bot-id" || !own.SenderIsBot {
		t.Fatalf("own reply not stored: %+v ok=%v", own, ok)
	}
}

func TestPlainMessageStoredButIgnored(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	if err := f.eng.HandleEvent(ctx, textEvent("m1", "alice", "just chatting")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if f.dispatcher.count() != 0 {
		t.Fatalf("plain message dispatched %d replies", f.dispatcher.count())
	}
	if _, ok := f.store.Get("c1", "m1"); !ok {
		t.Fatal("message not stored")
	}
}

func TestDuplicateDeliveryIsIdempotent(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	ev := textEvent("m1", "alice", "hello @gentlebot")
	if err := f.eng.HandleEvent(ctx, ev); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := f.eng.HandleEvent(ctx, ev); err != nil {
		t.Fatalf("redelivery must succeed silently: %v", err)
	}

	// One user message, one bot reply, no second response.
	if n := len(f.store.Active("c1")); n != 2 {
		t.Fatalf("active messages = %d, want 2", n)
	}
	if f.dispatcher.count() != 1 {
		t.Fatalf("dispatches = %d, want 1", f.dispatcher.count())
	}

	// Same id with different text is a real conflict, not a redelivery.
	conflict := ev
	conflict.Text = "entirely different"
	if err := f.eng.HandleEvent(ctx, conflict); err == nil {
		t.Fatal("conflicting reuse of an id must fail")
	}
}

func TestReplyChainToOwnMessage(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	if err := f.eng.HandleEvent(ctx, textEvent("m1", "alice", "@gentlebot hello")); err != nil {
		t.Fatalf("mention: %v", err)
	}

	// alice replies to the bot's message without mentioning it.
	reply := textEvent("m2", "alice", "interesting, tell me more")
	reply.ReplyTo = "bot-1"
	if err := f.eng.HandleEvent(ctx, reply); err != nil {
		t.Fatalf("reply: %v", err)
	}
	if f.dispatcher.count() != 2 {
		t.Fatalf("dispatches = %d, want 2 (reply-chain must fire)", f.dispatcher.count())
	}

	// Replying to another user's message does not trigger.
	other := textEvent("m3", "bob", "sure")
	other.ReplyTo = "m2"
	if err := f.eng.HandleEvent(ctx, other); err != nil {
		t.Fatalf("other reply: %v", err)
	}
	if f.dispatcher.count() != 2 {
		t.Fatalf("reply to a non-bot message must not trigger, got %d dispatches", f.dispatcher.count())
	}
}

func TestCadenceUnderParallelLoad(t *testing.T) {
	f := newFixture(&delayingEmbedder{inner: mock.New(8), delay: time.Millisecond})
	ctx := context.Background()

	const n = 10 // two full cadence cycles at the default of 5
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev := textEvent(fmt.Sprintf("a%d", i), "newsbot", "automated update")
			ev.SenderIsBot = true
			if err := f.eng.HandleEvent(ctx, ev); err != nil {
				t.Errorf("event a%d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if got := f.dispatcher.count(); got != 2 {
		t.Fatalf("dispatches = %d, want exactly 2 for %d automated messages", got, n)
	}
	if c := f.states.AutomatedCount("c1"); c != 0 {
		t.Fatalf("counter = %d, want 0 after two full cycles", c)
	}
}

func TestDeletedMessageNeverEntersContext(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	if err := f.eng.HandleEvent(ctx, textEvent("m1", "alice", "the harbor was quiet")); err != nil {
		t.Fatalf("m1: %v", err)
	}
	if err := f.eng.HandleEvent(ctx, textEvent("m2", "bob", "secret pineapple protocol")); err != nil {
		t.Fatalf("m2: %v", err)
	}
	if err := f.eng.HandleEvent(ctx, core.MessageDeleted{ID: "m2", Conversation: "c1"}); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if err := f.eng.HandleEvent(ctx, textEvent("m3", "alice", "@gentlebot what did we discuss?")); err != nil {
		t.Fatalf("mention: %v", err)
	}
	prompt := f.generator.lastPrompt()
	if strings.Contains(prompt, "secret pineapple") {
		t.Fatalf("deleted message leaked into the prompt:\n%s", prompt)
	}
	if !strings.Contains(prompt, "the harbor was quiet") {
		t.Fatalf("surviving history missing from the prompt:\n%s", prompt)
	}
}

func TestEditReplacesContext(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	if err := f.eng.HandleEvent(ctx, textEvent("m1", "alice", "the old draft wording")); err != nil {
		t.Fatalf("m1: %v", err)
	}
	if err := f.eng.HandleEvent(ctx, core.MessageEdited{ID: "m1", Conversation: "c1", NewText: "the corrected wording"}); err != nil {
		t.Fatalf("edit: %v", err)
	}

	if err := f.eng.HandleEvent(ctx, textEvent("m2", "bob", "@gentlebot summarize please")); err != nil {
		t.Fatalf("mention: %v", err)
	}
	prompt := f.generator.lastPrompt()
	if strings.Contains(prompt, "old draft wording") {
		t.Fatalf("pre-edit text leaked into the prompt:\n%s", prompt)
	}
	if !strings.Contains(prompt, "the corrected wording") {
		t.Fatalf("edited text missing from the prompt:\n%s", prompt)
	}
}

func TestEditToEmptyTextIsValid(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	if err := f.eng.HandleEvent(ctx, textEvent("m1", "alice", "caption")); err != nil {
		t.Fatalf("m1: %v", err)
	}
	if err := f.eng.HandleEvent(ctx, core.MessageEdited{ID: "m1", Conversation: "c1", NewText: ""}); err != nil {
		t.Fatalf("empty edit must be valid: %v", err)
	}
	rec, _ := f.store.Get("c1", "m1")
	if rec.Text != "" || rec.Lifecycle != core.LifecycleEdited {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestJoinGreeting(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	if err := f.eng.HandleEvent(ctx, core.MemberJoined{Conversation: "c1", Sender: "carol", Timestamp: time.Now()}); err != nil {
		t.Fatalf("join: %v", err)
	}
	if f.dispatcher.count() != 1 {
		t.Fatalf("dispatches = %d, want 1", f.dispatcher.count())
	}
	if ref := f.dispatcher.last().ReferenceID; ref != "" {
		t.Fatalf("greeting must not reference a message, got %q", ref)
	}
}

func TestClosedConversationDropsEvents(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	f.eng.CloseConversation("c1")
	if err := f.eng.HandleEvent(ctx, textEvent("m1", "alice", "@gentlebot hello")); err != nil {
		t.Fatalf("closed conversation event must drop cleanly: %v", err)
	}
	if f.dispatcher.count() != 0 {
		t.Fatal("closed conversation still dispatched")
	}
	if _, ok := f.store.Get("c1", "m1"); ok {
		t.Fatal("closed conversation still stored the message")
	}
}

func TestRebuildRestoresIndex(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	// Messages stored without embeddings, as after a cold restore.
	for i, text := range []string{"fishing at dawn", "tea ceremony notes"} {
		if _, err := f.store.Append(&core.Message{
			ID: fmt.Sprintf("m%d", i), Conversation: "c1", Sender: "alice", Text: text,
		}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	if err := f.eng.Rebuild(ctx); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	vec, err := f.embedder.Embed(ctx, "fishing at dawn")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	hits, err := f.index.Query(ctx, "c1", vec, 1, "")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "m0" {
		t.Fatalf("rebuilt index did not find m0: %+v", hits)
	}

	// Embeddings were attached back onto the store records.
	rec, _ := f.store.Get("c1", "m0")
	if rec.Embedding == nil {
		t.Fatal("rebuild did not attach the embedding")
	}
}

func TestLanguageDetectedFromFirstMessage(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	if err := f.eng.HandleEvent(ctx, textEvent("m1", "alice", "привет всем в этом чате")); err != nil {
		t.Fatalf("m1: %v", err)
	}
	if err := f.eng.HandleEvent(ctx, textEvent("m2", "bob", "hello everyone")); err != nil {
		t.Fatalf("m2: %v", err)
	}
	if lang := f.states.Language("c1"); lang != "ru" {
		t.Fatalf("language = %q, want ru from the first message", lang)
	}
}
