// Package engine runs the per-event pipeline: store append, state update,
// gate decision, context retrieval, response assembly and outbound dispatch.
// Each inbound event is an independently schedulable unit of work; within one
// conversation handling is serialized end-to-end by a per-conversation lock,
// while different conversations proceed fully in parallel.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/overx-ai/gentle-man-tg-bot/core"
	"github.com/overx-ai/gentle-man-tg-bot/embed"
	"github.com/overx-ai/gentle-man-tg-bot/gate"
	"github.com/overx-ai/gentle-man-tg-bot/history"
	"github.com/overx-ai/gentle-man-tg-bot/respond"
	"github.com/overx-ai/gentle-man-tg-bot/retrieval"
	"github.com/overx-ai/gentle-man-tg-bot/state"
	"github.com/overx-ai/gentle-man-tg-bot/transport"
	"github.com/overx-ai/gentle-man-tg-bot/vector"
)

// Config identifies the bot and bounds the pipeline.
type Config struct {
	// BotID is the bot's own sender identifier; BotUsername is matched for
	// @-mentions.
	BotID       string
	BotUsername string

	// RetrieveK is how many similar messages ground a reply. Default 6.
	RetrieveK int

	// RecentLimit is how much recent history joins the prompt. Default 6.
	RecentLimit int

	// EmbedTimeout bounds embedding of newly stored messages. Default 5s.
	EmbedTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.RetrieveK == 0 {
		c.RetrieveK = 6
	}
	if c.RecentLimit == 0 {
		c.RecentLimit = 6
	}
	if c.EmbedTimeout == 0 {
		c.EmbedTimeout = 5 * time.Second
	}
}

type Engine struct {
	cfg        Config
	store      *history.Store
	index      vector.Index
	states     *state.Tracker
	gate       *gate.Gate
	retriever  *retrieval.Retriever
	assembler  *respond.Assembler
	dispatcher transport.Dispatcher
	embedder   embed.Embedder

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	closed map[string]struct{}
}

func New(cfg Config, store *history.Store, index vector.Index, states *state.Tracker,
	g *gate.Gate, retriever *retrieval.Retriever, assembler *respond.Assembler,
	dispatcher transport.Dispatcher, embedder embed.Embedder) *Engine {
	cfg.applyDefaults()
	return &Engine{
		cfg:        cfg,
		store:      store,
		index:      index,
		states:     states,
		gate:       g,
		retriever:  retriever,
		assembler:  assembler,
		dispatcher: dispatcher,
		embedder:   embedder,
		locks:      make(map[string]*sync.Mutex),
		closed:     make(map[string]struct{}),
	}
}

func (e *Engine) lockFor(conv string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	mu, ok := e.locks[conv]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[conv] = mu
	}
	return mu
}

func (e *Engine) isClosed(conv string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.closed[conv]
	return ok
}

// CloseConversation stops scheduling work for a torn-down conversation.
// In-flight handling is allowed to complete.
func (e *Engine) CloseConversation(conv string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed[conv] = struct{}{}
	log.Printf("[ENGINE] conversation %s closed", conv)
}

// HandleEvent processes one inbound event. Errors are scoped to the event's
// conversation; a failure here never affects another conversation.
func (e *Engine) HandleEvent(ctx context.Context, ev core.Event) error {
	conv := ev.EventConversation()
	if conv == "" {
		return fmt.Errorf("event without conversation")
	}
	if e.isClosed(conv) {
		log.Printf("[ENGINE] dropping event for closed conversation %s", conv)
		return nil
	}

	mu := e.lockFor(conv)
	mu.Lock()
	defer mu.Unlock()

	switch ev := ev.(type) {
	case core.TextMessage:
		return e.handleText(ctx, ev)
	case core.MemberJoined:
		return e.handleJoin(ctx, ev)
	case core.MessageEdited:
		return e.handleEdit(ctx, ev)
	case core.MessageDeleted:
		return e.store.MarkDeleted(ev.Conversation, ev.ID)
	default:
		return fmt.Errorf("unknown event type %T", ev)
	}
}

func (e *Engine) handleText(ctx context.Context, ev core.TextMessage) error {
	rec := &core.Message{
		ID:           ev.ID,
		Conversation: ev.Conversation,
		Sender:       ev.Sender,
		SenderIsBot:  ev.SenderIsBot,
		Text:         ev.Text,
		ReplyTo:      ev.ReplyTo,
		Timestamp:    ev.Timestamp,
	}

	seq, err := e.store.Append(rec)
	if err != nil {
		if errors.Is(err, core.ErrDuplicateID) {
			if prev, ok := e.store.Get(ev.Conversation, ev.ID); ok && prev.Text == ev.Text {
				// At-least-once transport redelivery: already stored,
				// already indexed, nothing to do.
				log.Printf("[ENGINE] duplicate delivery of %s/%s ignored", ev.Conversation, ev.ID)
				return nil
			}
		}
		return fmt.Errorf("store message: %w", err)
	}

	e.states.RecordParticipant(ev.Conversation, ev.Sender)
	if e.states.Language(ev.Conversation) == "" {
		e.states.SetLanguage(ev.Conversation, state.DetectLanguage(ev.Text))
	}

	e.indexMessage(ctx, rec, seq)

	decision := e.gate.Decide(ev.Conversation, gate.Signals{
		Mention:    gate.Mentions(ev.Text, e.cfg.BotUsername),
		ReplyToBot: e.replyTargetsBot(ev),
		Automated:  ev.SenderIsBot,
	})
	if !decision.Respond {
		return nil
	}
	log.Printf("[GATE] responding in %s to %s (reason: %s)", ev.Conversation, ev.ID, decision.Reason)

	retrieved := e.retriever.Retrieve(ctx, *rec, e.cfg.RetrieveK)

	reply, err := e.assembler.Respond(ctx, &respond.PromptContext{
		Trigger:   *rec,
		Retrieved: retrieved,
		Recent:    e.recentExcluding(ev.Conversation, ev.ID),
		Language:  e.states.Language(ev.Conversation),
		Reason:    decision.Reason,
		Sender:    ev.Sender,
	})
	if err != nil {
		return fmt.Errorf("respond in %s: %w", ev.Conversation, err)
	}

	return e.dispatch(ctx, ev.Conversation, reply)
}

func (e *Engine) handleJoin(ctx context.Context, ev core.MemberJoined) error {
	e.states.RecordParticipant(ev.Conversation, ev.Sender)

	decision := e.gate.DecideJoin(ev.Conversation)
	if !decision.Respond {
		return nil
	}
	log.Printf("[GATE] greeting new member %s in %s", ev.Sender, ev.Conversation)

	reply, err := e.assembler.Greet(ctx, e.states.Language(ev.Conversation),
		e.states.Participants(ev.Conversation))
	if err != nil {
		return fmt.Errorf("greet in %s: %w", ev.Conversation, err)
	}
	return e.dispatch(ctx, ev.Conversation, reply)
}

// handleEdit re-keys the message content: the store invalidates the old index
// entry synchronously, then a fresh embedding is computed for the new text.
// An edit to empty text is valid and simply leaves the message unindexed.
func (e *Engine) handleEdit(ctx context.Context, ev core.MessageEdited) error {
	if err := e.store.MarkEdited(ev.Conversation, ev.ID, ev.NewText); err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	if ev.NewText == "" {
		return nil
	}
	if rec, ok := e.store.Get(ev.Conversation, ev.ID); ok {
		e.indexMessage(ctx, &rec, rec.Seq)
	}
	return nil
}

// indexMessage embeds and upserts one stored message. Failures are logged and
// left for the rebuild pass; they never fail event handling.
func (e *Engine) indexMessage(ctx context.Context, rec *core.Message, seq uint64) {
	if rec.Text == "" {
		return
	}
	ectx, cancel := context.WithTimeout(ctx, e.cfg.EmbedTimeout)
	defer cancel()

	vec, err := e.embedder.Embed(ectx, rec.Text)
	if err != nil {
		log.Printf("[ENGINE] embedding %s/%s failed, leaving unindexed: %v", rec.Conversation, rec.ID, err)
		return
	}
	if err := e.store.AttachEmbedding(rec.Conversation, rec.ID, vec); err != nil {
		log.Printf("[ENGINE] attach embedding %s/%s: %v", rec.Conversation, rec.ID, err)
		return
	}
	rec.Embedding = vec
	if err := e.index.Upsert(ctx, rec.Conversation, rec.ID, seq, vec); err != nil {
		log.Printf("[ENGINE] index upsert %s/%s: %v", rec.Conversation, rec.ID, err)
	}
}

// replyTargetsBot reports whether the event replies to a message the bot
// itself authored.
func (e *Engine) replyTargetsBot(ev core.TextMessage) bool {
	if ev.ReplyTo == "" {
		return false
	}
	target, ok := e.store.Get(ev.Conversation, ev.ReplyTo)
	return ok && target.Sender == e.cfg.BotID
}

func (e *Engine) recentExcluding(conv, triggerID string) []core.Message {
	recent := e.store.Recent(conv, e.cfg.RecentLimit+1)
	out := recent[:0]
	for _, msg := range recent {
		if msg.ID == triggerID {
			continue
		}
		out = append(out, msg)
	}
	if len(out) > e.cfg.RecentLimit {
		out = out[:e.cfg.RecentLimit]
	}
	return out
}

// dispatch sends the reply and records it in history and the index, so later
// replies to it satisfy the reply-chain rule.
func (e *Engine) dispatch(ctx context.Context, conv string, reply *respond.Reply) error {
	outID, err := e.dispatcher.Send(ctx, conv, reply.Text, reply.ReferenceID)
	if err != nil {
		return fmt.Errorf("dispatch to %s: %w", conv, err)
	}

	own := &core.Message{
		ID:           outID,
		Conversation: conv,
		Sender:       e.cfg.BotID,
		SenderIsBot:  true,
		Text:         reply.Text,
		ReplyTo:      reply.ReferenceID,
		Timestamp:    time.Now(),
	}
	seq, err := e.store.Append(own)
	if err != nil {
		log.Printf("[ENGINE] storing own reply %s/%s: %v", conv, outID, err)
		return nil
	}
	e.states.RecordParticipant(conv, e.cfg.BotID)
	e.indexMessage(ctx, own, seq)
	return nil
}

// Rebuild restores the vector index from the message store on cold start:
// every active message lacking an embedding is re-embedded, anything with a
// vector already attached is upserted directly. Corrupt or failing entries
// are skipped with a warning, never fatal.
func (e *Engine) Rebuild(ctx context.Context) error {
	var indexed, skipped int
	for _, conv := range e.store.Conversations() {
		for _, msg := range e.store.Active(conv) {
			if msg.Text == "" {
				continue
			}
			vec := msg.Embedding
			if vec == nil {
				ectx, cancel := context.WithTimeout(ctx, e.cfg.EmbedTimeout)
				var err error
				vec, err = e.embedder.Embed(ectx, msg.Text)
				cancel()
				if err != nil {
					log.Printf("[ENGINE] rebuild: skipping %s/%s: %v", conv, msg.ID, err)
					skipped++
					continue
				}
				if err := e.store.AttachEmbedding(conv, msg.ID, vec); err != nil {
					log.Printf("[ENGINE] rebuild: attach %s/%s: %v", conv, msg.ID, err)
				}
			} else if len(vec) != e.embedder.Dimensions() {
				log.Printf("[ENGINE] rebuild: skipping %s/%s: corrupt embedding (%d dims)", conv, msg.ID, len(vec))
				skipped++
				continue
			}
			if err := e.index.Upsert(ctx, conv, msg.ID, msg.Seq, vec); err != nil {
				log.Printf("[ENGINE] rebuild: upsert %s/%s: %v", conv, msg.ID, err)
				skipped++
				continue
			}
			indexed++
		}
		if ctx.Err() != nil {
			return fmt.Errorf("rebuild interrupted: %w", ctx.Err())
		}
	}
	log.Printf("[ENGINE] index rebuild complete: %d indexed, %d skipped", indexed, skipped)
	return nil
}
