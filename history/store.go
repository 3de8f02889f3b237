// Package history keeps the ordered, append-only message log per
// conversation. The store owns the canonical message records; edits and
// deletions are soft and synchronously invalidate the corresponding vector
// index entry so a query executed after the call returns never sees stale
// content.
package history

import (
	"fmt"
	"log"
	"sync"

	"github.com/overx-ai/gentle-man-tg-bot/core"
)

// Invalidator is the side of the vector index the store drives. Edit
// invalidates the old entry (a fresh embedding is computed afterwards);
// delete invalidates only.
type Invalidator interface {
	Invalidate(conversation, id string)
}

// Store is the in-memory message log. The registry lock is held only for
// conversation lookup; each conversation log carries its own lock, so one
// conversation's reads proceed alongside another conversation's writes.
type Store struct {
	mu    sync.RWMutex
	convs map[string]*conversationLog
	inv   Invalidator
}

type conversationLog struct {
	mu      sync.RWMutex
	records []*core.Message
	byID    map[string]*core.Message
	nextSeq uint64
}

// New creates an empty store. inv may be nil (no index wired, e.g. tests).
func New(inv Invalidator) *Store {
	return &Store{
		convs: make(map[string]*conversationLog),
		inv:   inv,
	}
}

func (s *Store) logFor(conversation string) *conversationLog {
	s.mu.RLock()
	cl, ok := s.convs[conversation]
	s.mu.RUnlock()
	if ok {
		return cl
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cl, ok := s.convs[conversation]; ok {
		return cl
	}
	cl = &conversationLog{
		byID:    make(map[string]*core.Message),
		nextSeq: 1,
	}
	s.convs[conversation] = cl
	return cl
}

// Append stores a new record and assigns its sequence position, which
// strictly reflects arrival-processing order within the conversation.
// Reusing an identifier fails with core.ErrDuplicateID.
func (s *Store) Append(rec *core.Message) (uint64, error) {
	if rec.ID == "" || rec.Conversation == "" {
		return 0, fmt.Errorf("append: missing id or conversation")
	}
	cl := s.logFor(rec.Conversation)

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.byID[rec.ID]; exists {
		return 0, fmt.Errorf("append %s/%s: %w", rec.Conversation, rec.ID, core.ErrDuplicateID)
	}

	rec.Seq = cl.nextSeq
	cl.nextSeq++
	rec.Lifecycle = core.LifecycleActive
	cl.records = append(cl.records, rec)
	cl.byID[rec.ID] = rec
	return rec.Seq, nil
}

// MarkEdited replaces the text of an existing message, clears its embedding
// and invalidates its index entry. Editing a deleted message fails with
// core.ErrInvalidStateTransition; the caller computes the new embedding.
func (s *Store) MarkEdited(conversation, id, newText string) error {
	cl := s.logFor(conversation)

	cl.mu.Lock()
	rec, ok := cl.byID[id]
	if !ok {
		cl.mu.Unlock()
		return fmt.Errorf("edit %s/%s: message not found", conversation, id)
	}
	if rec.Lifecycle == core.LifecycleDeleted {
		cl.mu.Unlock()
		return fmt.Errorf("edit deleted message %s/%s: %w", conversation, id, core.ErrInvalidStateTransition)
	}
	rec.Text = newText
	rec.Lifecycle = core.LifecycleEdited
	rec.Embedding = nil
	cl.mu.Unlock()

	if s.inv != nil {
		s.inv.Invalidate(conversation, id)
	}
	return nil
}

// MarkDeleted soft-deletes a message and invalidates its index entry.
// Deleting an already-deleted or never-seen message is a no-op.
func (s *Store) MarkDeleted(conversation, id string) error {
	cl := s.logFor(conversation)

	cl.mu.Lock()
	rec, ok := cl.byID[id]
	if !ok || rec.Lifecycle == core.LifecycleDeleted {
		cl.mu.Unlock()
		if !ok {
			log.Printf("[HISTORY] delete of unknown message %s/%s ignored", conversation, id)
		}
		return nil
	}
	rec.Lifecycle = core.LifecycleDeleted
	cl.mu.Unlock()

	if s.inv != nil {
		s.inv.Invalidate(conversation, id)
	}
	return nil
}

// AttachEmbedding sets the computed vector for a message. A vector can only
// be attached while none is present; edits clear it first.
func (s *Store) AttachEmbedding(conversation, id string, vec []float32) error {
	cl := s.logFor(conversation)

	cl.mu.Lock()
	defer cl.mu.Unlock()

	rec, ok := cl.byID[id]
	if !ok {
		return fmt.Errorf("attach embedding %s/%s: message not found", conversation, id)
	}
	if rec.Lifecycle == core.LifecycleDeleted {
		return fmt.Errorf("attach embedding to deleted %s/%s: %w", conversation, id, core.ErrInvalidStateTransition)
	}
	if rec.Embedding != nil {
		return fmt.Errorf("embedding already attached to %s/%s: %w", conversation, id, core.ErrInvalidStateTransition)
	}
	rec.Embedding = vec
	return nil
}

// Get returns a snapshot of the message, or false if never observed.
func (s *Store) Get(conversation, id string) (core.Message, bool) {
	cl := s.logFor(conversation)

	cl.mu.RLock()
	defer cl.mu.RUnlock()

	rec, ok := cl.byID[id]
	if !ok {
		return core.Message{}, false
	}
	return *rec, true
}

// Recent returns up to limit non-deleted messages, most recent first.
func (s *Store) Recent(conversation string, limit int) []core.Message {
	cl := s.logFor(conversation)

	cl.mu.RLock()
	defer cl.mu.RUnlock()

	var out []core.Message
	for i := len(cl.records) - 1; i >= 0 && len(out) < limit; i-- {
		rec := cl.records[i]
		if rec.Lifecycle == core.LifecycleDeleted {
			continue
		}
		out = append(out, *rec)
	}
	return out
}

// Active returns all non-deleted messages in sequence order. Used for index
// rebuild and retention sweeps.
func (s *Store) Active(conversation string) []core.Message {
	cl := s.logFor(conversation)

	cl.mu.RLock()
	defer cl.mu.RUnlock()

	out := make([]core.Message, 0, len(cl.records))
	for _, rec := range cl.records {
		if rec.Lifecycle == core.LifecycleDeleted {
			continue
		}
		out = append(out, *rec)
	}
	return out
}

// Conversations lists every conversation that has stored at least one record.
func (s *Store) Conversations() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.convs))
	for id := range s.convs {
		out = append(out, id)
	}
	return out
}
