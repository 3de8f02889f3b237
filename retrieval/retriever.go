// Package retrieval assembles grounding context for a trigger message: the
// top-k most similar live messages from the same conversation, resolved
// against the history store. Retrieval degrades, never blocks the gate: an
// embedding timeout or provider failure yields an empty context.
package retrieval

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/overx-ai/gentle-man-tg-bot/core"
	"github.com/overx-ai/gentle-man-tg-bot/embed"
	"github.com/overx-ai/gentle-man-tg-bot/history"
	"github.com/overx-ai/gentle-man-tg-bot/vector"
)

type Retriever struct {
	store    *history.Store
	index    vector.Index
	embedder embed.Embedder
	timeout  time.Duration
}

// New wires a retriever. timeout bounds the embedding call for triggers that
// arrive without a computed vector.
func New(store *history.Store, index vector.Index, embedder embed.Embedder, timeout time.Duration) *Retriever {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Retriever{store: store, index: index, embedder: embedder, timeout: timeout}
}

// Retrieve returns up to k messages most relevant to the trigger, best-first.
// The trigger itself is never part of the result, fewer than k entries are
// returned when the conversation has insufficient history, and identifiers
// that no longer resolve (a race with concurrent deletion) are silently
// dropped. A trigger without extractable text returns an empty context
// without invoking the embedding provider.
func (r *Retriever) Retrieve(ctx context.Context, trigger core.Message, k int) []core.Message {
	if trigger.Text == "" || k <= 0 {
		return nil
	}

	vec := trigger.Embedding
	if vec == nil {
		ectx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		var err error
		vec, err = r.embedder.Embed(ectx, trigger.Text)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, core.ErrTimeout) {
				log.Printf("[RETRIEVAL] embedding timed out for %s/%s, degrading to empty context", trigger.Conversation, trigger.ID)
			} else {
				log.Printf("[RETRIEVAL] embedding failed for %s/%s: %v", trigger.Conversation, trigger.ID, err)
			}
			return nil
		}
	}

	hits, err := r.index.Query(ctx, trigger.Conversation, vec, k, trigger.ID)
	if err != nil {
		log.Printf("[RETRIEVAL] index query failed for %s: %v", trigger.Conversation, err)
		return nil
	}

	out := make([]core.Message, 0, len(hits))
	for _, hit := range hits {
		msg, ok := r.store.Get(trigger.Conversation, hit.ID)
		if !ok || msg.Lifecycle == core.LifecycleDeleted || msg.Text == "" {
			continue
		}
		out = append(out, msg)
	}
	return out
}
