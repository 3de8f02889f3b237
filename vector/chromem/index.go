// Package chromem implements the vector index on chromem-go, a pure Go
// embedded vector database. Each conversation gets its own collection for
// namespace isolation. chromem-go does not expose delete-by-id, so liveness
// is tracked here: every upsert writes a fresh versioned document and
// invalidation moves the previous document id into a dead set that queries
// filter out.
package chromem

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/overx-ai/gentle-man-tg-bot/vector"
)

type Index struct {
	db *chromem.DB

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
	live        map[string]string   // conversation\x00id -> live document id
	dead        map[string]struct{} // retired document ids
	version     map[string]uint64   // conversation\x00id -> next document version
}

// New creates an empty in-memory index.
func New() *Index {
	return &Index{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
		live:        make(map[string]string),
		dead:        make(map[string]struct{}),
		version:     make(map[string]uint64),
	}
}

func entryKey(conversation, id string) string {
	return conversation + "\x00" + id
}

func (x *Index) collection(conversation string) (*chromem.Collection, error) {
	x.mu.RLock()
	col, ok := x.collections[conversation]
	x.mu.RUnlock()
	if ok {
		return col, nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if col, ok := x.collections[conversation]; ok {
		return col, nil
	}

	// Embeddings are always supplied by the caller, so no embedding func and
	// the default cosine distance.
	col, err := x.db.CreateCollection("conv_"+conversation, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	x.collections[conversation] = col
	return col, nil
}

// Upsert writes the vector for a message. A previous live document for the
// same message is retired, never overwritten.
func (x *Index) Upsert(ctx context.Context, conversation, id string, seq uint64, vec []float32) error {
	col, err := x.collection(conversation)
	if err != nil {
		return err
	}

	key := entryKey(conversation, id)

	x.mu.Lock()
	if old, ok := x.live[key]; ok {
		x.dead[old] = struct{}{}
	}
	ver := x.version[key]
	x.version[key] = ver + 1
	docID := id + "#" + strconv.FormatUint(ver, 10)
	x.live[key] = docID
	x.mu.Unlock()

	doc := chromem.Document{
		ID:        docID,
		Content:   id, // the history store is the source of truth for text
		Embedding: vec,
		Metadata: map[string]string{
			"message_id": id,
			"seq":        strconv.FormatUint(seq, 10),
		},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document %s: %w", docID, err)
	}
	return nil
}

// Invalidate retires the live entry for a message, if any. Query results
// never surface retired entries.
func (x *Index) Invalidate(conversation, id string) {
	key := entryKey(conversation, id)

	x.mu.Lock()
	defer x.mu.Unlock()
	docID, ok := x.live[key]
	if !ok {
		return
	}
	delete(x.live, key)
	x.dead[docID] = struct{}{}
}

// Query returns the top-k live entries, best-first, ties broken by higher
// sequence position.
func (x *Index) Query(ctx context.Context, conversation string, vec []float32, k int, excludeID string) ([]vector.Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	col, err := x.collection(conversation)
	if err != nil {
		return nil, err
	}

	total := col.Count()
	if total == 0 {
		return nil, nil
	}

	x.mu.RLock()
	deadCount := len(x.dead)
	x.mu.RUnlock()

	// Over-fetch to ride out retired entries and the self-exclusion, then
	// filter. Shrink and retry if documents vanished under us (retention may
	// evict concurrently); missing-during-scan is not an error.
	want := k + deadCount + 1
	if want > total {
		want = total
	}

	var results []chromem.Result
	for n := want; n >= 1; n-- {
		results, err = col.QueryEmbedding(ctx, vec, n, nil, nil)
		if err == nil {
			break
		}
		if !isTooFewDocsError(err) {
			return nil, fmt.Errorf("query embedding: %w", err)
		}
		if n == 1 {
			return nil, nil
		}
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	hits := make([]vector.Hit, 0, len(results))
	for _, res := range results {
		if _, retired := x.dead[res.ID]; retired {
			continue
		}
		id := res.Metadata["message_id"]
		if id == "" || id == excludeID {
			continue
		}
		// Stale document that lost its live slot between query and filter.
		if x.live[entryKey(conversation, id)] != res.ID {
			continue
		}
		seq, perr := strconv.ParseUint(res.Metadata["seq"], 10, 64)
		if perr != nil {
			log.Printf("[INDEX] skipping entry %s with bad seq metadata: %v", res.ID, perr)
			continue
		}
		hits = append(hits, vector.Hit{ID: id, Score: res.Similarity, Seq: seq})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Seq > hits[j].Seq
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// isTooFewDocsError matches chromem-go's complaint when nResults exceeds the
// collection size.
func isTooFewDocsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}
