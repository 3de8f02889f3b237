// Package vector defines the similarity index over message embeddings.
// Entries are scoped per conversation and invalidated, never mutated, when
// the backing message is edited or deleted.
package vector

import "context"

// Hit is one query result: a message reference with its similarity score and
// the store-assigned sequence position used to break score ties.
type Hit struct {
	ID    string
	Score float32
	Seq   uint64
}

// Index supports insert, soft-delete and k-nearest-neighbour query by cosine
// similarity. Implementations must never surface invalidated entries and must
// tolerate entries disappearing between enumeration and deletion (missing
// during a scan is simply "not retrieved").
type Index interface {
	// Upsert inserts the vector for a message. Upserting an id that already
	// has a live entry (an edited message) invalidates the old entry first;
	// stored vectors are never mutated in place.
	Upsert(ctx context.Context, conversation, id string, seq uint64, vec []float32) error

	// Invalidate removes the live entry for a message, if any.
	Invalidate(conversation, id string)

	// Query returns up to k live entries best-first. Equal scores prefer the
	// higher sequence position. The entry for excludeID is never returned: a
	// message does not retrieve itself as its own context. Fewer than k live
	// entries is not an error; all of them are returned.
	Query(ctx context.Context, conversation string, vec []float32, k int, excludeID string) ([]Hit, error)
}
