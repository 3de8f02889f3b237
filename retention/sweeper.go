// Package retention bounds per-conversation history size. The sweep runs on
// a cron schedule and soft-deletes the oldest messages of oversized
// conversations through the history store, so vector index invalidation rides
// the normal edit/delete path. The retrieval side already tolerates entries
// vanishing between enumeration and deletion.
package retention

import (
	"fmt"
	"log"

	"github.com/robfig/cron/v3"

	"github.com/overx-ai/gentle-man-tg-bot/history"
)

type Sweeper struct {
	store *history.Store
	limit int
	cron  *cron.Cron
}

// New schedules a sweep. limit is the per-conversation message cap; schedule
// is a cron expression (descriptors like "@hourly" work too).
func New(store *history.Store, limit int, schedule string) (*Sweeper, error) {
	s := &Sweeper{
		store: store,
		limit: limit,
		cron:  cron.New(),
	}
	if _, err := s.cron.AddFunc(schedule, s.Sweep); err != nil {
		return nil, fmt.Errorf("retention: bad schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Sweeper) Start() { s.cron.Start() }

func (s *Sweeper) Stop() { s.cron.Stop() }

// Sweep evicts the oldest active messages of every conversation beyond the
// configured cap.
func (s *Sweeper) Sweep() {
	if s.limit <= 0 {
		return
	}
	for _, conv := range s.store.Conversations() {
		active := s.store.Active(conv)
		excess := len(active) - s.limit
		if excess <= 0 {
			continue
		}
		for _, msg := range active[:excess] {
			if err := s.store.MarkDeleted(conv, msg.ID); err != nil {
				log.Printf("[RETENTION] evict %s/%s: %v", conv, msg.ID, err)
			}
		}
		log.Printf("[RETENTION] evicted %d messages from %s", excess, conv)
	}
}
