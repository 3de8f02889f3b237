// Package state tracks per-conversation mutable state consulted by the
// response gate: the automated-sender counter, the participant roster and the
// detected language. All mutations are atomic per conversation; conversations
// never block each other.
package state

import (
	"sync"
	"unicode"
)

type conversation struct {
	mu             sync.Mutex
	automatedCount int
	participants   map[string]struct{}
	language       string
}

// Tracker is the registry mapping conversation identifiers to their state.
// State is created lazily on first access and kept for the conversation's
// lifetime.
type Tracker struct {
	mu    sync.RWMutex
	convs map[string]*conversation
}

func NewTracker() *Tracker {
	return &Tracker{convs: make(map[string]*conversation)}
}

func (t *Tracker) get(id string) *conversation {
	t.mu.RLock()
	c, ok := t.convs[id]
	t.mu.RUnlock()
	if ok {
		return c
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.convs[id]; ok {
		return c
	}
	c = &conversation{participants: make(map[string]struct{})}
	t.convs[id] = c
	return c
}

// RecordParticipant adds a sender to the roster and reports whether they were
// seen for the first time.
func (t *Tracker) RecordParticipant(conv, sender string) bool {
	c := t.get(conv)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, seen := c.participants[sender]; seen {
		return false
	}
	c.participants[sender] = struct{}{}
	return true
}

// OnAutomatedMessage increments the automated-sender counter and returns the
// value after the increment. The read-modify-write is atomic: concurrent
// events for the same conversation never lose an update.
func (t *Tracker) OnAutomatedMessage(conv string) int {
	c := t.get(conv)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.automatedCount++
	return c.automatedCount
}

// ResetAutomatedCounter zeroes the counter after a cadence response fires.
func (t *Tracker) ResetAutomatedCounter(conv string) {
	c := t.get(conv)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.automatedCount = 0
}

// AutomatedCount reads the counter without mutating it.
func (t *Tracker) AutomatedCount(conv string) int {
	c := t.get(conv)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.automatedCount
}

// Participants returns the roster size.
func (t *Tracker) Participants(conv string) int {
	c := t.get(conv)
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.participants)
}

// SetLanguage records the detected or declared language tag once; later calls
// with an empty tag or on an already-tagged conversation are ignored.
func (t *Tracker) SetLanguage(conv, lang string) {
	if lang == "" {
		return
	}
	c := t.get(conv)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.language == "" {
		c.language = lang
	}
}

// Language returns the conversation's language tag, empty if undetected.
func (t *Tracker) Language(conv string) string {
	c := t.get(conv)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.language
}

// DetectLanguage is the heuristic the original persona used: Cyrillic text is
// tagged "ru", anything else "en". Empty text yields no tag.
func DetectLanguage(text string) string {
	if text == "" {
		return ""
	}
	var cyrillic, letters int
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.Is(unicode.Cyrillic, r) {
			cyrillic++
		}
	}
	if letters == 0 {
		return ""
	}
	if cyrillic*2 >= letters {
		return "ru"
	}
	return "en"
}
