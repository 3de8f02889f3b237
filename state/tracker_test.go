package state_test

import (
	"sync"
	"testing"

	"github.com/overx-ai/gentle-man-tg-bot/state"
)

func TestAutomatedCounterIsAtomicUnderContention(t *testing.T) {
	tr := state.NewTracker()

	const workers = 32
	const perWorker = 50

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				tr.OnAutomatedMessage("c1")
			}
		}()
	}
	wg.Wait()

	if n := tr.AutomatedCount("c1"); n != workers*perWorker {
		t.Fatalf("counter = %d, want %d (lost updates)", n, workers*perWorker)
	}
}

func TestResetAutomatedCounter(t *testing.T) {
	tr := state.NewTracker()
	tr.OnAutomatedMessage("c1")
	tr.OnAutomatedMessage("c1")
	tr.ResetAutomatedCounter("c1")
	if n := tr.AutomatedCount("c1"); n != 0 {
		t.Fatalf("counter after reset = %d, want 0", n)
	}
}

func TestRecordParticipantFirstSeen(t *testing.T) {
	tr := state.NewTracker()

	if !tr.RecordParticipant("c1", "alice") {
		t.Fatal("first sighting of alice should report true")
	}
	if tr.RecordParticipant("c1", "alice") {
		t.Fatal("second sighting of alice should report false")
	}
	if !tr.RecordParticipant("c2", "alice") {
		t.Fatal("rosters are per conversation")
	}
	if n := tr.Participants("c1"); n != 1 {
		t.Fatalf("c1 roster size = %d, want 1", n)
	}
}

func TestLanguageFirstWins(t *testing.T) {
	tr := state.NewTracker()

	tr.SetLanguage("c1", "")
	if lang := tr.Language("c1"); lang != "" {
		t.Fatalf("empty tag should be ignored, got %q", lang)
	}
	tr.SetLanguage("c1", "ru")
	tr.SetLanguage("c1", "en")
	if lang := tr.Language("c1"); lang != "ru" {
		t.Fatalf("language = %q, want the first non-empty tag", lang)
	}
}

func TestDetectLanguage(t *testing.T) {
	cases := []struct {
		text, want string
	}{
		{"привет, как дела?", "ru"},
		{"hello there", "en"},
		{"ok привет дорогой друг", "ru"},
		{"12345 !!!", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := state.DetectLanguage(tc.text); got != tc.want {
			t.Errorf("DetectLanguage(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}
