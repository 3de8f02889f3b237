// Package respond composes the prompt bundle for the generation capability
// and post-processes the raw reply. It is deliberately thin: gating and
// retrieval decide what goes in, this package only shapes it and survives
// provider failures.
package respond

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/overx-ai/gentle-man-tg-bot/core"
)

// maxContextMessages caps the blended context: up to half recent history,
// the rest similarity hits.
const maxContextMessages = 12

// PromptContext is the grounding bundle for one reply.
type PromptContext struct {
	Trigger   core.Message
	Retrieved []core.Message // most-relevant-first, from retrieval
	Recent    []core.Message // most-recent-first, from history
	Language  string         // conversation language tag, "" falls back to "en"
	Reason    core.Reason
	Sender    string // display name of the trigger sender
}

// Reply is a post-processed generation result.
type Reply struct {
	Text string
	// ReferenceID lets the transport render the reply as a backlink to the
	// message that triggered it. Empty for greetings.
	ReferenceID string
}

type Assembler struct {
	gen        Generator
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
}

// NewAssembler wires the generator. timeout bounds each generation attempt;
// rate-limited attempts are retried maxRetries times with linear backoff.
func NewAssembler(gen Generator, timeout time.Duration, maxRetries int) *Assembler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Assembler{
		gen:        gen,
		timeout:    timeout,
		maxRetries: maxRetries,
		backoff:    2 * time.Second,
	}
}

// Respond generates a grounded reply for a triggering message. A generation
// failure aborts this single response attempt; no partial reply is emitted.
func (a *Assembler) Respond(ctx context.Context, pc *PromptContext) (*Reply, error) {
	text, err := a.generate(ctx, persona(pc.Language), buildPrompt(pc))
	if err != nil {
		return nil, err
	}
	return &Reply{
		Text:        strings.TrimSpace(text),
		ReferenceID: pc.Trigger.ID,
	}, nil
}

// Greet generates the new-member greeting for a conversation.
func (a *Assembler) Greet(ctx context.Context, language string, participants int) (*Reply, error) {
	prompt := fmt.Sprintf(
		"A new member just joined a group conversation with %d known participants. "+
			"Introduce yourself briefly: you answer when mentioned with @ or replied to, "+
			"you remember the conversation and can refer back to earlier messages. "+
			"Two or three sentences.", participants)
	text, err := a.generate(ctx, persona(language), prompt)
	if err != nil {
		return nil, err
	}
	return &Reply{Text: strings.TrimSpace(text)}, nil
}

func (a *Assembler) generate(ctx context.Context, system, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("generate: %w", ctx.Err())
			case <-time.After(time.Duration(attempt) * a.backoff):
			}
			log.Printf("[RESPOND] retrying generation after rate limit (attempt %d/%d)", attempt, a.maxRetries)
		}

		gctx, cancel := context.WithTimeout(ctx, a.timeout)
		text, err := a.gen.Generate(gctx, system, prompt)
		cancel()
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !errors.Is(err, core.ErrRateLimited) {
			break
		}
	}
	return "", lastErr
}

// buildPrompt lays the context out the way the deployed bot always has:
// recent history first, then the similarity hits, then the message itself.
func buildPrompt(pc *PromptContext) string {
	var b strings.Builder

	recent := pc.Recent
	if len(recent) > maxContextMessages/2 {
		recent = recent[:maxContextMessages/2]
	}
	seen := make(map[string]struct{}, maxContextMessages)
	seen[pc.Trigger.ID] = struct{}{}

	if len(recent) > 0 {
		b.WriteString("Recent conversation, oldest first:\n")
		// Recent arrives most-recent-first; flip to reading order.
		for i := len(recent) - 1; i >= 0; i-- {
			msg := recent[i]
			if _, dup := seen[msg.ID]; dup {
				continue
			}
			seen[msg.ID] = struct{}{}
			fmt.Fprintf(&b, "%s: %s\n", msg.Sender, msg.Text)
		}
		b.WriteString("\n")
	}

	var similar []core.Message
	for _, msg := range pc.Retrieved {
		if len(seen)-1 >= maxContextMessages { // seen also holds the trigger
			break
		}
		if _, dup := seen[msg.ID]; dup {
			continue
		}
		seen[msg.ID] = struct{}{}
		similar = append(similar, msg)
	}
	if len(similar) > 0 {
		b.WriteString("Earlier messages relevant to this one:\n")
		for _, msg := range similar {
			fmt.Fprintf(&b, "[%s] %s: %s\n", msg.ID, msg.Sender, msg.Text)
		}
		b.WriteString("\n")
	}

	switch pc.Reason {
	case core.ReasonReplyChain:
		b.WriteString("The user is replying to one of your earlier messages.\n")
	case core.ReasonCadence:
		b.WriteString("The message comes from another automated account; answer it on its merits.\n")
	}

	sender := pc.Sender
	if sender == "" {
		sender = pc.Trigger.Sender
	}
	fmt.Fprintf(&b, "@%s writes: %s\n\n", sender, pc.Trigger.Text)
	b.WriteString("Answer in 3-5 sentences, addressing the sender directly.")
	return b.String()
}

func persona(language string) string {
	if language == "ru" {
		return "Ты интеллигентный и доброжелательный собеседник в групповом чате. " +
			"Отвечай вежливо, содержательно и в высоком литературном стиле, " +
			"опираясь на приведённый контекст беседы."
	}
	return "You are a courteous, well-read conversation partner in a group chat. " +
		"Reply thoughtfully and concisely, grounding your answer in the provided " +
		"conversation context."
}
