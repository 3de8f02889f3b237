// Package gate decides, once per inbound message, whether the bot responds.
// The rule table is data-driven but statically typed, and the gate is the
// only component allowed to mutate the automated-sender counter.
package gate

import (
	"strings"

	"github.com/overx-ai/gentle-man-tg-bot/core"
	"github.com/overx-ai/gentle-man-tg-bot/state"
)

// Policy is the enumerated response policy.
type Policy struct {
	// MentionTrigger responds to direct mentions of the bot identity.
	MentionTrigger bool
	// ReplyTrigger responds when the reply target was authored by the bot.
	ReplyTrigger bool
	// AutomatedCadence responds to every Nth automated-sender message,
	// aggregated per conversation. Zero disables the cadence rule.
	AutomatedCadence int
	// GreetingOnJoin responds to member-join events.
	GreetingOnJoin bool
}

// DefaultPolicy mirrors the deployed configuration: all triggers on, every
// 5th automated message.
func DefaultPolicy() Policy {
	return Policy{
		MentionTrigger:   true,
		ReplyTrigger:     true,
		AutomatedCadence: 5,
		GreetingOnJoin:   true,
	}
}

// Signals are the per-message inputs to one gate evaluation.
type Signals struct {
	Mention    bool // the message mentions the bot directly
	ReplyToBot bool // the reply target was authored by the bot
	Automated  bool // the sender is an automated account
}

type Gate struct {
	policy Policy
	states *state.Tracker
}

func New(policy Policy, states *state.Tracker) *Gate {
	return &Gate{policy: policy, states: states}
}

// Decide evaluates the rule table in precedence order, first match wins:
// mention, reply-chain, automated cadence, otherwise ignore. Only the cadence
// rule touches the automated counter; a mention from an automated sender
// responds via the mention rule and leaves the counter alone.
func (g *Gate) Decide(conv string, sig Signals) core.Decision {
	switch {
	case g.policy.MentionTrigger && sig.Mention:
		return core.RespondWith(core.ReasonMention)
	case g.policy.ReplyTrigger && sig.ReplyToBot:
		return core.RespondWith(core.ReasonReplyChain)
	case sig.Automated:
		n := g.states.OnAutomatedMessage(conv)
		if g.policy.AutomatedCadence > 0 && n%g.policy.AutomatedCadence == 0 {
			g.states.ResetAutomatedCounter(conv)
			return core.RespondWith(core.ReasonCadence)
		}
		return core.Ignore
	default:
		return core.Ignore
	}
}

// DecideJoin handles member-join events, which bypass the rule table and do
// not touch the automated counter.
func (g *Gate) DecideJoin(conv string) core.Decision {
	if g.policy.GreetingOnJoin {
		return core.RespondWith(core.ReasonGreeting)
	}
	return core.Ignore
}

// Mentions reports whether text contains an @-mention of the bot username.
func Mentions(text, botUsername string) bool {
	if text == "" || botUsername == "" {
		return false
	}
	return strings.Contains(strings.ToLower(text), "@"+strings.ToLower(botUsername))
}
