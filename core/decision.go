package core

// Reason names the gate rule that fired for a RESPOND decision.
type Reason string

const (
	ReasonMention    Reason = "mention"
	ReasonReplyChain Reason = "reply-chain"
	ReasonCadence    Reason = "cadence"
	ReasonGreeting   Reason = "greeting"
)

// Decision is the outcome of one gate evaluation.
type Decision struct {
	Respond bool
	Reason  Reason
}

// Ignore is the zero decision: do not respond.
var Ignore = Decision{}

// RespondWith builds a positive decision for the given reason.
func RespondWith(r Reason) Decision {
	return Decision{Respond: true, Reason: r}
}
