package domain

// MessageKind is the decoded kind of a channel message. Platform type codes
// are translated into a MessageKind at the transport boundary; nothing past
// that boundary looks at raw codes.
type MessageKind int

const (
	// KindOther is any message that is neither a join notification nor a reply.
	KindOther MessageKind = iota
	// KindJoin is the system notification posted when a member joins.
	KindJoin
	// KindReply is a message replying to an earlier message.
	KindReply
)

// String implements fmt.Stringer.
func (k MessageKind) String() string {
	switch k {
	case KindJoin:
		return "join"
	case KindReply:
		return "reply"
	default:
		return "other"
	}
}

// MessageRef points at the message a reply answers.
type MessageRef struct {
	ChannelID string
	MessageID string
}

// ChatMessage is one entry of a channel history page. Reference is set only
// for KindReply messages that carry a reference.
type ChatMessage struct {
	ID        string
	Kind      MessageKind
	Reference *MessageRef
}

// FetchedMessage is the result of looking up a single referenced message.
type FetchedMessage struct {
	ID string
	// HasQualifyingAttachment reports whether the message carries the marker
	// (sticker or attachment) that makes a reply to it count as a welcome.
	HasQualifyingAttachment bool
}

// Outcome is the result of classifying one message.
type Outcome int

const (
	// OutcomeNotProcessed means the message was below cutoff, already in the
	// ledger, lost a concurrent insert, or was a reply into another channel.
	// The scanner treats it as the point to stop.
	OutcomeNotProcessed Outcome = iota
	// OutcomeIgnored means the message was recorded in the ledger only.
	OutcomeIgnored
	// OutcomeJoin means a join record was created (or already present).
	OutcomeJoin
	// OutcomeWelcome means a join record was marked welcomed.
	OutcomeWelcome
)

// Processed reports whether the classifier newly recorded the message.
func (o Outcome) Processed() bool { return o != OutcomeNotProcessed }

// String implements fmt.Stringer. The values double as metric labels.
func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeJoin:
		return "join"
	case OutcomeWelcome:
		return "welcome"
	default:
		return "not_processed"
	}
}
