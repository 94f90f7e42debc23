package enum

// MessageStatus is the processing state of an inbound message as it moves
// through the reply pipeline.
type MessageStatus string

const (
	MessageStatusNew          MessageStatus = "new"
	MessageStatusClassifying  MessageStatus = "classifying"
	MessageStatusDrafting     MessageStatus = "drafting"
	MessageStatusReadyToSend  MessageStatus = "ready_to_send"
	MessageStatusNeedsRedraft MessageStatus = "needs_redraft"
	MessageStatusSent         MessageStatus = "sent"
	MessageStatusSendFailed   MessageStatus = "send_failed"
	MessageStatusEscalate     MessageStatus = "escalate"
	MessageStatusError        MessageStatus = "error"
)

func (t MessageStatus) String() string {
	return string(t)
}

// messageTransitions is the closed transition table for the reply pipeline.
// MessageStatusError is reachable from any state and is not listed per-row.
var messageTransitions = map[MessageStatus][]MessageStatus{
	MessageStatusNew:          {MessageStatusClassifying},
	MessageStatusClassifying:  {MessageStatusDrafting},
	MessageStatusDrafting:     {MessageStatusReadyToSend, MessageStatusNeedsRedraft, MessageStatusEscalate},
	MessageStatusReadyToSend:  {MessageStatusSent, MessageStatusSendFailed},
	MessageStatusNeedsRedraft: {MessageStatusDrafting, MessageStatusReadyToSend, MessageStatusEscalate, MessageStatusSent, MessageStatusSendFailed},
	MessageStatusSent:         {},
	MessageStatusSendFailed:   {},
	MessageStatusEscalate:     {},
	MessageStatusError:        {},
}

// CanTransition reports whether moving from one status to another is legal.
func (t MessageStatus) CanTransition(to MessageStatus) bool {
	if to == MessageStatusError {
		return true
	}
	for _, allowed := range messageTransitions[t] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsSendEligible reports whether the message holds a draft that can be
// dispatched at all. Sending from needs_redraft additionally requires the
// force flag.
func (t MessageStatus) IsSendEligible() bool {
	return t == MessageStatusReadyToSend || t == MessageStatusNeedsRedraft
}

// IsTerminal reports whether the pipeline takes no further action on its own.
func (t MessageStatus) IsTerminal() bool {
	return len(messageTransitions[t]) == 0
}

type EmailSecurity string

const (
	EmailSecurityNone     EmailSecurity = "none"
	EmailSecurityTLS      EmailSecurity = "tls"
	EmailSecurityStartTLS EmailSecurity = "startTLS"
)

func (t EmailSecurity) String() string {
	return string(t)
}

// ValidationVerdict is the outcome of the draft validator collaborator.
type ValidationVerdict string

const (
	ValidationPass ValidationVerdict = "PASS"
	ValidationFail ValidationVerdict = "FAIL"
)

func (t ValidationVerdict) String() string {
	return string(t)
}
