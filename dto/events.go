package dto

import "time"

const (
	EventMessageReceived = "message.received"
	EventReplySent       = "reply.sent"
	EventReplyEscalated  = "reply.escalated"
)

// MessageReceived is published after the normalizer persists a new inbound
// message.
type MessageReceived struct {
	MessageID  string    `json:"messageId"`
	AccountID  string    `json:"accountId"`
	ThreadID   string    `json:"threadId"`
	Sender     string    `json:"sender"`
	Subject    string    `json:"subject"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// ReplySent is published after a reply was handed to the SMTP server.
type ReplySent struct {
	MessageID      string    `json:"messageId"`
	AccountID      string    `json:"accountId"`
	ThreadID       string    `json:"threadId"`
	ReplyMessageID string    `json:"replyMessageId"`
	AutoSent       bool      `json:"autoSent"`
	SentAt         time.Time `json:"sentAt"`
}

// ReplyEscalated is published when a draft failed validation twice and needs a
// human.
type ReplyEscalated struct {
	MessageID string `json:"messageId"`
	AccountID string `json:"accountId"`
	ThreadID  string `json:"threadId"`
	Feedback  string `json:"feedback,omitempty"`
}
