package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/mailpilot/mailpilot/internal/enum"
	"github.com/mailpilot/mailpilot/internal/utils"
)

// EmailMessage is a normalized inbound message plus its processing envelope.
// Identity fields are written once by the normalizer; the envelope (status,
// intents, draft, validation, timestamps, error) is mutated only by the reply
// pipeline and the sender.
type EmailMessage struct {
	ID        string `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	AccountID string `gorm:"column:account_id;type:varchar(50);uniqueIndex:idx_account_message;not null" json:"accountId"`
	MessageID string `gorm:"column:message_id;type:varchar(255);uniqueIndex:idx_account_message;not null" json:"messageId"`
	ThreadID  string `gorm:"column:thread_id;type:varchar(255);index" json:"threadId"`
	ImapUID   uint32 `gorm:"column:imap_uid;index" json:"imapUid"`

	Sender     string         `gorm:"column:sender;type:varchar(500)" json:"sender"`
	Recipient  string         `gorm:"column:recipient;type:varchar(500)" json:"recipient"`
	Subject    string         `gorm:"column:subject;type:varchar(1000)" json:"subject"`
	Body       string         `gorm:"column:body;type:text" json:"body"`
	BodyHTML   string         `gorm:"column:body_html;type:text" json:"bodyHtml"`
	InReplyTo  string         `gorm:"column:in_reply_to;type:varchar(255)" json:"inReplyTo"`
	References pq.StringArray `gorm:"column:references;type:text[]" json:"references"`
	ReceivedAt time.Time      `gorm:"column:received_at;type:timestamp;index" json:"receivedAt"`

	// Processing envelope
	Status           enum.MessageStatus `gorm:"column:status;type:varchar(50);index;not null;default:'new'" json:"status"`
	Intents          JSONList           `gorm:"column:intents;type:jsonb" json:"intents"`
	Draft            string             `gorm:"column:draft;type:text" json:"draft"`
	DraftHTML        string             `gorm:"column:draft_html;type:text" json:"draftHtml"`
	ValidationResult JSONMap            `gorm:"column:validation_result;type:jsonb" json:"validationResult"`
	ProcessedAt      *time.Time         `gorm:"column:processed_at;type:timestamp" json:"processedAt"`
	SentAt           *time.Time         `gorm:"column:sent_at;type:timestamp" json:"sentAt"`
	Error            string             `gorm:"column:error;type:text" json:"error"`

	CreatedAt time.Time      `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time      `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`
}

func (EmailMessage) TableName() string {
	return "email_messages"
}

func (m *EmailMessage) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = utils.GenerateNanoIDWithPrefix("msg", 24)
	}
	if m.Status == "" {
		m.Status = enum.MessageStatusNew
	}
	return nil
}

// Intent is one classification result attached to a message, highest
// confidence first.
type Intent struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Description    string  `json:"description"`
	Confidence     float64 `json:"confidence"`
	Guidance       string  `json:"guidance"`
	MeetingRelated bool    `json:"meetingRelated"`
}

// ValidationFeedback extracts the validator feedback text stored on the
// envelope, empty when the message was never validated.
func (m *EmailMessage) ValidationFeedback() string {
	if m.ValidationResult == nil {
		return ""
	}
	if feedback, ok := m.ValidationResult["feedback"].(string); ok {
		return feedback
	}
	return ""
}
