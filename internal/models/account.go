package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/mailpilot/mailpilot/internal/enum"
	"github.com/mailpilot/mailpilot/internal/utils"
)

// EmailAccount is one watched mailbox: IMAP endpoint for ingestion, SMTP
// endpoint for replies, and the polling cursor marking fetch progress.
type EmailAccount struct {
	ID           string `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	Name         string `gorm:"column:name;type:varchar(255)" json:"name"`
	EmailAddress string `gorm:"column:email_address;type:varchar(255);uniqueIndex;not null" json:"emailAddress"`

	// IMAP configuration
	ImapServer   string             `gorm:"column:imap_server;type:varchar(255);not null" json:"imapServer"`
	ImapPort     int                `gorm:"column:imap_port;not null" json:"imapPort"`
	ImapSecurity enum.EmailSecurity `gorm:"column:imap_security;type:varchar(50);default:'tls'" json:"imapSecurity"`

	// SMTP configuration
	SmtpServer   string             `gorm:"column:smtp_server;type:varchar(255);not null" json:"smtpServer"`
	SmtpPort     int                `gorm:"column:smtp_port;not null" json:"smtpPort"`
	SmtpSecurity enum.EmailSecurity `gorm:"column:smtp_security;type:varchar(50);default:'startTLS'" json:"smtpSecurity"`

	// Shared credentials for both transports
	Username string `gorm:"column:username;type:varchar(255);not null" json:"username"`
	Password string `gorm:"column:password;type:varchar(255);not null" json:"-"`

	// Reply behavior
	IsActive  bool   `gorm:"column:is_active;not null;default:true" json:"isActive"`
	AutoSend  bool   `gorm:"column:auto_send;not null;default:false" json:"autoSend"`
	Persona   string `gorm:"column:persona;type:text" json:"persona"`
	Signature string `gorm:"column:signature;type:text" json:"signature"`

	// Polling cursor. Mutated only by the IMAP poller after a successful
	// fetch cycle; LastUID advances monotonically within one UIDVALIDITY
	// epoch and resets to zero when the epoch changes.
	LastUID     uint32     `gorm:"column:last_uid;not null;default:0" json:"lastUid"`
	UIDValidity string     `gorm:"column:uid_validity;type:varchar(50)" json:"uidValidity"`
	LastPolled  *time.Time `gorm:"column:last_polled;type:timestamp" json:"lastPolled"`

	// Connection status surfaced to operators
	SyncStatus   string `gorm:"column:sync_status;type:varchar(50)" json:"syncStatus"`
	ErrorMessage string `gorm:"column:error_message;type:text" json:"errorMessage"`

	CreatedAt time.Time      `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time      `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`
}

func (EmailAccount) TableName() string {
	return "email_accounts"
}

func (a *EmailAccount) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = utils.GenerateNanoIDWithPrefix("acct", 16)
	}
	return nil
}

// Domain returns the domain part of the account address, used to namespace
// outgoing Message-IDs.
func (a *EmailAccount) Domain() string {
	return utils.ExtractDomainFromEmail(a.EmailAddress)
}
