package interfaces

import (
	"context"

	"github.com/mailpilot/mailpilot/internal/models"
)

// EmailSender composes and delivers threaded replies over SMTP.
type EmailSender interface {
	// SendReply sends the stored draft as a reply to the original message
	// and returns the Message-ID of the outgoing email.
	SendReply(ctx context.Context, account *models.EmailAccount, original *models.EmailMessage) (string, error)
}
