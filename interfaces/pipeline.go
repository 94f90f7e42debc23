package interfaces

import (
	"context"

	"github.com/mailpilot/mailpilot/internal/models"
)

type ReplyPipeline interface {
	// Process runs classify, draft and validate on a stored message and,
	// when the account allows it, sends the reply.
	Process(ctx context.Context, messageID string) error
	// Redraft reruns drafting with the validator feedback applied.
	Redraft(ctx context.Context, messageID string) error
	// Send dispatches a ready draft. With force set it also accepts
	// messages awaiting a redraft.
	Send(ctx context.Context, messageID string, force bool) error
	// Preview runs the AI stages on an ad-hoc message without persisting
	// or sending anything.
	Preview(ctx context.Context, account *models.EmailAccount, message *models.EmailMessage) (*models.EmailMessage, error)
}
