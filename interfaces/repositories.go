package interfaces

import (
	"context"

	"github.com/mailpilot/mailpilot/internal/enum"
	"github.com/mailpilot/mailpilot/internal/models"
)

type AccountRepository interface {
	Create(ctx context.Context, account *models.EmailAccount) error
	GetByID(ctx context.Context, id string) (*models.EmailAccount, error)
	GetByEmail(ctx context.Context, email string) (*models.EmailAccount, error)
	GetActive(ctx context.Context) ([]*models.EmailAccount, error)
	Update(ctx context.Context, account *models.EmailAccount) error
	SaveCursor(ctx context.Context, accountID string, lastUID uint32, uidValidity string) error
	SetSyncStatus(ctx context.Context, accountID, status, errorMessage string) error
}

type MessageRepository interface {
	// Upsert stores a normalized message, ignoring duplicates of
	// (account_id, message_id). It reports whether the row was created.
	Upsert(ctx context.Context, message *models.EmailMessage) (bool, error)
	GetByID(ctx context.Context, id string) (*models.EmailMessage, error)
	ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*models.EmailMessage, int64, error)
	ListByStatus(ctx context.Context, status enum.MessageStatus, limit int) ([]*models.EmailMessage, error)
	ListByThread(ctx context.Context, threadID string) ([]*models.EmailMessage, error)
	Update(ctx context.Context, message *models.EmailMessage) error
	UpdateStatus(ctx context.Context, id string, status enum.MessageStatus) error
}
