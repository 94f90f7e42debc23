package repository

import (
	"context"
	"errors"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/mailpilot/mailpilot/interfaces"
	"github.com/mailpilot/mailpilot/internal/enum"
	"github.com/mailpilot/mailpilot/internal/models"
	"github.com/mailpilot/mailpilot/internal/tracing"
	"github.com/mailpilot/mailpilot/internal/utils"
)

type messageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) interfaces.MessageRepository {
	return &messageRepository{
		db: db,
	}
}

// Upsert stores a normalized message. A row already holding the same
// (account_id, message_id) pair is left untouched, so re-fetching a UID range
// after a cursor reset never duplicates messages.
func (r *messageRepository) Upsert(ctx context.Context, message *models.EmailMessage) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.Upsert")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, message.AccountID)

	if message.AccountID == "" || message.MessageID == "" {
		return false, ErrInvalidInput
	}

	existing := &models.EmailMessage{}
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND message_id = ?", message.AccountID, message.MessageID).
		First(existing).Error

	if err == nil {
		span.SetTag("duplicate", true)
		message.ID = existing.ID
		return false, nil
	}

	if !errors.Is(err, gorm.ErrRecordNotFound) {
		tracing.TraceErr(span, err)
		return false, err
	}

	result := r.db.WithContext(ctx).Create(message)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return false, result.Error
	}
	tracing.TagMessage(span, message.ID)
	return true, nil
}

// GetByID retrieves a message by its ID, nil when not found.
func (r *messageRepository) GetByID(ctx context.Context, id string) (*models.EmailMessage, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagMessage(span, id)

	var message models.EmailMessage
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&message).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &message, nil
}

// ListByAccount retrieves messages for an account with pagination, newest
// first.
func (r *messageRepository) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*models.EmailMessage, int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.ListByAccount")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	var messages []*models.EmailMessage
	var count int64

	if err := r.db.WithContext(ctx).
		Model(&models.EmailMessage{}).
		Where("account_id = ?", accountID).
		Count(&count).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, 0, err
	}

	if err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("received_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&messages).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, 0, err
	}
	return messages, count, nil
}

func (r *messageRepository) ListByStatus(ctx context.Context, status enum.MessageStatus, limit int) ([]*models.EmailMessage, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.ListByStatus")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	span.SetTag("status", string(status))

	var messages []*models.EmailMessage
	if err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("received_at").
		Limit(limit).
		Find(&messages).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return messages, nil
}

// ListByThread retrieves the messages of a conversation in arrival order.
func (r *messageRepository) ListByThread(ctx context.Context, threadID string) ([]*models.EmailMessage, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.ListByThread")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	span.SetTag("threadId", threadID)

	var messages []*models.EmailMessage
	if err := r.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("received_at").
		Find(&messages).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return messages, nil
}

func (r *messageRepository) Update(ctx context.Context, message *models.EmailMessage) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.Update")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagMessage(span, message.ID)

	message.UpdatedAt = utils.Now()
	result := r.db.WithContext(ctx).Save(message)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return result.Error
	}
	return nil
}

func (r *messageRepository) UpdateStatus(ctx context.Context, id string, status enum.MessageStatus) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.UpdateStatus")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagMessage(span, id)
	span.SetTag("status", string(status))

	result := r.db.WithContext(ctx).
		Model(&models.EmailMessage{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrMessageNotFound
	}
	return nil
}
