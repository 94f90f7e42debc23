package repository

import (
	"context"
	"errors"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/mailpilot/mailpilot/interfaces"
	"github.com/mailpilot/mailpilot/internal/models"
	"github.com/mailpilot/mailpilot/internal/tracing"
	"github.com/mailpilot/mailpilot/internal/utils"
)

type accountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) interfaces.AccountRepository {
	return &accountRepository{
		db: db,
	}
}

func (r *accountRepository) Create(ctx context.Context, account *models.EmailAccount) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.Create")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	if account == nil || account.EmailAddress == "" {
		return ErrInvalidInput
	}

	result := r.db.WithContext(ctx).Create(account)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return result.Error
	}
	return nil
}

// GetByID retrieves an account by its ID, nil when not found.
func (r *accountRepository) GetByID(ctx context.Context, id string) (*models.EmailAccount, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, id)

	var account models.EmailAccount
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) GetByEmail(ctx context.Context, email string) (*models.EmailAccount, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.GetByEmail")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var account models.EmailAccount
	if err := r.db.WithContext(ctx).Where("email_address = ?", email).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &account, nil
}

// GetActive returns every account enabled for polling.
func (r *accountRepository) GetActive(ctx context.Context) ([]*models.EmailAccount, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.GetActive")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var accounts []*models.EmailAccount
	if err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("email_address").
		Find(&accounts).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	span.LogKV("result.count", len(accounts))
	return accounts, nil
}

func (r *accountRepository) Update(ctx context.Context, account *models.EmailAccount) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.Update")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, account.ID)

	result := r.db.WithContext(ctx).Save(account)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return result.Error
	}
	return nil
}

// SaveCursor persists the polling position. Written after every successful
// fetch so a restart resumes where the last sweep left off.
func (r *accountRepository) SaveCursor(ctx context.Context, accountID string, lastUID uint32, uidValidity string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.SaveCursor")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)
	span.LogKV("lastUid", lastUID, "uidValidity", uidValidity)

	result := r.db.WithContext(ctx).
		Model(&models.EmailAccount{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"last_uid":     lastUID,
			"uid_validity": uidValidity,
			"last_polled":  utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *accountRepository) SetSyncStatus(ctx context.Context, accountID, status, errorMessage string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.SetSyncStatus")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	result := r.db.WithContext(ctx).
		Model(&models.EmailAccount{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"sync_status":   status,
			"error_message": errorMessage,
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return result.Error
	}
	return nil
}
