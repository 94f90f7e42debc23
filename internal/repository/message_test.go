package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailpilot/mailpilot/internal/enum"
	"github.com/mailpilot/mailpilot/internal/models"
)

func newTestMessage(accountID, messageID string, receivedAt time.Time) *models.EmailMessage {
	return &models.EmailMessage{
		AccountID:  accountID,
		MessageID:  messageID,
		ThreadID:   "thread-1",
		Sender:     "jane@widgets.io",
		Subject:    "Pricing question",
		Body:       "How much for 50 seats?",
		ReceivedAt: receivedAt,
	}
}

func TestMessageRepository_Upsert(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()
	account := createTestAccount(t, db, "sales@acme.com")

	message := newTestMessage(account.ID, "orig-123@widgets.io", time.Now().UTC())
	created, err := repo.Upsert(ctx, message)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, message.ID)
	assert.Equal(t, enum.MessageStatusNew, message.Status)

	// Re-fetching the same UID range after a cursor reset must not duplicate
	duplicate := newTestMessage(account.ID, "orig-123@widgets.io", time.Now().UTC())
	created, err = repo.Upsert(ctx, duplicate)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, message.ID, duplicate.ID)

	messages, total, err := repo.ListByAccount(ctx, account.ID, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, messages, 1)
}

func TestMessageRepository_UpsertSameIDOtherAccount(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()
	first := createTestAccount(t, db, "sales@acme.com")
	second := createTestAccount(t, db, "support@acme.com")

	created, err := repo.Upsert(ctx, newTestMessage(first.ID, "shared@widgets.io", time.Now().UTC()))
	require.NoError(t, err)
	assert.True(t, created)

	// Uniqueness is scoped per account
	created, err = repo.Upsert(ctx, newTestMessage(second.ID, "shared@widgets.io", time.Now().UTC()))
	require.NoError(t, err)
	assert.True(t, created)
}

func TestMessageRepository_UpsertValidation(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()

	_, err := repo.Upsert(ctx, &models.EmailMessage{MessageID: "x"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = repo.Upsert(ctx, &models.EmailMessage{AccountID: "acct_x"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestMessageRepository_ListByAccountPagination(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()
	account := createTestAccount(t, db, "sales@acme.com")

	base := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := repo.Upsert(ctx, newTestMessage(account.ID, fmt.Sprintf("m%c@widgets.io", 'a'+i), base.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
	}

	messages, total, err := repo.ListByAccount(ctx, account.ID, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, messages, 2)
	// Newest first
	assert.Equal(t, "me@widgets.io", messages[0].MessageID)
	assert.Equal(t, "md@widgets.io", messages[1].MessageID)

	messages, _, err = repo.ListByAccount(ctx, account.ID, 2, 4)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "ma@widgets.io", messages[0].MessageID)
}

func TestMessageRepository_ListByStatus(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()
	account := createTestAccount(t, db, "sales@acme.com")

	base := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	older := newTestMessage(account.ID, "older@widgets.io", base)
	newer := newTestMessage(account.ID, "newer@widgets.io", base.Add(time.Hour))
	processed := newTestMessage(account.ID, "done@widgets.io", base)

	for _, m := range []*models.EmailMessage{newer, older, processed} {
		_, err := repo.Upsert(ctx, m)
		require.NoError(t, err)
	}
	require.NoError(t, repo.UpdateStatus(ctx, processed.ID, enum.MessageStatusSent))

	messages, err := repo.ListByStatus(ctx, enum.MessageStatusNew, 10)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	// Oldest first so stale work drains in arrival order
	assert.Equal(t, "older@widgets.io", messages[0].MessageID)
	assert.Equal(t, "newer@widgets.io", messages[1].MessageID)
}

func TestMessageRepository_ListByThread(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()
	account := createTestAccount(t, db, "sales@acme.com")

	base := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	first := newTestMessage(account.ID, "t1@widgets.io", base)
	second := newTestMessage(account.ID, "t2@widgets.io", base.Add(time.Hour))
	other := newTestMessage(account.ID, "t3@widgets.io", base)
	other.ThreadID = "thread-other"

	for _, m := range []*models.EmailMessage{second, first, other} {
		_, err := repo.Upsert(ctx, m)
		require.NoError(t, err)
	}

	messages, err := repo.ListByThread(ctx, "thread-1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "t1@widgets.io", messages[0].MessageID)
	assert.Equal(t, "t2@widgets.io", messages[1].MessageID)
}

func TestMessageRepository_UpdateStatus(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()
	account := createTestAccount(t, db, "sales@acme.com")

	message := newTestMessage(account.ID, "s1@widgets.io", time.Now().UTC())
	_, err := repo.Upsert(ctx, message)
	require.NoError(t, err)

	require.NoError(t, repo.UpdateStatus(ctx, message.ID, enum.MessageStatusClassifying))

	found, err := repo.GetByID(ctx, message.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.MessageStatusClassifying, found.Status)

	err = repo.UpdateStatus(ctx, "msg_missing", enum.MessageStatusSent)
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestMessageRepository_UpdateEnvelope(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()
	account := createTestAccount(t, db, "sales@acme.com")

	message := newTestMessage(account.ID, "u1@widgets.io", time.Now().UTC())
	_, err := repo.Upsert(ctx, message)
	require.NoError(t, err)

	message.Status = enum.MessageStatusReadyToSend
	message.Draft = "Hi Jane, 50 seats run $500/mo."
	message.Intents = models.JSONList{{"name": "pricing", "confidence": 0.9}}
	message.ValidationResult = models.JSONMap{"passed": true, "verdict": "PASS"}
	require.NoError(t, repo.Update(ctx, message))

	found, err := repo.GetByID(ctx, message.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.MessageStatusReadyToSend, found.Status)
	assert.Equal(t, message.Draft, found.Draft)
	require.Len(t, found.Intents, 1)
	assert.Equal(t, "pricing", found.Intents[0]["name"])
	assert.Equal(t, true, found.ValidationResult["passed"])
}
