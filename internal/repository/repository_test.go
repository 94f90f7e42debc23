package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mailpilot/mailpilot/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.EmailAccount{}, &models.EmailMessage{})
	require.NoError(t, err)

	return db
}

func createTestAccount(t *testing.T, db *gorm.DB, email string) *models.EmailAccount {
	t.Helper()

	account := &models.EmailAccount{
		Name:         "Test Account",
		EmailAddress: email,
		ImapServer:   "imap.acme.com",
		ImapPort:     993,
		SmtpServer:   "smtp.acme.com",
		SmtpPort:     587,
		Username:     email,
		Password:     "secret",
		IsActive:     true,
	}
	err := NewAccountRepository(db).Create(context.Background(), account)
	require.NoError(t, err)
	return account
}
