package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/mailpilot/mailpilot/interfaces"
	"github.com/mailpilot/mailpilot/internal/models"
)

type Repositories struct {
	AccountRepository interfaces.AccountRepository
	MessageRepository interfaces.MessageRepository
}

func InitRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		AccountRepository: NewAccountRepository(db),
		MessageRepository: NewMessageRepository(db),
	}
}

type DatabasePoolConfig struct {
	MaxConn         int
	MaxIdleConn     int
	ConnMaxLifetime int
}

func MigrateDB(poolConfig *DatabasePoolConfig, gormDB *gorm.DB) error {
	db, err := gormDB.DB()
	if err != nil {
		return err
	}

	db.SetMaxOpenConns(5)

	err = gormDB.AutoMigrate(
		&models.EmailAccount{},
		&models.EmailMessage{},
	)

	db.SetMaxIdleConns(poolConfig.MaxIdleConn)
	db.SetMaxOpenConns(poolConfig.MaxConn)
	db.SetConnMaxLifetime(time.Duration(poolConfig.ConnMaxLifetime) * time.Minute)

	return err
}
