package interfaces

import (
	"context"
	"time"
)

type IMAPService interface {
	Start(ctx context.Context) error
	Stop() error
	PollAll(ctx context.Context) error
	PollAccount(ctx context.Context, accountID string) error
	Status() map[string]AccountStatus
}

type AccountStatus struct {
	Connected   bool
	LastError   string
	LastUID     uint32
	UIDValidity string
	LastPolled  time.Time
	NewMessages int
}
