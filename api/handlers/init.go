package handlers

import (
	"github.com/mailpilot/mailpilot/interfaces"
	"github.com/mailpilot/mailpilot/internal/repository"
)

type APIHandlers struct {
	Accounts *AccountsHandler
	Messages *MessagesHandler
}

func InitHandlers(r *repository.Repositories, pipeline interfaces.ReplyPipeline, imap interfaces.IMAPService) *APIHandlers {
	return &APIHandlers{
		Accounts: NewAccountsHandler(r, imap),
		Messages: NewMessagesHandler(r, pipeline),
	}
}
