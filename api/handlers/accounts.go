package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mailpilot/mailpilot/interfaces"
	"github.com/mailpilot/mailpilot/internal/models"
	"github.com/mailpilot/mailpilot/internal/repository"
	"github.com/mailpilot/mailpilot/internal/tracing"
)

type AccountsHandler struct {
	repositories *repository.Repositories
	imap         interfaces.IMAPService
}

func NewAccountsHandler(repos *repository.Repositories, imap interfaces.IMAPService) *AccountsHandler {
	return &AccountsHandler{
		repositories: repos,
		imap:         imap,
	}
}

// List returns all active accounts.
func (h *AccountsHandler) List() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		accounts, err := h.repositories.AccountRepository.GetActive(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"accounts": accounts})
	}
}

// Create registers a new account to poll.
func (h *AccountsHandler) Create() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "CreateAccount", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		var account models.EmailAccount
		if err := c.ShouldBindJSON(&account); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := h.repositories.AccountRepository.Create(ctx, &account); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, gin.H{"status": "account added", "id": account.ID})
	}
}

// Get returns one account by id.
func (h *AccountsHandler) Get() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		account, err := h.repositories.AccountRepository.GetByID(ctx, c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if account == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		c.JSON(http.StatusOK, account)
	}
}

// Poll triggers an immediate fetch cycle for one account, outside the cron
// schedule.
func (h *AccountsHandler) Poll() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "PollAccount", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagAccount(span, c.Param("id"))

		if err := h.imap.PollAccount(ctx, c.Param("id")); err != nil {
			tracing.TraceErr(span, err)
			if err == repository.ErrAccountNotFound {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "poll completed", "id": c.Param("id")})
	}
}
