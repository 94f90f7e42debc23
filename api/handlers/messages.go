package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/mailpilot/mailpilot/interfaces"
	"github.com/mailpilot/mailpilot/internal/models"
	"github.com/mailpilot/mailpilot/internal/repository"
	"github.com/mailpilot/mailpilot/internal/tracing"
	"github.com/mailpilot/mailpilot/internal/utils"
	"github.com/mailpilot/mailpilot/services/pipeline"
)

type MessagesHandler struct {
	repositories *repository.Repositories
	pipeline     interfaces.ReplyPipeline
}

func NewMessagesHandler(repos *repository.Repositories, replyPipeline interfaces.ReplyPipeline) *MessagesHandler {
	return &MessagesHandler{
		repositories: repos,
		pipeline:     replyPipeline,
	}
}

// List returns messages for an account, newest first.
func (h *MessagesHandler) List() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		accountID := c.Query("accountId")
		if accountID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "accountId query parameter is required"})
			return
		}

		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

		messages, total, err := h.repositories.MessageRepository.ListByAccount(ctx, accountID, limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"messages": messages,
			"total":    total,
			"limit":    limit,
			"offset":   offset,
		})
	}
}

// Get returns one message with its full processing envelope.
func (h *MessagesHandler) Get() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		message, err := h.repositories.MessageRepository.GetByID(ctx, c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if message == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
			return
		}
		c.JSON(http.StatusOK, message)
	}
}

// Thread returns the stored conversation a message belongs to.
func (h *MessagesHandler) Thread() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		message, err := h.repositories.MessageRepository.GetByID(ctx, c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if message == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
			return
		}

		messages, err := h.repositories.MessageRepository.ListByThread(ctx, message.ThreadID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"threadId": message.ThreadID, "messages": messages})
	}
}

// Send dispatches a validated draft. Body: {"force": bool}; force also sends
// drafts the validator rejected.
func (h *MessagesHandler) Send() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "SendMessage", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagMessage(span, c.Param("id"))

		var body struct {
			Force bool `json:"force"`
		}
		// An empty body means force=false.
		_ = c.ShouldBindJSON(&body)

		err := h.pipeline.Send(ctx, c.Param("id"), body.Force)
		if err != nil {
			tracing.TraceErr(span, err)
			switch {
			case errors.Is(err, repository.ErrMessageNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			case errors.Is(err, pipeline.ErrNotSendEligible):
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			}
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "sent", "id": c.Param("id")})
	}
}

// Redraft reruns drafting with the stored validator feedback.
func (h *MessagesHandler) Redraft() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "RedraftMessage", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagMessage(span, c.Param("id"))

		err := h.pipeline.Redraft(ctx, c.Param("id"))
		if err != nil {
			tracing.TraceErr(span, err)
			switch {
			case errors.Is(err, repository.ErrMessageNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			case errors.Is(err, pipeline.ErrIllegalTransition):
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			}
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "redrafted", "id": c.Param("id")})
	}
}

// testMessageRequest is an ad-hoc message run through the AI stages without
// touching IMAP, the database or SMTP.
type testMessageRequest struct {
	AccountID string `json:"accountId" binding:"required"`
	Sender    string `json:"sender" binding:"required"`
	Subject   string `json:"subject"`
	Body      string `json:"body" binding:"required"`
}

// Test previews the pipeline output for a hand-written message.
func (h *MessagesHandler) Test() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "TestMessage", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		var request testMessageRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		account, err := h.repositories.AccountRepository.GetByID(ctx, request.AccountID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if account == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}

		message := &models.EmailMessage{
			AccountID:  account.ID,
			Sender:     request.Sender,
			Recipient:  account.EmailAddress,
			Subject:    request.Subject,
			Body:       request.Body,
			ReceivedAt: utils.Now(),
		}

		result, err := h.pipeline.Preview(ctx, account, message)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"intents":    result.Intents,
			"draft":      result.Draft,
			"draftHtml":  result.DraftHTML,
			"validation": result.ValidationResult,
		})
	}
}
