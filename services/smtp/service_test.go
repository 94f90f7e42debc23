package smtp

import (
	"context"
	"strings"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailpilot/mailpilot/internal/models"
)

func smtpTestAccount() *models.EmailAccount {
	return &models.EmailAccount{
		ID:           "acct_1",
		Name:         "Acme Sales",
		EmailAddress: "sales@acme.com",
		Signature:    "Best,\nAcme Sales",
	}
}

func smtpTestMessage() *models.EmailMessage {
	return &models.EmailMessage{
		ID:         "msg_1",
		AccountID:  "acct_1",
		MessageID:  "orig-123@widgets.io",
		Sender:     `"Jane Doe" <jane@widgets.io>`,
		Subject:    "Pricing question",
		Draft:      "Hi Jane, 50 seats run $500/mo.",
		References: pq.StringArray{"root-000@widgets.io"},
	}
}

func TestComposeReply_Headers(t *testing.T) {
	sender := &SMTPSender{}

	envelope, err := sender.composeReply(context.Background(), smtpTestAccount(), smtpTestMessage())
	require.NoError(t, err)

	assert.Equal(t, "sales@acme.com", envelope.from)
	assert.Equal(t, "jane@widgets.io", envelope.to)
	assert.Equal(t, "Acme Sales <sales@acme.com>", envelope.headers["From"])
	assert.Equal(t, "Re: Pricing question", envelope.headers["Subject"])
	assert.Equal(t, "<orig-123@widgets.io>", envelope.headers["In-Reply-To"])
	assert.Equal(t, "<root-000@widgets.io> <orig-123@widgets.io>", envelope.headers["References"])
	assert.True(t, strings.HasSuffix(envelope.messageID, "@acme.com>"))
	assert.Equal(t, envelope.messageID, envelope.headers["Message-ID"])
}

func TestComposeReply_SubjectAlreadyPrefixed(t *testing.T) {
	sender := &SMTPSender{}
	original := smtpTestMessage()
	original.Subject = "Re: Pricing question"

	envelope, err := sender.composeReply(context.Background(), smtpTestAccount(), original)
	require.NoError(t, err)
	assert.Equal(t, "Re: Pricing question", envelope.headers["Subject"])
}

func TestComposeReply_SignatureAppended(t *testing.T) {
	sender := &SMTPSender{}

	envelope, err := sender.composeReply(context.Background(), smtpTestAccount(), smtpTestMessage())
	require.NoError(t, err)

	assert.Equal(t, "Hi Jane, 50 seats run $500/mo.\n\nBest,\nAcme Sales", envelope.bodyText)
	// HTML alternative is synthesized from text with the signature attached
	assert.Equal(t, "Hi Jane, 50 seats run $500/mo.<br><br>Best,<br>Acme Sales", envelope.bodyHTML)
}

func TestComposeReply_NoSignature(t *testing.T) {
	sender := &SMTPSender{}
	account := smtpTestAccount()
	account.Signature = ""

	envelope, err := sender.composeReply(context.Background(), account, smtpTestMessage())
	require.NoError(t, err)
	assert.Equal(t, "Hi Jane, 50 seats run $500/mo.", envelope.bodyText)
}

func TestComposeReply_NoThreadingWithoutMessageID(t *testing.T) {
	sender := &SMTPSender{}
	original := smtpTestMessage()
	original.MessageID = ""
	original.References = nil

	envelope, err := sender.composeReply(context.Background(), smtpTestAccount(), original)
	require.NoError(t, err)

	_, hasInReplyTo := envelope.headers["In-Reply-To"]
	_, hasReferences := envelope.headers["References"]
	assert.False(t, hasInReplyTo)
	assert.False(t, hasReferences)
}

func TestComposeReply_NoDraft(t *testing.T) {
	sender := &SMTPSender{}
	original := smtpTestMessage()
	original.Draft = ""
	original.DraftHTML = ""

	_, err := sender.composeReply(context.Background(), smtpTestAccount(), original)
	assert.Error(t, err)
}

func TestComposeReply_InvalidRecipient(t *testing.T) {
	sender := &SMTPSender{}
	original := smtpTestMessage()
	original.Sender = "not-an-address"

	_, err := sender.composeReply(context.Background(), smtpTestAccount(), original)
	assert.Error(t, err)
}

func TestBuildReferences_DeduplicatesSelf(t *testing.T) {
	original := smtpTestMessage()
	// Some clients already list the message in its own References chain
	original.References = pq.StringArray{"root-000@widgets.io", "orig-123@widgets.io"}

	refs := buildReferences(original)
	assert.Equal(t, "<root-000@widgets.io> <orig-123@widgets.io>", refs)
}

func TestBuildMessage_MultipartAlternative(t *testing.T) {
	sender := &SMTPSender{}

	envelope, err := sender.composeReply(context.Background(), smtpTestAccount(), smtpTestMessage())
	require.NoError(t, err)

	buffer, err := sender.buildMessage(context.Background(), envelope)
	require.NoError(t, err)

	raw := buffer.String()
	assert.Contains(t, raw, "Content-Type: multipart/alternative; boundary=")
	assert.Contains(t, raw, "Content-Type: text/plain; charset=UTF-8")
	assert.Contains(t, raw, "Content-Type: text/html; charset=UTF-8")
	assert.Contains(t, raw, "Hi Jane, 50 seats run $500/mo.")
	assert.Contains(t, raw, "To: jane@widgets.io")
	assert.Contains(t, raw, "Subject: Re: Pricing question")
}

func TestWithSignatureHTML_PrefersHTMLDraft(t *testing.T) {
	html := withSignatureHTML("<p>Hi Jane</p>", "Hi Jane", "Best,\nAcme")
	assert.Equal(t, "<p>Hi Jane</p><br><br>Best,<br>Acme", html)
}
