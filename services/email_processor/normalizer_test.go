package email_processor

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailpilot/mailpilot/internal/models"
)

func testAccount() *models.EmailAccount {
	return &models.EmailAccount{
		ID:           "acct_test",
		EmailAddress: "sales@acme.com",
	}
}

func rawMessage(headers map[string]string, body string) []byte {
	var b strings.Builder
	for k, v := range headers {
		b.WriteString(k + ": " + v + "\r\n")
	}
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

func TestNormalize_PlainText(t *testing.T) {
	raw := rawMessage(map[string]string{
		"From":       `"Jane Doe" <jane@widgets.io>`,
		"Subject":    "Pricing question",
		"Message-Id": "<orig-123@widgets.io>",
		"Date":       "Mon, 05 Jan 2026 15:04:05 +0000",
	}, "How much for 50 seats?")

	normalizer := NewNormalizer()
	message, err := normalizer.Normalize(context.Background(), testAccount(), 42, raw)
	require.NoError(t, err)

	assert.Equal(t, "acct_test", message.AccountID)
	assert.Equal(t, uint32(42), message.ImapUID)
	assert.Equal(t, "jane@widgets.io", message.Sender)
	assert.Equal(t, "sales@acme.com", message.Recipient)
	assert.Equal(t, "Pricing question", message.Subject)
	assert.Equal(t, "orig-123@widgets.io", message.MessageID)
	assert.Equal(t, "How much for 50 seats?", message.Body)
	assert.Equal(t, 2026, message.ReceivedAt.Year())
}

func TestNormalize_ThreadFromInReplyTo(t *testing.T) {
	raw := rawMessage(map[string]string{
		"From":        "jane@widgets.io",
		"Subject":     "Re: Pricing question",
		"Message-Id":  "<reply-456@widgets.io>",
		"In-Reply-To": "<orig-123@widgets.io>",
		"References":  "<root-000@widgets.io> <orig-123@widgets.io>",
	}, "Following up.")

	normalizer := NewNormalizer()
	message, err := normalizer.Normalize(context.Background(), testAccount(), 43, raw)
	require.NoError(t, err)

	assert.Equal(t, "orig-123@widgets.io", message.InReplyTo)
	assert.Equal(t, []string{"root-000@widgets.io", "orig-123@widgets.io"}, []string(message.References))
	// In-Reply-To wins over the References chain
	assert.Equal(t, "orig-123@widgets.io", message.ThreadID)
}

func TestNormalize_ThreadFromReferences(t *testing.T) {
	raw := rawMessage(map[string]string{
		"From":       "jane@widgets.io",
		"Subject":    "Re: Pricing question",
		"Message-Id": "<reply-789@widgets.io>",
		"References": "<root-000@widgets.io> <mid-111@widgets.io>",
	}, "Following up again.")

	normalizer := NewNormalizer()
	message, err := normalizer.Normalize(context.Background(), testAccount(), 44, raw)
	require.NoError(t, err)

	assert.Empty(t, message.InReplyTo)
	assert.Equal(t, "root-000@widgets.io", message.ThreadID)
}

func TestNormalize_ThreadFromSubjectFallback(t *testing.T) {
	build := func(subject, msgid string) []byte {
		return rawMessage(map[string]string{
			"From":       "jane@widgets.io",
			"Subject":    subject,
			"Message-Id": msgid,
		}, "Hello")
	}

	normalizer := NewNormalizer()
	account := testAccount()

	first, err := normalizer.Normalize(context.Background(), account, 1, build("Pricing question", "<a@widgets.io>"))
	require.NoError(t, err)
	second, err := normalizer.Normalize(context.Background(), account, 2, build("Re: Pricing question", "<b@widgets.io>"))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(first.ThreadID, "thread-"))
	assert.Equal(t, first.ThreadID, second.ThreadID)
}

func TestNormalize_SyntheticMessageID(t *testing.T) {
	raw := rawMessage(map[string]string{
		"From":    "jane@widgets.io",
		"Subject": "No message id here",
	}, "Hello")

	normalizer := NewNormalizer()
	message, err := normalizer.Normalize(context.Background(), testAccount(), 7, raw)
	require.NoError(t, err)

	assert.NotEmpty(t, message.MessageID)
	assert.False(t, strings.HasPrefix(message.MessageID, "<"))
	assert.True(t, strings.HasSuffix(message.MessageID, "@acme.com"))
}

func TestNormalize_HTMLOnlyBody(t *testing.T) {
	var b strings.Builder
	b.WriteString("From: jane@widgets.io\r\n")
	b.WriteString("Subject: HTML only\r\n")
	b.WriteString("Message-Id: <html-1@widgets.io>\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString("<html><body><p>First line</p><p>Second line</p></body></html>")

	normalizer := NewNormalizer()
	message, err := normalizer.Normalize(context.Background(), testAccount(), 8, []byte(b.String()))
	require.NoError(t, err)

	assert.NotEmpty(t, message.BodyHTML)
	assert.Contains(t, message.Body, "First line")
	assert.Contains(t, message.Body, "Second line")
	assert.NotContains(t, message.Body, "<p>")
}

func TestNormalize_StripsQuotedHistory(t *testing.T) {
	body := "Works for me.\r\n\r\nOn Mon, Jan 5, 2026 at 3:04 PM Sales <sales@acme.com> wrote:\r\n> Does Tuesday work?"
	raw := rawMessage(map[string]string{
		"From":       "jane@widgets.io",
		"Subject":    "Re: Meeting",
		"Message-Id": "<q-1@widgets.io>",
	}, body)

	normalizer := NewNormalizer()
	message, err := normalizer.Normalize(context.Background(), testAccount(), 9, raw)
	require.NoError(t, err)

	assert.Equal(t, "Works for me.", message.Body)
}

func TestNormalize_InvalidMessage(t *testing.T) {
	normalizer := NewNormalizer()
	_, err := normalizer.Normalize(context.Background(), testAccount(), 1, []byte{})
	assert.Error(t, err)
}
