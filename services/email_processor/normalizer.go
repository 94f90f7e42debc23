package email_processor

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/customeros/mailsherpa/mailvalidate"
	"github.com/jhillyerd/enmime"
	"github.com/lib/pq"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/mailpilot/mailpilot/internal/models"
	"github.com/mailpilot/mailpilot/internal/tracing"
	"github.com/mailpilot/mailpilot/internal/utils"
)

// Normalizer turns raw RFC 822 messages into EmailMessage records. It is
// stateless; persistence is the caller's concern.
type Normalizer struct{}

func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize parses a raw message fetched over IMAP. A message without a
// Message-ID header gets a synthetic one derived from the account and UID so
// the (account_id, message_id) uniqueness still holds.
func (n *Normalizer) Normalize(ctx context.Context, account *models.EmailAccount, uid uint32, raw []byte) (*models.EmailMessage, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "Normalizer.Normalize")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, account.ID)
	span.SetTag("imap.uid", uid)

	envelope, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to parse message")
	}

	message := &models.EmailMessage{
		AccountID: account.ID,
		ImapUID:   uid,
		Recipient: account.EmailAddress,
	}

	processHeaders(message, account, uid, envelope)
	processBody(message, envelope)

	span.SetTag("message.id", message.MessageID)
	span.SetTag("thread.id", message.ThreadID)
	return message, nil
}

func processHeaders(message *models.EmailMessage, account *models.EmailAccount, uid uint32, envelope *enmime.Envelope) {
	message.Subject = envelope.GetHeader("Subject")
	message.Sender = senderAddress(envelope)
	message.MessageID = utils.NormalizeMessageID(envelope.GetHeader("Message-Id"))
	if message.MessageID == "" {
		// Some senders omit Message-ID; fabricate a stable one.
		metadata := fmt.Sprintf("%s-%d", account.ID, uid)
		message.MessageID = strings.Trim(utils.GenerateMessageID(account.Domain(), metadata), "<>")
	}

	message.InReplyTo = firstMessageID(envelope.GetHeader("In-Reply-To"))
	message.References = parseReferences(envelope.GetHeader("References"))
	message.ReceivedAt = receivedTime(envelope)
	message.ThreadID = deriveThreadID(message, account)
}

func processBody(message *models.EmailMessage, envelope *enmime.Envelope) {
	message.BodyHTML = envelope.HTML

	text := envelope.Text
	if strings.TrimSpace(text) == "" && envelope.HTML != "" {
		text = htmlToText(envelope.HTML)
	}
	message.Body = StripQuotedReply(text)
}

func senderAddress(envelope *enmime.Envelope) string {
	from := envelope.GetHeader("From")
	address := utils.ExtractAddress(from)
	validation := mailvalidate.ValidateEmailSyntax(address)
	if validation.IsValid {
		return validation.CleanEmail
	}
	return address
}

// deriveThreadID resolves the conversation a message belongs to: the message
// it replies to, else the root of its References chain, else a hash of the
// normalized subject scoped to the account.
func deriveThreadID(message *models.EmailMessage, account *models.EmailAccount) string {
	if message.InReplyTo != "" {
		return message.InReplyTo
	}
	if len(message.References) > 0 {
		return message.References[0]
	}
	return utils.SubjectThreadID(message.Subject, account.EmailAddress)
}

// firstMessageID extracts the first id from a header that may carry several,
// space separated.
func firstMessageID(header string) string {
	for _, ref := range strings.Fields(header) {
		ref = strings.Trim(ref, "<>")
		if ref != "" {
			return ref
		}
	}
	return ""
}

func parseReferences(header string) pq.StringArray {
	var references []string
	for _, ref := range strings.Fields(header) {
		ref = strings.Trim(ref, "<>")
		if ref != "" && !utils.IsStringInSlice(ref, references) {
			references = append(references, ref)
		}
	}
	return pq.StringArray(references)
}

func receivedTime(envelope *enmime.Envelope) time.Time {
	if date, err := envelope.Date(); err == nil && !date.IsZero() {
		return date.UTC()
	}
	return utils.Now()
}

// htmlToText extracts readable text from an HTML-only message.
func htmlToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	doc.Find("script, style, head").Remove()
	doc.Find("br").Each(func(_ int, s *goquery.Selection) {
		s.ReplaceWithHtml("\n")
	})
	doc.Find("p, div, tr, li").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	text := doc.Text()
	lines := strings.Split(text, "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		cleaned = append(cleaned, strings.TrimSpace(line))
	}
	text = strings.Join(cleaned, "\n")
	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(text)
}
