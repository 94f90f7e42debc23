package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/customeros/mailsherpa/mailvalidate"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/mailpilot/mailpilot/interfaces"
	"github.com/mailpilot/mailpilot/internal/enum"
	"github.com/mailpilot/mailpilot/internal/models"
	"github.com/mailpilot/mailpilot/internal/tracing"
	"github.com/mailpilot/mailpilot/internal/utils"
)

// SMTPSender composes threaded replies and delivers them over the account's
// SMTP endpoint.
type SMTPSender struct{}

func NewSMTPSender() interfaces.EmailSender {
	return &SMTPSender{}
}

// replyEnvelope is everything needed to write and route one outgoing reply.
type replyEnvelope struct {
	messageID string
	from      string
	to        string
	headers   map[string]string
	bodyText  string
	bodyHTML  string
}

// SendReply sends the stored draft as a reply to the original message and
// returns the Message-ID of the outgoing email.
func (s *SMTPSender) SendReply(ctx context.Context, account *models.EmailAccount, original *models.EmailMessage) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SMTPSender.SendReply")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, account.ID)
	tracing.TagMessage(span, original.ID)

	envelope, err := s.composeReply(ctx, account, original)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}

	buffer, err := s.buildMessage(ctx, envelope)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}

	if err := s.sendToServer(ctx, account, envelope.from, []string{envelope.to}, buffer); err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}

	span.SetTag("reply.messageId", envelope.messageID)
	return envelope.messageID, nil
}

// composeReply derives addressing and threading headers from the original
// message: the reply goes back to the sender, the subject gains a single
// "Re: " prefix, and In-Reply-To plus the extended References chain keep mail
// clients threading correctly.
func (s *SMTPSender) composeReply(ctx context.Context, account *models.EmailAccount, original *models.EmailMessage) (*replyEnvelope, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "SMTPSender.composeReply")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	if strings.TrimSpace(original.Draft) == "" && strings.TrimSpace(original.DraftHTML) == "" {
		return nil, errors.New("message has no draft to send")
	}

	recipient := utils.ExtractAddress(original.Sender)
	validation := mailvalidate.ValidateEmailSyntax(recipient)
	if !validation.IsValid {
		return nil, errors.Errorf("reply recipient is not a valid address: %s", recipient)
	}

	envelope := &replyEnvelope{
		messageID: utils.GenerateMessageID(account.Domain(), original.MessageID),
		from:      account.EmailAddress,
		to:        validation.CleanEmail,
		bodyText:  withSignatureText(original.Draft, account.Signature),
		bodyHTML:  withSignatureHTML(original.DraftHTML, original.Draft, account.Signature),
	}

	headers := map[string]string{
		"From":         formatFrom(account),
		"To":           envelope.to,
		"Subject":      utils.EnsureReplySubject(original.Subject),
		"Message-ID":   envelope.messageID,
		"Date":         utils.Now().Format(time.RFC1123Z),
		"MIME-Version": "1.0",
	}

	if original.MessageID != "" {
		headers["In-Reply-To"] = "<" + original.MessageID + ">"
		headers["References"] = buildReferences(original)
	}

	envelope.headers = headers
	return envelope, nil
}

// buildReferences extends the original References chain with the message being
// answered, per RFC 5322 threading rules.
func buildReferences(original *models.EmailMessage) string {
	refs := make([]string, 0, len(original.References)+1)
	for _, ref := range original.References {
		refs = append(refs, "<"+ref+">")
	}
	self := "<" + original.MessageID + ">"
	if !utils.IsStringInSlice(self, refs) {
		refs = append(refs, self)
	}
	return strings.Join(refs, " ")
}

func formatFrom(account *models.EmailAccount) string {
	if account.Name != "" {
		return fmt.Sprintf("%s <%s>", account.Name, account.EmailAddress)
	}
	return account.EmailAddress
}

func withSignatureText(body, signature string) string {
	if signature == "" {
		return body
	}
	return body + "\n\n" + signature
}

// withSignatureHTML produces the HTML alternative. A missing HTML draft is
// synthesized from the text draft with newlines as line breaks.
func withSignatureHTML(html, text, signature string) string {
	if html == "" {
		html = strings.ReplaceAll(text, "\n", "<br>")
	}
	if signature == "" {
		return html
	}
	return html + "<br><br>" + strings.ReplaceAll(signature, "\n", "<br>")
}

// buildMessage writes the reply as multipart/alternative with text and HTML
// parts.
func (s *SMTPSender) buildMessage(ctx context.Context, envelope *replyEnvelope) (*bytes.Buffer, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "SMTPSender.buildMessage")
	defer span.Finish()

	buffer := bytes.NewBuffer(nil)
	writer := multipart.NewWriter(buffer)

	envelope.headers["Content-Type"] = "multipart/alternative; boundary=" + writer.Boundary()
	writeHeaders(envelope.headers, buffer)

	textPart, err := writer.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/plain; charset=UTF-8"},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to create text part: %w", err)
	}
	if _, err := textPart.Write([]byte(envelope.bodyText)); err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to write text content: %w", err)
	}

	htmlPart, err := writer.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/html; charset=UTF-8"},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to create HTML part: %w", err)
	}
	if _, err := htmlPart.Write([]byte(envelope.bodyHTML)); err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to write HTML content: %w", err)
	}

	if err := writer.Close(); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return buffer, nil
}

func writeHeaders(headers map[string]string, buffer *bytes.Buffer) {
	for k, v := range headers {
		buffer.WriteString(fmt.Sprintf("%s: %s\r\n", k, v))
	}
	buffer.WriteString("\r\n")
}

// sendToServer delivers the prepared message over the account's SMTP endpoint.
func (s *SMTPSender) sendToServer(ctx context.Context, account *models.EmailAccount, from string, recipients []string, buffer *bytes.Buffer) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SMTPSender.sendToServer")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.LogKV("smtp_server", account.SmtpServer)
	span.LogKV("smtp_port", account.SmtpPort)

	addr := fmt.Sprintf("%s:%d", account.SmtpServer, account.SmtpPort)
	auth := smtp.PlainAuth("", account.Username, account.Password, account.SmtpServer)

	switch account.SmtpSecurity {
	case enum.EmailSecurityStartTLS:
		return s.sendWithSTARTTLS(ctx, account, addr, auth, from, recipients, buffer)
	case enum.EmailSecurityTLS:
		return s.sendWithTLS(ctx, account, addr, auth, from, recipients, buffer)
	default:
		err := smtp.SendMail(addr, auth, from, recipients, buffer.Bytes())
		if err != nil {
			err = fmt.Errorf("failed to send email: %w", err)
			tracing.TraceErr(span, err)
			return err
		}
		return nil
	}
}

func (s *SMTPSender) sendWithSTARTTLS(ctx context.Context, account *models.EmailAccount, addr string, auth smtp.Auth, from string, recipients []string, buffer *bytes.Buffer) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "SMTPSender.sendWithSTARTTLS")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	// Connect to the server without TLS first
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		err = fmt.Errorf("failed to connect to SMTP server: %w", err)
		tracing.TraceErr(span, err)
		return err
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, account.SmtpServer)
	if err != nil {
		err = fmt.Errorf("failed to create SMTP client: %w", err)
		tracing.TraceErr(span, err)
		return err
	}
	defer client.Close()

	tlsConfig := &tls.Config{
		ServerName: account.SmtpServer,
	}
	if err = client.StartTLS(tlsConfig); err != nil {
		err = fmt.Errorf("failed to start TLS: %w", err)
		tracing.TraceErr(span, err)
		return err
	}

	return s.transmit(ctx, client, auth, from, recipients, buffer)
}

func (s *SMTPSender) sendWithTLS(ctx context.Context, account *models.EmailAccount, addr string, auth smtp.Auth, from string, recipients []string, buffer *bytes.Buffer) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "SMTPSender.sendWithTLS")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	tlsConfig := &tls.Config{
		ServerName: account.SmtpServer,
	}
	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		err = fmt.Errorf("failed to connect to SMTP server over TLS: %w", err)
		tracing.TraceErr(span, err)
		return err
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, account.SmtpServer)
	if err != nil {
		err = fmt.Errorf("failed to create SMTP client: %w", err)
		tracing.TraceErr(span, err)
		return err
	}
	defer client.Close()

	return s.transmit(ctx, client, auth, from, recipients, buffer)
}

// transmit runs the SMTP dialogue on an established client.
func (s *SMTPSender) transmit(ctx context.Context, client *smtp.Client, auth smtp.Auth, from string, recipients []string, buffer *bytes.Buffer) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "SMTPSender.transmit")
	defer span.Finish()

	if err := client.Auth(auth); err != nil {
		err = fmt.Errorf("SMTP authentication failed: %w", err)
		tracing.TraceErr(span, err)
		return err
	}

	if err := client.Mail(from); err != nil {
		err = fmt.Errorf("SMTP MAIL command failed: %w", err)
		tracing.TraceErr(span, err)
		return err
	}

	for _, recipient := range recipients {
		if err := client.Rcpt(recipient); err != nil {
			err = fmt.Errorf("SMTP RCPT command failed for %s: %w", recipient, err)
			tracing.TraceErr(span, err)
			return err
		}
	}

	writer, err := client.Data()
	if err != nil {
		err = fmt.Errorf("SMTP DATA command failed: %w", err)
		tracing.TraceErr(span, err)
		return err
	}

	if _, err := writer.Write(buffer.Bytes()); err != nil {
		err = fmt.Errorf("failed to write message data: %w", err)
		tracing.TraceErr(span, err)
		return err
	}

	if err := writer.Close(); err != nil {
		err = fmt.Errorf("failed to finalize message data: %w", err)
		tracing.TraceErr(span, err)
		return err
	}

	return client.Quit()
}
