package email_processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripQuotedReply_Attribution(t *testing.T) {
	body := "Sounds good, let's do Tuesday.\n\nOn Mon, Jan 5, 2026 at 3:04 PM Jane Doe <jane@acme.com> wrote:\n> Can we meet next week?\n> Tuesday works for me."

	assert.Equal(t, "Sounds good, let's do Tuesday.", StripQuotedReply(body))
}

func TestStripQuotedReply_OriginalMessageMarker(t *testing.T) {
	body := "Attached the invoice.\n\n-----Original Message-----\nFrom: Jane Doe\nSent: Monday\nSubject: Invoice"

	assert.Equal(t, "Attached the invoice.", StripQuotedReply(body))
}

func TestStripQuotedReply_HeaderBlock(t *testing.T) {
	body := "Thanks!\n\nFrom: Jane Doe <jane@acme.com>\nSent: Monday, January 5\nTo: sales@acme.com\n\nOriginal text here"

	assert.Equal(t, "Thanks!", StripQuotedReply(body))
}

func TestStripQuotedReply_Signature(t *testing.T) {
	body := "See you there.\n\n-- \nJane Doe\nVP of Sales"

	assert.Equal(t, "See you there.", StripQuotedReply(body))
}

func TestStripQuotedReply_QuotedLines(t *testing.T) {
	body := "Agreed.\n> earlier point one\n> earlier point two\nWill follow up."

	assert.Equal(t, "Agreed.\nWill follow up.", StripQuotedReply(body))
}

func TestStripQuotedReply_CRLFAndEmpty(t *testing.T) {
	assert.Equal(t, "Hello", StripQuotedReply("Hello\r\n\r\n-- \r\nsig"))
	assert.Equal(t, "", StripQuotedReply(""))
	// A body that is nothing but quoted history collapses to empty
	assert.Equal(t, "", StripQuotedReply("> quoted\n> quoted"))
}
