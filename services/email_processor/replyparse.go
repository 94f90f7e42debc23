package email_processor

import (
	"regexp"
	"strings"
)

var (
	// "On Mon, Jan 2, 2006 at 3:04 PM, Jane <jane@acme.com> wrote:"
	attributionRegex = regexp.MustCompile(`(?mi)^On\s.{1,200}?wrote:\s*$`)
	// "-----Original Message-----" and localized variants of forward markers
	originalMessageRegex = regexp.MustCompile(`(?mi)^-{2,}\s*(Original Message|Forwarded message)\s*-{2,}\s*$`)
	// "From: Jane Doe <jane@acme.com>" header block pasted by some clients
	headerBlockRegex = regexp.MustCompile(`(?mi)^From:\s.*$`)
	signatureRegex   = regexp.MustCompile(`(?m)^--\s*$`)
)

// StripQuotedReply removes quoted history and trailing signatures from a
// plain-text body, keeping only the text the sender actually wrote. The full
// body stays available on the raw message; this trimmed form is what the AI
// stages consume.
func StripQuotedReply(body string) string {
	if body == "" {
		return ""
	}

	body = strings.ReplaceAll(body, "\r\n", "\n")

	body = cutAtFirstMatch(body, attributionRegex)
	body = cutAtFirstMatch(body, originalMessageRegex)
	body = cutAtFirstMatch(body, headerBlockRegex)
	body = cutAtFirstMatch(body, signatureRegex)

	lines := strings.Split(body, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), ">") {
			continue
		}
		kept = append(kept, line)
	}

	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func cutAtFirstMatch(body string, re *regexp.Regexp) string {
	if loc := re.FindStringIndex(body); loc != nil {
		return body[:loc[0]]
	}
	return body
}
