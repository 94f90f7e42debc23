package utils

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"
)

var subjectPrefixRegex = regexp.MustCompile(`(?i)^(re|fwd|fw)(\[\d+\])?:\s*`)

// NormalizeSubject strips reply/forward prefixes ("Re:", "Fwd:", ...) from a
// subject, repeatedly, so stacked prefixes collapse too.
func NormalizeSubject(subject string) string {
	subject = strings.TrimSpace(subject)
	for subjectPrefixRegex.MatchString(subject) {
		subject = subjectPrefixRegex.ReplaceAllString(subject, "")
		subject = strings.TrimSpace(subject)
	}
	return subject
}

// EnsureReplySubject prefixes a subject with "Re: " unless it already carries
// one, case-insensitively.
func EnsureReplySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(subject)), "re:") {
		return subject
	}
	return "Re: " + subject
}

// ExtractAddress returns the bare address from a header value like
// `"Jane Doe" <jane@acme.com>`; the raw value is returned when no angle
// brackets are present.
func ExtractAddress(header string) string {
	header = strings.TrimSpace(header)
	start := strings.LastIndex(header, "<")
	end := strings.LastIndex(header, ">")
	if start >= 0 && end > start {
		return strings.TrimSpace(header[start+1 : end])
	}
	return header
}

// ExtractDomainFromEmail returns the lowercased domain part of an address,
// tolerating display-name forms; empty when the value is not an address.
func ExtractDomainFromEmail(email string) string {
	email = ExtractAddress(email)
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(parts[1]))
}

// NormalizeMessageID strips surrounding whitespace and angle brackets from a
// Message-ID header value.
func NormalizeMessageID(messageID string) string {
	messageID = strings.TrimSpace(messageID)
	messageID = strings.TrimPrefix(messageID, "<")
	messageID = strings.TrimSuffix(messageID, ">")
	return messageID
}

// SubjectThreadID derives a stable fallback thread id from the normalized
// subject and the receiving account address, for messages that carry no
// In-Reply-To or References headers.
func SubjectThreadID(subject, accountEmail string) string {
	key := fmt.Sprintf("%s_%s", strings.ToLower(NormalizeSubject(subject)), strings.ToLower(accountEmail))
	hash := sha256.Sum256([]byte(key))
	return fmt.Sprintf("thread-%x", hash[:12])
}
