package chat

import (
	"strings"
	"time"
	"unicode"
)

// Peer is a resolved directory identity.
type Peer struct {
	ID    string `json:"uid"`
	Label string `json:"email,omitempty"`
}

// ConversationSummary is one row of the recency index.
type ConversationSummary struct {
	OtherID       string     `json:"otherUid"`
	OtherLabel    string     `json:"otherEmail,omitempty"`
	LastTimestamp *time.Time `json:"lastTimestampIso,omitempty"`
}

// DisplayName prefers the label and falls back to a shortened id.
func (c ConversationSummary) DisplayName() string {
	if c.OtherLabel != "" {
		return c.OtherLabel
	}
	if len(c.OtherID) > 10 {
		return c.OtherID[:10] + "…"
	}
	return c.OtherID
}

// Initials returns the first two alphanumerics of s upper-cased, or "??".
func Initials(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(unicode.ToUpper(r))
			if b.Len() == 2 {
				break
			}
		}
	}
	if b.Len() == 0 {
		return "??"
	}
	return b.String()
}
