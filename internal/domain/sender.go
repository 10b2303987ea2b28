package domain

import (
	"regexp"
	"strings"
)

// maskKeep is how many leading characters of each name token stay visible.
const maskKeep = 2

var emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9\-]+(\.[A-Za-z0-9\-]+)*\.[A-Za-z]{2,}`)

// MaskName censors a sender name token by token: "Test Person" -> "Te** Pe****".
// Tokens no longer than two characters are left as is. A nil name masks to "".
func MaskName(name *string) string {
	if name == nil {
		return ""
	}
	tokens := strings.Fields(*name)
	for i, tok := range tokens {
		r := []rune(tok)
		if len(r) <= maskKeep {
			continue
		}
		tokens[i] = string(r[:maskKeep]) + strings.Repeat("*", len(r)-maskKeep)
	}
	return strings.Join(tokens, " ")
}

// ExtractEmail returns the first email address found in free text, or nil.
func ExtractEmail(text string) *string {
	m := emailPattern.FindString(text)
	if m == "" {
		return nil
	}
	return &m
}
