// Package email holds helpers for recipient addresses used by the mail channel.
package email

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/emersion/go-message/mail"
)

// Normalize parses addr (which may include a display name) and returns the
// bare, lowercased address.
func Normalize(addr string) (string, error) {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return "", fmt.Errorf("email address is empty")
	}
	parsed, err := mail.ParseAddress(trimmed)
	if err != nil {
		return "", fmt.Errorf("parse email address %q: %w", trimmed, err)
	}
	return strings.ToLower(parsed.Address), nil
}

// GreetingName returns a friendly first name for addr, e.g. "Amina" for
// "amina.yusuf@example.com". Returns "there" when nothing usable is found.
func GreetingName(addr string) string {
	first, _ := DeriveNameFromEmail(addr)
	if first == "" || first == "User" {
		return "there"
	}
	return first
}

// DeriveNameFromEmail splits the local part on common separators and
// capitalizes the first and last segments. Missing parts become "User".
func DeriveNameFromEmail(addr string) (string, string) {
	localPart := addr
	if at := strings.IndexByte(addr, '@'); at > 0 {
		localPart = addr[:at]
	}

	parts := strings.FieldsFunc(localPart, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+' || unicode.IsDigit(r)
	})
	if len(parts) == 0 {
		return "User", "User"
	}

	first := capitalize(parts[0])
	last := "User"
	if len(parts) > 1 {
		last = capitalize(parts[len(parts)-1])
	}
	return first, last
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(strings.ToLower(s))
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
