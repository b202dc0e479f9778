package identity

import (
	"regexp"
	"strings"
	"unicode"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// ValidName reports whether name is an acceptable display name:
// 4-20 characters after trimming surrounding whitespace.
func ValidName(name string) bool {
	trimmed := strings.TrimSpace(name)
	return len(trimmed) >= 4 && len(trimmed) <= 20
}

// ValidPassword reports whether password satisfies the complexity predicate:
// at least 8 characters, at least one letter, at least one digit, and at
// least one character that is neither.
func ValidPassword(password string) bool {
	if len(password) < 8 {
		return false
	}
	var letter, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		default:
			special = true
		}
	}
	return letter && digit && special
}

// ValidEmail reports whether email looks like an address after normalization.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(NormalizeEmail(email))
}
