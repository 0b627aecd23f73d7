package shared

import (
	"strings"
	"unicode/utf8"
)

// MaxUserIDLength bounds opaque user identifiers issued by the auth layer.
const MaxUserIDLength = 128

// ValidateUserID checks an opaque user identifier.
func ValidateUserID(domain, op, userID string) error {
	switch {
	case strings.TrimSpace(userID) == "":
		return Validation(domain, op, "user id cannot be empty")
	case utf8.RuneCountInString(userID) > MaxUserIDLength:
		return Validation(domain, op, "user id too long")
	default:
		return nil
	}
}

// ValidateNonNegative checks a count or amount that may be zero.
func ValidateNonNegative(domain, op, field string, v int64) error {
	if v < 0 {
		return Validation(domain, op, field+" cannot be negative")
	}
	return nil
}

// ValidatePositive checks an amount that must be above zero.
func ValidatePositive(domain, op, field string, v int64) error {
	if v <= 0 {
		return Validation(domain, op, field+" must be positive")
	}
	return nil
}
