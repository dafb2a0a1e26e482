// Package phone provides phone number utilities.
// This is part of the platform layer and contains no business logic.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

const defaultRegion = "BR"

// Digits reduces a free-form phone number to its digits, preferring the
// E.164 rendering without the leading "+" when the number parses as a valid
// Brazilian (or fully qualified international) number. Invalid inputs fall
// back to a plain digit strip so a lead is never lost to formatting noise.
func Digits(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return ""
	}

	number, err := phonenumbers.Parse(trimmed, defaultRegion)
	if err == nil && phonenumbers.IsValidNumber(number) {
		return strings.TrimPrefix(phonenumbers.Format(number, phonenumbers.E164), "+")
	}

	return stripNonDigits(trimmed)
}

func stripNonDigits(value string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, value)
}
