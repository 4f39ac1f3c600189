// Package phone canonicalizes phone numbers so every spelling of a number
// maps to the same thread.
package phone

import "strings"

// Normalize returns phone in E.164 form: a "+" followed by ASCII digits only.
// Ten digits (a US number without country code) get a leading 1. Input with
// no digits yields "".
func Normalize(phone string) string {
	phone = strings.TrimSpace(phone)

	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}

	result := digits.String()
	if result == "" {
		return ""
	}

	// US normalization: 10 digits -> prepend country code 1
	if len(result) == 10 {
		result = "1" + result
	}
	return "+" + result
}
