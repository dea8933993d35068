package payments

import (
	"fmt"
	"regexp"
	"strings"
)

var e164Pattern = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)

// NormalizePhone strips formatting, applies the country calling prefix to
// local numbers, and validates the result against E.164. No side effects:
// a malformed number is rejected before anything is dispatched.
func NormalizePhone(raw, countryPrefix string) (phone string, err error) {
	var b strings.Builder
	for _, r := range raw {
		switch r {
		case ' ', '-', '.', '(', ')':
			continue
		}
		b.WriteRune(r)
	}
	phone = b.String()

	switch {
	case strings.HasPrefix(phone, "+"):
		// already international
	case strings.HasPrefix(phone, "0") && countryPrefix != "":
		phone = countryPrefix + phone[1:]
	case countryPrefix != "" && strings.HasPrefix("+"+phone, countryPrefix):
		phone = "+" + phone
	}

	if !e164Pattern.MatchString(phone) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
	}
	return phone, nil
}
