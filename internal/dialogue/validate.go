package dialogue

import (
	"regexp"
	"strings"
)

var (
	emailFormat = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

	// phoneFormat accepts international numbers with an optional leading +,
	// separators allowed, 7 to 15 digits total.
	phoneFormat = regexp.MustCompile(`^\+?[0-9][0-9 .\-()]{5,18}[0-9]$`)

	nameCharset = regexp.MustCompile(`^[\p{L}][\p{L}' .\-]+$`)
)

// validName checks a patient name: at least two characters, letters with
// common name punctuation.
func validName(s string) (string, bool) {
	s = strings.Join(strings.Fields(s), " ")
	if len([]rune(s)) < 2 || len([]rune(s)) > 80 {
		return "", false
	}
	if !nameCharset.MatchString(s) {
		return "", false
	}
	return s, true
}

// validEmail normalizes and checks an email address.
func validEmail(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) > 254 || !emailFormat.MatchString(s) {
		return "", false
	}
	return s, true
}

// validPhone normalizes a WhatsApp number to digits with an optional
// leading +.
func validPhone(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if !phoneFormat.MatchString(s) {
		return "", false
	}
	var b strings.Builder
	for i, r := range s {
		if r >= '0' && r <= '9' || (i == 0 && r == '+') {
			b.WriteRune(r)
		}
	}
	digits := strings.TrimPrefix(b.String(), "+")
	if len(digits) < 7 || len(digits) > 15 {
		return "", false
	}
	return b.String(), true
}
