package otp

import (
	"strings"

	"github.com/bandyab/bandyab/internal/domain"
)

// NormalizePhone converts an Iranian mobile number in any common notation
// (09121234567, +989121234567, 00989121234567, 9121234567, with Persian or Arabic
// digits and separators) into the canonical +989xxxxxxxxx form.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for i, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= '۰' && r <= '۹':
			b.WriteRune('0' + (r - '۰'))
		case r >= '٠' && r <= '٩':
			b.WriteRune('0' + (r - '٠'))
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return "", domain.ErrInvalidPhone
		}
	}
	digits := b.String()

	switch {
	case strings.HasPrefix(digits, "0098"):
		digits = digits[4:]
	case strings.HasPrefix(digits, "98") && len(digits) == 12:
		digits = digits[2:]
	case strings.HasPrefix(digits, "0"):
		digits = digits[1:]
	}

	if len(digits) != 10 || digits[0] != '9' {
		return "", domain.ErrInvalidPhone
	}
	return "+98" + digits, nil
}

// MaskPhone hides the middle of a canonical number for logs
func MaskPhone(phone string) string {
	if len(phone) < 8 {
		return "***"
	}
	return phone[:6] + "****" + phone[len(phone)-3:]
}
