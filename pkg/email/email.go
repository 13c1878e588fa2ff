// Package email holds small helpers for applicant contact addresses.
package email

import (
	"strings"
)

// Normalize trims surrounding whitespace and lowercases the address.
func Normalize(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// Mask hides the local part of an address for logs, keeping its first rune
// and the domain: "ana.lee@example.com" becomes "a***@example.com".
func Mask(addr string) string {
	local, domain, ok := strings.Cut(addr, "@")
	if !ok || local == "" {
		return "***"
	}
	first := []rune(local)[0]
	return string(first) + "***@" + domain
}

// MaskPhone keeps the last two digits of a phone number.
func MaskPhone(phone string) string {
	if len(phone) <= 2 {
		return "***"
	}
	return "***" + phone[len(phone)-2:]
}
