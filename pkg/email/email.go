package email

import (
	"net/mail"
	"strings"

	dErrors "optin/pkg/domain-errors"
)

// maxLength follows the RFC 5321 forward-path limit.
const maxLength = 254

// Normalize trims and lowercases an address after checking it parses as a
// single bare RFC 5322 address. Display names ("Ann <a@x.com>") are rejected
// so the stored value is always the address the confirmation mail goes to.
func Normalize(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "email is required")
	}
	if len(trimmed) > maxLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, "email is too long")
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Name != "" || addr.Address != trimmed {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid email address")
	}
	at := strings.LastIndexByte(addr.Address, '@')
	if at <= 0 || !strings.Contains(addr.Address[at+1:], ".") {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid email address")
	}
	return strings.ToLower(addr.Address), nil
}

// Domain returns the part after the last '@', or "" when there is none.
func Domain(address string) string {
	if at := strings.LastIndexByte(address, '@'); at >= 0 {
		return address[at+1:]
	}
	return ""
}
