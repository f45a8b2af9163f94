package wa

import (
	"strings"

	"go.mau.fi/whatsmeow/types"
)

// NormalizeRecipient maps a human-entered recipient to its canonical chat
// address. An input that already carries a server part ("@...") passes
// through unchanged; anything else is treated as a phone number: every
// non-digit is stripped and the direct-chat server is appended.
//
// The function is total and pure, and idempotent: normalizing an already
// normalized address returns it unchanged. Correlation keys depend on that.
func NormalizeRecipient(recipient string) string {
	if strings.ContainsRune(recipient, '@') {
		return recipient
	}
	var digits strings.Builder
	for _, r := range recipient {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	return digits.String() + "@" + types.DefaultUserServer
}
