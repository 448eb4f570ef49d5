package conn

import (
	"strings"

	"github.com/itskum47/pulsewire/realtime/protocol"
)

var authErrorCodes = map[string]bool{
	"unauthorized":    true,
	"unauthenticated": true,
	"invalid_token":   true,
	"token_expired":   true,
	"auth_failed":     true,
}

var authErrorHints = []string{"token", "unauthorized", "unauthenticated", "expired"}

// IsAuthError reports whether a server error frame means the session's
// identity is no longer valid.
func IsAuthError(f protocol.Error) bool {
	if authErrorCodes[strings.ToLower(f.Code)] {
		return true
	}
	msg := strings.ToLower(f.Message)
	for _, hint := range authErrorHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
