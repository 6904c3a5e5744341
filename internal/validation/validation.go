package validation

import (
	"os"
	"strconv"
	"strings"
)

func MaxMessageLength() int {
	maxStr := os.Getenv("MAX_MESSAGE_LENGTH")
	if maxStr == "" {
		return 4000
	}
	max, err := strconv.Atoi(maxStr)
	if err != nil || max < 1 {
		return 4000
	}
	return max
}

// ValidateMessageContent rejects empty and oversized payloads. Whitespace-only
// content counts as empty.
func ValidateMessageContent(content string) bool {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return false
	}
	return len(content) <= MaxMessageLength()
}

// ValidateClientID accepts the UUID-shaped temporary ids clients attach to
// optimistic sends. Length alone is checked; the id is opaque to the server.
func ValidateClientID(clientID string) bool {
	return clientID != "" && len(clientID) <= 36
}
