package utils

import "github.com/google/uuid"

// GenerateID returns a prefixed random identifier, e.g. "conn-1b4e28ba-...".
func GenerateID(prefix string) string {
	if prefix == "" {
		return uuid.NewString()
	}
	return prefix + "-" + uuid.NewString()
}
