package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// NewDeviceToken generates an opaque device credential. 32 random
// bytes, hex encoded.
func NewDeviceToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate device token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
