package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a 24-character hex identifier, the same shape the frontend
// already validates for document and user ids.
func NewID() string {
	bytes := make([]byte, 12)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// IsValidID reports whether id looks like an identifier produced by NewID.
func IsValidID(id string) bool {
	if len(id) != 24 {
		return false
	}
	_, err := hex.DecodeString(id)
	return err == nil
}
