package auth

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Token lifetimes for the two stores.
const (
	verificationTokenTTL  = 24 * time.Hour
	passwordResetTokenTTL = 1 * time.Hour
)

// generateToken creates a cryptographically random opaque token:
// 32 bytes encoded as 64 hex characters. No uniqueness check is made
// before insert; collision probability is negligible at this size.
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
