// Package identity provides account documents, credential handling and the
// remote identity-store client used for authentication and registration.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Account is the per-user document stored at users/<DirectoryKey(email)>.
type Account struct {
	// Pass is the bcrypt hash of the account password.
	Pass string `json:"pass"`
	// Email is the registered address, lower-cased and trimmed.
	Email string `json:"email"`
	// Name is the display name chosen at registration.
	Name string `json:"name"`
	// IsBlocked marks an account that may no longer log in.
	IsBlocked bool `json:"isBlocked"`
	// Session is the current session token in "token|expiry" form, or
	// InvalidSession when logged out.
	Session string `json:"session,omitempty"`
}

// ErrAccountNotFound is returned when a directory lookup yields no document.
var ErrAccountNotFound = errors.New("account not found")

// ErrStoreUnavailable is returned when a store call keeps failing after retries.
var ErrStoreUnavailable = errors.New("identity store unavailable")

// NormalizeEmail lower-cases and trims an email address. All directory keys
// are derived from the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// DirectoryKey derives the stable directory key for an email address.
//
// Postcondition: Returns a hex-encoded digest; equal for any two inputs that
// normalize to the same address.
func DirectoryKey(email string) string {
	sum := sha256.Sum256([]byte(NormalizeEmail(email)))
	return hex.EncodeToString(sum[:])
}

// HashPassword creates a bcrypt hash of the given password.
//
// Precondition: password must be non-empty.
// Postcondition: Returns a bcrypt hash string.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword compares a plaintext password against a bcrypt hash.
//
// Postcondition: Returns true if password matches the hash.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
