package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// InvalidSession is the session marker written on logout or reclaim.
const InvalidSession = "null|0"

// NewSessionToken mints a fresh session token in "token|expiry" form, where
// expiry is a unix-seconds timestamp lifetime from now.
//
// Precondition: lifetime must be positive.
// Postcondition: Returns a token that SessionValid accepts until expiry.
func NewSessionToken(lifetime time.Duration) (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating session token: %w", err)
	}
	expiry := time.Now().Add(lifetime).Unix()
	return fmt.Sprintf("%s|%d", hex.EncodeToString(raw), expiry), nil
}

// SessionExpiry parses the expiry half of a "token|expiry" composite.
//
// Postcondition: Returns (expiry, true) for a well-formed session, or
// (zero, false) otherwise.
func SessionExpiry(session string) (time.Time, bool) {
	_, expiryPart, ok := strings.Cut(session, "|")
	if !ok {
		return time.Time{}, false
	}
	secs, err := strconv.ParseInt(expiryPart, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(secs, 0), true
}

// SessionValid reports whether session is well-formed and unexpired at now.
func SessionValid(session string, now time.Time) bool {
	expiry, ok := SessionExpiry(session)
	return ok && expiry.After(now)
}

// NewAccessCode generates a random 6-digit registration access code.
func NewAccessCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("generating access code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
