package identity

import "context"

// Store is the remote identity store, addressed by directory key. It may be
// slow or fail; implementations bound each call with a timeout and bounded
// retries, surfacing ErrStoreUnavailable when the store stays unreachable.
type Store interface {
	// Get returns the account document at key, or ErrAccountNotFound.
	Get(ctx context.Context, key string) (*Account, error)
	// Set writes the full account document at key, replacing any existing one.
	Set(ctx context.Context, key string, acct Account) error
	// Update applies mutate to the document at key and writes it back.
	// Returns ErrAccountNotFound if no document exists.
	Update(ctx context.Context, key string, mutate func(*Account)) error
	// Remove deletes the document at key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
	// FindBySession returns the key and document whose session field equals
	// session, or ErrAccountNotFound when no document matches.
	FindBySession(ctx context.Context, session string) (string, *Account, error)
	// AccessCode returns the current registration access code, bootstrapping
	// a fresh one if none is stored yet.
	AccessCode(ctx context.Context) (string, error)
	// RotateAccessCode replaces the registration access code with a new
	// random value and returns it.
	RotateAccessCode(ctx context.Context) (string, error)
}
