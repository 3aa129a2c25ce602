package credential

import "errors"

// Sentinel errors for credential operations.
var (
	// ErrInvalid covers missing, revoked, expired and exhausted credentials.
	// Callers must not distinguish between them in responses.
	ErrInvalid = errors.New("credential invalid")

	// ErrNotFound is returned by Revoke when no record matches the identifier.
	ErrNotFound = errors.New("credential not found")

	// ErrUnavailable is returned when the backing store failed to initialise.
	ErrUnavailable = errors.New("credential store unavailable")

	// ErrEmptyName is returned when creating a token without a name.
	ErrEmptyName = errors.New("token name is required")
)
