package pairing

import "errors"

// Sentinel errors for pairing operations.
var (
	// ErrDeviceNotFound is returned when no paired device has the given ID.
	ErrDeviceNotFound = errors.New("paired device not found")

	// ErrRequestNotFound is returned when no pairing request has the given ID.
	ErrRequestNotFound = errors.New("pairing request not found")

	// ErrRequestResolved is returned when approving or rejecting a request
	// that is no longer pending.
	ErrRequestResolved = errors.New("pairing request already resolved")

	// ErrMissingSecret is returned when the store is built without a
	// device token signing secret.
	ErrMissingSecret = errors.New("device token secret is required")

	// ErrInvalidDevice is returned when a request lacks a device ID or key.
	ErrInvalidDevice = errors.New("device id and public key are required")
)
