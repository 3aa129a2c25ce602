// Package credential implements the gateway's persistent credential stores:
// long-lived API tokens and multi-use invite codes.
//
// API tokens look like "ctx_<base64url>" and are shown exactly once; only
// their SHA-256 is stored. Invite codes are meant to be shared out of band
// and are stored and compared in plaintext.
//
// A store whose table cannot be probed at construction is disabled rather
// than fatal: Validate always reports ErrInvalid and the other operations
// return ErrUnavailable.
package credential
