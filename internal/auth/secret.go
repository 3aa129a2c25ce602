package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters (OWASP recommendation).
const (
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 1
	argonKeyLen  = 32
	argonSaltLen = 16

	phcParts = 6
)

// Shared-secret authentication modes reported as authMode in hello-ok.
const (
	AuthModeSharedToken = "shared-token"
	AuthModePassword    = "password"
	AuthModeNone        = "none"
)

// Sentinel errors for shared-secret checks.
var (
	ErrSecretMissing  = errors.New("gateway auth missing")
	ErrSecretMismatch = errors.New("gateway auth mismatch")
	ErrInvalidHash    = errors.New("invalid password hash")
)

// HashPassword hashes a password with Argon2id and returns it in PHC format:
// $argon2id$v=19$m=65536,t=3,p=1$<salt>$<hash>
func HashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyPassword checks a password against an Argon2id PHC string.
func VerifyPassword(password, encodedHash string) (bool, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != phcParts || parts[1] != "argon2id" {
		return false, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false, fmt.Errorf("%w: version %q", ErrInvalidHash, parts[2])
	}

	var memory, iterations uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false, fmt.Errorf("%w: parameters: %w", ErrInvalidHash, err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("%w: salt: %w", ErrInvalidHash, err)
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("%w: hash: %w", ErrInvalidHash, err)
	}

	candidate := argon2.IDKey([]byte(password), salt, iterations, memory, threads, uint32(len(hash))) //nolint:gosec // G115: hash length always fits uint32
	return subtle.ConstantTimeCompare(hash, candidate) == 1, nil
}

// SharedSecret is the gateway-wide credential configured by the operator:
// a bearer token, an Argon2id password hash, or nothing at all.
type SharedSecret struct {
	mode         string
	token        string
	passwordHash string
}

// NewSharedSecret builds a SharedSecret from the security.auth config values.
// mode is "token", "password" or "none".
func NewSharedSecret(mode, token, passwordHash string) SharedSecret {
	return SharedSecret{mode: mode, token: token, passwordHash: passwordHash}
}

// Mode returns the configured mode.
func (s SharedSecret) Mode() string { return s.mode }

// Open reports whether no shared secret is required.
func (s SharedSecret) Open() bool { return s.mode == AuthModeNone }

// Check verifies the token or password presented in a connect frame and
// returns the authMode to report on success.
func (s SharedSecret) Check(token, password string) (string, error) {
	switch s.mode {
	case AuthModeNone:
		return AuthModeNone, nil
	case AuthModePassword:
		if password == "" {
			return "", ErrSecretMissing
		}
		ok, err := VerifyPassword(password, s.passwordHash)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", ErrSecretMismatch
		}
		return AuthModePassword, nil
	default:
		if token == "" {
			return "", ErrSecretMissing
		}
		if !constantTimeEqual(token, s.token) {
			return "", ErrSecretMismatch
		}
		return AuthModeSharedToken, nil
	}
}

// constantTimeEqual compares digests so neither content nor length leaks.
func constantTimeEqual(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}
