// Package deviceid verifies device identities presented during the handshake.
//
// A device identity is an Ed25519 keypair. Its id is the SHA-256 fingerprint
// of the raw public key, so an id can always be re-derived from the key. On
// every connect the device signs a canonical, versioned payload that binds
// its id, client, requested role and scopes, a timestamp, the optional
// device token and (v2) the server-issued nonce.
package deviceid

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"strconv"
	"strings"
)

// Payload versions.
const (
	PayloadV1 = "v1"
	PayloadV2 = "v2"
)

// Errors returned by Verify, in the order the checks run.
var (
	ErrPublicKeyInvalid = errors.New("device public key invalid")
	ErrIdentityMismatch = errors.New("device identity mismatch")
	ErrSignatureExpired = errors.New("device signature expired")
	ErrNonceRequired    = errors.New("device nonce required")
	ErrNonceMismatch    = errors.New("device nonce mismatch")
	ErrSignatureInvalid = errors.New("device signature invalid")
)

// Fingerprint returns the device id for a public key: hex(sha256(raw key)).
func Fingerprint(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:])
}

// EncodePublicKey renders a public key in the wire form (base64url, no padding).
func EncodePublicKey(pub ed25519.PublicKey) string {
	return base64.RawURLEncoding.EncodeToString(pub)
}

// DecodePublicKey accepts a raw 32-byte key as base64 (URL or standard
// alphabet, padded or not) or a PEM-encoded SPKI block.
func DecodePublicKey(s string) (ed25519.PublicKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrPublicKeyInvalid
	}

	if strings.HasPrefix(s, "-----BEGIN") {
		block, _ := pem.Decode([]byte(s))
		if block == nil {
			return nil, ErrPublicKeyInvalid
		}
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, ErrPublicKeyInvalid
		}
		pub, ok := key.(ed25519.PublicKey)
		if !ok {
			return nil, ErrPublicKeyInvalid
		}
		return pub, nil
	}

	raw, err := decodeBase64(s)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, ErrPublicKeyInvalid
	}
	return ed25519.PublicKey(raw), nil
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	s = strings.NewReplacer("+", "-", "/", "_").Replace(s)
	return base64.RawURLEncoding.DecodeString(s)
}

// Payload is the set of fields a device signs.
type Payload struct {
	DeviceID   string
	ClientID   string
	ClientMode string
	Role       string
	Scopes     []string
	SignedAtMs int64
	Token      string
	Nonce      string
}

// Build renders the canonical payload string. The version is v2 when a
// nonce is present, otherwise v1:
//
//	v1|deviceId|clientId|clientMode|role|scope1,scope2|signedAtMs|token
//	v2|deviceId|clientId|clientMode|role|scope1,scope2|signedAtMs|token|nonce
func (p Payload) Build() string {
	version := PayloadV1
	if p.Nonce != "" {
		version = PayloadV2
	}
	parts := []string{
		version,
		p.DeviceID,
		p.ClientID,
		p.ClientMode,
		p.Role,
		strings.Join(p.Scopes, ","),
		strconv.FormatInt(p.SignedAtMs, 10),
		p.Token,
	}
	if version == PayloadV2 {
		parts = append(parts, p.Nonce)
	}
	return strings.Join(parts, "|")
}

// WithoutNonce returns a copy with the nonce cleared (the v1 form).
func (p Payload) WithoutNonce() Payload {
	p.Nonce = ""
	return p
}

// VerifySignature checks a base64url Ed25519 signature over payload.
func VerifySignature(pub ed25519.PublicKey, payload, signature string) bool {
	sig, err := decodeBase64(signature)
	if err != nil || len(sig) != ed25519.SignatureSize || len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, []byte(payload), sig)
}

// Sign produces the base64url signature over payload. Used by clients and tests.
func Sign(priv ed25519.PrivateKey, payload string) string {
	return base64.RawURLEncoding.EncodeToString(ed25519.Sign(priv, []byte(payload)))
}
