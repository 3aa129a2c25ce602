package deviceid

import (
	"crypto/ed25519"
	"time"
)

// MaxSkew is the largest accepted distance between signedAt and now.
const MaxSkew = 10 * time.Minute

// Claim is the device block of a connect frame plus the fields the device
// signed over.
type Claim struct {
	DeviceID  string
	PublicKey string
	Signature string
	SignedAt  int64 // unix milliseconds
	// Nonce is the nonce the client echoed back, if any.
	Nonce string

	ClientID   string
	ClientMode string
	Role       string
	Scopes     []string
	Token      string
}

// Context carries what the server knows about the connection.
type Context struct {
	// IssuedNonce is the nonce sent in connect.challenge for this connection.
	IssuedNonce string
	IsLocal     bool
	Now         time.Time
}

// Verification is the result of a successful Verify.
type Verification struct {
	DeviceID  string
	PublicKey ed25519.PublicKey
	// Legacy is true when the signature only verified against the v1 payload.
	Legacy bool
}

// Verifier enforces the handshake invariants for device identities.
type Verifier struct {
	maxSkew time.Duration
}

// NewVerifier creates a Verifier with the default skew window.
func NewVerifier() *Verifier {
	return &Verifier{maxSkew: MaxSkew}
}

// Verify checks, in order: key decoding, fingerprint match, timestamp skew,
// nonce presence and equality, and finally the signature. A signature with a
// nonce must verify against the v2 payload. The v1 payload is accepted only
// for local connections that sent no nonce, and is reported as Legacy.
func (v *Verifier) Verify(c Claim, vc Context) (*Verification, error) {
	pub, err := DecodePublicKey(c.PublicKey)
	if err != nil {
		return nil, ErrPublicKeyInvalid
	}
	if Fingerprint(pub) != c.DeviceID {
		return nil, ErrIdentityMismatch
	}

	now := vc.Now
	if now.IsZero() {
		now = time.Now()
	}
	// Compared in milliseconds: a Duration between now and an extreme
	// signedAt saturates and cannot be negated safely.
	if c.SignedAt <= 0 {
		return nil, ErrSignatureExpired
	}
	limit := v.maxSkew.Milliseconds()
	d := now.UnixMilli() - c.SignedAt
	if d > limit || d < -limit {
		return nil, ErrSignatureExpired
	}

	if !vc.IsLocal && c.Nonce == "" {
		return nil, ErrNonceRequired
	}
	if c.Nonce != "" && c.Nonce != vc.IssuedNonce {
		return nil, ErrNonceMismatch
	}

	payload := Payload{
		DeviceID:   c.DeviceID,
		ClientID:   c.ClientID,
		ClientMode: c.ClientMode,
		Role:       c.Role,
		Scopes:     c.Scopes,
		SignedAtMs: c.SignedAt,
		Token:      c.Token,
		Nonce:      c.Nonce,
	}
	if c.Nonce != "" {
		if VerifySignature(pub, payload.Build(), c.Signature) {
			return &Verification{DeviceID: c.DeviceID, PublicKey: pub}, nil
		}
		return nil, ErrSignatureInvalid
	}

	// Nonce-less signatures reach here only on local connections.
	if VerifySignature(pub, payload.WithoutNonce().Build(), c.Signature) {
		return &Verification{DeviceID: c.DeviceID, PublicKey: pub, Legacy: true}, nil
	}
	return nil, ErrSignatureInvalid
}
