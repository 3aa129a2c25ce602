package deviceid

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"testing"
)

func newKey(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	return pub, priv
}

func TestFingerprint_Deterministic(t *testing.T) {
	pub, _ := newKey(t)
	a, b := Fingerprint(pub), Fingerprint(pub)
	if a != b || len(a) != 64 {
		t.Errorf("Fingerprint() = %q / %q", a, b)
	}
	other, _ := newKey(t)
	if Fingerprint(other) == a {
		t.Error("different keys should have different fingerprints")
	}
}

func TestDecodePublicKey(t *testing.T) {
	pub, _ := newKey(t)

	spki, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey() error = %v", err)
	}
	pemKey := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: spki}))

	forms := map[string]string{
		"raw url":    base64.RawURLEncoding.EncodeToString(pub),
		"padded url": base64.URLEncoding.EncodeToString(pub),
		"std":        base64.StdEncoding.EncodeToString(pub),
		"pem":        pemKey,
	}
	for name, s := range forms {
		t.Run(name, func(t *testing.T) {
			got, err := DecodePublicKey(s)
			if err != nil {
				t.Fatalf("DecodePublicKey() error = %v", err)
			}
			if !got.Equal(pub) {
				t.Error("decoded key differs")
			}
		})
	}

	for _, bad := range []string{"", "!!!", base64.RawURLEncoding.EncodeToString([]byte("short")), "-----BEGIN PUBLIC KEY-----\nnope\n-----END PUBLIC KEY-----"} {
		if _, err := DecodePublicKey(bad); !errors.Is(err, ErrPublicKeyInvalid) {
			t.Errorf("DecodePublicKey(%q) error = %v, want ErrPublicKeyInvalid", bad, err)
		}
	}
}

func TestPayloadBuild(t *testing.T) {
	p := Payload{
		DeviceID: "dev", ClientID: "cli", ClientMode: "ui", Role: "operator",
		Scopes: []string{"a", "b"}, SignedAtMs: 1700000000000, Token: "tok",
	}
	if got, want := p.Build(), "v1|dev|cli|ui|operator|a,b|1700000000000|tok"; got != want {
		t.Errorf("v1 Build() = %q, want %q", got, want)
	}

	p.Nonce = "n-1"
	if got, want := p.Build(), "v2|dev|cli|ui|operator|a,b|1700000000000|tok|n-1"; got != want {
		t.Errorf("v2 Build() = %q, want %q", got, want)
	}
	if p.WithoutNonce().Build()[:2] != PayloadV1 {
		t.Error("WithoutNonce() should build v1")
	}
}

// Changing any single signed field must break the signature.
func TestSignatureTamperSensitivity(t *testing.T) {
	_, priv := newKey(t)
	pub := priv.Public().(ed25519.PublicKey)

	base := Payload{
		DeviceID: Fingerprint(pub), ClientID: "cli", ClientMode: "ui", Role: "operator",
		Scopes: []string{"operator.read"}, SignedAtMs: 1700000000000, Token: "", Nonce: "n-1",
	}
	sig := Sign(priv, base.Build())
	if !VerifySignature(pub, base.Build(), sig) {
		t.Fatal("signature should verify over the original payload")
	}

	mutations := map[string]func(p *Payload){
		"role":     func(p *Payload) { p.Role = "node" },
		"scopes":   func(p *Payload) { p.Scopes = []string{"operator.read", "operator.admin"} },
		"signedAt": func(p *Payload) { p.SignedAtMs++ },
		"nonce":    func(p *Payload) { p.Nonce = "n-2" },
		"deviceId": func(p *Payload) { p.DeviceID = "other" },
		"clientId": func(p *Payload) { p.ClientID = "other" },
		"mode":     func(p *Payload) { p.ClientMode = "cli" },
		"token":    func(p *Payload) { p.Token = "tok" },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			p := base
			p.Scopes = append([]string(nil), base.Scopes...)
			mutate(&p)
			if VerifySignature(pub, p.Build(), sig) {
				t.Errorf("signature still verifies after changing %s", name)
			}
		})
	}
}

func TestVerifySignature_Malformed(t *testing.T) {
	pub, _ := newKey(t)
	for _, sig := range []string{"", "not base64 !", base64.RawURLEncoding.EncodeToString([]byte("short"))} {
		if VerifySignature(pub, "payload", sig) {
			t.Errorf("VerifySignature(%q) = true", sig)
		}
	}
}
