package pairing

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nerrad567/gray-logic-gateway/internal/auth"
)

func TestEnsureDeviceToken_Stable(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	pairDevice(t, s, requestParams("dev-1"), auth.RoleOperator)

	first, err := s.EnsureDeviceToken(ctx, "dev-1", "operator", []string{"operator.read"})
	if err != nil {
		t.Fatalf("EnsureDeviceToken() error = %v", err)
	}
	if strings.Count(first, ".") != 2 {
		t.Fatalf("token %q is not a JWT", first)
	}

	second, err := s.EnsureDeviceToken(ctx, "dev-1", "operator", []string{"operator.read"})
	if err != nil {
		t.Fatalf("EnsureDeviceToken() error = %v", err)
	}
	if first != second {
		t.Error("EnsureDeviceToken() should return the same token for unchanged scopes")
	}
}

func TestEnsureDeviceToken_RotatesOnScopeChange(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	pairDevice(t, s, requestParams("dev-1"), auth.RoleOperator)

	old, err := s.EnsureDeviceToken(ctx, "dev-1", "operator", []string{"operator.read"})
	if err != nil {
		t.Fatalf("EnsureDeviceToken() error = %v", err)
	}
	rotated, err := s.EnsureDeviceToken(ctx, "dev-1", "operator", []string{"operator.read", "operator.write"})
	if err != nil {
		t.Fatalf("EnsureDeviceToken() error = %v", err)
	}
	if old == rotated {
		t.Fatal("token should rotate when scopes change")
	}

	if ok, _ := s.VerifyDeviceToken(ctx, "dev-1", old, "operator", nil); ok {
		t.Error("rotated-out token should no longer verify")
	}
	if ok, err := s.VerifyDeviceToken(ctx, "dev-1", rotated, "operator", []string{"operator.write"}); err != nil || !ok {
		t.Errorf("VerifyDeviceToken() = %v, %v; want true", ok, err)
	}
}

func TestVerifyDeviceToken(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	pairDevice(t, s, requestParams("dev-1"), auth.RoleOperator)
	pairDevice(t, s, requestParams("dev-2"), auth.RoleOperator)

	token, err := s.EnsureDeviceToken(ctx, "dev-1", "operator", []string{"operator.read"})
	if err != nil {
		t.Fatalf("EnsureDeviceToken() error = %v", err)
	}

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, DeviceTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "dev-1", ID: "x", IssuedAt: jwt.NewNumericDate(time.Now())},
		Role:             "operator",
	}).SignedString([]byte("some-other-secret-of-sufficient-length"))
	if err != nil {
		t.Fatalf("signing forged token: %v", err)
	}

	tests := []struct {
		name     string
		deviceID string
		token    string
		role     string
		scopes   []string
		want     bool
	}{
		{"valid", "dev-1", token, "operator", nil, true},
		{"valid subset of scopes", "dev-1", token, "operator", []string{"operator.read"}, true},
		{"scope escalation", "dev-1", token, "operator", []string{"operator.admin"}, false},
		{"other device", "dev-2", token, "operator", nil, false},
		{"other role", "dev-1", token, "node", nil, false},
		{"garbage", "dev-1", "not-a-jwt", "operator", nil, false},
		{"wrong secret", "dev-1", forged, "operator", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.VerifyDeviceToken(ctx, tt.deviceID, tt.token, tt.role, tt.scopes)
			if err != nil {
				t.Fatalf("VerifyDeviceToken() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("VerifyDeviceToken() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRevokeDeviceTokens(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	pairDevice(t, s, requestParams("dev-1"), auth.RoleOperator)

	token, err := s.EnsureDeviceToken(ctx, "dev-1", "operator", nil)
	if err != nil {
		t.Fatalf("EnsureDeviceToken() error = %v", err)
	}
	if err := s.RevokeDeviceTokens(ctx, "dev-1"); err != nil {
		t.Fatalf("RevokeDeviceTokens() error = %v", err)
	}
	if ok, _ := s.VerifyDeviceToken(ctx, "dev-1", token, "operator", nil); ok {
		t.Error("revoked token should not verify")
	}

	fresh, err := s.EnsureDeviceToken(ctx, "dev-1", "operator", nil)
	if err != nil {
		t.Fatalf("EnsureDeviceToken() error = %v", err)
	}
	if fresh == token {
		t.Error("a revoked token should be replaced, not re-issued")
	}
	if ok, _ := s.VerifyDeviceToken(ctx, "dev-1", fresh, "operator", nil); !ok {
		t.Error("fresh token should verify")
	}
}
