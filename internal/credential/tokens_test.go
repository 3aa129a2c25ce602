package credential

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-gateway/internal/auth"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/database"
)

func TestTokenStore_RoundTrip(t *testing.T) {
	store := NewTokenStore(context.Background(), testDB(t).DB)
	ctx := context.Background()

	created, err := store.Create(ctx, CreateTokenParams{Name: "ci", Role: "operator", Scopes: []string{"operator.read"}})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !strings.HasPrefix(created.Token, TokenPrefix) {
		t.Errorf("token %q missing prefix", created.Token)
	}
	if created.Record.TokenHash != HashToken(created.Token) {
		t.Error("stored hash should be sha256 of the token")
	}

	grant, err := store.Validate(ctx, created.Token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if grant.Role != auth.RoleOperator || grant.Name != "ci" || len(grant.Scopes) != 1 || grant.Scopes[0] != "operator.read" {
		t.Errorf("Validate() = %+v", grant)
	}

	res, err := store.Revoke(ctx, "ci")
	if err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if res.AlreadyRevoked {
		t.Error("first revoke should not report AlreadyRevoked")
	}

	if _, err := store.Validate(ctx, created.Token); !errors.Is(err, ErrInvalid) {
		t.Errorf("Validate() after revoke error = %v, want ErrInvalid", err)
	}
}

func TestTokenStore_ValidateStampsLastUsed(t *testing.T) {
	store := NewTokenStore(context.Background(), testDB(t).DB)
	ctx := context.Background()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	created, err := store.Create(ctx, CreateTokenParams{Name: "ci", Role: "viewer"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := store.Validate(ctx, created.Token); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	tokens, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if tokens[0].LastUsedAt == nil || !tokens[0].LastUsedAt.Equal(fixed) {
		t.Errorf("LastUsedAt = %v, want %v", tokens[0].LastUsedAt, fixed)
	}
}

func TestTokenStore_CreateValidation(t *testing.T) {
	store := NewTokenStore(context.Background(), testDB(t).DB)
	ctx := context.Background()

	if _, err := store.Create(ctx, CreateTokenParams{Name: "x", Role: "root"}); !errors.Is(err, auth.ErrInvalidRole) {
		t.Errorf("Create(bad role) error = %v, want ErrInvalidRole", err)
	}
	if _, err := store.Create(ctx, CreateTokenParams{Name: "  ", Role: "admin"}); !errors.Is(err, ErrEmptyName) {
		t.Errorf("Create(empty name) error = %v, want ErrEmptyName", err)
	}
}

func TestTokenStore_Expired(t *testing.T) {
	store := NewTokenStore(context.Background(), testDB(t).DB)
	ctx := context.Background()

	created, err := store.Create(ctx, CreateTokenParams{
		Name: "old", Role: "admin", ExpiresAt: ptrTime(time.Now().Add(-time.Hour)),
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := store.Validate(ctx, created.Token); !errors.Is(err, ErrInvalid) {
		t.Errorf("Validate(expired) error = %v, want ErrInvalid", err)
	}
	if created.Record.Valid {
		t.Error("expired record should not be Valid")
	}
}

func TestTokenStore_ValidateRejectsUnknownAndMalformed(t *testing.T) {
	store := NewTokenStore(context.Background(), testDB(t).DB)
	ctx := context.Background()

	for _, tok := range []string{"", "ctx_", "not-a-token", "ctx_doesnotexist"} {
		if _, err := store.Validate(ctx, tok); !errors.Is(err, ErrInvalid) {
			t.Errorf("Validate(%q) error = %v, want ErrInvalid", tok, err)
		}
	}
}

func TestTokenStore_RevokeResolution(t *testing.T) {
	store := NewTokenStore(context.Background(), testDB(t).DB)
	ctx := context.Background()

	a, _ := store.Create(ctx, CreateTokenParams{Name: "alpha", Role: "admin"})
	b, _ := store.Create(ctx, CreateTokenParams{Name: "beta", Role: "admin"})
	c, _ := store.Create(ctx, CreateTokenParams{Name: "gamma", Role: "admin"})

	tests := []struct {
		name       string
		identifier string
		wantID     int64
	}{
		{"by name", "alpha", a.Record.ID},
		{"by hash prefix", b.Record.TokenHash[:8], b.Record.ID},
		{"by id", "3", c.Record.ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := store.Revoke(ctx, tt.identifier)
			if err != nil {
				t.Fatalf("Revoke(%q) error = %v", tt.identifier, err)
			}
			if res.Token.ID != tt.wantID {
				t.Errorf("Revoke(%q) matched id %d, want %d", tt.identifier, res.Token.ID, tt.wantID)
			}
		})
	}

	again, err := store.Revoke(ctx, "alpha")
	if err != nil {
		t.Fatalf("second Revoke() error = %v", err)
	}
	if !again.AlreadyRevoked {
		t.Error("second revoke should report AlreadyRevoked")
	}

	if _, err := store.Revoke(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Revoke(missing) error = %v, want ErrNotFound", err)
	}
	// Too short to be treated as a hash prefix.
	if _, err := store.Revoke(ctx, b.Record.TokenHash[:4]); !errors.Is(err, ErrNotFound) {
		t.Errorf("Revoke(short prefix) error = %v, want ErrNotFound", err)
	}
}

func TestTokenStore_NameBeatsID(t *testing.T) {
	store := NewTokenStore(context.Background(), testDB(t).DB)
	ctx := context.Background()

	first, _ := store.Create(ctx, CreateTokenParams{Name: "first", Role: "admin"})
	named2, _ := store.Create(ctx, CreateTokenParams{Name: "1", Role: "admin"})

	res, err := store.Revoke(ctx, "1")
	if err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if res.Token.ID != named2.Record.ID {
		t.Errorf("Revoke(\"1\") matched id %d, want the token named \"1\" (id %d), not id %d",
			res.Token.ID, named2.Record.ID, first.Record.ID)
	}
}

func TestTokenStore_List(t *testing.T) {
	store := NewTokenStore(context.Background(), testDB(t).DB)
	ctx := context.Background()

	live, _ := store.Create(ctx, CreateTokenParams{Name: "live", Role: "viewer"})
	_, _ = store.Create(ctx, CreateTokenParams{Name: "dead", Role: "viewer"})
	if _, err := store.Revoke(ctx, "dead"); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}

	tokens, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(tokens) != 2 {
		t.Fatalf("List() len = %d, want 2", len(tokens))
	}
	for _, tok := range tokens {
		if len(tok.HashPrefix) != hashPrefixLen {
			t.Errorf("HashPrefix = %q, want %d chars", tok.HashPrefix, hashPrefixLen)
		}
		wantValid := tok.Name == "live"
		if tok.Valid != wantValid {
			t.Errorf("%s Valid = %v, want %v", tok.Name, tok.Valid, wantValid)
		}
	}
	if tokens[1].HashPrefix != live.Record.TokenHash[:hashPrefixLen] {
		t.Error("List() should be newest first")
	}
}

func TestTokenStore_Disabled(t *testing.T) {
	ctx := context.Background()
	// A database without migrations has no api_tokens table.
	db, err := database.Open(ctx, database.Config{Path: filepath.Join(t.TempDir(), "empty.db"), BusyTimeout: 1})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	for _, store := range []*TokenStore{NewTokenStore(ctx, db.DB), NewTokenStore(ctx, (*sql.DB)(nil))} {
		if store.InitErr() == nil {
			t.Fatal("InitErr() should report the failed probe")
		}
		if _, err := store.Validate(ctx, "ctx_anything"); !errors.Is(err, ErrInvalid) {
			t.Errorf("Validate() error = %v, want ErrInvalid", err)
		}
		if _, err := store.Create(ctx, CreateTokenParams{Name: "x", Role: "admin"}); !errors.Is(err, ErrUnavailable) {
			t.Errorf("Create() error = %v, want ErrUnavailable", err)
		}
		if _, err := store.List(ctx); !errors.Is(err, ErrUnavailable) {
			t.Errorf("List() error = %v, want ErrUnavailable", err)
		}
		if _, err := store.Revoke(ctx, "x"); !errors.Is(err, ErrUnavailable) {
			t.Errorf("Revoke() error = %v, want ErrUnavailable", err)
		}
	}
}

func TestIsAPIToken(t *testing.T) {
	tests := map[string]bool{
		"ctx_abc":   true,
		"ctx_":      false,
		"CTX_abc":   false,
		"abc":       false,
		"xctx_abcd": false,
	}
	for in, want := range tests {
		if got := IsAPIToken(in); got != want {
			t.Errorf("IsAPIToken(%q) = %v, want %v", in, got, want)
		}
	}
}
