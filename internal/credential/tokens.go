package credential

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-gateway/internal/auth"
)

// APIToken is a stored API token. The secret itself is never kept.
type APIToken struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	TokenHash  string     `json:"-"` // never serialised
	HashPrefix string     `json:"hash_prefix"`
	Role       auth.Role  `json:"role"`
	Scopes     []string   `json:"scopes"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	Revoked    bool       `json:"revoked"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	// Valid is derived with the same predicate Validate uses.
	Valid bool `json:"valid"`
}

// usable reports whether the token would pass Validate at now.
func (t *APIToken) usable(now time.Time) bool {
	if t.Revoked {
		return false
	}
	if t.ExpiresAt != nil && !now.Before(*t.ExpiresAt) {
		return false
	}
	return t.Role.Valid()
}

// CreateTokenParams describes a new API token.
type CreateTokenParams struct {
	Name      string
	Role      string
	Scopes    []string
	ExpiresAt *time.Time
}

// CreatedToken is returned once by Create. Token is the only copy of the secret.
type CreatedToken struct {
	Token  string    `json:"token"`
	Record *APIToken `json:"record"`
}

// TokenGrant is what a successful Validate yields.
type TokenGrant struct {
	ID     int64
	Name   string
	Role   auth.Role
	Scopes []string
}

// RevokeTokenResult reports which record Revoke matched.
type RevokeTokenResult struct {
	Token          *APIToken
	AlreadyRevoked bool
}

// TokenStore persists API tokens in the api_tokens table.
//
// Thread Safety:
//   - Safe for concurrent use; SQLite serialises writes.
type TokenStore struct {
	db      *sql.DB
	initErr error
	now     func() time.Time
}

// NewTokenStore creates a store and probes its table. If the probe fails the
// store is returned disabled; InitErr reports why.
func NewTokenStore(ctx context.Context, db *sql.DB) *TokenStore {
	s := &TokenStore{db: db, now: time.Now}
	if db == nil {
		s.initErr = errors.New("no database")
		return s
	}
	if _, err := db.ExecContext(ctx, "SELECT 1 FROM api_tokens LIMIT 1"); err != nil {
		s.initErr = fmt.Errorf("probing api_tokens: %w", err)
	}
	return s
}

// InitErr returns the initialisation failure, or nil if the store is usable.
func (s *TokenStore) InitErr() error { return s.initErr }

// Create validates the role, generates a secret and stores its hash.
func (s *TokenStore) Create(ctx context.Context, p CreateTokenParams) (*CreatedToken, error) {
	if s.initErr != nil {
		return nil, ErrUnavailable
	}
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return nil, ErrEmptyName
	}
	role, err := auth.ParseRole(p.Role)
	if err != nil {
		return nil, err
	}

	token, hash, err := generateToken()
	if err != nil {
		return nil, err
	}

	scopes := p.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	scopesJSON, err := json.Marshal(scopes)
	if err != nil {
		return nil, fmt.Errorf("marshalling scopes: %w", err)
	}

	now := s.now().UTC().Truncate(time.Second)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO api_tokens (name, token_hash, role, scopes, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		name, hash, string(role), string(scopesJSON), formatTime(now), nullableTime(p.ExpiresAt),
	)
	if err != nil {
		return nil, fmt.Errorf("creating api token: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading api token id: %w", err)
	}

	rec := &APIToken{
		ID:         id,
		Name:       name,
		TokenHash:  hash,
		HashPrefix: hash[:hashPrefixLen],
		Role:       role,
		Scopes:     scopes,
		CreatedAt:  now,
		ExpiresAt:  p.ExpiresAt,
	}
	rec.Valid = rec.usable(s.now())
	return &CreatedToken{Token: token, Record: rec}, nil
}

// Validate looks up a plaintext token and stamps last_used_at on success.
func (s *TokenStore) Validate(ctx context.Context, token string) (*TokenGrant, error) {
	if s.initErr != nil || !IsAPIToken(token) {
		return nil, ErrInvalid
	}

	rec, err := s.scanOne(ctx, "WHERE token_hash = ?", HashToken(token))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalid
	}
	if err != nil {
		return nil, err
	}

	now := s.now()
	if !rec.usable(now) {
		return nil, ErrInvalid
	}

	if _, err := s.db.ExecContext(ctx,
		"UPDATE api_tokens SET last_used_at = ? WHERE id = ?", formatTime(now), rec.ID,
	); err != nil {
		return nil, fmt.Errorf("stamping api token use: %w", err)
	}

	return &TokenGrant{ID: rec.ID, Name: rec.Name, Role: rec.Role, Scopes: rec.Scopes}, nil
}

// Revoke resolves identifier by name, then hash prefix (6+ hex chars), then
// numeric id; the first match wins. Revoking twice is not an error: the
// result reports AlreadyRevoked instead.
func (s *TokenStore) Revoke(ctx context.Context, identifier string) (*RevokeTokenResult, error) {
	if s.initErr != nil {
		return nil, ErrUnavailable
	}
	rec, err := s.resolve(ctx, strings.TrimSpace(identifier))
	if err != nil {
		return nil, err
	}
	if rec.Revoked {
		return &RevokeTokenResult{Token: rec, AlreadyRevoked: true}, nil
	}

	now := s.now().UTC().Truncate(time.Second)
	if _, err := s.db.ExecContext(ctx,
		"UPDATE api_tokens SET revoked = 1, revoked_at = ? WHERE id = ? AND revoked = 0",
		formatTime(now), rec.ID,
	); err != nil {
		return nil, fmt.Errorf("revoking api token: %w", err)
	}
	rec.Revoked = true
	rec.RevokedAt = &now
	rec.Valid = false
	return &RevokeTokenResult{Token: rec}, nil
}

func (s *TokenStore) resolve(ctx context.Context, identifier string) (*APIToken, error) {
	if identifier == "" {
		return nil, ErrNotFound
	}

	// Prefer an active record when several share a name.
	rec, err := s.scanOne(ctx, "WHERE name = ? ORDER BY revoked ASC, id DESC", identifier)
	if !errors.Is(err, ErrNotFound) {
		return rec, err
	}

	if prefix := strings.ToLower(identifier); len(prefix) >= minHashPrefixLen && isHex(prefix) {
		rec, err = s.scanOne(ctx, "WHERE substr(token_hash, 1, ?) = ? ORDER BY id", len(prefix), prefix)
		if !errors.Is(err, ErrNotFound) {
			return rec, err
		}
	}

	if id, convErr := strconv.ParseInt(identifier, 10, 64); convErr == nil {
		return s.scanOne(ctx, "WHERE id = ?", id)
	}
	return nil, ErrNotFound
}

// List returns every token, newest first, with secrets redacted to a prefix.
func (s *TokenStore) List(ctx context.Context) ([]APIToken, error) {
	if s.initErr != nil {
		return nil, ErrUnavailable
	}
	rows, err := s.db.QueryContext(ctx, tokenSelect+" ORDER BY id DESC")
	if err != nil {
		return nil, fmt.Errorf("listing api tokens: %w", err)
	}
	defer rows.Close()

	now := s.now()
	tokens := []APIToken{}
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		t.Valid = t.usable(now)
		tokens = append(tokens, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating api tokens: %w", err)
	}
	return tokens, nil
}

const tokenSelect = `SELECT id, name, token_hash, role, scopes, created_at, expires_at, last_used_at, revoked, revoked_at FROM api_tokens`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *TokenStore) scanOne(ctx context.Context, where string, args ...any) (*APIToken, error) {
	t, err := scanToken(s.db.QueryRowContext(ctx, tokenSelect+" "+where+" LIMIT 1", args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Valid = t.usable(s.now())
	return t, nil
}

func scanToken(row rowScanner) (*APIToken, error) {
	var t APIToken
	var role, scopesJSON, createdAt string
	var expiresAt, lastUsedAt, revokedAt *string
	var revoked int

	if err := row.Scan(&t.ID, &t.Name, &t.TokenHash, &role, &scopesJSON, &createdAt,
		&expiresAt, &lastUsedAt, &revoked, &revokedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning api token: %w", err)
	}

	// Stored roles are not trusted; an unknown value simply makes the token unusable.
	t.Role = auth.Role(role)
	t.Revoked = revoked != 0
	if len(t.TokenHash) >= hashPrefixLen {
		t.HashPrefix = t.TokenHash[:hashPrefixLen]
	}
	if err := json.Unmarshal([]byte(scopesJSON), &t.Scopes); err != nil {
		return nil, fmt.Errorf("decoding api token scopes: %w", err)
	}
	if t.Scopes == nil {
		t.Scopes = []string{}
	}

	var err error
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing api token created_at: %w", err)
	}
	if t.ExpiresAt, err = parseNullTime(expiresAt); err != nil {
		return nil, fmt.Errorf("parsing api token expires_at: %w", err)
	}
	if t.LastUsedAt, err = parseNullTime(lastUsedAt); err != nil {
		return nil, fmt.Errorf("parsing api token last_used_at: %w", err)
	}
	if t.RevokedAt, err = parseNullTime(revokedAt); err != nil {
		return nil, fmt.Errorf("parsing api token revoked_at: %w", err)
	}
	return &t, nil
}
