package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-gateway/internal/auth"
)

// InviteCode is a stored invite. Code is blanked in listings; Display holds
// a short prefix instead.
type InviteCode struct {
	ID        int64      `json:"id"`
	Code      string     `json:"code,omitempty"`
	Display   string     `json:"display"`
	Role      auth.Role  `json:"role"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	MaxUses   *int       `json:"max_uses,omitempty"`
	UsedCount int        `json:"used_count"`
	CreatedBy string     `json:"created_by,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	Revoked   bool       `json:"revoked"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	Valid     bool       `json:"valid"`
}

// usable reports whether the invite would pass Validate at now.
// Expiry is checked before the usage cap.
func (i *InviteCode) usable(now time.Time) bool {
	if i.Revoked {
		return false
	}
	if i.ExpiresAt != nil && !now.Before(*i.ExpiresAt) {
		return false
	}
	if i.MaxUses != nil && i.UsedCount >= *i.MaxUses {
		return false
	}
	return i.Role.Valid()
}

// CreateInviteParams describes a new invite code.
type CreateInviteParams struct {
	Role      string
	ExpiresAt *time.Time
	// MaxUses is nil for unlimited.
	MaxUses   *int
	CreatedBy string
}

// RevokeInviteResult reports which record Revoke matched.
type RevokeInviteResult struct {
	Invite         *InviteCode
	AlreadyRevoked bool
}

// InviteStore persists invite codes in the invite_codes table.
//
// Validate and Use are separate calls, so two redemptions racing at the cap
// can both pass Validate. Callers accept that small overrun.
type InviteStore struct {
	db      *sql.DB
	initErr error
	now     func() time.Time
}

// NewInviteStore creates a store and probes its table. If the probe fails the
// store is returned disabled; InitErr reports why.
func NewInviteStore(ctx context.Context, db *sql.DB) *InviteStore {
	s := &InviteStore{db: db, now: time.Now}
	if db == nil {
		s.initErr = errors.New("no database")
		return s
	}
	if _, err := db.ExecContext(ctx, "SELECT 1 FROM invite_codes LIMIT 1"); err != nil {
		s.initErr = fmt.Errorf("probing invite_codes: %w", err)
	}
	return s
}

// InitErr returns the initialisation failure, or nil if the store is usable.
func (s *InviteStore) InitErr() error { return s.initErr }

// Create validates the role and stores a fresh code. The full code is
// returned in the record.
func (s *InviteStore) Create(ctx context.Context, p CreateInviteParams) (*InviteCode, error) {
	if s.initErr != nil {
		return nil, ErrUnavailable
	}
	role, err := auth.ParseRole(p.Role)
	if err != nil {
		return nil, err
	}
	if p.MaxUses != nil && *p.MaxUses < 1 {
		return nil, fmt.Errorf("max uses must be at least 1, got %d", *p.MaxUses)
	}

	code, err := generateInviteCode()
	if err != nil {
		return nil, err
	}

	var maxUses any
	if p.MaxUses != nil {
		maxUses = *p.MaxUses
	}
	var createdBy any
	if p.CreatedBy != "" {
		createdBy = p.CreatedBy
	}

	now := s.now().UTC().Truncate(time.Second)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO invite_codes (code, role, expires_at, max_uses, used_count, created_by, created_at, revoked)
		 VALUES (?, ?, ?, ?, 0, ?, ?, ?)`,
		code, string(role), nullableTime(p.ExpiresAt), maxUses, createdBy, formatTime(now), boolToInt(false),
	)
	if err != nil {
		return nil, fmt.Errorf("creating invite code: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading invite id: %w", err)
	}

	inv := &InviteCode{
		ID:        id,
		Code:      code,
		Display:   displayCode(code),
		Role:      role,
		ExpiresAt: p.ExpiresAt,
		MaxUses:   p.MaxUses,
		CreatedBy: p.CreatedBy,
		CreatedAt: now,
	}
	inv.Valid = inv.usable(s.now())
	return inv, nil
}

// Validate checks a code without consuming it and returns the role it grants.
func (s *InviteStore) Validate(ctx context.Context, code string) (auth.Role, error) {
	if s.initErr != nil || code == "" {
		return "", ErrInvalid
	}
	inv, err := s.scanOne(ctx, "WHERE code = ?", code)
	if errors.Is(err, ErrNotFound) {
		return "", ErrInvalid
	}
	if err != nil {
		return "", err
	}
	if !inv.usable(s.now()) {
		return "", ErrInvalid
	}
	return inv.Role, nil
}

// Use records one redemption of code.
func (s *InviteStore) Use(ctx context.Context, code string) error {
	if s.initErr != nil {
		return ErrUnavailable
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE invite_codes SET used_count = used_count + 1 WHERE code = ?", code)
	if err != nil {
		return fmt.Errorf("recording invite use: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite3 always reports rows affected
		return ErrNotFound
	}
	return nil
}

// Revoke resolves identifier by exact code, then code prefix, then numeric id.
func (s *InviteStore) Revoke(ctx context.Context, identifier string) (*RevokeInviteResult, error) {
	if s.initErr != nil {
		return nil, ErrUnavailable
	}
	inv, err := s.resolve(ctx, strings.TrimSpace(strings.TrimSuffix(identifier, "…")))
	if err != nil {
		return nil, err
	}
	if inv.Revoked {
		return &RevokeInviteResult{Invite: inv, AlreadyRevoked: true}, nil
	}

	now := s.now().UTC().Truncate(time.Second)
	if _, err := s.db.ExecContext(ctx,
		"UPDATE invite_codes SET revoked = 1, revoked_at = ? WHERE id = ? AND revoked = 0",
		formatTime(now), inv.ID,
	); err != nil {
		return nil, fmt.Errorf("revoking invite code: %w", err)
	}
	inv.Revoked = true
	inv.RevokedAt = &now
	inv.Valid = false
	return &RevokeInviteResult{Invite: inv}, nil
}

func (s *InviteStore) resolve(ctx context.Context, identifier string) (*InviteCode, error) {
	if identifier == "" {
		return nil, ErrNotFound
	}
	inv, err := s.scanOne(ctx, "WHERE code = ?", identifier)
	if !errors.Is(err, ErrNotFound) {
		return inv, err
	}
	if len(identifier) >= inviteDisplayPrefix {
		inv, err = s.scanOne(ctx, "WHERE substr(code, 1, ?) = ? ORDER BY id", len(identifier), identifier)
		if !errors.Is(err, ErrNotFound) {
			return inv, err
		}
	}
	if id, convErr := strconv.ParseInt(identifier, 10, 64); convErr == nil {
		return s.scanOne(ctx, "WHERE id = ?", id)
	}
	return nil, ErrNotFound
}

// List returns every invite, newest first, with codes redacted.
func (s *InviteStore) List(ctx context.Context) ([]InviteCode, error) {
	if s.initErr != nil {
		return nil, ErrUnavailable
	}
	rows, err := s.db.QueryContext(ctx, inviteSelect+" ORDER BY id DESC")
	if err != nil {
		return nil, fmt.Errorf("listing invite codes: %w", err)
	}
	defer rows.Close()

	now := s.now()
	invites := []InviteCode{}
	for rows.Next() {
		inv, err := scanInvite(rows)
		if err != nil {
			return nil, err
		}
		inv.Valid = inv.usable(now)
		inv.Code = ""
		invites = append(invites, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating invite codes: %w", err)
	}
	return invites, nil
}

const inviteSelect = `SELECT id, code, role, expires_at, max_uses, used_count, created_by, created_at, revoked, revoked_at FROM invite_codes`

func (s *InviteStore) scanOne(ctx context.Context, where string, args ...any) (*InviteCode, error) {
	inv, err := scanInvite(s.db.QueryRowContext(ctx, inviteSelect+" "+where+" LIMIT 1", args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	inv.Valid = inv.usable(s.now())
	return inv, nil
}

func scanInvite(row rowScanner) (*InviteCode, error) {
	var inv InviteCode
	var role, createdAt string
	var expiresAt, revokedAt *string
	var maxUses sql.NullInt64
	var createdBy sql.NullString
	var revoked int

	if err := row.Scan(&inv.ID, &inv.Code, &role, &expiresAt, &maxUses, &inv.UsedCount,
		&createdBy, &createdAt, &revoked, &revokedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning invite code: %w", err)
	}

	inv.Role = auth.Role(role)
	inv.Display = displayCode(inv.Code)
	inv.CreatedBy = createdBy.String
	inv.Revoked = revoked != 0
	if maxUses.Valid {
		n := int(maxUses.Int64)
		inv.MaxUses = &n
	}

	var err error
	if inv.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing invite created_at: %w", err)
	}
	if inv.ExpiresAt, err = parseNullTime(expiresAt); err != nil {
		return nil, fmt.Errorf("parsing invite expires_at: %w", err)
	}
	if inv.RevokedAt, err = parseNullTime(revokedAt); err != nil {
		return nil, fmt.Errorf("parsing invite revoked_at: %w", err)
	}
	return &inv, nil
}

func displayCode(code string) string {
	if len(code) <= inviteDisplayPrefix {
		return code
	}
	return code[:inviteDisplayPrefix] + "…"
}
