package pairing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DeviceTokenClaims are the claims carried by a device-bound token.
type DeviceTokenClaims struct {
	jwt.RegisteredClaims
	Role   string   `json:"role"`
	Scopes []string `json:"scopes"`
}

// DeviceTokenRecord is the stored state behind a device token.
type DeviceTokenRecord struct {
	DeviceID  string
	Role      string
	JTI       string
	Scopes    []string
	IssuedAt  time.Time
	RevokedAt *time.Time
}

// EnsureDeviceToken returns the device token for (deviceID, role).
//
// The token is derived from the stored (jti, issued_at, scopes) row, so
// calling this repeatedly yields the same string. A new jti is minted when no
// live row exists or the scopes changed, which invalidates any older token.
func (s *SQLiteStore) EnsureDeviceToken(ctx context.Context, deviceID, role string, scopes []string) (string, error) {
	scopes = normalizeScopes(scopes)

	rec, err := s.deviceTokenRecord(ctx, deviceID, role)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}

	if rec == nil || rec.RevokedAt != nil || !slices.Equal(rec.Scopes, scopes) {
		rec = &DeviceTokenRecord{
			DeviceID: deviceID,
			Role:     role,
			JTI:      uuid.NewString(),
			Scopes:   scopes,
			IssuedAt: s.now().UTC().Truncate(time.Second),
		}
		scopesJSON, err := json.Marshal(scopes)
		if err != nil {
			return "", fmt.Errorf("marshalling scopes: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO device_tokens (device_id, role, jti, scopes, issued_at, revoked_at)
			VALUES (?, ?, ?, ?, ?, NULL)
			ON CONFLICT(device_id, role) DO UPDATE SET
				jti = excluded.jti,
				scopes = excluded.scopes,
				issued_at = excluded.issued_at,
				revoked_at = NULL`,
			deviceID, role, rec.JTI, string(scopesJSON), rec.IssuedAt.Unix(),
		); err != nil {
			return "", fmt.Errorf("saving device token: %w", err)
		}
	}

	return s.signDeviceToken(rec)
}

// VerifyDeviceToken reports whether token is the live device token for
// (deviceID, role) and covers every requested scope. A bad or stale token is
// (false, nil); errors are reserved for storage failures.
func (s *SQLiteStore) VerifyDeviceToken(ctx context.Context, deviceID, token, role string, scopes []string) (bool, error) {
	claims, err := s.parseDeviceToken(token)
	if err != nil {
		return false, nil //nolint:nilerr // an unparseable token is simply not valid
	}
	if claims.Subject != deviceID || claims.Role != role {
		return false, nil
	}

	rec, err := s.deviceTokenRecord(ctx, deviceID, role)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if rec.RevokedAt != nil || rec.JTI != claims.ID {
		return false, nil
	}
	return isSubset(scopes, rec.Scopes), nil
}

// RevokeDeviceTokens revokes every token issued to deviceID.
func (s *SQLiteStore) RevokeDeviceTokens(ctx context.Context, deviceID string) error {
	if _, err := s.db.ExecContext(ctx,
		"UPDATE device_tokens SET revoked_at = ? WHERE device_id = ? AND revoked_at IS NULL",
		formatTime(s.now()), deviceID,
	); err != nil {
		return fmt.Errorf("revoking device tokens: %w", err)
	}
	return nil
}

func (s *SQLiteStore) deviceTokenRecord(ctx context.Context, deviceID, role string) (*DeviceTokenRecord, error) {
	rec := DeviceTokenRecord{DeviceID: deviceID, Role: role}
	var scopesJSON string
	var issuedAt int64
	var revokedAt sql.NullString

	err := s.db.QueryRowContext(ctx,
		"SELECT jti, scopes, issued_at, revoked_at FROM device_tokens WHERE device_id = ? AND role = ?",
		deviceID, role,
	).Scan(&rec.JTI, &scopesJSON, &issuedAt, &revokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("loading device token: %w", err)
	}

	if rec.Scopes, err = decodeList(scopesJSON); err != nil {
		return nil, fmt.Errorf("decoding device token scopes: %w", err)
	}
	rec.IssuedAt = time.Unix(issuedAt, 0).UTC()
	if rec.RevokedAt, err = parseNullTime(revokedAt); err != nil {
		return nil, fmt.Errorf("parsing device token revoked_at: %w", err)
	}
	return &rec, nil
}

// signDeviceToken renders rec as an HS256 JWT. HMAC signing is deterministic,
// so the same record always produces the same token.
func (s *SQLiteStore) signDeviceToken(rec *DeviceTokenRecord) (string, error) {
	claims := DeviceTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  rec.DeviceID,
			ID:       rec.JTI,
			IssuedAt: jwt.NewNumericDate(rec.IssuedAt),
		},
		Role:   rec.Role,
		Scopes: rec.Scopes,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing device token: %w", err)
	}
	return signed, nil
}

func (s *SQLiteStore) parseDeviceToken(token string) (*DeviceTokenClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &DeviceTokenClaims{}, func(_ *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("parsing device token: %w", err)
	}
	claims, ok := parsed.Claims.(*DeviceTokenClaims)
	if !ok || !parsed.Valid || claims.Subject == "" || claims.ID == "" {
		return nil, errors.New("device token claims incomplete")
	}
	return claims, nil
}
