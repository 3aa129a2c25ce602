package pairing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-gateway/internal/auth"
)

// defaultSecurityRole is granted on approval when neither the approver nor
// the request names one.
const defaultSecurityRole = auth.RoleOperator

// SQLiteStore implements pairing persistence using SQLite.
//
// Thread Safety:
//   - Safe for concurrent use; multi-statement changes run in a transaction.
type SQLiteStore struct {
	db     *sql.DB
	secret []byte
	now    func() time.Time
}

// NewSQLiteStore creates a store. secret signs device tokens.
func NewSQLiteStore(db *sql.DB, secret string) (*SQLiteStore, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	return &SQLiteStore{db: db, secret: []byte(secret), now: time.Now}, nil
}

// GetPairedDevice returns the paired device with deviceID, or ErrDeviceNotFound.
func (s *SQLiteStore) GetPairedDevice(ctx context.Context, deviceID string) (*PairedDevice, error) {
	d, err := scanDevice(s.db.QueryRowContext(ctx, deviceSelect+" WHERE device_id = ?", deviceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeviceNotFound
	}
	return d, err
}

// ListPairedDevices returns every paired device, most recently approved first.
func (s *SQLiteStore) ListPairedDevices(ctx context.Context) ([]PairedDevice, error) {
	rows, err := s.db.QueryContext(ctx, deviceSelect+" ORDER BY approved_at DESC, device_id")
	if err != nil {
		return nil, fmt.Errorf("listing paired devices: %w", err)
	}
	defer rows.Close()

	devices := []PairedDevice{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating paired devices: %w", err)
	}
	return devices, nil
}

// RequestDevicePairing records that a device wants to pair.
//
// A device has at most one pending request: asking again refreshes the
// pending request in place (Created=false). FirstDevice reports whether the
// gateway has no paired devices yet.
func (s *SQLiteStore) RequestDevicePairing(ctx context.Context, p RequestParams) (*RequestResult, error) {
	if p.DeviceID == "" || p.PublicKey == "" {
		return nil, ErrInvalidDevice
	}
	scopes, err := json.Marshal(normalizeScopes(p.Scopes))
	if err != nil {
		return nil, fmt.Errorf("marshalling scopes: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	var paired int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM paired_devices").Scan(&paired); err != nil {
		return nil, fmt.Errorf("counting paired devices: %w", err)
	}

	now := s.now().UTC()
	existing, err := scanRequest(tx.QueryRowContext(ctx,
		requestSelect+" WHERE device_id = ? AND status = ? ORDER BY created_at DESC LIMIT 1",
		p.DeviceID, StatusPending))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	created := existing == nil
	id := uuid.NewString()
	if created {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO pairing_requests (id, device_id, public_key, role, scopes, security_role,
				remote_ip, display_name, platform, client_id, client_mode, silent, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, p.DeviceID, p.PublicKey, p.Role, string(scopes), nullString(string(p.SecurityRole)),
			nullString(p.RemoteIP), nullString(p.DisplayName), nullString(p.Platform),
			nullString(p.ClientID), nullString(p.ClientMode), boolToInt(p.Silent), StatusPending,
			formatTime(now))
	} else {
		id = existing.ID
		_, err = tx.ExecContext(ctx, `
			UPDATE pairing_requests SET public_key = ?, role = ?, scopes = ?, security_role = ?,
				remote_ip = ?, display_name = ?, platform = ?, client_id = ?, client_mode = ?, silent = ?
			WHERE id = ?`,
			p.PublicKey, p.Role, string(scopes), nullString(string(p.SecurityRole)),
			nullString(p.RemoteIP), nullString(p.DisplayName), nullString(p.Platform),
			nullString(p.ClientID), nullString(p.ClientMode), boolToInt(p.Silent), id)
	}
	if err != nil {
		return nil, fmt.Errorf("saving pairing request: %w", err)
	}

	req, err := scanRequest(tx.QueryRowContext(ctx, requestSelect+" WHERE id = ?", id))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing pairing request: %w", err)
	}
	return &RequestResult{Request: req, Created: created, FirstDevice: paired == 0}, nil
}

// GetPairingRequest returns the request with id, or ErrRequestNotFound.
func (s *SQLiteStore) GetPairingRequest(ctx context.Context, id string) (*PairingRequest, error) {
	r, err := scanRequest(s.db.QueryRowContext(ctx, requestSelect+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRequestNotFound
	}
	return r, err
}

// ListPairingRequests returns requests with the given status (all when
// status is empty), newest first.
func (s *SQLiteStore) ListPairingRequests(ctx context.Context, status string) ([]PairingRequest, error) {
	query := requestSelect
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	rows, err := s.db.QueryContext(ctx, query+" ORDER BY created_at DESC, id", args...)
	if err != nil {
		return nil, fmt.Errorf("listing pairing requests: %w", err)
	}
	defer rows.Close()

	requests := []PairingRequest{}
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pairing requests: %w", err)
	}
	return requests, nil
}

// ApproveDevicePairing approves a pending request and creates or widens the
// paired device record: the request's connection role and scopes are merged
// into what the device already had.
//
// securityRole is the role to grant; when empty the request's role is used,
// then the device's existing role, then operator.
func (s *SQLiteStore) ApproveDevicePairing(ctx context.Context, requestID string, securityRole auth.Role) (*PairedDevice, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	req, err := scanRequest(tx.QueryRowContext(ctx, requestSelect+" WHERE id = ?", requestID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	if req.Status != StatusPending {
		return nil, ErrRequestResolved
	}

	existing, err := scanDevice(tx.QueryRowContext(ctx, deviceSelect+" WHERE device_id = ?", req.DeviceID))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	role := securityRole
	if !role.Valid() {
		role = req.SecurityRole
	}
	if !role.Valid() && existing != nil {
		role = existing.SecurityRole
	}
	if !role.Valid() {
		role = defaultSecurityRole
	}

	var roles, scopes []string
	createdAt := s.now().UTC()
	if existing != nil {
		roles = existing.Roles
		scopes = existing.Scopes
		createdAt = existing.CreatedAt
	}
	if req.Role != "" {
		roles = append(roles, req.Role)
	}
	rolesJSON, err := json.Marshal(normalizeScopes(roles))
	if err != nil {
		return nil, fmt.Errorf("marshalling roles: %w", err)
	}
	scopesJSON, err := json.Marshal(normalizeScopes(append(scopes, req.Scopes...)))
	if err != nil {
		return nil, fmt.Errorf("marshalling scopes: %w", err)
	}

	now := formatTime(s.now())
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO paired_devices (device_id, public_key, roles, scopes, security_role,
			display_name, platform, client_id, client_mode, remote_ip, created_at, approved_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			public_key = excluded.public_key,
			roles = excluded.roles,
			scopes = excluded.scopes,
			security_role = excluded.security_role,
			display_name = COALESCE(excluded.display_name, paired_devices.display_name),
			platform = COALESCE(excluded.platform, paired_devices.platform),
			client_id = COALESCE(excluded.client_id, paired_devices.client_id),
			client_mode = COALESCE(excluded.client_mode, paired_devices.client_mode),
			remote_ip = COALESCE(excluded.remote_ip, paired_devices.remote_ip),
			approved_at = excluded.approved_at`,
		req.DeviceID, req.PublicKey, string(rolesJSON), string(scopesJSON), string(role),
		nullString(req.DisplayName), nullString(req.Platform), nullString(req.ClientID),
		nullString(req.ClientMode), nullString(req.RemoteIP), formatTime(createdAt), now, now,
	); err != nil {
		return nil, fmt.Errorf("saving paired device: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE pairing_requests SET status = ?, security_role = ?, resolved_at = ? WHERE id = ?",
		StatusApproved, string(role), now, requestID,
	); err != nil {
		return nil, fmt.Errorf("resolving pairing request: %w", err)
	}

	device, err := scanDevice(tx.QueryRowContext(ctx, deviceSelect+" WHERE device_id = ?", req.DeviceID))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing approval: %w", err)
	}
	return device, nil
}

// RejectDevicePairing marks a pending request rejected.
func (s *SQLiteStore) RejectDevicePairing(ctx context.Context, requestID string) (*PairingRequest, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE pairing_requests SET status = ?, resolved_at = ? WHERE id = ? AND status = ?",
		StatusRejected, formatTime(s.now()), requestID, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("rejecting pairing request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // SQLite always reports rows affected
		if _, err := s.GetPairingRequest(ctx, requestID); err != nil {
			return nil, err
		}
		return nil, ErrRequestResolved
	}
	return s.GetPairingRequest(ctx, requestID)
}

// RemovePairedDevice unpairs a device. Its device tokens go with it.
func (s *SQLiteStore) RemovePairedDevice(ctx context.Context, deviceID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM paired_devices WHERE device_id = ?", deviceID)
	if err != nil {
		return fmt.Errorf("removing paired device: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // SQLite always reports rows affected
		return ErrDeviceNotFound
	}
	return nil
}

// UpdatePairedDeviceMetadata stamps last_seen_at and refreshes the
// descriptive fields. Empty fields in u leave the stored value alone.
func (s *SQLiteStore) UpdatePairedDeviceMetadata(ctx context.Context, deviceID string, u MetadataUpdate) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE paired_devices SET
			remote_ip = COALESCE(?, remote_ip),
			display_name = COALESCE(?, display_name),
			platform = COALESCE(?, platform),
			client_id = COALESCE(?, client_id),
			client_mode = COALESCE(?, client_mode),
			last_seen_at = ?
		WHERE device_id = ?`,
		nullString(u.RemoteIP), nullString(u.DisplayName), nullString(u.Platform),
		nullString(u.ClientID), nullString(u.ClientMode), formatTime(s.now()), deviceID)
	if err != nil {
		return fmt.Errorf("updating paired device: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // SQLite always reports rows affected
		return ErrDeviceNotFound
	}
	return nil
}

const deviceSelect = `SELECT device_id, public_key, roles, scopes, security_role, display_name, platform,
	client_id, client_mode, remote_ip, created_at, approved_at, last_seen_at FROM paired_devices`

const requestSelect = `SELECT id, device_id, public_key, role, scopes, security_role, remote_ip,
	display_name, platform, client_id, client_mode, silent, status, created_at, resolved_at FROM pairing_requests`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*PairedDevice, error) {
	var d PairedDevice
	var rolesJSON, scopesJSON, securityRole, createdAt, approvedAt string
	var displayName, platform, clientID, clientMode, remoteIP, lastSeen sql.NullString

	if err := row.Scan(&d.DeviceID, &d.PublicKey, &rolesJSON, &scopesJSON, &securityRole,
		&displayName, &platform, &clientID, &clientMode, &remoteIP, &createdAt, &approvedAt, &lastSeen); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning paired device: %w", err)
	}

	d.SecurityRole = auth.Role(securityRole)
	d.DisplayName = displayName.String
	d.Platform = platform.String
	d.ClientID = clientID.String
	d.ClientMode = clientMode.String
	d.RemoteIP = remoteIP.String

	var err error
	if d.Roles, err = decodeList(rolesJSON); err != nil {
		return nil, fmt.Errorf("decoding device roles: %w", err)
	}
	if d.Scopes, err = decodeList(scopesJSON); err != nil {
		return nil, fmt.Errorf("decoding device scopes: %w", err)
	}
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing device created_at: %w", err)
	}
	if d.ApprovedAt, err = parseTime(approvedAt); err != nil {
		return nil, fmt.Errorf("parsing device approved_at: %w", err)
	}
	if d.LastSeenAt, err = parseNullTime(lastSeen); err != nil {
		return nil, fmt.Errorf("parsing device last_seen_at: %w", err)
	}
	return &d, nil
}

func scanRequest(row rowScanner) (*PairingRequest, error) {
	var r PairingRequest
	var scopesJSON, createdAt string
	var securityRole, remoteIP, displayName, platform, clientID, clientMode, resolvedAt sql.NullString
	var silent int

	if err := row.Scan(&r.ID, &r.DeviceID, &r.PublicKey, &r.Role, &scopesJSON, &securityRole, &remoteIP,
		&displayName, &platform, &clientID, &clientMode, &silent, &r.Status, &createdAt, &resolvedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning pairing request: %w", err)
	}

	r.SecurityRole = auth.Role(securityRole.String)
	r.RemoteIP = remoteIP.String
	r.DisplayName = displayName.String
	r.Platform = platform.String
	r.ClientID = clientID.String
	r.ClientMode = clientMode.String
	r.Silent = silent != 0

	var err error
	if r.Scopes, err = decodeList(scopesJSON); err != nil {
		return nil, fmt.Errorf("decoding request scopes: %w", err)
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing request created_at: %w", err)
	}
	if r.ResolvedAt, err = parseNullTime(resolvedAt); err != nil {
		return nil, fmt.Errorf("parsing request resolved_at: %w", err)
	}
	return &r, nil
}

func decodeList(s string) ([]string, error) {
	out := []string{}
	if s == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

// Timestamps are stored as RFC3339 UTC text.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil //nolint:nilnil // NULL column
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
