package pairing

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-gateway/internal/auth"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-gateway/migrations"
)

const testSecret = "device-token-secret-at-least-32-chars!"

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "pairing.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	store, err := NewSQLiteStore(db.DB, testSecret)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	return store
}

func requestParams(deviceID string) RequestParams {
	return RequestParams{
		DeviceID:    deviceID,
		PublicKey:   "pk-" + deviceID,
		Role:        "operator",
		Scopes:      []string{"operator.write", "operator.read"},
		RemoteIP:    "192.168.1.20",
		DisplayName: "Kitchen tablet",
		Platform:    "android",
		ClientID:    "control-ui",
		ClientMode:  "ui",
	}
}

// pairDevice runs the request → approve flow and returns the paired device.
func pairDevice(t *testing.T, s *SQLiteStore, p RequestParams, role auth.Role) *PairedDevice {
	t.Helper()
	ctx := context.Background()
	res, err := s.RequestDevicePairing(ctx, p)
	if err != nil {
		t.Fatalf("RequestDevicePairing() error = %v", err)
	}
	d, err := s.ApproveDevicePairing(ctx, res.Request.ID, role)
	if err != nil {
		t.Fatalf("ApproveDevicePairing() error = %v", err)
	}
	return d
}

func TestNewSQLiteStore_RequiresSecret(t *testing.T) {
	if _, err := NewSQLiteStore(nil, ""); !errors.Is(err, ErrMissingSecret) {
		t.Errorf("NewSQLiteStore() error = %v, want ErrMissingSecret", err)
	}
}

func TestRequestDevicePairing(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	first, err := s.RequestDevicePairing(ctx, requestParams("dev-1"))
	if err != nil {
		t.Fatalf("RequestDevicePairing() error = %v", err)
	}
	if !first.Created || !first.FirstDevice {
		t.Errorf("first request Created=%v FirstDevice=%v, want both true", first.Created, first.FirstDevice)
	}
	if first.Request.Status != StatusPending {
		t.Errorf("Status = %q, want pending", first.Request.Status)
	}
	if !slices.Equal(first.Request.Scopes, []string{"operator.read", "operator.write"}) {
		t.Errorf("Scopes = %v, want sorted", first.Request.Scopes)
	}

	// Asking again refreshes the same pending request.
	p := requestParams("dev-1")
	p.RemoteIP = "192.168.1.21"
	again, err := s.RequestDevicePairing(ctx, p)
	if err != nil {
		t.Fatalf("RequestDevicePairing() error = %v", err)
	}
	if again.Created {
		t.Error("second request should refresh, not create")
	}
	if again.Request.ID != first.Request.ID {
		t.Errorf("request ID changed: %q → %q", first.Request.ID, again.Request.ID)
	}
	if again.Request.RemoteIP != "192.168.1.21" {
		t.Errorf("RemoteIP = %q, want refreshed value", again.Request.RemoteIP)
	}

	if _, err := s.RequestDevicePairing(ctx, RequestParams{DeviceID: "x"}); !errors.Is(err, ErrInvalidDevice) {
		t.Errorf("missing public key error = %v, want ErrInvalidDevice", err)
	}
}

func TestFirstDeviceOnlyUntilSomethingIsPaired(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	pairDevice(t, s, requestParams("dev-1"), auth.RoleAdmin)

	res, err := s.RequestDevicePairing(ctx, requestParams("dev-2"))
	if err != nil {
		t.Fatalf("RequestDevicePairing() error = %v", err)
	}
	if res.FirstDevice {
		t.Error("FirstDevice should be false once a device is paired")
	}
}

func TestApproveDevicePairing(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	res, err := s.RequestDevicePairing(ctx, requestParams("dev-1"))
	if err != nil {
		t.Fatalf("RequestDevicePairing() error = %v", err)
	}

	d, err := s.ApproveDevicePairing(ctx, res.Request.ID, auth.RoleViewer)
	if err != nil {
		t.Fatalf("ApproveDevicePairing() error = %v", err)
	}
	if d.SecurityRole != auth.RoleViewer {
		t.Errorf("SecurityRole = %q, want viewer", d.SecurityRole)
	}
	if !d.HasRole("operator") || d.HasRole("node") {
		t.Errorf("Roles = %v, want [operator]", d.Roles)
	}
	if !d.CoversScopes([]string{"operator.read"}) || d.CoversScopes([]string{"operator.admin"}) {
		t.Errorf("Scopes = %v", d.Scopes)
	}
	if d.DisplayName != "Kitchen tablet" || d.ClientID != "control-ui" {
		t.Errorf("metadata not carried over: %+v", d)
	}

	req, err := s.GetPairingRequest(ctx, res.Request.ID)
	if err != nil {
		t.Fatalf("GetPairingRequest() error = %v", err)
	}
	if req.Status != StatusApproved || req.ResolvedAt == nil {
		t.Errorf("request = %+v, want approved with resolved_at", req)
	}

	if _, err := s.ApproveDevicePairing(ctx, res.Request.ID, auth.RoleAdmin); !errors.Is(err, ErrRequestResolved) {
		t.Errorf("second approve error = %v, want ErrRequestResolved", err)
	}
	if _, err := s.ApproveDevicePairing(ctx, "nope", auth.RoleAdmin); !errors.Is(err, ErrRequestNotFound) {
		t.Errorf("unknown request error = %v, want ErrRequestNotFound", err)
	}
}

func TestApproveDevicePairing_RoleFallback(t *testing.T) {
	s := testStore(t)

	p := requestParams("dev-1")
	p.SecurityRole = auth.RoleChatOnly
	if d := pairDevice(t, s, p, ""); d.SecurityRole != auth.RoleChatOnly {
		t.Errorf("SecurityRole = %q, want the requested chat-only", d.SecurityRole)
	}

	if d := pairDevice(t, s, requestParams("dev-2"), ""); d.SecurityRole != defaultSecurityRole {
		t.Errorf("SecurityRole = %q, want default %q", d.SecurityRole, defaultSecurityRole)
	}
}

func TestApproveDevicePairing_MergesRolesAndScopes(t *testing.T) {
	s := testStore(t)

	pairDevice(t, s, requestParams("dev-1"), auth.RoleOperator)

	p := requestParams("dev-1")
	p.Role = "node"
	p.Scopes = []string{"node.invoke"}
	d := pairDevice(t, s, p, "")

	if !slices.Equal(d.Roles, []string{"node", "operator"}) {
		t.Errorf("Roles = %v, want [node operator]", d.Roles)
	}
	if !slices.Equal(d.Scopes, []string{"node.invoke", "operator.read", "operator.write"}) {
		t.Errorf("Scopes = %v", d.Scopes)
	}
	if d.SecurityRole != auth.RoleOperator {
		t.Errorf("SecurityRole = %q, want the existing operator", d.SecurityRole)
	}
}

func TestRejectDevicePairing(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	res, err := s.RequestDevicePairing(ctx, requestParams("dev-1"))
	if err != nil {
		t.Fatalf("RequestDevicePairing() error = %v", err)
	}

	req, err := s.RejectDevicePairing(ctx, res.Request.ID)
	if err != nil {
		t.Fatalf("RejectDevicePairing() error = %v", err)
	}
	if req.Status != StatusRejected {
		t.Errorf("Status = %q, want rejected", req.Status)
	}
	if _, err := s.RejectDevicePairing(ctx, res.Request.ID); !errors.Is(err, ErrRequestResolved) {
		t.Errorf("second reject error = %v, want ErrRequestResolved", err)
	}
	if _, err := s.RejectDevicePairing(ctx, "nope"); !errors.Is(err, ErrRequestNotFound) {
		t.Errorf("unknown reject error = %v, want ErrRequestNotFound", err)
	}
	if _, err := s.GetPairedDevice(ctx, "dev-1"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetPairedDevice() error = %v, want ErrDeviceNotFound", err)
	}

	// A rejected device can ask again.
	again, err := s.RequestDevicePairing(ctx, requestParams("dev-1"))
	if err != nil {
		t.Fatalf("RequestDevicePairing() error = %v", err)
	}
	if !again.Created {
		t.Error("request after rejection should create a new request")
	}
}

func TestListPairingRequests(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	pairDevice(t, s, requestParams("dev-1"), auth.RoleAdmin)
	if _, err := s.RequestDevicePairing(ctx, requestParams("dev-2")); err != nil {
		t.Fatalf("RequestDevicePairing() error = %v", err)
	}

	pending, err := s.ListPairingRequests(ctx, StatusPending)
	if err != nil {
		t.Fatalf("ListPairingRequests() error = %v", err)
	}
	if len(pending) != 1 || pending[0].DeviceID != "dev-2" {
		t.Errorf("pending = %+v, want only dev-2", pending)
	}

	all, err := s.ListPairingRequests(ctx, "")
	if err != nil {
		t.Fatalf("ListPairingRequests() error = %v", err)
	}
	if len(all) != 2 {
		t.Errorf("len(all) = %d, want 2", len(all))
	}
}

func TestUpdatePairedDeviceMetadata(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	pairDevice(t, s, requestParams("dev-1"), auth.RoleOperator)

	if err := s.UpdatePairedDeviceMetadata(ctx, "dev-1", MetadataUpdate{RemoteIP: "10.0.0.9", Platform: "ios"}); err != nil {
		t.Fatalf("UpdatePairedDeviceMetadata() error = %v", err)
	}

	d, err := s.GetPairedDevice(ctx, "dev-1")
	if err != nil {
		t.Fatalf("GetPairedDevice() error = %v", err)
	}
	if d.RemoteIP != "10.0.0.9" || d.Platform != "ios" {
		t.Errorf("metadata = %s/%s, want 10.0.0.9/ios", d.RemoteIP, d.Platform)
	}
	if d.DisplayName != "Kitchen tablet" {
		t.Errorf("DisplayName = %q, empty update should keep it", d.DisplayName)
	}
	if d.LastSeenAt == nil {
		t.Error("LastSeenAt not stamped")
	}

	if err := s.UpdatePairedDeviceMetadata(ctx, "ghost", MetadataUpdate{}); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("unknown device error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRemovePairedDevice(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	pairDevice(t, s, requestParams("dev-1"), auth.RoleOperator)
	if _, err := s.EnsureDeviceToken(ctx, "dev-1", "operator", nil); err != nil {
		t.Fatalf("EnsureDeviceToken() error = %v", err)
	}

	if err := s.RemovePairedDevice(ctx, "dev-1"); err != nil {
		t.Fatalf("RemovePairedDevice() error = %v", err)
	}
	if _, err := s.deviceTokenRecord(ctx, "dev-1", "operator"); err == nil {
		t.Error("device token should be removed with the device")
	}
	if err := s.RemovePairedDevice(ctx, "dev-1"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("second remove error = %v, want ErrDeviceNotFound", err)
	}

	devices, err := s.ListPairedDevices(ctx)
	if err != nil {
		t.Fatalf("ListPairedDevices() error = %v", err)
	}
	if len(devices) != 0 {
		t.Errorf("ListPairedDevices() = %d devices, want 0", len(devices))
	}
}
