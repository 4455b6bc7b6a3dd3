package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/martinsuchenak/phoned/internal/model"
)

func testStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewSQLiteStorage: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStorage_DiscoverySnapshot(t *testing.T) {
	store := testStorage(t)

	devices, err := store.ListDiscoveredDevices()
	if err != nil {
		t.Fatalf("ListDiscoveredDevices on empty store: %v", err)
	}
	if len(devices) != 0 {
		t.Fatalf("empty store returned %d devices", len(devices))
	}

	first := []model.DiscoveredDevice{
		{
			IP:           "192.168.1.42",
			MAC:          "00:0b:82:aa:bb:cc",
			Hostname:     "gxp1630-lobby",
			Vendor:       "GrandStream",
			Model:        "GXP1630",
			PortID:       "eth0",
			VLAN:         "100",
			Capabilities: []string{"telephone"},
			OpenPorts:    []int{80, 5060},
			Source:       "lldp+active-scan+http",
			LastSeen:     time.Now().Truncate(time.Second),
			Online:       true,
			Registered:   true,
			Extension:    "2001",
		},
		{IP: "192.168.1.77", OpenPorts: []int{5060}, Source: "active-scan"},
	}
	if err := store.SaveDiscoveredDevices(first); err != nil {
		t.Fatalf("SaveDiscoveredDevices: %v", err)
	}

	devices, err = store.ListDiscoveredDevices()
	if err != nil {
		t.Fatalf("ListDiscoveredDevices: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("got %d devices, want 2", len(devices))
	}

	got := devices[0]
	if got.IP != "192.168.1.42" || got.Vendor != "GrandStream" || got.Extension != "2001" {
		t.Errorf("device = %+v", got)
	}
	if len(got.Capabilities) != 1 || got.Capabilities[0] != "telephone" {
		t.Errorf("capabilities = %v", got.Capabilities)
	}
	if len(got.OpenPorts) != 2 {
		t.Errorf("open ports = %v", got.OpenPorts)
	}

	// A new snapshot replaces the previous one entirely.
	second := []model.DiscoveredDevice{{IP: "192.168.1.99", Source: "active-scan"}}
	if err := store.SaveDiscoveredDevices(second); err != nil {
		t.Fatalf("SaveDiscoveredDevices (replace): %v", err)
	}
	devices, _ = store.ListDiscoveredDevices()
	if len(devices) != 1 || devices[0].IP != "192.168.1.99" {
		t.Errorf("snapshot after replace = %+v", devices)
	}
}

func TestSQLiteStorage_RemoteDevices(t *testing.T) {
	store := testStorage(t)

	if _, err := store.GetRemoteDevice("SN-1"); !errors.Is(err, ErrRemoteDeviceNotFound) {
		t.Fatalf("err = %v, want ErrRemoteDeviceNotFound", err)
	}

	device := &model.RemoteDevice{
		SerialNumber: "SN-1",
		Manufacturer: "GrandStream",
		Model:        "GXP1630",
		Firmware:     "1.0.11.23",
		LastInform:   time.Now().Truncate(time.Second),
		CallbackURL:  "http://192.168.1.42:8089/callback",
		Parameters:   map[string]string{"VoiceService.1.VoiceProfile.1.Line.1.Enable": "Enabled"},
	}
	if err := store.UpsertRemoteDevice(device); err != nil {
		t.Fatalf("UpsertRemoteDevice: %v", err)
	}

	got, err := store.GetRemoteDevice("SN-1")
	if err != nil {
		t.Fatalf("GetRemoteDevice: %v", err)
	}
	if got.Model != "GXP1630" || got.CallbackURL != device.CallbackURL {
		t.Errorf("device = %+v", got)
	}
	if got.Parameters["VoiceService.1.VoiceProfile.1.Line.1.Enable"] != "Enabled" {
		t.Errorf("parameters = %v", got.Parameters)
	}

	// Upsert on the same serial updates in place.
	device.Firmware = "1.0.11.30"
	if err := store.UpsertRemoteDevice(device); err != nil {
		t.Fatalf("UpsertRemoteDevice (update): %v", err)
	}
	got, _ = store.GetRemoteDevice("SN-1")
	if got.Firmware != "1.0.11.30" {
		t.Errorf("firmware after upsert = %q", got.Firmware)
	}

	all, err := store.ListRemoteDevices()
	if err != nil || len(all) != 1 {
		t.Errorf("ListRemoteDevices = (%v, %v)", all, err)
	}
}

func TestSQLiteStorage_PendingRequests(t *testing.T) {
	store := testStorage(t)

	device := &model.RemoteDevice{
		SerialNumber: "SN-1",
		LastInform:   time.Now(),
		CallbackURL:  "http://192.168.1.42:8089/callback",
	}
	if err := store.UpsertRemoteDevice(device); err != nil {
		t.Fatalf("UpsertRemoteDevice: %v", err)
	}

	req := &model.PendingRequest{
		ID:           "req-1",
		SerialNumber: "SN-1",
		Parameters:   map[string]string{"X_Command.Reboot": "1"},
		Status:       model.RequestPending,
		CreatedAt:    time.Now().Truncate(time.Second),
	}
	if err := store.CreatePendingRequest(req); err != nil {
		t.Fatalf("CreatePendingRequest: %v", err)
	}

	got, err := store.GetPendingRequest("req-1")
	if err != nil {
		t.Fatalf("GetPendingRequest: %v", err)
	}
	if got.Status != model.RequestPending || got.ResolvedAt != nil {
		t.Errorf("request = %+v", got)
	}

	pending, err := store.ListPendingRequests("SN-1", model.RequestPending)
	if err != nil || len(pending) != 1 {
		t.Fatalf("ListPendingRequests = (%v, %v)", pending, err)
	}

	if err := store.ResolvePendingRequest("req-1", model.RequestApplied); err != nil {
		t.Fatalf("ResolvePendingRequest: %v", err)
	}
	got, _ = store.GetPendingRequest("req-1")
	if got.Status != model.RequestApplied || got.ResolvedAt == nil {
		t.Errorf("resolved request = %+v", got)
	}

	pending, _ = store.ListPendingRequests("SN-1", model.RequestPending)
	if len(pending) != 0 {
		t.Errorf("resolved request still listed as pending: %+v", pending)
	}
	all, _ := store.ListPendingRequests("SN-1", "")
	if len(all) != 1 {
		t.Errorf("ListPendingRequests without filter = %+v", all)
	}

	if err := store.ResolvePendingRequest("missing", model.RequestApplied); !errors.Is(err, ErrPendingRequestNotFound) {
		t.Errorf("err = %v, want ErrPendingRequestNotFound", err)
	}
	if _, err := store.GetPendingRequest("missing"); !errors.Is(err, ErrPendingRequestNotFound) {
		t.Errorf("err = %v, want ErrPendingRequestNotFound", err)
	}
}
