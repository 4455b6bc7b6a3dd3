package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/martinsuchenak/phoned/internal/acs"
	"github.com/martinsuchenak/phoned/internal/discovery"
	"github.com/martinsuchenak/phoned/internal/model"
	"github.com/martinsuchenak/phoned/internal/provision"
	"github.com/martinsuchenak/phoned/internal/storage"
)

// mockStorage implements storage.Storage in memory.
type mockStorage struct {
	snapshot []model.DiscoveredDevice
	devices  map[string]*model.RemoteDevice
	requests map[string]*model.PendingRequest
}

func newMockStorage() *mockStorage {
	return &mockStorage{
		devices:  map[string]*model.RemoteDevice{},
		requests: map[string]*model.PendingRequest{},
	}
}

func (m *mockStorage) SaveDiscoveredDevices(devices []model.DiscoveredDevice) error {
	m.snapshot = devices
	return nil
}

func (m *mockStorage) ListDiscoveredDevices() ([]model.DiscoveredDevice, error) {
	return m.snapshot, nil
}

func (m *mockStorage) UpsertRemoteDevice(device *model.RemoteDevice) error {
	m.devices[device.SerialNumber] = device
	return nil
}

func (m *mockStorage) GetRemoteDevice(serial string) (*model.RemoteDevice, error) {
	if d, ok := m.devices[serial]; ok {
		return d, nil
	}
	return nil, storage.ErrRemoteDeviceNotFound
}

func (m *mockStorage) ListRemoteDevices() ([]model.RemoteDevice, error) {
	var out []model.RemoteDevice
	for _, d := range m.devices {
		out = append(out, *d)
	}
	return out, nil
}

func (m *mockStorage) CreatePendingRequest(req *model.PendingRequest) error {
	m.requests[req.ID] = req
	return nil
}

func (m *mockStorage) GetPendingRequest(id string) (*model.PendingRequest, error) {
	if r, ok := m.requests[id]; ok {
		return r, nil
	}
	return nil, storage.ErrPendingRequestNotFound
}

func (m *mockStorage) ListPendingRequests(serial, status string) ([]model.PendingRequest, error) {
	var out []model.PendingRequest
	for _, r := range m.requests {
		if r.SerialNumber == serial && (status == "" || r.Status == status) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *mockStorage) ResolvePendingRequest(id, status string) error {
	r, ok := m.requests[id]
	if !ok {
		return storage.ErrPendingRequestNotFound
	}
	now := time.Now()
	r.Status = status
	r.ResolvedAt = &now
	return nil
}

func (m *mockStorage) Close() error { return nil }

type mockDiscoverer struct {
	result *discovery.Result
	err    error
}

func (m *mockDiscoverer) Discover(ctx context.Context, cidr string) (*discovery.Result, error) {
	return m.result, m.err
}

type mockPinger struct{ online map[string]bool }

func (m *mockPinger) CheckBatch(ctx context.Context, ips []string) map[string]bool {
	return m.online
}

// mockPhones records calls and answers from canned data.
type mockPhones struct {
	session  *model.Session
	loginErr error
	values   map[string]string
	written  map[string]string
	opErr    error
	reboots  int
	resets   int
}

func (m *mockPhones) Login(ctx context.Context, address, username, password string) (*model.Session, error) {
	if m.loginErr != nil {
		return nil, m.loginErr
	}
	return m.session, nil
}

func (m *mockPhones) Logout(address string) {}

func (m *mockPhones) GetParameters(ctx context.Context, session *model.Session, names []string) (map[string]string, error) {
	if m.opErr != nil {
		return nil, m.opErr
	}
	out := map[string]string{}
	for _, n := range names {
		if v, ok := m.values[n]; ok {
			out[n] = v
		}
	}
	return out, nil
}

func (m *mockPhones) SetParameters(ctx context.Context, session *model.Session, params map[string]string) error {
	if m.opErr != nil {
		return m.opErr
	}
	for k, v := range params {
		m.written[k] = v
	}
	return nil
}

func (m *mockPhones) Reboot(ctx context.Context, session *model.Session) error {
	m.reboots++
	return m.opErr
}

func (m *mockPhones) FactoryReset(ctx context.Context, session *model.Session, confirmed bool) error {
	if !confirmed {
		return fmt.Errorf("factory reset: %w", model.ErrNotConfirmed)
	}
	m.resets++
	return m.opErr
}

func (m *mockPhones) DeviceInfo(ctx context.Context, session *model.Session) (map[string]string, error) {
	return m.GetParameters(ctx, session, []string{"phone_model", "firmware_version", "mac_address"})
}

func (m *mockPhones) GetSIPAccount(ctx context.Context, session *model.Session) (*model.SIPAccountConfig, error) {
	if m.opErr != nil {
		return nil, m.opErr
	}
	return &model.SIPAccountConfig{Server: "pbx.example.com", UserID: "2001"}, nil
}

func (m *mockPhones) SetSIPAccount(ctx context.Context, session *model.Session, cfg model.SIPAccountConfig) error {
	return m.opErr
}

type mockSessions struct{ session *model.Session }

func (m *mockSessions) Get(address string) *model.Session { return m.session }

type mockProvisioner struct {
	status *provision.Status
	err    error
}

func (m *mockProvisioner) ProvisionExtension(ctx context.Context, target provision.Target, cfg model.SIPAccountConfig) (*provision.Status, error) {
	return m.status, m.err
}

type testEnv struct {
	mux      *http.ServeMux
	store    *mockStorage
	phones   *mockPhones
	sessions *mockSessions
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := newMockStorage()
	phones := &mockPhones{
		session: &model.Session{
			Address:   "192.168.1.42",
			ID:        "sid-1",
			Active:    true,
			ExpiresAt: time.Now().Add(time.Minute),
		},
		values:  map[string]string{"phone_model": "GXP1630", "P271": "1"},
		written: map[string]string{},
	}
	sessions := &mockSessions{session: phones.session}

	handler := NewHandler(
		store,
		&mockDiscoverer{result: &discovery.Result{Devices: []model.DiscoveredDevice{{IP: "192.168.1.42"}}}},
		&mockPinger{online: map[string]bool{"192.168.1.42": true}},
		phones,
		sessions,
		acs.NewService(store, 15*time.Minute),
		&mockProvisioner{status: &provision.Status{Method: "lan", Address: "192.168.1.42", Applied: true}},
	)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	return &testEnv{mux: mux, store: store, phones: phones, sessions: sessions}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, req)
	return w
}

func TestHandler_RunDiscovery(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/discover", map[string]string{"range": "192.168.1.0/24"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}

	var result discovery.Result
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(result.Devices) != 1 || result.Devices[0].IP != "192.168.1.42" {
		t.Errorf("result = %+v", result)
	}
}

func TestHandler_RunDiscovery_InvalidRange(t *testing.T) {
	store := newMockStorage()
	handler := NewHandler(store,
		&mockDiscoverer{err: fmt.Errorf("bad range: %w", model.ErrInvalidInput)},
		&mockPinger{}, &mockPhones{}, &mockSessions{},
		acs.NewService(store, 15*time.Minute), &mockProvisioner{})
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodPost, "/api/discover",
		strings.NewReader(`{"range":"bogus"}`))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHandler_ListDiscovered(t *testing.T) {
	env := newTestEnv(t)
	env.store.snapshot = []model.DiscoveredDevice{{IP: "192.168.1.42", Vendor: "GrandStream"}}

	w := env.do(t, http.MethodGet, "/api/discovered", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var devices []model.DiscoveredDevice
	json.Unmarshal(w.Body.Bytes(), &devices)
	if len(devices) != 1 || devices[0].Vendor != "GrandStream" {
		t.Errorf("devices = %+v", devices)
	}
}

func TestHandler_Reachability(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/reachability",
		map[string][]string{"addresses": {"192.168.1.42"}})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var result map[string]bool
	json.Unmarshal(w.Body.Bytes(), &result)
	if !result["192.168.1.42"] {
		t.Errorf("result = %v", result)
	}

	if w := env.do(t, http.MethodPost, "/api/reachability", map[string][]string{}); w.Code != http.StatusBadRequest {
		t.Errorf("empty addresses: status = %d, want 400", w.Code)
	}
}

func TestHandler_PhoneLogin(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/phones/login", map[string]string{
		"address": "192.168.1.42", "username": "admin", "password": "secret",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}

	var session model.Session
	json.Unmarshal(w.Body.Bytes(), &session)
	if session.ID != "sid-1" {
		t.Errorf("session = %+v", session)
	}
}

func TestHandler_PhoneLogin_Rejected(t *testing.T) {
	env := newTestEnv(t)
	env.phones.loginErr = fmt.Errorf("login rejected: %w", model.ErrAuthFailure)

	w := env.do(t, http.MethodPost, "/api/phones/login", map[string]string{
		"address": "192.168.1.42", "username": "admin", "password": "wrong",
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestHandler_PhoneLogin_MissingFields(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/phones/login", map[string]string{"address": "192.168.1.42"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHandler_PhoneParameters(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/phones/192.168.1.42/parameters?names=phone_model:P271", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	var values map[string]string
	json.Unmarshal(w.Body.Bytes(), &values)
	if values["phone_model"] != "GXP1630" || values["P271"] != "1" {
		t.Errorf("values = %v", values)
	}

	w = env.do(t, http.MethodPut, "/api/phones/192.168.1.42/parameters",
		map[string]string{"P270": "Reception"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("PUT status = %d", w.Code)
	}
	if env.phones.written["P270"] != "Reception" {
		t.Errorf("written = %v", env.phones.written)
	}
}

func TestHandler_PhoneParameters_NoSession(t *testing.T) {
	env := newTestEnv(t)
	env.sessions.session = nil

	w := env.do(t, http.MethodGet, "/api/phones/192.168.1.42/parameters?names=phone_model", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestHandler_PhoneFactoryReset(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/phones/192.168.1.42/factory-reset",
		map[string]bool{"confirm": false})
	if w.Code != http.StatusBadRequest {
		t.Errorf("unconfirmed: status = %d, want 400", w.Code)
	}
	if env.phones.resets != 0 {
		t.Error("unconfirmed reset reached the device")
	}

	w = env.do(t, http.MethodPost, "/api/phones/192.168.1.42/factory-reset",
		map[string]bool{"confirm": true})
	if w.Code != http.StatusNoContent {
		t.Errorf("confirmed: status = %d", w.Code)
	}
	if env.phones.resets != 1 {
		t.Errorf("resets = %d", env.phones.resets)
	}
}

func TestHandler_Provision(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/provision", map[string]any{
		"target":  map[string]string{"address": "192.168.1.42", "username": "admin", "password": "secret"},
		"account": map[string]any{"active": true, "server": "pbx.example.com", "user_id": "2001"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}

	var status provision.Status
	json.Unmarshal(w.Body.Bytes(), &status)
	if status.Method != "lan" || !status.Applied {
		t.Errorf("status = %+v", status)
	}
}

func TestHandler_ACSInformFlow(t *testing.T) {
	env := newTestEnv(t)

	// Check-in registers the device.
	w := env.do(t, http.MethodPost, "/acs/inform", map[string]string{
		"serial_number": "SN-1",
		"manufacturer":  "GrandStream",
		"model":         "GXP1630",
		"callback_url":  "http://192.168.1.42:8089/cb",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("inform status = %d, body %s", w.Code, w.Body)
	}

	w = env.do(t, http.MethodGet, "/api/acs/devices", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var devices []model.RemoteDevice
	json.Unmarshal(w.Body.Bytes(), &devices)
	if len(devices) != 1 || devices[0].SerialNumber != "SN-1" {
		t.Fatalf("devices = %+v", devices)
	}

	// Queue a change for the freshly informed device.
	w = env.do(t, http.MethodPost, "/api/acs/devices/SN-1/parameters",
		map[string]string{"X_Command.Reboot": "1"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("enqueue status = %d, body %s", w.Code, w.Body)
	}
	var req model.PendingRequest
	json.Unmarshal(w.Body.Bytes(), &req)
	if req.Status != model.RequestPending || req.ID == "" {
		t.Errorf("request = %+v", req)
	}
}

func TestHandler_ACSInform_Malformed(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/acs/inform", map[string]string{"serial_number": "SN-1"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHandler_ACSEnqueue_UnknownDevice(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/acs/devices/SN-404/parameters",
		map[string]string{"X_Command.Reboot": "1"})
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestHandler_ACSFactoryReset_Unconfirmed(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/acs/inform", map[string]string{
		"serial_number": "SN-1", "callback_url": "http://192.168.1.42:8089/cb",
	})

	w := env.do(t, http.MethodPost, "/api/acs/devices/SN-1/factory-reset",
		map[string]bool{"confirm": false})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if len(env.store.requests) != 0 {
		t.Error("unconfirmed reset queued a request")
	}
}
