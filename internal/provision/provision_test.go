package provision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/martinsuchenak/phoned/internal/model"
)

type fakePhones struct {
	logins   int
	writes   []model.SIPAccountConfig
	loginErr error
	writeErr error
}

func (f *fakePhones) Login(ctx context.Context, address, username, password string) (*model.Session, error) {
	f.logins++
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return &model.Session{
		Address:   address,
		ID:        "sid-1",
		Active:    true,
		ExpiresAt: time.Now().Add(time.Minute),
	}, nil
}

func (f *fakePhones) SetSIPAccount(ctx context.Context, session *model.Session, cfg model.SIPAccountConfig) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, cfg)
	return nil
}

type fakeSessions struct {
	session *model.Session
}

func (f *fakeSessions) Get(address string) *model.Session { return f.session }

type fakeACS struct {
	queued []model.SIPAccountConfig
	err    error
}

func (f *fakeACS) ConfigureSIPAccount(serial string, cfg model.SIPAccountConfig) (*model.PendingRequest, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.queued = append(f.queued, cfg)
	return &model.PendingRequest{ID: "req-1", SerialNumber: serial, Status: model.RequestPending}, nil
}

func testAccount() model.SIPAccountConfig {
	return model.SIPAccountConfig{
		Active: true,
		Server: "pbx.example.com",
		UserID: "2001",
	}
}

func TestProvision_LANPath(t *testing.T) {
	phones := &fakePhones{}
	o := &Orchestrator{Phones: phones, Sessions: &fakeSessions{}, ACS: &fakeACS{}}

	status, err := o.ProvisionExtension(context.Background(), Target{
		Address:  "192.168.1.42",
		Username: "admin",
		Password: "secret",
	}, testAccount())
	if err != nil {
		t.Fatalf("ProvisionExtension: %v", err)
	}

	if status.Method != "lan" || !status.Applied {
		t.Errorf("status = %+v, want applied lan provisioning", status)
	}
	if phones.logins != 1 || len(phones.writes) != 1 {
		t.Errorf("logins = %d, writes = %d", phones.logins, len(phones.writes))
	}
}

// A still-valid stored session is reused instead of logging in again.
func TestProvision_LANPathReusesSession(t *testing.T) {
	phones := &fakePhones{}
	sessions := &fakeSessions{session: &model.Session{
		Address:   "192.168.1.42",
		Active:    true,
		ExpiresAt: time.Now().Add(time.Minute),
	}}
	o := &Orchestrator{Phones: phones, Sessions: sessions, ACS: &fakeACS{}}

	_, err := o.ProvisionExtension(context.Background(), Target{
		Address:  "192.168.1.42",
		Username: "admin",
		Password: "secret",
	}, testAccount())
	if err != nil {
		t.Fatalf("ProvisionExtension: %v", err)
	}
	if phones.logins != 0 {
		t.Errorf("logins = %d, want session reuse", phones.logins)
	}
	if len(phones.writes) != 1 {
		t.Errorf("writes = %d", len(phones.writes))
	}
}

func TestProvision_LANPathLoginFailure(t *testing.T) {
	phones := &fakePhones{loginErr: model.ErrAuthFailure}
	o := &Orchestrator{Phones: phones, Sessions: &fakeSessions{}, ACS: &fakeACS{}}

	_, err := o.ProvisionExtension(context.Background(), Target{
		Address:  "192.168.1.42",
		Username: "admin",
		Password: "wrong",
	}, testAccount())
	if !errors.Is(err, model.ErrAuthFailure) {
		t.Errorf("err = %v, want ErrAuthFailure", err)
	}
	if len(phones.writes) != 0 {
		t.Error("account written despite failed login")
	}
}

func TestProvision_ACSPath(t *testing.T) {
	acs := &fakeACS{}
	o := &Orchestrator{Phones: &fakePhones{}, Sessions: &fakeSessions{}, ACS: acs}

	status, err := o.ProvisionExtension(context.Background(), Target{Serial: "SN-1"}, testAccount())
	if err != nil {
		t.Fatalf("ProvisionExtension: %v", err)
	}

	if status.Method != "acs" || status.Applied {
		t.Errorf("status = %+v, want queued acs provisioning", status)
	}
	if status.RequestID != "req-1" {
		t.Errorf("RequestID = %q", status.RequestID)
	}
	if len(acs.queued) != 1 {
		t.Errorf("queued = %d", len(acs.queued))
	}
}

func TestProvision_ACSPathUnreachable(t *testing.T) {
	acs := &fakeACS{err: model.ErrDeviceUnreachable}
	o := &Orchestrator{Phones: &fakePhones{}, Sessions: &fakeSessions{}, ACS: acs}

	_, err := o.ProvisionExtension(context.Background(), Target{Serial: "SN-404"}, testAccount())
	if !errors.Is(err, model.ErrDeviceUnreachable) {
		t.Errorf("err = %v, want ErrDeviceUnreachable", err)
	}
}

func TestProvision_RejectsEmptyTarget(t *testing.T) {
	o := &Orchestrator{Phones: &fakePhones{}, Sessions: &fakeSessions{}, ACS: &fakeACS{}}

	if _, err := o.ProvisionExtension(context.Background(), Target{}, testAccount()); !errors.Is(err, model.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}

	// Address without credentials is not enough for the LAN path.
	if _, err := o.ProvisionExtension(context.Background(), Target{Address: "192.168.1.42"}, testAccount()); !errors.Is(err, model.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

// Provisioning is last-write-wins: repeating the call leaves the same final
// account state.
func TestProvision_Idempotent(t *testing.T) {
	phones := &fakePhones{}
	o := &Orchestrator{Phones: phones, Sessions: &fakeSessions{}, ACS: &fakeACS{}}

	target := Target{Address: "192.168.1.42", Username: "admin", Password: "secret"}
	for i := 0; i < 3; i++ {
		if _, err := o.ProvisionExtension(context.Background(), target, testAccount()); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}

	if len(phones.writes) != 3 {
		t.Fatalf("writes = %d", len(phones.writes))
	}
	for _, w := range phones.writes[1:] {
		if w != phones.writes[0] {
			t.Errorf("repeated provisioning produced different state: %+v vs %+v", w, phones.writes[0])
		}
	}
}
