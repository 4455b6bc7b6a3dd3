// Package provision pushes an extension's SIP account onto a phone, choosing
// the direct LAN session path or the queued ACS path depending on how the
// device can be reached.
package provision

import (
	"context"
	"fmt"

	"github.com/martinsuchenak/phoned/internal/log"
	"github.com/martinsuchenak/phoned/internal/model"
)

// PhoneManager is the LAN provisioning path.
type PhoneManager interface {
	Login(ctx context.Context, address, username, password string) (*model.Session, error)
	SetSIPAccount(ctx context.Context, session *model.Session, cfg model.SIPAccountConfig) error
}

// ACS is the queued provisioning path for off-LAN devices.
type ACS interface {
	ConfigureSIPAccount(serial string, cfg model.SIPAccountConfig) (*model.PendingRequest, error)
}

// SessionLookup returns the current session for an address, or nil.
type SessionLookup interface {
	Get(address string) *model.Session
}

// Target identifies the device to provision. A LAN address plus credentials
// selects the direct path; a serial number alone selects the ACS path.
type Target struct {
	Address  string `json:"address,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Serial   string `json:"serial,omitempty"`
}

// Status reports how a provisioning call was carried out. Applied is false
// on the ACS path until the device's next check-in picks the change up.
type Status struct {
	Method    string `json:"method"` // "lan" or "acs"
	Address   string `json:"address,omitempty"`
	Serial    string `json:"serial,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Applied   bool   `json:"applied"`
}

// Orchestrator routes provisioning requests to the right management path.
type Orchestrator struct {
	Phones   PhoneManager
	Sessions SessionLookup
	ACS      ACS
}

// ProvisionExtension applies a SIP account to the target device. The write
// is last-write-wins on the device, so repeating the same call leaves the
// same final state.
func (o *Orchestrator) ProvisionExtension(ctx context.Context, target Target, cfg model.SIPAccountConfig) (*Status, error) {
	switch {
	case target.Address != "" && target.Username != "":
		return o.provisionLAN(ctx, target, cfg)
	case target.Serial != "":
		return o.provisionACS(target.Serial, cfg)
	default:
		return nil, fmt.Errorf("target needs an address with credentials or a serial number: %w", model.ErrInvalidInput)
	}
}

func (o *Orchestrator) provisionLAN(ctx context.Context, target Target, cfg model.SIPAccountConfig) (*Status, error) {
	session := o.Sessions.Get(target.Address)
	if !session.Valid() {
		var err error
		session, err = o.Phones.Login(ctx, target.Address, target.Username, target.Password)
		if err != nil {
			return nil, err
		}
	}

	if err := o.Phones.SetSIPAccount(ctx, session, cfg); err != nil {
		return nil, err
	}

	log.Info("Extension provisioned over LAN", "address", target.Address, "user_id", cfg.UserID)
	return &Status{Method: "lan", Address: target.Address, Applied: true}, nil
}

func (o *Orchestrator) provisionACS(serial string, cfg model.SIPAccountConfig) (*Status, error) {
	req, err := o.ACS.ConfigureSIPAccount(serial, cfg)
	if err != nil {
		return nil, err
	}

	log.Info("Extension provisioning queued via ACS", "serial", serial, "request_id", req.ID)
	return &Status{Method: "acs", Serial: serial, RequestID: req.ID, Applied: false}, nil
}
