// Package acs implements the management-server side of the asynchronous
// check-in protocol used by phones that are not reachable on the LAN. Devices
// announce themselves with periodic inform messages; configuration changes
// are queued and delivered on the device's next check-in, never pushed
// synchronously.
package acs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/martinsuchenak/phoned/internal/log"
	"github.com/martinsuchenak/phoned/internal/model"
	"github.com/martinsuchenak/phoned/internal/storage"
)

// Parameter names in the remote device's data model. SIP account fields
// follow the TR-104 voice profile layout; command triggers use a vendor
// extension prefix.
const (
	lineprefix = "VoiceService.1.VoiceProfile.1.Line.1."

	paramLineEnable  = lineprefix + "Enable"
	paramAuthUser    = lineprefix + "SIP.AuthUserName"
	paramAuthPass    = lineprefix + "SIP.AuthPassword"
	paramUserURI     = lineprefix + "SIP.URI"
	paramDisplayName = lineprefix + "CallingFeatures.CallerIDName"
	paramRegistrar   = "VoiceService.1.VoiceProfile.1.SIP.RegistrarServer"

	paramReboot       = "X_Command.Reboot"
	paramFactoryReset = "X_Command.FactoryReset"
)

// defaultFreshness bounds how stale a device's last inform may be before
// enqueue attempts are refused as unreachable.
const defaultFreshness = 15 * time.Minute

// Service is the ACS: it consumes informs, keeps the remote device registry
// and owns the pending request queue.
type Service struct {
	store     storage.Storage
	client    *http.Client
	freshness time.Duration
	now       func() time.Time
}

// NewService creates an ACS over the given registry storage.
func NewService(store storage.Storage, freshness time.Duration) *Service {
	if freshness <= 0 {
		freshness = defaultFreshness
	}
	return &Service{
		store:     store,
		client:    &http.Client{Timeout: 10 * time.Second},
		freshness: freshness,
		now:       time.Now,
	}
}

// Inform is the inbound check-in message a device sends.
type Inform struct {
	SerialNumber string            `json:"serial_number"`
	Manufacturer string            `json:"manufacturer"`
	Model        string            `json:"model"`
	Firmware     string            `json:"firmware,omitempty"`
	CallbackURL  string            `json:"callback_url"`
	Parameters   map[string]string `json:"parameters,omitempty"`
}

// DeliveryResult records the outcome of delivering one queued request
// during a check-in.
type DeliveryResult struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// InformAck is returned to the device after a check-in.
type InformAck struct {
	SerialNumber string           `json:"serial_number"`
	Delivered    []DeliveryResult `json:"delivered,omitempty"`
}

// ParseInform decodes and validates an inform message. A malformed message
// is rejected as a whole; no field of it reaches the device registry.
func ParseInform(r io.Reader) (*Inform, error) {
	var inform Inform
	if err := json.NewDecoder(io.LimitReader(r, 256<<10)).Decode(&inform); err != nil {
		return nil, fmt.Errorf("decoding inform: %v: %w", err, model.ErrProtocol)
	}
	if inform.SerialNumber == "" {
		return nil, fmt.Errorf("inform missing serial number: %w", model.ErrProtocol)
	}
	if inform.CallbackURL == "" {
		return nil, fmt.Errorf("inform missing callback URL: %w", model.ErrProtocol)
	}
	if u, err := url.Parse(inform.CallbackURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("inform callback URL %q invalid: %w", inform.CallbackURL, model.ErrProtocol)
	}
	return &inform, nil
}

// HandleInform upserts the device record for an inbound check-in, then
// delivers any queued requests through the device's callback URL. Delivery
// outcomes resolve the requests to applied or failed; one failed delivery
// does not block the others.
func (s *Service) HandleInform(ctx context.Context, inform *Inform) (*InformAck, error) {
	device := &model.RemoteDevice{
		SerialNumber: inform.SerialNumber,
		Manufacturer: inform.Manufacturer,
		Model:        inform.Model,
		Firmware:     inform.Firmware,
		LastInform:   s.now(),
		CallbackURL:  inform.CallbackURL,
		Parameters:   inform.Parameters,
	}
	if err := s.store.UpsertRemoteDevice(device); err != nil {
		return nil, fmt.Errorf("updating device %s: %w", inform.SerialNumber, err)
	}

	ack := &InformAck{SerialNumber: inform.SerialNumber}

	pending, err := s.store.ListPendingRequests(inform.SerialNumber, model.RequestPending)
	if err != nil {
		return nil, fmt.Errorf("listing pending requests for %s: %w", inform.SerialNumber, err)
	}
	for _, req := range pending {
		status := model.RequestApplied
		if err := s.deliver(ctx, device, &req); err != nil {
			log.Warn("Pending request delivery failed",
				"serial", device.SerialNumber, "request_id", req.ID, "error", err)
			status = model.RequestFailed
		}
		if err := s.store.ResolvePendingRequest(req.ID, status); err != nil {
			log.Error("Failed to resolve pending request", "request_id", req.ID, "error", err)
			continue
		}
		ack.Delivered = append(ack.Delivered, DeliveryResult{RequestID: req.ID, Status: status})
	}

	log.Info("Inform processed", "serial", inform.SerialNumber,
		"manufacturer", inform.Manufacturer, "delivered", len(ack.Delivered))
	return ack, nil
}

// deliver POSTs one queued parameter change to the device's callback URL.
func (s *Service) deliver(ctx context.Context, device *model.RemoteDevice, req *model.PendingRequest) error {
	payload, err := json.Marshal(struct {
		ID         string            `json:"id"`
		Parameters map[string]string `json:"parameters"`
	}{ID: req.ID, Parameters: req.Parameters})
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, device.CallbackURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("callback to %s: %w", device.CallbackURL, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("callback to %s: status %d: %w", device.CallbackURL, resp.StatusCode, model.ErrProtocol)
	}
	return nil
}

// EnqueueParameterChange queues a parameter change for a device and returns
// immediately with the correlation id. If the device has not checked in
// within the freshness window the change is refused, not queued.
func (s *Service) EnqueueParameterChange(serial string, params map[string]string) (*model.PendingRequest, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("no parameters given: %w", model.ErrInvalidInput)
	}

	device, err := s.store.GetRemoteDevice(serial)
	if err != nil {
		return nil, fmt.Errorf("device %s unknown: %w", serial, model.ErrDeviceUnreachable)
	}
	if s.now().Sub(device.LastInform) > s.freshness {
		return nil, fmt.Errorf("device %s last informed %s ago: %w",
			serial, s.now().Sub(device.LastInform).Round(time.Second), model.ErrDeviceUnreachable)
	}

	req := &model.PendingRequest{
		ID:           newID(),
		SerialNumber: serial,
		Parameters:   params,
		Status:       model.RequestPending,
		CreatedAt:    s.now(),
	}
	if err := s.store.CreatePendingRequest(req); err != nil {
		return nil, fmt.Errorf("queueing request for %s: %w", serial, err)
	}

	log.Info("Parameter change queued", "serial", serial, "request_id", req.ID, "params", len(params))
	return req, nil
}

// Reboot queues a restart command for the device's next check-in.
func (s *Service) Reboot(serial string) (*model.PendingRequest, error) {
	return s.EnqueueParameterChange(serial, map[string]string{paramReboot: "1"})
}

// FactoryReset queues a factory reset. The confirmation flag is mandatory;
// without it nothing is queued.
func (s *Service) FactoryReset(serial string, confirmed bool) (*model.PendingRequest, error) {
	if !confirmed {
		return nil, fmt.Errorf("factory reset of %s: %w", serial, model.ErrNotConfirmed)
	}
	return s.EnqueueParameterChange(serial, map[string]string{paramFactoryReset: "1"})
}

// ConfigureSIPAccount translates the semantic account struct into the remote
// data model and queues it.
func (s *Service) ConfigureSIPAccount(serial string, cfg model.SIPAccountConfig) (*model.PendingRequest, error) {
	enable := "Disabled"
	if cfg.Active {
		enable = "Enabled"
	}
	return s.EnqueueParameterChange(serial, map[string]string{
		paramLineEnable:  enable,
		paramRegistrar:   cfg.Server,
		paramUserURI:     cfg.UserID,
		paramAuthUser:    cfg.AuthID,
		paramAuthPass:    cfg.AuthPassword,
		paramDisplayName: cfg.DisplayName,
	})
}

// ListDevices returns every known remote device with its last inform time.
func (s *Service) ListDevices() ([]model.RemoteDevice, error) {
	return s.store.ListRemoteDevices()
}

// ListRequests returns the queued and resolved requests for a device.
func (s *Service) ListRequests(serial string) ([]model.PendingRequest, error) {
	return s.store.ListPendingRequests(serial, "")
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
