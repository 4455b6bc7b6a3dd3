package model

import "time"

// RemoteDevice is a phone managed through the ACS channel rather than a
// direct LAN session, typically because it sits behind NAT. Records are
// created and updated only by inbound informs.
type RemoteDevice struct {
	SerialNumber string            `json:"serial_number"`
	Manufacturer string            `json:"manufacturer"`
	Model        string            `json:"model"`
	Firmware     string            `json:"firmware,omitempty"`
	LastInform   time.Time         `json:"last_inform"`
	CallbackURL  string            `json:"callback_url"`
	Parameters   map[string]string `json:"parameters,omitempty"`
}

// Pending request states.
const (
	RequestPending = "pending"
	RequestApplied = "applied"
	RequestFailed  = "failed"
)

// PendingRequest is a queued parameter change for a remote device. Enqueue
// returns immediately with the correlation id; the request is resolved when
// the device next checks in and the change is delivered.
type PendingRequest struct {
	ID           string            `json:"id"`
	SerialNumber string            `json:"serial_number"`
	Parameters   map[string]string `json:"parameters"`
	Status       string            `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	ResolvedAt   *time.Time        `json:"resolved_at,omitempty"`
}
