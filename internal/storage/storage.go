package storage

import (
	"errors"

	"github.com/martinsuchenak/phoned/internal/model"
)

// Not-found sentinels surfaced to the API layer.
var (
	ErrRemoteDeviceNotFound   = errors.New("remote device not found")
	ErrPendingRequestNotFound = errors.New("pending request not found")
)

// Storage persists the ACS device registry, its pending request queue, and
// the latest discovery snapshot. The registry itself is the only shared
// state between inbound device check-ins; its implementation must be safe
// for concurrent use.
type Storage interface {
	// Discovery snapshot
	SaveDiscoveredDevices(devices []model.DiscoveredDevice) error
	ListDiscoveredDevices() ([]model.DiscoveredDevice, error)

	// ACS remote device registry
	UpsertRemoteDevice(device *model.RemoteDevice) error
	GetRemoteDevice(serial string) (*model.RemoteDevice, error)
	ListRemoteDevices() ([]model.RemoteDevice, error)

	// ACS pending request queue
	CreatePendingRequest(req *model.PendingRequest) error
	GetPendingRequest(id string) (*model.PendingRequest, error)
	ListPendingRequests(serial, status string) ([]model.PendingRequest, error)
	ResolvePendingRequest(id, status string) error

	Close() error
}
