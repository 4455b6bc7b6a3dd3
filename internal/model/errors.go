package model

import "errors"

// Error taxonomy shared by the discovery, phone and ACS layers. Callers are
// expected to classify failures with errors.Is against these sentinels; the
// API layer maps them onto HTTP status codes.
var (
	// ErrInvalidInput marks malformed caller input, e.g. a bad CIDR range.
	ErrInvalidInput = errors.New("invalid input")

	// ErrToolUnavailable marks a missing discovery backend (nmap or lldpcli
	// not installed, capture interface absent).
	ErrToolUnavailable = errors.New("external tool unavailable")

	// ErrToolFailure marks a discovery backend that ran but failed or
	// produced unparseable output.
	ErrToolFailure = errors.New("external tool failure")

	// ErrTimeout marks an operation that exceeded its deadline.
	ErrTimeout = errors.New("operation timed out")

	// ErrAuthFailure marks rejected credentials on a device login.
	ErrAuthFailure = errors.New("authentication failure")

	// ErrSessionExpired marks a device session that is no longer valid and
	// could not be transparently re-established.
	ErrSessionExpired = errors.New("session expired")

	// ErrDeviceUnreachable marks a device that cannot currently be reached,
	// including remote devices with no recent inform.
	ErrDeviceUnreachable = errors.New("device unreachable")

	// ErrProtocol marks a malformed or unexpected device response.
	ErrProtocol = errors.New("protocol error")

	// ErrNotConfirmed marks a destructive action invoked without the
	// explicit confirmation flag. No network call is made in that case.
	ErrNotConfirmed = errors.New("destructive action not confirmed")
)
