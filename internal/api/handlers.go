package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/martinsuchenak/phoned/internal/acs"
	"github.com/martinsuchenak/phoned/internal/discovery"
	"github.com/martinsuchenak/phoned/internal/log"
	"github.com/martinsuchenak/phoned/internal/model"
	"github.com/martinsuchenak/phoned/internal/provision"
	"github.com/martinsuchenak/phoned/internal/storage"
)

// Collaborator interfaces, satisfied by the concrete services and by mocks
// in tests.
type (
	Discoverer interface {
		Discover(ctx context.Context, cidr string) (*discovery.Result, error)
	}
	Reachability interface {
		CheckBatch(ctx context.Context, ips []string) map[string]bool
	}
	PhoneManager interface {
		Login(ctx context.Context, address, username, password string) (*model.Session, error)
		Logout(address string)
		GetParameters(ctx context.Context, session *model.Session, names []string) (map[string]string, error)
		SetParameters(ctx context.Context, session *model.Session, params map[string]string) error
		Reboot(ctx context.Context, session *model.Session) error
		FactoryReset(ctx context.Context, session *model.Session, confirmed bool) error
		DeviceInfo(ctx context.Context, session *model.Session) (map[string]string, error)
		GetSIPAccount(ctx context.Context, session *model.Session) (*model.SIPAccountConfig, error)
		SetSIPAccount(ctx context.Context, session *model.Session, cfg model.SIPAccountConfig) error
	}
	SessionLookup interface {
		Get(address string) *model.Session
	}
	ACSService interface {
		HandleInform(ctx context.Context, inform *acs.Inform) (*acs.InformAck, error)
		EnqueueParameterChange(serial string, params map[string]string) (*model.PendingRequest, error)
		Reboot(serial string) (*model.PendingRequest, error)
		FactoryReset(serial string, confirmed bool) (*model.PendingRequest, error)
		ListDevices() ([]model.RemoteDevice, error)
		ListRequests(serial string) ([]model.PendingRequest, error)
	}
	Provisioner interface {
		ProvisionExtension(ctx context.Context, target provision.Target, cfg model.SIPAccountConfig) (*provision.Status, error)
	}
)

// Handler handles HTTP requests
type Handler struct {
	storage     storage.Storage
	discoverer  Discoverer
	pinger      Reachability
	phones      PhoneManager
	sessions    SessionLookup
	acs         ACSService
	provisioner Provisioner
}

// NewHandler creates a new API handler
func NewHandler(
	store storage.Storage,
	discoverer Discoverer,
	pinger Reachability,
	phones PhoneManager,
	sessions SessionLookup,
	acsService ACSService,
	provisioner Provisioner,
) *Handler {
	return &Handler{
		storage:     store,
		discoverer:  discoverer,
		pinger:      pinger,
		phones:      phones,
		sessions:    sessions,
		acs:         acsService,
		provisioner: provisioner,
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Discovery
	mux.HandleFunc("POST /api/discover", h.runDiscovery)
	mux.HandleFunc("GET /api/discovered", h.listDiscovered)
	mux.HandleFunc("POST /api/reachability", h.checkReachability)

	// Phone sessions and parameters
	mux.HandleFunc("POST /api/phones/login", h.phoneLogin)
	mux.HandleFunc("DELETE /api/phones/{address}/session", h.phoneLogout)
	mux.HandleFunc("GET /api/phones/{address}/parameters", h.phoneGetParameters)
	mux.HandleFunc("PUT /api/phones/{address}/parameters", h.phoneSetParameters)
	mux.HandleFunc("GET /api/phones/{address}/info", h.phoneInfo)
	mux.HandleFunc("GET /api/phones/{address}/sip-account", h.phoneGetSIPAccount)
	mux.HandleFunc("PUT /api/phones/{address}/sip-account", h.phoneSetSIPAccount)
	mux.HandleFunc("POST /api/phones/{address}/reboot", h.phoneReboot)
	mux.HandleFunc("POST /api/phones/{address}/factory-reset", h.phoneFactoryReset)

	// Provisioning
	mux.HandleFunc("POST /api/provision", h.provisionExtension)

	// ACS management surface
	mux.HandleFunc("GET /api/acs/devices", h.acsListDevices)
	mux.HandleFunc("GET /api/acs/devices/{serial}/requests", h.acsListRequests)
	mux.HandleFunc("POST /api/acs/devices/{serial}/parameters", h.acsEnqueueParameters)
	mux.HandleFunc("POST /api/acs/devices/{serial}/reboot", h.acsReboot)
	mux.HandleFunc("POST /api/acs/devices/{serial}/factory-reset", h.acsFactoryReset)

	// ACS inbound device channel
	mux.HandleFunc("POST /acs/inform", h.acsInform)
}

// runDiscovery handles POST /api/discover
func (h *Handler) runDiscovery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Range string `json:"range"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.discoverer.Discover(r.Context(), req.Range)
	if err != nil {
		h.writeTaxonomyError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// listDiscovered handles GET /api/discovered
func (h *Handler) listDiscovered(w http.ResponseWriter, r *http.Request) {
	devices, err := h.storage.ListDiscoveredDevices()
	if err != nil {
		h.internalError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, devices)
}

// checkReachability handles POST /api/reachability
func (h *Handler) checkReachability(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Addresses []string `json:"addresses"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Addresses) == 0 {
		h.writeError(w, http.StatusBadRequest, "addresses required")
		return
	}
	h.writeJSON(w, http.StatusOK, h.pinger.CheckBatch(r.Context(), req.Addresses))
}

// phoneLogin handles POST /api/phones/login
func (h *Handler) phoneLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address  string `json:"address"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Address == "" || req.Username == "" {
		h.writeError(w, http.StatusBadRequest, "address and username required")
		return
	}

	session, err := h.phones.Login(r.Context(), req.Address, req.Username, req.Password)
	if err != nil {
		h.writeTaxonomyError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, session)
}

// phoneLogout handles DELETE /api/phones/{address}/session
func (h *Handler) phoneLogout(w http.ResponseWriter, r *http.Request) {
	h.phones.Logout(r.PathValue("address"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) *model.Session {
	session := h.sessions.Get(r.PathValue("address"))
	if session == nil {
		h.writeError(w, http.StatusUnauthorized, "no session for device, login first")
		return nil
	}
	return session
}

// phoneGetParameters handles GET /api/phones/{address}/parameters?names=a:b:c
func (h *Handler) phoneGetParameters(w http.ResponseWriter, r *http.Request) {
	session := h.session(w, r)
	if session == nil {
		return
	}
	names := strings.Split(r.URL.Query().Get("names"), ":")
	if len(names) == 1 && names[0] == "" {
		h.writeError(w, http.StatusBadRequest, "names query parameter required")
		return
	}

	values, err := h.phones.GetParameters(r.Context(), session, names)
	if err != nil {
		h.writeTaxonomyError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, values)
}

// phoneSetParameters handles PUT /api/phones/{address}/parameters
func (h *Handler) phoneSetParameters(w http.ResponseWriter, r *http.Request) {
	session := h.session(w, r)
	if session == nil {
		return
	}
	var params map[string]string
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil || len(params) == 0 {
		h.writeError(w, http.StatusBadRequest, "parameter map required")
		return
	}

	if err := h.phones.SetParameters(r.Context(), session, params); err != nil {
		h.writeTaxonomyError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// phoneInfo handles GET /api/phones/{address}/info
func (h *Handler) phoneInfo(w http.ResponseWriter, r *http.Request) {
	session := h.session(w, r)
	if session == nil {
		return
	}
	info, err := h.phones.DeviceInfo(r.Context(), session)
	if err != nil {
		h.writeTaxonomyError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

// phoneGetSIPAccount handles GET /api/phones/{address}/sip-account
func (h *Handler) phoneGetSIPAccount(w http.ResponseWriter, r *http.Request) {
	session := h.session(w, r)
	if session == nil {
		return
	}
	cfg, err := h.phones.GetSIPAccount(r.Context(), session)
	if err != nil {
		h.writeTaxonomyError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cfg)
}

// phoneSetSIPAccount handles PUT /api/phones/{address}/sip-account
func (h *Handler) phoneSetSIPAccount(w http.ResponseWriter, r *http.Request) {
	session := h.session(w, r)
	if session == nil {
		return
	}
	var cfg model.SIPAccountConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.phones.SetSIPAccount(r.Context(), session, cfg); err != nil {
		h.writeTaxonomyError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// phoneReboot handles POST /api/phones/{address}/reboot
func (h *Handler) phoneReboot(w http.ResponseWriter, r *http.Request) {
	session := h.session(w, r)
	if session == nil {
		return
	}
	if err := h.phones.Reboot(r.Context(), session); err != nil {
		h.writeTaxonomyError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// phoneFactoryReset handles POST /api/phones/{address}/factory-reset
func (h *Handler) phoneFactoryReset(w http.ResponseWriter, r *http.Request) {
	session := h.session(w, r)
	if session == nil {
		return
	}
	var req struct {
		Confirm bool `json:"confirm"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.phones.FactoryReset(r.Context(), session, req.Confirm); err != nil {
		h.writeTaxonomyError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// provisionExtension handles POST /api/provision
func (h *Handler) provisionExtension(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Target  provision.Target       `json:"target"`
		Account model.SIPAccountConfig `json:"account"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	status, err := h.provisioner.ProvisionExtension(r.Context(), req.Target, req.Account)
	if err != nil {
		h.writeTaxonomyError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

// acsInform handles POST /acs/inform
func (h *Handler) acsInform(w http.ResponseWriter, r *http.Request) {
	inform, err := acs.ParseInform(r.Body)
	if err != nil {
		log.Warn("Rejected malformed inform", "remote_addr", r.RemoteAddr, "error", err)
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ack, err := h.acs.HandleInform(r.Context(), inform)
	if err != nil {
		h.internalError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ack)
}

// acsListDevices handles GET /api/acs/devices
func (h *Handler) acsListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.acs.ListDevices()
	if err != nil {
		h.internalError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, devices)
}

// acsListRequests handles GET /api/acs/devices/{serial}/requests
func (h *Handler) acsListRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.acs.ListRequests(r.PathValue("serial"))
	if err != nil {
		h.internalError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, reqs)
}

// acsEnqueueParameters handles POST /api/acs/devices/{serial}/parameters
func (h *Handler) acsEnqueueParameters(w http.ResponseWriter, r *http.Request) {
	var params map[string]string
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil || len(params) == 0 {
		h.writeError(w, http.StatusBadRequest, "parameter map required")
		return
	}

	req, err := h.acs.EnqueueParameterChange(r.PathValue("serial"), params)
	if err != nil {
		h.writeTaxonomyError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, req)
}

// acsReboot handles POST /api/acs/devices/{serial}/reboot
func (h *Handler) acsReboot(w http.ResponseWriter, r *http.Request) {
	req, err := h.acs.Reboot(r.PathValue("serial"))
	if err != nil {
		h.writeTaxonomyError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, req)
}

// acsFactoryReset handles POST /api/acs/devices/{serial}/factory-reset
func (h *Handler) acsFactoryReset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Confirm bool `json:"confirm"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req, err := h.acs.FactoryReset(r.PathValue("serial"), body.Confirm)
	if err != nil {
		h.writeTaxonomyError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, req)
}

// writeTaxonomyError maps the shared error taxonomy onto HTTP status codes.
func (h *Handler) writeTaxonomyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidInput), errors.Is(err, model.ErrNotConfirmed):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrAuthFailure), errors.Is(err, model.ErrSessionExpired):
		h.writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, storage.ErrRemoteDeviceNotFound), errors.Is(err, storage.ErrPendingRequestNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, model.ErrDeviceUnreachable), errors.Is(err, model.ErrToolUnavailable):
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, model.ErrTimeout):
		h.writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, model.ErrProtocol), errors.Is(err, model.ErrToolFailure):
		h.writeError(w, http.StatusBadGateway, err.Error())
	default:
		h.internalError(w, err)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("Failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

func (h *Handler) internalError(w http.ResponseWriter, err error) {
	log.Error("Internal server error", "error", err)
	h.writeError(w, http.StatusInternalServerError, "internal server error")
}
