package mcp

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/paularlott/mcp"

	"github.com/martinsuchenak/phoned/internal/discovery"
	"github.com/martinsuchenak/phoned/internal/log"
	"github.com/martinsuchenak/phoned/internal/model"
	"github.com/martinsuchenak/phoned/internal/provision"
	"github.com/martinsuchenak/phoned/internal/storage"
)

// Collaborators the tools drive.
type (
	Discoverer interface {
		Discover(ctx context.Context, cidr string) (*discovery.Result, error)
	}
	Reachability interface {
		CheckBatch(ctx context.Context, ips []string) map[string]bool
	}
	Provisioner interface {
		ProvisionExtension(ctx context.Context, target provision.Target, cfg model.SIPAccountConfig) (*provision.Status, error)
	}
	ACSService interface {
		Reboot(serial string) (*model.PendingRequest, error)
		ListDevices() ([]model.RemoteDevice, error)
		ListRequests(serial string) ([]model.PendingRequest, error)
	}
)

// Server wraps the MCP server with the phone management services
type Server struct {
	mcpServer   *mcp.Server
	storage     storage.Storage
	discoverer  Discoverer
	pinger      Reachability
	provisioner Provisioner
	acs         ACSService
	bearerToken string
}

// NewServer creates a new MCP server for phone discovery and provisioning
func NewServer(store storage.Storage, discoverer Discoverer, pinger Reachability,
	provisioner Provisioner, acsService ACSService, bearerToken string) *Server {
	s := &Server{
		mcpServer:   mcp.NewServer("phoned", "1.0.0"),
		storage:     store,
		discoverer:  discoverer,
		pinger:      pinger,
		provisioner: provisioner,
		acs:         acsService,
		bearerToken: bearerToken,
	}
	s.registerTools()
	return s
}

// registerTools registers all phone management tools
func (s *Server) registerTools() {
	// discover_network - run a discovery sweep over a network range
	s.mcpServer.RegisterTool(
		mcp.NewTool("discover_network", "Discover VoIP desk phones on a network range using LLDP, an active port scan and HTTP fingerprinting. Results are merged and deduplicated.",
			mcp.String("range", "Network range in CIDR notation (e.g. 192.168.1.0/24)", mcp.Required()),
		),
		s.handleDiscoverNetwork,
	)

	// discovered_list - list the last discovery snapshot
	s.mcpServer.RegisterTool(
		mcp.NewTool("discovered_list", "List the phones found by the most recent discovery sweep"),
		s.handleDiscoveredList,
	)

	// reachability_check - ping a set of addresses
	s.mcpServer.RegisterTool(
		mcp.NewTool("reachability_check", "Check which of the given IP addresses respond to ping",
			mcp.StringArray("addresses", "IP addresses to check"),
		),
		s.handleReachabilityCheck,
	)

	// phone_provision - push a SIP account onto a phone
	s.mcpServer.RegisterTool(
		mcp.NewTool("phone_provision", "Provision a SIP extension onto a phone. Give address+username+password for a phone on the LAN, or serial for a phone managed through the remote management server.",
			mcp.String("address", "Phone IP address (LAN path)"),
			mcp.String("username", "Admin username (LAN path)"),
			mcp.String("password", "Admin password (LAN path)"),
			mcp.String("serial", "Device serial number (remote path)"),
			mcp.String("server", "SIP server the extension registers against", mcp.Required()),
			mcp.String("user_id", "SIP user id / extension number", mcp.Required()),
			mcp.String("auth_id", "SIP authentication id (defaults to user_id)"),
			mcp.String("auth_password", "SIP authentication password"),
			mcp.String("display_name", "Caller id display name"),
			mcp.String("label", "Account label shown on the phone"),
		),
		s.handlePhoneProvision,
	)

	// acs_device_list - list remotely managed devices
	s.mcpServer.RegisterTool(
		mcp.NewTool("acs_device_list", "List phones known to the remote management server with their last check-in time"),
		s.handleACSDeviceList,
	)

	// acs_request_list - list queued requests for a device
	s.mcpServer.RegisterTool(
		mcp.NewTool("acs_request_list", "List queued and resolved configuration requests for a remotely managed phone",
			mcp.String("serial", "Device serial number", mcp.Required()),
		),
		s.handleACSRequestList,
	)

	// acs_reboot - queue a reboot for a remote device
	s.mcpServer.RegisterTool(
		mcp.NewTool("acs_reboot", "Queue a reboot for a remotely managed phone; it is delivered on the device's next check-in",
			mcp.String("serial", "Device serial number", mcp.Required()),
		),
		s.handleACSReboot,
	)
}

// HandleRequest handles MCP HTTP requests with optional bearer token authentication
func (s *Server) HandleRequest(w http.ResponseWriter, r *http.Request) {
	log.Debug("MCP request received", "method", r.Method, "path", r.URL.Path, "remote_addr", r.RemoteAddr)

	if s.bearerToken != "" {
		auth := r.Header.Get("Authorization")
		if auth == "" {
			log.Warn("MCP request missing Authorization header", "remote_addr", r.RemoteAddr)
			http.Error(w, "Unauthorized: Missing Authorization header", http.StatusUnauthorized)
			return
		}
		if !strings.HasPrefix(auth, "Bearer ") {
			log.Warn("MCP request invalid Authorization format", "remote_addr", r.RemoteAddr)
			http.Error(w, "Unauthorized: Invalid Authorization format", http.StatusUnauthorized)
			return
		}
		token := strings.TrimPrefix(auth, "Bearer ")
		if token != s.bearerToken {
			log.Warn("MCP request invalid token", "remote_addr", r.RemoteAddr)
			http.Error(w, "Unauthorized: Invalid token", http.StatusUnauthorized)
			return
		}
	}

	s.mcpServer.HandleRequest(w, r)
}

// GetHTTPHandler returns an http.HandlerFunc for the MCP endpoint
func (s *Server) GetHTTPHandler() http.HandlerFunc {
	return s.HandleRequest
}

// LogStartup logs MCP server startup information
func (s *Server) LogStartup() {
	if s.bearerToken != "" {
		log.Info("MCP authentication enabled", "type", "Bearer token")
	} else {
		log.Warn("MCP authentication disabled - server is unprotected")
	}
}

func (s *Server) handleDiscoverNetwork(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	cidr, err := req.String("range")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("range is required: " + err.Error())
	}

	log.Debug("MCP discovery sweep request", "range", cidr)
	result, err := s.discoverer.Discover(ctx, cidr)
	if err != nil {
		log.Error("MCP discovery sweep failed", "error", err, "range", cidr)
		return nil, mcp.NewToolErrorInternal("discovery failed: " + err.Error())
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Found %d phones on %s:\n\n", len(result.Devices), cidr)
	for _, d := range result.Devices {
		out.WriteString(formatDeviceSummary(&d))
		out.WriteString("\n")
	}
	for source, msg := range result.SourceErrors {
		fmt.Fprintf(&out, "note: source %s failed: %s\n", source, msg)
	}
	if result.TimedOut {
		out.WriteString("note: the scan hit its deadline, results are partial\n")
	}
	return mcp.NewToolResponseText(out.String()), nil
}

func (s *Server) handleDiscoveredList(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	devices, err := s.storage.ListDiscoveredDevices()
	if err != nil {
		log.Error("MCP discovered list failed", "error", err)
		return nil, mcp.NewToolErrorInternal("failed to list discovered phones: " + err.Error())
	}
	if len(devices) == 0 {
		return mcp.NewToolResponseText("No phones in the discovery snapshot; run discover_network first"), nil
	}

	var out strings.Builder
	fmt.Fprintf(&out, "%d phones in the last discovery snapshot:\n\n", len(devices))
	for _, d := range devices {
		out.WriteString(formatDeviceSummary(&d))
		out.WriteString("\n")
	}
	return mcp.NewToolResponseText(out.String()), nil
}

func (s *Server) handleReachabilityCheck(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	addresses, err := req.StringSlice("addresses")
	if err != nil || len(addresses) == 0 {
		return nil, mcp.NewToolErrorInvalidParams("addresses is required")
	}

	results := s.pinger.CheckBatch(ctx, addresses)

	var out strings.Builder
	for _, addr := range addresses {
		state := "down"
		if results[addr] {
			state = "up"
		}
		fmt.Fprintf(&out, "%s: %s\n", addr, state)
	}
	return mcp.NewToolResponseText(out.String()), nil
}

func (s *Server) handlePhoneProvision(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	server, err := req.String("server")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("server is required: " + err.Error())
	}
	userID, err := req.String("user_id")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("user_id is required: " + err.Error())
	}

	target := provision.Target{
		Address:  req.StringOr("address", ""),
		Username: req.StringOr("username", ""),
		Password: req.StringOr("password", ""),
		Serial:   req.StringOr("serial", ""),
	}
	cfg := model.SIPAccountConfig{
		Active:       true,
		Label:        req.StringOr("label", ""),
		Server:       server,
		UserID:       userID,
		AuthID:       req.StringOr("auth_id", userID),
		AuthPassword: req.StringOr("auth_password", ""),
		DisplayName:  req.StringOr("display_name", ""),
	}

	status, err := s.provisioner.ProvisionExtension(ctx, target, cfg)
	if err != nil {
		log.Error("MCP provisioning failed", "error", err)
		return nil, mcp.NewToolErrorInternal("provisioning failed: " + err.Error())
	}

	if status.Applied {
		return mcp.NewToolResponseText(fmt.Sprintf(
			"Extension %s provisioned on %s over the LAN", userID, status.Address)), nil
	}
	return mcp.NewToolResponseText(fmt.Sprintf(
		"Extension %s queued for %s (request %s); it is applied on the device's next check-in",
		userID, status.Serial, status.RequestID)), nil
}

func (s *Server) handleACSDeviceList(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	devices, err := s.acs.ListDevices()
	if err != nil {
		log.Error("MCP ACS device list failed", "error", err)
		return nil, mcp.NewToolErrorInternal("failed to list devices: " + err.Error())
	}
	if len(devices) == 0 {
		return mcp.NewToolResponseText("No phones have checked in yet"), nil
	}

	var out strings.Builder
	fmt.Fprintf(&out, "%d remotely managed phones:\n\n", len(devices))
	for _, d := range devices {
		fmt.Fprintf(&out, "%s: %s %s (firmware %s), last check-in %s\n",
			d.SerialNumber, d.Manufacturer, d.Model, d.Firmware,
			d.LastInform.Format("2006-01-02 15:04:05"))
	}
	return mcp.NewToolResponseText(out.String()), nil
}

func (s *Server) handleACSRequestList(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	serial, err := req.String("serial")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("serial is required: " + err.Error())
	}

	reqs, err := s.acs.ListRequests(serial)
	if err != nil {
		log.Error("MCP ACS request list failed", "error", err, "serial", serial)
		return nil, mcp.NewToolErrorInternal("failed to list requests: " + err.Error())
	}
	if len(reqs) == 0 {
		return mcp.NewToolResponseText(fmt.Sprintf("No requests for %s", serial)), nil
	}

	var out strings.Builder
	fmt.Fprintf(&out, "%d requests for %s:\n\n", len(reqs), serial)
	for _, r := range reqs {
		fmt.Fprintf(&out, "%s: %s, %d parameters, created %s\n",
			r.ID, r.Status, len(r.Parameters), r.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return mcp.NewToolResponseText(out.String()), nil
}

func (s *Server) handleACSReboot(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	serial, err := req.String("serial")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("serial is required: " + err.Error())
	}

	pending, err := s.acs.Reboot(serial)
	if err != nil {
		log.Error("MCP ACS reboot failed", "error", err, "serial", serial)
		return nil, mcp.NewToolErrorInternal("failed to queue reboot: " + err.Error())
	}
	return mcp.NewToolResponseText(fmt.Sprintf(
		"Reboot queued for %s (request %s)", serial, pending.ID)), nil
}

func formatDeviceSummary(d *model.DiscoveredDevice) string {
	var out strings.Builder
	fmt.Fprintf(&out, "%s", d.IP)
	if d.MAC != "" {
		fmt.Fprintf(&out, " (%s)", d.MAC)
	}
	if d.Vendor != "" {
		fmt.Fprintf(&out, " %s", d.Vendor)
	}
	if d.Model != "" {
		fmt.Fprintf(&out, " %s", d.Model)
	}
	fmt.Fprintf(&out, " via %s", d.Source)
	if d.Online {
		out.WriteString(", online")
	}
	if d.Registered {
		fmt.Fprintf(&out, ", registered as %s", d.Extension)
	}
	return out.String()
}
