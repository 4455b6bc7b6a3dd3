package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/paularlott/cli"

	"github.com/martinsuchenak/phoned/internal/acs"
	"github.com/martinsuchenak/phoned/internal/api"
	"github.com/martinsuchenak/phoned/internal/config"
	"github.com/martinsuchenak/phoned/internal/discovery"
	"github.com/martinsuchenak/phoned/internal/log"
	"github.com/martinsuchenak/phoned/internal/mcp"
	"github.com/martinsuchenak/phoned/internal/phone"
	"github.com/martinsuchenak/phoned/internal/provision"
	"github.com/martinsuchenak/phoned/internal/storage"
	"github.com/martinsuchenak/phoned/internal/worker"
)

// Services bundles the long-lived components the server runs on.
type Services struct {
	Config      *config.Config
	Store       storage.Storage
	Coordinator *discovery.Coordinator
	Pinger      *discovery.Pinger
	Sessions    *phone.Store
	Phones      *phone.Manager
	ACS         *acs.Service
	Provisioner *provision.Orchestrator
}

// Build wires the service graph from configuration. The caller owns the
// returned storage handle.
func Build(cfg *config.Config) (*Services, error) {
	store, err := storage.NewSQLiteStorage(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	pinger := discovery.NewPinger(cfg.PingTimeout, cfg.PingPrivileged, cfg.DiscoveryMaxConcurrent)

	coordinator := &discovery.Coordinator{
		Scanner:       discovery.NewNetworkScanner(cfg.NmapPath, cfg.ScanDeadline, cfg.HTTPProbeTimeout),
		Pinger:        pinger,
		Store:         store,
		MaxConcurrent: cfg.DiscoveryMaxConcurrent,
	}
	if cfg.LLDPMode != "off" {
		coordinator.LLDP = discovery.NewLLDPDiscoverer(cfg.LLDPMode, cfg.LLDPInterface)
	}
	if cfg.SNMPEnabled {
		coordinator.SNMP = discovery.NewSNMPProber(cfg.SNMPCommunity, cfg.PingTimeout)
	}

	sessions := phone.NewStore()
	phones := phone.NewManager(sessions, cfg.SessionLifetime)
	acsService := acs.NewService(store, cfg.InformFreshness)
	provisioner := &provision.Orchestrator{
		Phones:   phones,
		Sessions: sessions,
		ACS:      acsService,
	}

	return &Services{
		Config:      cfg,
		Store:       store,
		Coordinator: coordinator,
		Pinger:      pinger,
		Sessions:    sessions,
		Phones:      phones,
		ACS:         acsService,
		Provisioner: provisioner,
	}, nil
}

// RunServer starts the HTTP server over the given services and blocks until
// shutdown.
func RunServer(svc *Services) error {
	cfg := svc.Config

	mux := http.NewServeMux()

	apiHandler := api.NewHandler(svc.Store, svc.Coordinator, svc.Pinger,
		svc.Phones, svc.Sessions, svc.ACS, svc.Provisioner)
	apiHandler.RegisterRoutes(mux)

	mcpServer := mcp.NewServer(svc.Store, svc.Coordinator, svc.Pinger,
		svc.Provisioner, svc.ACS, cfg.BearerToken)
	mux.HandleFunc("/mcp", mcpServer.GetHTTPHandler())

	// Apply middleware
	var handler http.Handler = mux
	if cfg.BearerToken != "" {
		handler = api.AuthMiddleware(cfg.BearerToken, handler)
	}
	handler = api.SecurityHeadersMiddleware(handler)

	// Background jobs: periodic sweep over the configured range plus the
	// session purge.
	sweepRange := ""
	if cfg.DiscoveryEnabled {
		sweepRange = cfg.DiscoveryCIDR
	}
	scheduler := worker.NewScheduler(svc.Coordinator, svc.Sessions, sweepRange,
		cfg.DiscoveryInterval, cfg.PurgeInterval, cfg.ScanDeadline)
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Stop()

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: handler,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		log.Info("Shutting down server...")
		server.Close()
	}()

	log.Info("Starting phoned server", "addr", cfg.ListenAddr)
	log.Info("API available", "url", "http://localhost"+cfg.ListenAddr+"/api/")
	log.Info("ACS inform endpoint available", "url", "http://localhost"+cfg.ListenAddr+"/acs/inform")
	log.Info("MCP available", "url", "http://localhost"+cfg.ListenAddr+"/mcp")
	if cfg.BearerToken != "" {
		log.Info("API authentication enabled")
	}
	mcpServer.LogStartup()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("Server error", "error", err)
		return err
	}

	log.Info("Server stopped")
	return nil
}

func Command() *cli.Command {
	return &cli.Command{
		Name:        "server",
		Usage:       "Start the phoned server",
		Description: "Start the HTTP server with the discovery API, the ACS endpoint and the MCP endpoint",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "data-dir",
				Usage:   "Data directory path",
				EnvVars: []string{"PHONED_DATA_DIR"},
			},
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "Server listen address (e.g. :8088)",
				EnvVars: []string{"PHONED_LISTEN_ADDR"},
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "Bearer token for API and MCP authentication",
				EnvVars: []string{"PHONED_BEARER_TOKEN"},
			},
			&cli.StringFlag{
				Name:    "range",
				Usage:   "Network range swept by the periodic discovery job",
				EnvVars: []string{"PHONED_DISCOVERY_CIDR"},
			},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.Load(&config.Config{
				DataDir:       cmd.GetString("data-dir"),
				ListenAddr:    cmd.GetString("addr"),
				BearerToken:   cmd.GetString("token"),
				DiscoveryCIDR: cmd.GetString("range"),
			})
			log.Info("Configuration loaded", "source", cfg.String(),
				"data_dir", cfg.DataDir, "listen_addr", cfg.ListenAddr)

			svc, err := Build(cfg)
			if err != nil {
				log.Error("Failed to initialize services", "error", err)
				return err
			}
			defer svc.Store.Close()

			return RunServer(svc)
		},
	}
}
