package main

import (
	"context"
	"os"

	"github.com/paularlott/cli"
	"github.com/paularlott/cli/env"

	"github.com/martinsuchenak/phoned/cmd/discover"
	"github.com/martinsuchenak/phoned/cmd/phone"
	"github.com/martinsuchenak/phoned/cmd/provision"
	"github.com/martinsuchenak/phoned/cmd/server"
	"github.com/martinsuchenak/phoned/internal/log"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Load .env file if it exists
	env.Load()

	// Initialize structured logging
	log.Configure("info", "console")

	rootCmd := &cli.Command{
		Name:        "phoned",
		Version:     version,
		Usage:       "VoIP desk phone discovery and provisioning",
		Description: "Discovers desk phones on the local network, manages their configuration sessions and provisions SIP extensions over the LAN or through an ACS",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:         "log-level",
				Usage:        "Log level (trace, debug, info, warn, error)",
				DefaultValue: "info",
				EnvVars:      []string{"PHONED_LOG_LEVEL"},
				Global:       true,
			},
			&cli.StringFlag{
				Name:         "log-format",
				Usage:        "Log format (console, json)",
				DefaultValue: "console",
				EnvVars:      []string{"PHONED_LOG_FORMAT"},
				Global:       true,
			},
		},
		PreRun: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			log.Configure(cmd.GetString("log-level"), cmd.GetString("log-format"))
			return ctx, nil
		},
		Commands: []*cli.Command{
			server.Command(),
			{
				Name:        "discover",
				Usage:       "Discovery commands",
				Description: "Find and probe phones on the network",
				Commands:    discover.Commands(),
			},
			{
				Name:        "phone",
				Usage:       "Phone management commands",
				Description: "Talk to a single phone's management API",
				Commands:    phone.Commands(),
			},
			{
				Name:        "provision",
				Usage:       "Provisioning commands",
				Description: "Push SIP extensions onto phones",
				Commands:    provision.Commands(),
			},
		},
	}

	if err := rootCmd.Execute(context.Background()); err != nil {
		log.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}
