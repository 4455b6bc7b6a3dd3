package provision

import (
	"context"
	"fmt"

	"github.com/paularlott/cli"

	"github.com/martinsuchenak/phoned/internal/acs"
	"github.com/martinsuchenak/phoned/internal/config"
	"github.com/martinsuchenak/phoned/internal/model"
	"github.com/martinsuchenak/phoned/internal/phone"
	"github.com/martinsuchenak/phoned/internal/provision"
	"github.com/martinsuchenak/phoned/internal/storage"
)

// Commands returns the provisioning CLI commands
func Commands() []*cli.Command {
	return []*cli.Command{
		extensionCommand(),
	}
}

// extensionCommand pushes one SIP extension onto a phone, over the LAN or
// through the ACS queue.
func extensionCommand() *cli.Command {
	return &cli.Command{
		Name:        "extension",
		Usage:       "Provision a SIP extension onto a phone",
		Description: "Give --address with credentials for a phone on the LAN, or --serial for a phone managed through the ACS",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "address",
				Usage: "Phone IP address (LAN path)",
			},
			&cli.StringFlag{
				Name:  "username",
				Usage: "Admin username (LAN path)",
			},
			&cli.StringFlag{
				Name:    "password",
				Usage:   "Admin password (LAN path)",
				EnvVars: []string{"PHONED_PHONE_PASSWORD"},
			},
			&cli.StringFlag{
				Name:  "serial",
				Usage: "Device serial number (ACS path)",
			},
			&cli.StringFlag{
				Name:     "server",
				Usage:    "SIP server the extension registers against",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "user-id",
				Usage:    "SIP user id / extension number",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "auth-id",
				Usage: "SIP authentication id (defaults to user id)",
			},
			&cli.StringFlag{
				Name:    "auth-password",
				Usage:   "SIP authentication password",
				EnvVars: []string{"PHONED_SIP_PASSWORD"},
			},
			&cli.StringFlag{
				Name:  "display-name",
				Usage: "Caller id display name",
			},
			&cli.StringFlag{
				Name:  "label",
				Usage: "Account label shown on the phone",
			},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.Load(nil)

			store, err := storage.NewSQLiteStorage(cfg.DataDir)
			if err != nil {
				return err
			}
			defer store.Close()

			sessions := phone.NewStore()
			orchestrator := &provision.Orchestrator{
				Phones:   phone.NewManager(sessions, cfg.SessionLifetime),
				Sessions: sessions,
				ACS:      acs.NewService(store, cfg.InformFreshness),
			}

			userID := cmd.GetString("user-id")
			authID := cmd.GetString("auth-id")
			if authID == "" {
				authID = userID
			}

			status, err := orchestrator.ProvisionExtension(ctx, provision.Target{
				Address:  cmd.GetString("address"),
				Username: cmd.GetString("username"),
				Password: cmd.GetString("password"),
				Serial:   cmd.GetString("serial"),
			}, model.SIPAccountConfig{
				Active:       true,
				Label:        cmd.GetString("label"),
				Server:       cmd.GetString("server"),
				UserID:       userID,
				AuthID:       authID,
				AuthPassword: cmd.GetString("auth-password"),
				DisplayName:  cmd.GetString("display-name"),
			})
			if err != nil {
				return err
			}

			if status.Applied {
				fmt.Printf("Extension %s provisioned on %s\n", userID, status.Address)
			} else {
				fmt.Printf("Extension %s queued for %s (request %s); applied on the device's next check-in\n",
					userID, status.Serial, status.RequestID)
			}
			return nil
		},
	}
}
