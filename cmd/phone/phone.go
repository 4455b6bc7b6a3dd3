package phone

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/paularlott/cli"

	"github.com/martinsuchenak/phoned/internal/config"
	"github.com/martinsuchenak/phoned/internal/model"
	"github.com/martinsuchenak/phoned/internal/phone"
)

// Commands returns the phone CLI commands
func Commands() []*cli.Command {
	return []*cli.Command{
		infoCommand(),
		getCommand(),
		setCommand(),
		rebootCommand(),
		factoryResetCommand(),
	}
}

func deviceFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "address",
			Usage:    "Phone IP address",
			Required: true,
		},
		&cli.StringFlag{
			Name:         "username",
			Usage:        "Admin username",
			DefaultValue: "admin",
		},
		&cli.StringFlag{
			Name:     "password",
			Usage:    "Admin password",
			Required: true,
			EnvVars:  []string{"PHONED_PHONE_PASSWORD"},
		},
	}
}

// login authenticates against the phone named by the command's device flags.
func login(ctx context.Context, cmd *cli.Command) (*phone.Manager, *model.Session, error) {
	cfg := config.Load(nil)
	manager := phone.NewManager(phone.NewStore(), cfg.SessionLifetime)
	session, err := manager.Login(ctx, cmd.GetString("address"),
		cmd.GetString("username"), cmd.GetString("password"))
	if err != nil {
		return nil, nil, err
	}
	return manager, session, nil
}

func infoCommand() *cli.Command {
	return &cli.Command{
		Name:        "info",
		Usage:       "Show a phone's model, firmware and MAC",
		Description: "Log in to a phone and read its identity parameters",
		Flags:       deviceFlags(),
		Run: func(ctx context.Context, cmd *cli.Command) error {
			manager, session, err := login(ctx, cmd)
			if err != nil {
				return err
			}
			defer manager.Logout(session.Address)

			info, err := manager.DeviceInfo(ctx, session)
			if err != nil {
				return err
			}
			fmt.Printf("Model:    %s\n", info["phone_model"])
			fmt.Printf("Firmware: %s\n", info["firmware_version"])
			fmt.Printf("MAC:      %s\n", info["mac_address"])
			return nil
		},
	}
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:        "get",
		Usage:       "Read configuration parameters from a phone",
		Description: "Read a colon-separated list of parameter codes (e.g. P270:P271:P47)",
		Flags: append(deviceFlags(),
			&cli.StringFlag{
				Name:     "codes",
				Usage:    "Colon-separated parameter codes",
				Required: true,
			},
		),
		Run: func(ctx context.Context, cmd *cli.Command) error {
			manager, session, err := login(ctx, cmd)
			if err != nil {
				return err
			}
			defer manager.Logout(session.Address)

			values, err := manager.GetParameters(ctx, session, strings.Split(cmd.GetString("codes"), ":"))
			if err != nil {
				return err
			}

			codes := make([]string, 0, len(values))
			for code := range values {
				codes = append(codes, code)
			}
			sort.Strings(codes)
			for _, code := range codes {
				fmt.Printf("%s=%s\n", code, values[code])
			}
			return nil
		},
	}
}

func setCommand() *cli.Command {
	return &cli.Command{
		Name:        "set",
		Usage:       "Write a configuration parameter on a phone",
		Description: "Write one parameter code (e.g. --code P270 --value Reception)",
		Flags: append(deviceFlags(),
			&cli.StringFlag{
				Name:     "code",
				Usage:    "Parameter code",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "value",
				Usage:    "Parameter value",
				Required: true,
			},
		),
		Run: func(ctx context.Context, cmd *cli.Command) error {
			manager, session, err := login(ctx, cmd)
			if err != nil {
				return err
			}
			defer manager.Logout(session.Address)

			if err := manager.SetParameters(ctx, session,
				map[string]string{cmd.GetString("code"): cmd.GetString("value")}); err != nil {
				return err
			}
			fmt.Println("OK")
			return nil
		},
	}
}

func rebootCommand() *cli.Command {
	return &cli.Command{
		Name:        "reboot",
		Usage:       "Reboot a phone",
		Description: "Log in to a phone and trigger a restart",
		Flags:       deviceFlags(),
		Run: func(ctx context.Context, cmd *cli.Command) error {
			manager, session, err := login(ctx, cmd)
			if err != nil {
				return err
			}

			if err := manager.Reboot(ctx, session); err != nil {
				return err
			}
			fmt.Println("Reboot triggered")
			return nil
		},
	}
}

func factoryResetCommand() *cli.Command {
	return &cli.Command{
		Name:        "factory-reset",
		Usage:       "Factory reset a phone",
		Description: "Wipe a phone's configuration; refuses to run without --confirm",
		Flags: append(deviceFlags(),
			&cli.BoolFlag{
				Name:         "confirm",
				Usage:        "Confirm the destructive reset",
				DefaultValue: false,
			},
		),
		Run: func(ctx context.Context, cmd *cli.Command) error {
			manager, session, err := login(ctx, cmd)
			if err != nil {
				return err
			}

			if err := manager.FactoryReset(ctx, session, cmd.GetBool("confirm")); err != nil {
				return err
			}
			fmt.Println("Factory reset triggered")
			return nil
		},
	}
}
