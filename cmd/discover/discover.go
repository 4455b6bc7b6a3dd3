package discover

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/paularlott/cli"

	"github.com/martinsuchenak/phoned/internal/config"
	"github.com/martinsuchenak/phoned/internal/discovery"
)

// Commands returns the discovery CLI commands
func Commands() []*cli.Command {
	return []*cli.Command{
		sweepCommand(),
		pingCommand(),
	}
}

// sweepCommand runs one discovery sweep and prints the merged device list.
func sweepCommand() *cli.Command {
	return &cli.Command{
		Name:        "sweep",
		Usage:       "Discover phones on a network range",
		Description: "Run LLDP, an active scan and HTTP fingerprinting over a range and print the merged result",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "range",
				Usage:    "Network range in CIDR notation (e.g. 192.168.1.0/24)",
				Required: true,
			},
			&cli.StringFlag{
				Name:         "lldp",
				Usage:        "LLDP mode: lldpcli, capture or off",
				DefaultValue: "lldpcli",
			},
			&cli.StringFlag{
				Name:  "interface",
				Usage: "Capture interface when --lldp=capture",
			},
			&cli.BoolFlag{
				Name:         "snmp",
				Usage:        "Enrich unclassified devices via SNMP",
				DefaultValue: false,
			},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.Load(&config.Config{
				LLDPMode:      cmd.GetString("lldp"),
				LLDPInterface: cmd.GetString("interface"),
			})

			coordinator := &discovery.Coordinator{
				Scanner:       discovery.NewNetworkScanner(cfg.NmapPath, cfg.ScanDeadline, cfg.HTTPProbeTimeout),
				Pinger:        discovery.NewPinger(cfg.PingTimeout, cfg.PingPrivileged, cfg.DiscoveryMaxConcurrent),
				MaxConcurrent: cfg.DiscoveryMaxConcurrent,
			}
			if cfg.LLDPMode != "off" {
				coordinator.LLDP = discovery.NewLLDPDiscoverer(cfg.LLDPMode, cfg.LLDPInterface)
			}
			if cmd.GetBool("snmp") {
				coordinator.SNMP = discovery.NewSNMPProber(cfg.SNMPCommunity, cfg.PingTimeout)
			}

			start := time.Now()
			result, err := coordinator.Discover(ctx, cmd.GetString("range"))
			if err != nil {
				return err
			}

			fmt.Printf("Found %d phones in %v\n\n", len(result.Devices), time.Since(start).Round(time.Millisecond))
			for _, d := range result.Devices {
				online := " "
				if d.Online {
					online = "*"
				}
				fmt.Printf("%s %-15s %-17s %-12s %-12s %s\n",
					online, d.IP, d.MAC, d.Vendor, d.Model, d.Source)
			}
			for source, msg := range result.SourceErrors {
				fmt.Printf("\nnote: source %s failed: %s\n", source, msg)
			}
			if result.TimedOut {
				fmt.Println("\nnote: the scan hit its deadline, results are partial")
			}
			return nil
		},
	}
}

// pingCommand checks reachability of a list of addresses.
func pingCommand() *cli.Command {
	return &cli.Command{
		Name:        "ping",
		Usage:       "Check which addresses respond to ping",
		Description: "Probe a comma-separated list of IP addresses with ICMP echo",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "addresses",
				Usage:    "Comma-separated IP addresses",
				Required: true,
			},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.Load(nil)
			pinger := discovery.NewPinger(cfg.PingTimeout, cfg.PingPrivileged, cfg.DiscoveryMaxConcurrent)

			addresses := strings.Split(cmd.GetString("addresses"), ",")
			for i := range addresses {
				addresses[i] = strings.TrimSpace(addresses[i])
			}

			results := pinger.CheckBatch(ctx, addresses)
			for _, addr := range addresses {
				state := "down"
				if results[addr] {
					state = "up"
				}
				fmt.Printf("%-15s %s\n", addr, state)
			}
			return nil
		},
	}
}
