package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	DataDir     string
	ListenAddr  string
	BearerToken string
	ConfigFile  string // Path to .env file (if loaded)

	// Discovery
	DiscoveryEnabled       bool
	DiscoveryCIDR          string        // default network range scanned by the periodic sweep
	DiscoveryInterval      time.Duration // interval between periodic sweeps
	DiscoveryMaxConcurrent int           // bounded fan-out for probes
	ScanDeadline           time.Duration // overall deadline for one active scan
	HTTPProbeTimeout       time.Duration // per-host HTTP signature probe
	NmapPath               string
	LLDPMode               string // "lldpcli", "capture" or "off"
	LLDPInterface          string // capture interface when LLDPMode is "capture"
	PingPrivileged         bool
	PingTimeout            time.Duration
	SNMPEnabled            bool
	SNMPCommunity          string

	// Phone sessions
	SessionLifetime time.Duration // client-side expiry margin per session
	PurgeInterval   time.Duration // session store sweep interval

	// ACS
	InformFreshness time.Duration // max age of the last inform for enqueue to succeed
}

// Load loads configuration with the following priority (highest to lowest):
// 1. Command-line parameters (passed as opts)
// 2. .env file (if exists)
// 3. Environment variables
// 4. Default values
func Load(opts *Config) *Config {
	cfg := defaults()

	envFile := ".env"
	if _, err := os.Stat(envFile); err == nil {
		if err := loadFromEnvFile(cfg, envFile); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to load .env file: %v\n", err)
		} else {
			cfg.ConfigFile = envFile
		}
	}

	applyEnv(cfg)

	if opts != nil {
		if opts.DataDir != "" {
			cfg.DataDir = opts.DataDir
		}
		if opts.ListenAddr != "" {
			cfg.ListenAddr = opts.ListenAddr
		}
		if opts.BearerToken != "" {
			cfg.BearerToken = opts.BearerToken
		}
		if opts.DiscoveryCIDR != "" {
			cfg.DiscoveryCIDR = opts.DiscoveryCIDR
		}
		if opts.NmapPath != "" {
			cfg.NmapPath = opts.NmapPath
		}
		if opts.LLDPMode != "" {
			cfg.LLDPMode = opts.LLDPMode
		}
		if opts.LLDPInterface != "" {
			cfg.LLDPInterface = opts.LLDPInterface
		}
	}

	if cfg.LLDPMode != "lldpcli" && cfg.LLDPMode != "capture" && cfg.LLDPMode != "off" {
		cfg.LLDPMode = "lldpcli"
	}
	if cfg.DiscoveryMaxConcurrent <= 0 {
		cfg.DiscoveryMaxConcurrent = 32
	}

	return cfg
}

func defaults() *Config {
	return &Config{
		DataDir:                "./data",
		ListenAddr:             ":8088",
		DiscoveryEnabled:       true,
		DiscoveryInterval:      15 * time.Minute,
		DiscoveryMaxConcurrent: 32,
		ScanDeadline:           120 * time.Second,
		HTTPProbeTimeout:       3 * time.Second,
		NmapPath:               "nmap",
		LLDPMode:               "lldpcli",
		PingPrivileged:         true,
		PingTimeout:            2 * time.Second,
		SNMPEnabled:            false,
		SNMPCommunity:          "public",
		SessionLifetime:        4 * time.Minute,
		PurgeInterval:          time.Minute,
		InformFreshness:        15 * time.Minute,
	}
}

func applyEnv(cfg *Config) {
	setString(&cfg.DataDir, "PHONED_DATA_DIR")
	setString(&cfg.ListenAddr, "PHONED_LISTEN_ADDR")
	setString(&cfg.BearerToken, "PHONED_BEARER_TOKEN")
	setBool(&cfg.DiscoveryEnabled, "PHONED_DISCOVERY_ENABLED")
	setString(&cfg.DiscoveryCIDR, "PHONED_DISCOVERY_CIDR")
	setDuration(&cfg.DiscoveryInterval, "PHONED_DISCOVERY_INTERVAL")
	setInt(&cfg.DiscoveryMaxConcurrent, "PHONED_DISCOVERY_MAX_CONCURRENT")
	setDuration(&cfg.ScanDeadline, "PHONED_SCAN_DEADLINE")
	setDuration(&cfg.HTTPProbeTimeout, "PHONED_HTTP_PROBE_TIMEOUT")
	setString(&cfg.NmapPath, "PHONED_NMAP_PATH")
	setString(&cfg.LLDPMode, "PHONED_LLDP_MODE")
	setString(&cfg.LLDPInterface, "PHONED_LLDP_INTERFACE")
	setBool(&cfg.PingPrivileged, "PHONED_PING_PRIVILEGED")
	setDuration(&cfg.PingTimeout, "PHONED_PING_TIMEOUT")
	setBool(&cfg.SNMPEnabled, "PHONED_SNMP_ENABLED")
	setString(&cfg.SNMPCommunity, "PHONED_SNMP_COMMUNITY")
	setDuration(&cfg.SessionLifetime, "PHONED_SESSION_LIFETIME")
	setDuration(&cfg.PurgeInterval, "PHONED_PURGE_INTERVAL")
	setDuration(&cfg.InformFreshness, "PHONED_INFORM_FRESHNESS")
}

// loadFromEnvFile loads configuration from a .env file
func loadFromEnvFile(cfg *Config, filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), "\"")
		if strings.HasPrefix(key, "PHONED_") {
			os.Setenv(key, value)
		}
	}

	return scanner.Err()
}

// String returns a string representation of the config source
func (c *Config) String() string {
	if c.ConfigFile != "" {
		return fmt.Sprintf(".env file (%s)", c.ConfigFile)
	}
	return "environment variables"
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
