package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/martinsuchenak/phoned/internal/log"
	"github.com/martinsuchenak/phoned/internal/model"
)

// voipPorts is the fixed set probed during an active scan: web management
// (80, 443, 8080) and SIP signaling (5060, 5061).
var voipPorts = []int{80, 443, 8080, 5060, 5061}

// cidrRe accepts only plain IPv4 CIDR syntax. The range string is handed to
// a subprocess, so anything that could be read as an extra argument or flag
// must be rejected before the command line is built.
var cidrRe = regexp.MustCompile(`^([0-9]{1,3}\.){3}[0-9]{1,3}/[0-9]{1,2}$`)

// ValidateCIDR checks that a scan range is strict IPv4 CIDR notation.
func ValidateCIDR(cidr string) error {
	if !cidrRe.MatchString(cidr) {
		return fmt.Errorf("range %q is not IPv4 CIDR notation: %w", cidr, model.ErrInvalidInput)
	}
	ip, _, err := net.ParseCIDR(cidr)
	if err != nil || ip.To4() == nil {
		return fmt.Errorf("range %q: %w", cidr, model.ErrInvalidInput)
	}
	return nil
}

// NetworkScanner actively probes an address range for VoIP-related open
// ports using nmap's greppable output, then enriches hits with an HTTP
// signature probe.
type NetworkScanner struct {
	NmapPath      string
	Ports         []int
	Deadline      time.Duration // overall scan budget
	HTTPTimeout   time.Duration // per-host signature probe
	MaxConcurrent int           // bound on concurrent HTTP probes

	client *http.Client
	run    func(ctx context.Context, name string, args ...string) (stdout []byte, err error)
}

// NewNetworkScanner creates a scanner with the standard VoIP port set.
func NewNetworkScanner(nmapPath string, deadline, httpTimeout time.Duration) *NetworkScanner {
	s := &NetworkScanner{
		NmapPath:      nmapPath,
		Ports:         voipPorts,
		Deadline:      deadline,
		HTTPTimeout:   httpTimeout,
		MaxConcurrent: 16,
		client:        &http.Client{Timeout: httpTimeout},
	}
	s.run = s.runNmap
	return s
}

// Scan probes the range and returns candidate devices. When the overall
// deadline expires mid-scan, whatever was gathered so far is returned along
// with an error wrapping ErrTimeout; callers get partial results, not a
// hard failure.
func (s *NetworkScanner) Scan(ctx context.Context, cidr string) ([]model.DiscoveredDevice, error) {
	if err := ValidateCIDR(cidr); err != nil {
		return nil, err
	}

	if s.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Deadline)
		defer cancel()
	}

	portList := make([]string, len(s.Ports))
	for i, p := range s.Ports {
		portList[i] = strconv.Itoa(p)
	}

	out, runErr := s.run(ctx, s.NmapPath, "-p", strings.Join(portList, ","), "-oG", "-", "--open", cidr)
	hosts := parseGreppable(string(out))

	var scanErr error
	switch {
	case runErr == nil:
	case errors.Is(runErr, exec.ErrNotFound):
		return nil, fmt.Errorf("nmap not installed: %w", model.ErrToolUnavailable)
	case ctx.Err() != nil:
		// Deadline hit; keep whatever output was produced before the kill.
		scanErr = fmt.Errorf("scan of %s exceeded deadline: %w", cidr, model.ErrTimeout)
	default:
		if len(hosts) == 0 {
			return nil, fmt.Errorf("nmap failed: %v: %w", runErr, model.ErrToolFailure)
		}
		scanErr = fmt.Errorf("nmap exited early: %v: %w", runErr, model.ErrToolFailure)
	}

	devices := s.enrich(ctx, hosts)
	return devices, scanErr
}

func (s *NetworkScanner) runNmap(ctx context.Context, name string, args ...string) ([]byte, error) {
	var buf bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &buf
	err := cmd.Run()
	return buf.Bytes(), err
}

// scanHost is one parsed line of greppable output.
type scanHost struct {
	IP       string
	Hostname string
	Ports    []int
}

// parseGreppable extracts (host, open ports) pairs from nmap -oG output.
// Lines look like:
//
//	Host: 192.168.1.100 (phone.lan)  Ports: 80/open/tcp//http///, 5060/open/tcp//sip///
func parseGreppable(out string) []scanHost {
	var hosts []scanHost
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Host:") || !strings.Contains(line, "Ports:") {
			continue
		}

		fields := strings.Fields(strings.TrimPrefix(line, "Host:"))
		if len(fields) == 0 {
			continue
		}
		h := scanHost{IP: fields[0]}
		if len(fields) > 1 && strings.HasPrefix(fields[1], "(") {
			h.Hostname = strings.Trim(fields[1], "()")
		}

		idx := strings.Index(line, "Ports:")
		for _, entry := range strings.Split(line[idx+len("Ports:"):], ",") {
			entry = strings.TrimSpace(entry)
			parts := strings.Split(entry, "/")
			if len(parts) < 3 || parts[1] != "open" {
				continue
			}
			port, err := strconv.Atoi(parts[0])
			if err != nil {
				continue
			}
			h.Ports = append(h.Ports, port)
		}
		if len(h.Ports) > 0 {
			sort.Ints(h.Ports)
			hosts = append(hosts, h)
		}
	}
	return hosts
}

// enrich issues bounded-concurrency HTTP probes against hosts with an open
// web port and attaches vendor signatures. A failed probe leaves the host as
// a plain active-scan candidate.
func (s *NetworkScanner) enrich(ctx context.Context, hosts []scanHost) []model.DiscoveredDevice {
	devices := make([]model.DiscoveredDevice, len(hosts))

	maxConcurrent := s.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 16
	}
	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup

	for i, h := range hosts {
		devices[i] = model.DiscoveredDevice{
			IP:        h.IP,
			Hostname:  h.Hostname,
			OpenPorts: h.Ports,
			Source:    model.SourceScan,
			LastSeen:  time.Now(),
		}

		if !hasWebPort(h.Ports) {
			continue
		}

		wg.Add(1)
		go func(i int, ip string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			sig := s.probeHTTP(ctx, ip)
			if sig == "" {
				return
			}
			vendor, phoneModel, ok := MatchSignature(sig)
			if !ok {
				return
			}
			devices[i].Vendor = vendor
			devices[i].Model = phoneModel
			devices[i].VendorTier = model.TierHTTP
			devices[i].Source = model.SourceScan + "+" + model.SourceHTTP
		}(i, h.IP)
	}

	wg.Wait()
	return devices
}

func hasWebPort(ports []int) bool {
	for _, p := range ports {
		if p == 80 || p == 443 || p == 8080 {
			return true
		}
	}
	return false
}

// probeHTTP fetches the device's root page and returns the Server header
// plus a bounded slice of the body for signature matching.
func (s *NetworkScanner) probeHTTP(ctx context.Context, ip string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+ip+"/", nil)
	if err != nil {
		return ""
	}
	resp, err := s.client.Do(req)
	if err != nil {
		log.Debug("HTTP signature probe failed", "ip", ip, "error", err)
		return ""
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return resp.Header.Get("Server") + "\n" + string(body)
}
