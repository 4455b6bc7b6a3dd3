package discovery

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/martinsuchenak/phoned/internal/log"
	"github.com/martinsuchenak/phoned/internal/model"
)

// Source interfaces, satisfied by the concrete discoverers and by fakes in
// tests.
type (
	lldpSource interface {
		Discover(ctx context.Context) ([]model.DiscoveredDevice, error)
	}
	scanSource interface {
		Scan(ctx context.Context, cidr string) ([]model.DiscoveredDevice, error)
	}
	reachabilitySource interface {
		CheckBatch(ctx context.Context, ips []string) map[string]bool
	}
	snmpSource interface {
		SysInfo(ctx context.Context, ip string) (sysDescr, sysName string, err error)
	}
)

// SnapshotStore persists the latest merged device list between runs.
type SnapshotStore interface {
	SaveDiscoveredDevices(devices []model.DiscoveredDevice) error
}

// RegistrationSource supplies the PBX engine's current SIP registrations,
// consumed read-only for cross-checking.
type RegistrationSource func(ctx context.Context) ([]model.RegisteredEndpoint, error)

// Result is the outcome of one discovery run. Source failures are reported
// per source so one degraded backend never hides the others' findings.
type Result struct {
	Devices      []model.DiscoveredDevice `json:"devices"`
	SourceErrors map[string]string        `json:"source_errors,omitempty"`
	TimedOut     bool                     `json:"timed_out"`
}

// Coordinator fans discovery out to the independent sources and reduces the
// raw candidates into one canonical device list.
type Coordinator struct {
	LLDP          lldpSource
	Scanner       scanSource
	Pinger        reachabilitySource
	SNMP          snmpSource         // optional
	Registrations RegistrationSource // optional
	Store         SnapshotStore      // optional
	MaxConcurrent int
}

// Discover runs all configured sources against the range and merges their
// results. The fan-out has no shared mutable state; the merge afterwards is
// the single synchronization point.
func (c *Coordinator) Discover(ctx context.Context, cidr string) (*Result, error) {
	if cidr != "" {
		if err := ValidateCIDR(cidr); err != nil {
			return nil, err
		}
	}

	result := &Result{SourceErrors: map[string]string{}}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		raw      []model.DiscoveredDevice
		timedOut bool
	)
	collect := func(name string, devices []model.DiscoveredDevice, err error) {
		mu.Lock()
		defer mu.Unlock()
		raw = append(raw, devices...)
		if err != nil {
			result.SourceErrors[name] = err.Error()
			if errors.Is(err, model.ErrTimeout) {
				timedOut = true
			}
		}
	}

	if c.LLDP != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			devices, err := c.LLDP.Discover(ctx)
			collect("lldp", devices, err)
		}()
	}
	if c.Scanner != nil && cidr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			devices, err := c.Scanner.Scan(ctx, cidr)
			collect("active-scan", devices, err)
		}()
	}
	wg.Wait()
	result.TimedOut = timedOut

	devices := mergeCandidates(raw)
	devices = filterRange(devices, cidr)
	c.enrichSNMP(ctx, devices)
	c.markOnline(ctx, devices)
	c.markRegistered(ctx, devices)

	sort.Slice(devices, func(i, j int) bool {
		return bytes.Compare(net.ParseIP(devices[i].IP), net.ParseIP(devices[j].IP)) < 0
	})
	result.Devices = devices

	if c.Store != nil {
		if err := c.Store.SaveDiscoveredDevices(devices); err != nil {
			log.Warn("Failed to persist discovery snapshot", "error", err)
		}
	}

	log.Info("Discovery run complete", "range", cidr, "raw", len(raw),
		"devices", len(devices), "source_errors", len(result.SourceErrors))
	return result, nil
}

// mergeCandidates groups raw entries by normalized MAC when present, else by
// IP, and reduces each group to one device. An IP-only entry joins a MAC
// group whose member saw the same IP.
func mergeCandidates(raw []model.DiscoveredDevice) []model.DiscoveredDevice {
	groups := map[string][]model.DiscoveredDevice{}
	ipToKey := map[string]string{}
	var order []string

	add := func(key string, d model.DiscoveredDevice) {
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], d)
	}

	// MAC-keyed entries first so IP-only entries can find their group.
	for _, d := range raw {
		if mac := model.NormalizeMAC(d.MAC); mac != "" {
			add(mac, d)
			if d.IP != "" {
				ipToKey[d.IP] = mac
			}
		}
	}
	for _, d := range raw {
		if model.NormalizeMAC(d.MAC) != "" {
			continue
		}
		if d.IP == "" {
			continue
		}
		key, ok := ipToKey[d.IP]
		if !ok {
			key = d.IP
		}
		add(key, d)
	}

	merged := make([]model.DiscoveredDevice, 0, len(order))
	for _, key := range order {
		merged = append(merged, reduceGroup(groups[key]))
	}
	return merged
}

// reduceGroup folds one group into a single device: vendor/model come from
// the highest-ranked source, scalar fields from the first entry (in tier
// order) that has them, tags and ports are unioned, and the most recent
// last-seen timestamp wins.
func reduceGroup(group []model.DiscoveredDevice) model.DiscoveredDevice {
	sort.SliceStable(group, func(i, j int) bool {
		return group[i].VendorTier > group[j].VendorTier
	})

	out := group[0]
	out.MAC = model.NormalizeMAC(out.MAC)
	for _, d := range group[1:] {
		if out.IP == "" {
			out.IP = d.IP
		}
		if out.MAC == "" {
			out.MAC = model.NormalizeMAC(d.MAC)
		}
		if out.Hostname == "" {
			out.Hostname = d.Hostname
		}
		if out.Vendor == "" && d.Vendor != "" {
			out.Vendor = d.Vendor
			out.Model = d.Model
			out.VendorTier = d.VendorTier
		}
		if out.PortID == "" {
			out.PortID = d.PortID
		}
		if out.VLAN == "" {
			out.VLAN = d.VLAN
		}
		out.Capabilities = unionStrings(out.Capabilities, d.Capabilities)
		out.OpenPorts = unionInts(out.OpenPorts, d.OpenPorts)
		out.Source = model.MergeSources(out.Source, d.Source)
		if d.LastSeen.After(out.LastSeen) {
			out.LastSeen = d.LastSeen
		}
	}
	return out
}

// filterRange keeps only devices whose IP falls inside the requested range.
// With no range, everything passes.
func filterRange(devices []model.DiscoveredDevice, cidr string) []model.DiscoveredDevice {
	if cidr == "" {
		return devices
	}
	_, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return devices
	}
	out := devices[:0]
	for _, d := range devices {
		ip := net.ParseIP(d.IP)
		if ip != nil && ipNet.Contains(ip) {
			out = append(out, d)
		}
	}
	return out
}

// enrichSNMP asks still-unclassified devices for their SNMP system identity
// under a bounded worker pool. Failures leave the device unclassified.
func (c *Coordinator) enrichSNMP(ctx context.Context, devices []model.DiscoveredDevice) {
	if c.SNMP == nil {
		return
	}

	maxConcurrent := c.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 16
	}
	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup

	for i := range devices {
		if devices[i].Vendor != "" || devices[i].IP == "" {
			continue
		}
		wg.Add(1)
		go func(d *model.DiscoveredDevice) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			sysDescr, sysName, err := c.SNMP.SysInfo(ctx, d.IP)
			if err != nil {
				return
			}
			if vendor, phoneModel, ok := MatchSignature(sysDescr); ok {
				d.Vendor = vendor
				d.Model = phoneModel
				d.VendorTier = model.TierSNMP
				d.Source = model.MergeSources(d.Source, model.SourceSNMP)
			}
			if d.Hostname == "" {
				d.Hostname = sysName
			}
		}(&devices[i])
	}
	wg.Wait()
}

func (c *Coordinator) markOnline(ctx context.Context, devices []model.DiscoveredDevice) {
	if c.Pinger == nil {
		return
	}
	var ips []string
	for _, d := range devices {
		if d.IP != "" {
			ips = append(ips, d.IP)
		}
	}
	online := c.Pinger.CheckBatch(ctx, ips)
	now := time.Now()
	for i := range devices {
		if online[devices[i].IP] {
			devices[i].Online = true
			devices[i].LastSeen = now
		}
	}
}

func (c *Coordinator) markRegistered(ctx context.Context, devices []model.DiscoveredDevice) {
	if c.Registrations == nil {
		return
	}
	endpoints, err := c.Registrations(ctx)
	if err != nil {
		log.Warn("Registration cross-check unavailable", "error", err)
		return
	}
	byIP := map[string]model.RegisteredEndpoint{}
	for _, ep := range endpoints {
		byIP[ep.IP] = ep
	}
	for i := range devices {
		if ep, ok := byIP[devices[i].IP]; ok {
			devices[i].Registered = true
			devices[i].Extension = ep.Extension
		}
	}
}

func unionStrings(a, b []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range append(a, b...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func unionInts(a, b []int) []int {
	seen := map[int]bool{}
	var out []int
	for _, n := range append(a, b...) {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}
