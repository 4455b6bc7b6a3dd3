package discovery

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/martinsuchenak/phoned/internal/log"
	"github.com/martinsuchenak/phoned/internal/model"
)

// lldpEthertype identifies LLDP frames on the wire.
const lldpEthertype = layers.EthernetType(0x88cc)

// defaultCaptureWindow is slightly above the 30s advertisement interval most
// phones use, so one full cycle is always observed.
const defaultCaptureWindow = 35 * time.Second

// LLDPDiscoverer finds phones from link-layer advertisements, either by
// querying a running lldpd through lldpcli or by capturing raw LLDP frames
// on an interface.
type LLDPDiscoverer struct {
	Mode          string // "lldpcli" or "capture"
	Interface     string // capture interface, e.g. "eth0"
	LldpcliPath   string
	CaptureWindow time.Duration

	// run executes the neighbor query; swapped out in tests.
	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewLLDPDiscoverer creates a discoverer in the given mode.
func NewLLDPDiscoverer(mode, iface string) *LLDPDiscoverer {
	return &LLDPDiscoverer{
		Mode:          mode,
		Interface:     iface,
		LldpcliPath:   "lldpcli",
		CaptureWindow: defaultCaptureWindow,
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).Output()
		},
	}
}

// Discover returns candidate phone records from link-layer advertisements.
// Zero neighbors is not an error; an unusable backend returns an empty list
// together with ErrToolUnavailable so the coordinator can note the source as
// degraded without failing the whole run.
func (d *LLDPDiscoverer) Discover(ctx context.Context) ([]model.DiscoveredDevice, error) {
	switch d.Mode {
	case "capture":
		return d.discoverCapture(ctx)
	case "off":
		return nil, nil
	default:
		return d.discoverLldpcli(ctx)
	}
}

func (d *LLDPDiscoverer) discoverLldpcli(ctx context.Context) ([]model.DiscoveredDevice, error) {
	out, err := d.run(ctx, d.LldpcliPath, "show", "neighbors", "details", "-f", "keyvalue")
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("lldpcli not installed: %w", model.ErrToolUnavailable)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("lldpcli query: %w", model.ErrTimeout)
		}
		// lldpcli exits non-zero when lldpd is not running
		return nil, fmt.Errorf("lldpcli failed: %v: %w", err, model.ErrToolUnavailable)
	}

	neighbors := parseLldpcliKeyValue(string(out))
	var devices []model.DiscoveredDevice
	for _, n := range neighbors {
		if dev, ok := d.toDevice(n); ok {
			devices = append(devices, dev)
		}
	}
	return devices, nil
}

// parseLldpcliKeyValue parses "lldp.<iface>.<path>=<value>" lines into one
// neighbor per interface. Unknown keys and malformed lines are skipped.
func parseLldpcliKeyValue(out string) []*neighbor {
	byIface := map[string]*neighbor{}
	var order []string

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			continue
		}
		key, value := line[:eq], line[eq+1:]

		parts := strings.SplitN(key, ".", 3)
		if len(parts) != 3 || parts[0] != "lldp" {
			continue
		}
		iface, path := parts[1], parts[2]

		n, ok := byIface[iface]
		if !ok {
			n = &neighbor{}
			byIface[iface] = n
			order = append(order, iface)
		}

		switch path {
		case "chassis.mac":
			n.ChassisMAC = value
		case "chassis.name":
			n.SystemName = value
		case "chassis.descr":
			n.SystemDesc = value
		case "chassis.mgmt-ip":
			// lldpcli repeats the key for dual-stack chassis; keep the
			// first IPv4 value.
			if n.MgmtIP == "" && strings.Count(value, ".") == 3 {
				n.MgmtIP = value
			}
		case "chassis.Telephone.enabled":
			if value == "on" {
				n.Telephone = true
				n.Capabilities = append(n.Capabilities, "telephone")
			}
		case "chassis.Bridge.enabled":
			if value == "on" {
				n.Capabilities = append(n.Capabilities, "bridge")
			}
		case "chassis.Router.enabled":
			if value == "on" {
				n.Capabilities = append(n.Capabilities, "router")
			}
		case "port.ifname", "port.local":
			if n.PortID == "" {
				n.PortID = value
			}
		case "vlan.vlan-id":
			n.VLAN = value
		}
	}

	neighbors := make([]*neighbor, 0, len(order))
	for _, iface := range order {
		neighbors = append(neighbors, byIface[iface])
	}
	return neighbors
}

func (d *LLDPDiscoverer) discoverCapture(ctx context.Context) ([]model.DiscoveredDevice, error) {
	handle, err := pcap.OpenLive(d.Interface, 1600, true, pcap.BlockForever)
	if err != nil {
		return nil, fmt.Errorf("opening capture on %s: %v: %w", d.Interface, err, model.ErrToolUnavailable)
	}
	defer handle.Close()

	if err := handle.SetBPFFilter("ether proto 0x88cc"); err != nil {
		return nil, fmt.Errorf("setting LLDP filter: %v: %w", err, model.ErrToolFailure)
	}

	window := d.CaptureWindow
	if window <= 0 {
		window = defaultCaptureWindow
	}
	deadline := time.NewTimer(window)
	defer deadline.Stop()

	src := gopacket.NewPacketSource(handle, handle.LinkType())
	seen := map[string]bool{}
	var devices []model.DiscoveredDevice

	for {
		select {
		case <-ctx.Done():
			return devices, nil
		case <-deadline.C:
			return devices, nil
		case pkt, ok := <-src.Packets():
			if !ok {
				return devices, nil
			}
			ethLayer := pkt.Layer(layers.LayerTypeEthernet)
			if ethLayer == nil {
				continue
			}
			eth := ethLayer.(*layers.Ethernet)
			if eth.EthernetType != lldpEthertype {
				continue
			}
			n, ok := parseLLDPFrame(eth.Payload)
			if !ok {
				log.Debug("Skipping unparseable LLDP frame", "src", eth.SrcMAC.String())
				continue
			}
			if n.ChassisMAC == "" {
				n.ChassisMAC = eth.SrcMAC.String()
			}
			if seen[n.ChassisMAC] {
				continue
			}
			seen[n.ChassisMAC] = true
			if dev, ok := d.toDevice(n); ok {
				devices = append(devices, dev)
			}
		}
	}
}

// toDevice converts a parsed neighbor into a candidate record. Neighbors
// that neither advertise the telephone capability nor match a known phone
// vendor are dropped so switches and routers are not reported as phones.
func (d *LLDPDiscoverer) toDevice(n *neighbor) (model.DiscoveredDevice, bool) {
	vendor, phoneModel, _ := MatchSignature(n.SystemDesc)
	if !n.Telephone && vendor == "" {
		return model.DiscoveredDevice{}, false
	}

	tier := model.TierUnknown
	if vendor != "" {
		tier = model.TierLLDP
	}
	return model.DiscoveredDevice{
		IP:           n.MgmtIP,
		MAC:          model.NormalizeMAC(n.ChassisMAC),
		Hostname:     n.SystemName,
		Vendor:       vendor,
		Model:        phoneModel,
		VendorTier:   tier,
		PortID:       n.PortID,
		VLAN:         n.VLAN,
		Capabilities: n.Capabilities,
		Source:       model.SourceLLDP,
		LastSeen:     time.Now(),
	}, true
}
