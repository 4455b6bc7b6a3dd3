package model

import (
	"sort"
	"strings"
	"time"
)

// Discovery source tags. A merged device carries the union of the tags that
// contributed to it, joined with "+" (e.g. "active-scan+http").
const (
	SourceLLDP = "lldp"
	SourceScan = "active-scan"
	SourceHTTP = "http"
	SourceSNMP = "snmp"
)

// VendorTier ranks how a vendor/model classification was obtained. Higher
// tiers win when candidates for the same device are merged.
type VendorTier int

const (
	TierUnknown VendorTier = iota
	TierSNMP               // SNMP sysDescr match
	TierHTTP               // HTTP signature match
	TierLLDP               // link-layer system description match
)

func (t VendorTier) String() string {
	switch t {
	case TierLLDP:
		return "lldp"
	case TierHTTP:
		return "http"
	case TierSNMP:
		return "snmp"
	default:
		return "unknown"
	}
}

// DiscoveredDevice is one endpoint found on the network. Instances are
// ephemeral per discovery run; the storage layer keeps only the latest
// snapshot for the API to serve between runs.
type DiscoveredDevice struct {
	IP           string     `json:"ip"`
	MAC          string     `json:"mac,omitempty"`
	Hostname     string     `json:"hostname,omitempty"`
	Vendor       string     `json:"vendor,omitempty"`
	Model        string     `json:"model,omitempty"`
	VendorTier   VendorTier `json:"-"`
	PortID       string     `json:"port_id,omitempty"`
	VLAN         string     `json:"vlan,omitempty"`
	Capabilities []string   `json:"capabilities,omitempty"`
	OpenPorts    []int      `json:"open_ports,omitempty"`
	Source       string     `json:"source"`
	LastSeen     time.Time  `json:"last_seen"`
	Online       bool       `json:"online"`

	// Registered and Extension come from the PBX engine's registration
	// table. Kept separate from Online; the two signals are independent.
	Registered bool   `json:"registered"`
	Extension  string `json:"extension,omitempty"`
}

// Key returns the merge key for this device: the normalized MAC when known,
// otherwise the IP address.
func (d *DiscoveredDevice) Key() string {
	if mac := NormalizeMAC(d.MAC); mac != "" {
		return mac
	}
	return d.IP
}

// NormalizeMAC lowercases a hardware address and rewrites dash or dot
// separated forms to colon-separated. Returns "" if the input does not look
// like a 6-byte MAC.
func NormalizeMAC(mac string) string {
	s := strings.ToLower(strings.TrimSpace(mac))
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "-", ":")
	if !strings.Contains(s, ":") {
		// Cisco dotted (0123.4567.89ab) or bare hex form
		s = strings.ReplaceAll(s, ".", "")
		if len(s) != 12 {
			return ""
		}
		var parts []string
		for i := 0; i < 12; i += 2 {
			parts = append(parts, s[i:i+2])
		}
		return strings.Join(parts, ":")
	}
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return ""
	}
	for i, p := range parts {
		if len(p) == 1 {
			parts[i] = "0" + p
		}
		if len(parts[i]) != 2 {
			return ""
		}
	}
	return strings.Join(parts, ":")
}

// MergeSources unions two "+"-joined source tags into one, ordered
// lldp, active-scan, http, snmp.
func MergeSources(a, b string) string {
	rank := map[string]int{SourceLLDP: 0, SourceScan: 1, SourceHTTP: 2, SourceSNMP: 3}
	seen := map[string]bool{}
	var out []string
	for _, tag := range strings.Split(a+"+"+b, "+") {
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	sort.Slice(out, func(i, j int) bool { return rank[out[i]] < rank[out[j]] })
	return strings.Join(out, "+")
}

// RegisteredEndpoint is one row of the PBX engine's registration table,
// consumed read-only to cross-check discovered devices.
type RegisteredEndpoint struct {
	Extension string `json:"extension"`
	IP        string `json:"ip"`
	UserAgent string `json:"user_agent"`
}
