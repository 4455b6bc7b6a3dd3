package discovery

import (
	"encoding/binary"
	"fmt"
	"net"
)

// LLDP TLV types (IEEE 802.1AB).
const (
	tlvEnd        = 0
	tlvChassisID  = 1
	tlvPortID     = 2
	tlvTTL        = 3
	tlvPortDesc   = 4
	tlvSystemName = 5
	tlvSystemDesc = 6
	tlvSysCaps    = 7
	tlvMgmtAddr   = 8
	tlvOrgSpec    = 127
)

// System capability bits from the capability bitmap TLV.
const (
	capBridge    = 0x0004
	capWLAN      = 0x0008
	capRouter    = 0x0010
	capTelephone = 0x0020
	capStation   = 0x0080
)

// neighbor holds the fields extracted from one LLDP advertisement.
type neighbor struct {
	ChassisMAC   string
	PortID       string
	SystemName   string
	SystemDesc   string
	MgmtIP       string
	VLAN         string
	Capabilities []string
	Telephone    bool
}

// parseLLDPFrame walks the TLV sequence of an LLDPDU payload. A malformed or
// truncated record is skipped without aborting the rest of the frame; the
// parse gives up only when the remaining bytes cannot hold another header.
// Returns false when nothing identifying was extracted.
func parseLLDPFrame(b []byte) (*neighbor, bool) {
	n := &neighbor{}
	for len(b) >= 2 {
		h := binary.BigEndian.Uint16(b[:2])
		t := uint8(h >> 9)
		l := int(h & 0x1ff)
		if t == tlvEnd {
			break
		}
		if len(b) < 2+l {
			// Truncated record; nothing after it can be framed either.
			break
		}
		val := b[2 : 2+l]

		switch t {
		case tlvChassisID:
			if len(val) > 1 && val[0] == 4 && len(val[1:]) == 6 {
				// Subtype 4: MAC address
				n.ChassisMAC = net.HardwareAddr(val[1:]).String()
			}
		case tlvPortID:
			if len(val) > 1 {
				if val[0] == 3 && len(val[1:]) == 6 {
					n.PortID = net.HardwareAddr(val[1:]).String()
				} else {
					n.PortID = string(val[1:])
				}
			}
		case tlvSystemName:
			n.SystemName = string(val)
		case tlvSystemDesc:
			n.SystemDesc = string(val)
		case tlvSysCaps:
			if len(val) >= 4 {
				enabled := binary.BigEndian.Uint16(val[2:4])
				n.Capabilities = capabilityTags(enabled)
				n.Telephone = enabled&capTelephone != 0
			}
		case tlvMgmtAddr:
			if ip := parseMgmtAddr(val); ip != "" {
				n.MgmtIP = ip
			}
		case tlvOrgSpec:
			// IEEE 802.1 OUI 00-80-c2 subtype 1 carries the port VLAN id.
			if len(val) >= 6 && val[0] == 0x00 && val[1] == 0x80 && val[2] == 0xc2 && val[3] == 1 {
				n.VLAN = fmt.Sprintf("%d", binary.BigEndian.Uint16(val[4:6]))
			}
		}

		b = b[2+l:]
	}
	return n, n.ChassisMAC != "" || n.SystemName != "" || n.SystemDesc != "" || n.MgmtIP != ""
}

// parseMgmtAddr extracts an IPv4 management address from the TLV value:
// 1 byte address length, 1 byte subtype (1 = IPv4), then the address.
func parseMgmtAddr(val []byte) string {
	if len(val) < 2 {
		return ""
	}
	addrLen := int(val[0])
	if addrLen < 2 || len(val) < 1+addrLen {
		return ""
	}
	if val[1] != 1 || addrLen-1 != 4 {
		return ""
	}
	return net.IP(val[2 : 2+4]).String()
}

func capabilityTags(bits uint16) []string {
	var tags []string
	if bits&capBridge != 0 {
		tags = append(tags, "bridge")
	}
	if bits&capWLAN != 0 {
		tags = append(tags, "wlan-ap")
	}
	if bits&capRouter != 0 {
		tags = append(tags, "router")
	}
	if bits&capTelephone != 0 {
		tags = append(tags, "telephone")
	}
	if bits&capStation != 0 {
		tags = append(tags, "station")
	}
	return tags
}
