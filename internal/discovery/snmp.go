package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/martinsuchenak/phoned/internal/model"
)

const (
	oidSysDescr = ".1.3.6.1.2.1.1.1.0"
	oidSysName  = ".1.3.6.1.2.1.1.5.0"
)

// SNMPProber reads system identity over SNMP for candidates that LLDP and
// HTTP signatures could not classify. Many desk phones ship with a read-only
// "public" community enabled.
type SNMPProber struct {
	Community string
	Timeout   time.Duration
}

// NewSNMPProber creates a prober with the given v2c community.
func NewSNMPProber(community string, timeout time.Duration) *SNMPProber {
	return &SNMPProber{Community: community, Timeout: timeout}
}

// SysInfo fetches sysDescr and sysName from a host.
func (p *SNMPProber) SysInfo(ctx context.Context, ip string) (sysDescr, sysName string, err error) {
	timeout := p.Timeout
	if d, ok := ctx.Deadline(); ok {
		if remaining := time.Until(d); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return "", "", fmt.Errorf("snmp probe of %s: %w", ip, model.ErrTimeout)
	}

	client := &gosnmp.GoSNMP{
		Target:    ip,
		Port:      161,
		Community: p.Community,
		Version:   gosnmp.Version2c,
		Timeout:   timeout,
		Retries:   1,
	}
	if err := client.Connect(); err != nil {
		return "", "", fmt.Errorf("snmp connect to %s: %v: %w", ip, err, model.ErrDeviceUnreachable)
	}
	defer client.Conn.Close()

	result, err := client.Get([]string{oidSysDescr, oidSysName})
	if err != nil {
		return "", "", fmt.Errorf("snmp get from %s: %v: %w", ip, err, model.ErrDeviceUnreachable)
	}

	for _, v := range result.Variables {
		if v.Type != gosnmp.OctetString {
			continue
		}
		b, ok := v.Value.([]byte)
		if !ok {
			continue
		}
		switch v.Name {
		case oidSysDescr:
			sysDescr = string(b)
		case oidSysName:
			sysName = string(b)
		}
	}
	return sysDescr, sysName, nil
}
