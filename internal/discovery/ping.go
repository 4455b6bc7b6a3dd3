package discovery

import (
	"context"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// Pinger performs ICMP reachability checks
type Pinger struct {
	timeout       time.Duration
	privileged    bool
	maxConcurrent int
}

// NewPinger creates a reachability checker. Privileged mode uses a raw ICMP
// socket; without it the kernel's unprivileged ICMP datagram sockets are
// used, which require net.ipv4.ping_group_range to cover the process.
func NewPinger(timeout time.Duration, privileged bool, maxConcurrent int) *Pinger {
	if maxConcurrent <= 0 {
		maxConcurrent = 32
	}
	return &Pinger{
		timeout:       timeout,
		privileged:    privileged,
		maxConcurrent: maxConcurrent,
	}
}

// Ping checks if a host answers an ICMP echo within the timeout.
func (p *Pinger) Ping(ctx context.Context, ip string) bool {
	message := icmp.Message{
		Type: ipv4.ICMPTypeEcho, Code: 0,
		Body: &icmp.Echo{
			ID:   os.Getpid() & 0xffff,
			Seq:  1,
			Data: []byte("phoned-ping"),
		},
	}

	data, err := message.Marshal(nil)
	if err != nil {
		return false
	}

	network, listen := "udp4", "0.0.0.0"
	if p.privileged {
		network = "ip4:icmp"
	}
	conn, err := icmp.ListenPacket(network, listen)
	if err != nil {
		return false
	}
	defer conn.Close()

	deadline := time.Now().Add(p.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return false
	}

	var dst net.Addr = &net.IPAddr{IP: net.ParseIP(ip)}
	if !p.privileged {
		dst = &net.UDPAddr{IP: net.ParseIP(ip)}
	}
	if _, err := conn.WriteTo(data, dst); err != nil {
		return false
	}

	reply := make([]byte, 1500)
	n, _, err := conn.ReadFrom(reply)
	if err != nil {
		return false
	}

	rm, err := icmp.ParseMessage(1, reply[:n])
	if err != nil {
		return false
	}
	return rm.Type == ipv4.ICMPTypeEchoReply
}

// CheckBatch pings multiple hosts under a bounded worker pool and returns an
// address to online map. One host timing out only marks that host offline;
// the batch always completes.
func (p *Pinger) CheckBatch(ctx context.Context, ips []string) map[string]bool {
	results := make(map[string]bool, len(ips))
	sem := make(chan struct{}, p.maxConcurrent)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, ip := range ips {
		wg.Add(1)
		go func(ip string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			alive := false
			if ctx.Err() == nil {
				alive = p.Ping(ctx, ip)
			}
			mu.Lock()
			results[ip] = alive
			mu.Unlock()
		}(ip)
	}

	wg.Wait()
	return results
}
