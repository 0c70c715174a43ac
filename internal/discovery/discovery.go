// Package discovery browses mDNS for an ELM327 Wi-Fi adapter, so the daemon
// doesn't need a hardcoded IP when one of these adapters advertises itself
// on the local network.
package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/LoveWonYoung/obdtelemetry/internal/logging"
)

// serviceType matches the mDNS service type ELM327 Wi-Fi adapters commonly
// advertise themselves under.
const serviceType = "_elm327._tcp"

// BrowseTimeout bounds how long FindAdapter waits for a response.
const BrowseTimeout = 5 * time.Second

// FindAdapter browses the local network for an ELM327 Wi-Fi adapter and
// returns its "host:port" address. If name is non-empty, only an instance
// whose advertised name contains it is accepted; otherwise the first
// instance found wins.
func FindAdapter(ctx context.Context, name string) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("discovery: new resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry, 4)
	browseCtx, cancel := context.WithTimeout(ctx, BrowseTimeout)
	defer cancel()

	if err := resolver.Browse(browseCtx, serviceType, "local.", entries); err != nil {
		return "", fmt.Errorf("discovery: browse: %w", err)
	}

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return "", fmt.Errorf("discovery: no ELM327 adapter found advertising %s", serviceType)
			}
			if name != "" && !strings.Contains(entry.Instance, name) {
				continue
			}
			addr, err := addrFromEntry(entry)
			if err != nil {
				logging.L().Warn("discovery_skip_entry", "instance", entry.Instance, "error", err)
				continue
			}
			return addr, nil
		case <-browseCtx.Done():
			return "", fmt.Errorf("discovery: timed out waiting for an ELM327 adapter")
		}
	}
}

func addrFromEntry(entry *zeroconf.ServiceEntry) (string, error) {
	var ip net.IP
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0]
	} else if len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0]
	} else {
		return "", fmt.Errorf("no address in mDNS entry for %s", entry.Instance)
	}
	return fmt.Sprintf("%s:%d", ip.String(), entry.Port), nil
}
