// SPDX-License-Identifier: MIT
package announce

import (
	"context"
	"fmt"
	"net"

	applog "bandcast/internal/log"

	"github.com/hashicorp/mdns"
)

// MDNSAnnouncer advertises the server as an mDNS service.
type MDNSAnnouncer struct {
	service string
	a       Announcement
	log     *applog.Logger
}

// NewMDNSAnnouncer advertises a under service, e.g. "_bandcast._tcp".
func NewMDNSAnnouncer(service string, a Announcement) *MDNSAnnouncer {
	return &MDNSAnnouncer{service: service, a: a, log: applog.New("MDNSAnnouncer")}
}

func (m *MDNSAnnouncer) zone() (*mdns.MDNSService, error) {
	ips, err := localIPs()
	if err != nil {
		return nil, fmt.Errorf("failed to get local IPs: %w", err)
	}
	service, err := mdns.NewMDNSService(m.a.Name, m.service, "", "", m.a.Port, ips, m.a.TXT())
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	return service, nil
}

// Run advertises until ctx is done.
func (m *MDNSAnnouncer) Run(ctx context.Context) error {
	zone, err := m.zone()
	if err != nil {
		return err
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: zone})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}
	m.log.Infof("advertising %s as %s on port %d", m.a.Name, m.service, m.a.Port)

	<-ctx.Done()
	return server.Shutdown()
}

// localIPs returns the machine's non-loopback IPv4 addresses, or the
// loopback address when there are none.
func localIPs() ([]net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var ips []net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
				ips = append(ips, ipnet.IP)
			}
		}
	}
	if len(ips) == 0 {
		ips = append(ips, net.IPv4(127, 0, 0, 1))
	}
	return ips, nil
}
