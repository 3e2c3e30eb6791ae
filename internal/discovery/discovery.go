/*
 * Copyright (c) 2026 PatientDB Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package discovery advertises a PatientDB server on the local network via
mDNS and lets clients find servers without configuration.

A running server announces itself under the service type
"_patientdb._tcp" with TXT records carrying the protocol version and
instance name. Clients call Browse to collect every announcement heard
within a timeout.

Discovery is advisory: the shell offers found servers as connection
candidates, but authentication and the secure channel stand on their
own regardless of how the address was obtained.
*/
package discovery

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"

	"patientdb/internal/logging"
)

// Service discovery constants.
const (
	// ServiceType is the mDNS service type for PatientDB servers.
	ServiceType = "_patientdb._tcp"

	// DefaultBrowseTimeout is the default timeout for Browse.
	DefaultBrowseTimeout = 3 * time.Second

	// ProtocolVersion is advertised in TXT records so clients can skip
	// servers speaking an incompatible protocol.
	ProtocolVersion = "1"
)

// DiscoveredServer describes a PatientDB server found on the network.
type DiscoveredServer struct {
	// Instance is the advertised instance name, usually the host name.
	Instance string

	// Addr is the host:port to dial.
	Addr string

	// Version is the advertised protocol version.
	Version string

	// DiscoveredAt is when the announcement was heard.
	DiscoveredAt time.Time
}

// Announcer advertises a PatientDB server over mDNS until stopped.
type Announcer struct {
	instance string
	port     int
	logger   *logging.Logger

	mu      sync.Mutex
	server  *mdns.Server
	running bool
}

// NewAnnouncer creates an announcer for the given listen port. The
// instance name defaults to the host name when empty.
func NewAnnouncer(instance string, port int) *Announcer {
	if instance == "" {
		if host, err := os.Hostname(); err == nil {
			instance = host
		} else {
			instance = "patientdb"
		}
	}
	return &Announcer{
		instance: instance,
		port:     port,
		logger:   logging.NewLogger("discovery"),
	}
}

// Start begins advertising. It is an error to start twice.
func (a *Announcer) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return fmt.Errorf("discovery already running")
	}

	txt := []string{
		"version=" + ProtocolVersion,
		"instance=" + a.instance,
	}

	ips := localIPs()

	service, err := mdns.NewMDNSService(
		a.instance, // Instance name
		ServiceType, // Service type
		"",          // Domain (empty = .local)
		"",          // Host name (empty = auto)
		a.port,      // Port
		ips,         // IPs to advertise
		txt,         // TXT records
	)
	if err != nil {
		return fmt.Errorf("failed to create mDNS service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mDNS server: %w", err)
	}
	a.server = server
	a.running = true

	a.logger.Info("announcing", "instance", a.instance, "port", a.port, "service", ServiceType)
	return nil
}

// Stop withdraws the advertisement.
func (a *Announcer) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return nil
	}
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
	a.running = false
	a.logger.Info("announcement withdrawn", "instance", a.instance)
	return nil
}

// IsRunning reports whether the announcer is advertising.
func (a *Announcer) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Browse collects PatientDB server announcements heard within timeout.
func Browse(timeout time.Duration) ([]*DiscoveredServer, error) {
	if timeout == 0 {
		timeout = DefaultBrowseTimeout
	}

	entriesCh := make(chan *mdns.ServiceEntry, 10)
	var servers []*DiscoveredServer
	var mu sync.Mutex

	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range entriesCh {
			if srv := parseServiceEntry(entry); srv != nil {
				mu.Lock()
				servers = append(servers, srv)
				mu.Unlock()
			}
		}
	}()

	params := &mdns.QueryParam{
		Service:             ServiceType,
		Domain:              "local",
		Timeout:             timeout,
		Entries:             entriesCh,
		WantUnicastResponse: true,
	}

	if err := mdns.Query(params); err != nil {
		close(entriesCh)
		<-done
		return nil, fmt.Errorf("mDNS query failed: %w", err)
	}

	close(entriesCh)
	<-done

	return servers, nil
}

// BrowseWithContext browses with context cancellation support.
func BrowseWithContext(ctx context.Context, timeout time.Duration) ([]*DiscoveredServer, error) {
	resultCh := make(chan []*DiscoveredServer, 1)
	errCh := make(chan error, 1)

	go func() {
		servers, err := Browse(timeout)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- servers
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-errCh:
		return nil, err
	case servers := <-resultCh:
		return servers, nil
	}
}

// parseServiceEntry converts an mDNS entry into a DiscoveredServer.
func parseServiceEntry(entry *mdns.ServiceEntry) *DiscoveredServer {
	if entry == nil {
		return nil
	}

	var ip string
	if entry.AddrV4 != nil {
		ip = entry.AddrV4.String()
	} else if entry.AddrV6 != nil {
		ip = entry.AddrV6.String()
	}
	if ip == "" {
		return nil
	}

	srv := &DiscoveredServer{
		Addr:         fmt.Sprintf("%s:%d", ip, entry.Port),
		DiscoveredAt: time.Now(),
	}

	for _, txt := range entry.InfoFields {
		parts := strings.SplitN(txt, "=", 2)
		if len(parts) != 2 {
			continue
		}
		switch parts[0] {
		case "version":
			srv.Version = parts[1]
		case "instance":
			srv.Instance = parts[1]
		}
	}

	if srv.Instance == "" {
		srv.Instance = entry.Name
	}

	return srv
}

// localIPs returns all non-loopback IPv4 addresses.
func localIPs() []net.IP {
	var ips []net.IP

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ips
	}

	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok {
			if ipnet.IP.IsLoopback() {
				continue
			}
			if ipnet.IP.To4() != nil {
				ips = append(ips, ipnet.IP)
			}
		}
	}

	return ips
}
