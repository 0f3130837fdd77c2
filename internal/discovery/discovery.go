package discovery

import (
	"fmt"
	"log"
	"net"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
)

const (
	ServiceType = "_easel._tcp"

	// TXT record advertising the websocket path
	pathKey = "path="
)

// A relay announced on the local network
type Peer struct {
	Name string
	Addr string
	Path string
}

// Websocket URL for the peer
func (p Peer) URL() string {
	return fmt.Sprintf("ws://%s%s", p.Addr, p.Path)
}

type Advertiser struct {
	server *mdns.Server
}

// Announces a relay listening on port. wsPath is published in the TXT record.
func Advertise(port int, wsPath string) (*Advertiser, error) {
	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("could not get hostname: %w", err)
	}

	service, err := mdns.NewMDNSService(host, ServiceType, "", "", port, nil, []string{pathKey + wsPath})
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to start mDNS server: %w", err)
	}

	log.Printf("📡 Advertising %s as %s on port %d", ServiceType, host, port)
	return &Advertiser{server: server}, nil
}

func (a *Advertiser) Shutdown() error {
	return a.server.Shutdown()
}

// Looks for relays for the given duration and returns them sorted by name
func Browse(timeout time.Duration) ([]Peer, error) {
	entries := make(chan *mdns.ServiceEntry, 8)

	var (
		peers []Peer
		seen  = make(map[string]bool)
		wg    sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for e := range entries {
			p, ok := peerFromEntry(e)
			if !ok || seen[p.Addr] {
				continue
			}
			seen[p.Addr] = true
			peers = append(peers, p)
		}
	}()

	params := mdns.DefaultParams(ServiceType)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true

	err := mdns.Query(params)
	close(entries)
	wg.Wait()
	if err != nil {
		return nil, fmt.Errorf("mDNS query: %w", err)
	}

	sort.Slice(peers, func(i, j int) bool { return peers[i].Name < peers[j].Name })
	return peers, nil
}

func peerFromEntry(e *mdns.ServiceEntry) (Peer, bool) {
	if e == nil || e.AddrV4 == nil || e.Port == 0 {
		return Peer{}, false
	}
	if !strings.Contains(e.Name, ServiceType) {
		return Peer{}, false
	}

	p := Peer{
		Name: strings.TrimSuffix(e.Name, "."+ServiceType+".local."),
		Addr: net.JoinHostPort(e.AddrV4.String(), fmt.Sprint(e.Port)),
		Path: "/ws",
	}
	for _, field := range e.InfoFields {
		if strings.HasPrefix(field, pathKey) {
			if path := strings.TrimPrefix(field, pathKey); path != "" {
				p.Path = path
			}
		}
	}
	return p, true
}
