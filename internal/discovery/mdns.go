// Package discovery advertises the Infinity Status HTTP service over mDNS
// and finds other instances on the local network.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"

	"github.com/mescon/InfinityStatus/internal/logger"
)

const (
	// ServiceType is the DNS-SD service type of the HTTP control surface.
	ServiceType = "_infinity-status._tcp"

	// Domain is the mDNS domain.
	Domain = "local."

	// DefaultTTL is the record TTL used when none is configured.
	DefaultTTL = 120 * time.Second
)

// TXT record keys.
const (
	TXTKeyPath    = "path"
	TXTKeyVersion = "version"
	TXTKeySync    = "sync"
	TXTKeyTimers  = "timers"
)

var (
	// ErrInvalidInstance is returned for empty or over-long instance names.
	ErrInvalidInstance = errors.New("invalid instance name")
	// ErrInvalidPort is returned for ports outside 1-65535.
	ErrInvalidPort = errors.New("invalid port")
)

// Info describes one advertised instance.
type Info struct {
	Instance string
	Port     int
	BasePath string
	Version  string
	SyncMode string
	Timers   []string
}

// Service is an instance found while browsing.
type Service struct {
	Instance  string   `json:"instance"`
	Host      string   `json:"host"`
	Port      int      `json:"port"`
	Addresses []string `json:"addresses"`
	BasePath  string   `json:"base_path"`
	Version   string   `json:"version"`
	SyncMode  string   `json:"sync_mode"`
	Timers    []string `json:"timers"`
}

// URL returns the base URL of the service's HTTP API, preferring the first address.
func (s Service) URL() string {
	host := s.Host
	if len(s.Addresses) > 0 {
		host = s.Addresses[0]
	}
	host = strings.TrimSuffix(host, ".")
	return "http://" + net.JoinHostPort(host, strconv.Itoa(s.Port)) + strings.TrimSuffix(s.BasePath, "/")
}

// EncodeTXT builds the TXT records for info, sorted by key.
func EncodeTXT(info Info) []string {
	txt := map[string]string{
		TXTKeyPath:    info.BasePath,
		TXTKeyVersion: info.Version,
		TXTKeySync:    info.SyncMode,
	}
	if len(info.Timers) > 0 {
		txt[TXTKeyTimers] = strings.Join(info.Timers, ",")
	}

	out := make([]string, 0, len(txt))
	for k, v := range txt {
		if v == "" {
			continue
		}
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// DecodeTXT parses "key=value" records into a map. Keys without a value map to "".
func DecodeTXT(records []string) map[string]string {
	txt := make(map[string]string, len(records))
	for _, s := range records {
		k, v, _ := strings.Cut(s, "=")
		if k != "" {
			txt[k] = v
		}
	}
	return txt
}

func validate(info Info) error {
	if info.Instance == "" || len(info.Instance) > 63 {
		return fmt.Errorf("%w: %q", ErrInvalidInstance, info.Instance)
	}
	if info.Port <= 0 || info.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, info.Port)
	}
	return nil
}

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface, opts ...zeroconf.ServerOption) (*zeroconf.Server, error)

// Advertiser publishes one instance over mDNS.
type Advertiser struct {
	iface string
	ttl   time.Duration

	register registerFunc

	mu     sync.Mutex
	server *zeroconf.Server
	info   Info
}

// NewAdvertiser creates an advertiser. An empty iface advertises on every interface.
func NewAdvertiser(iface string, ttl time.Duration) *Advertiser {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Advertiser{
		iface:    iface,
		ttl:      ttl,
		register: zeroconf.Register,
	}
}

func (a *Advertiser) interfaces() []net.Interface {
	if a.iface == "" {
		return nil
	}
	iface, err := net.InterfaceByName(a.iface)
	if err != nil {
		logger.Warnf("mDNS interface %q not found, advertising on all interfaces", a.iface)
		return nil
	}
	return []net.Interface{*iface}
}

// Advertise starts (or replaces) the advertisement.
func (a *Advertiser) Advertise(info Info) error {
	if err := validate(info); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	server, err := a.register(
		info.Instance,
		ServiceType,
		Domain,
		info.Port,
		EncodeTXT(info),
		a.interfaces(),
		zeroconf.TTL(uint32(a.ttl.Seconds())),
	)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}

	a.server = server
	a.info = info
	logger.Infof("Advertising %q as %s on port %d", info.Instance, ServiceType, info.Port)
	return nil
}

// UpdateTimers refreshes the advertised timer list.
func (a *Advertiser) UpdateTimers(timers []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server == nil {
		return
	}
	a.info.Timers = timers
	a.server.SetText(EncodeTXT(a.info))
}

// Active reports whether an advertisement is running.
func (a *Advertiser) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

// Stop withdraws the advertisement.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
		logger.Infof("mDNS advertisement stopped")
	}
}

// Browse collects instances until ctx is done and returns them sorted by name.
// Addresses from multiple interfaces are merged into one entry per instance.
func Browse(ctx context.Context) ([]Service, error) {
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	errCh := make(chan error, 1)
	go func() {
		errCh <- zeroconf.Browse(ctx, ServiceType, Domain, entries, removed)
	}()

	services := make(map[string]*Service)
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return collect(services), nil
			}
			mergeEntry(services, entry)
		case entry, ok := <-removed:
			if ok && entry != nil {
				delete(services, entry.Instance)
			}
		case err := <-errCh:
			if err != nil && ctx.Err() == nil {
				return nil, fmt.Errorf("mDNS browse failed: %w", err)
			}
			errCh = nil
		case <-ctx.Done():
			return collect(services), nil
		}
	}
}

func mergeEntry(services map[string]*Service, entry *zeroconf.ServiceEntry) {
	if entry == nil {
		return
	}
	svc := entryToService(entry)
	if existing, ok := services[svc.Instance]; ok {
		existing.Addresses = mergeAddresses(existing.Addresses, svc.Addresses)
		return
	}
	services[svc.Instance] = &svc
}

func entryToService(entry *zeroconf.ServiceEntry) Service {
	txt := DecodeTXT(entry.Text)

	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}

	var timers []string
	if v := txt[TXTKeyTimers]; v != "" {
		timers = strings.Split(v, ",")
	}

	return Service{
		Instance:  entry.Instance,
		Host:      entry.HostName,
		Port:      entry.Port,
		Addresses: addrs,
		BasePath:  txt[TXTKeyPath],
		Version:   txt[TXTKeyVersion],
		SyncMode:  txt[TXTKeySync],
		Timers:    timers,
	}
}

func mergeAddresses(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	for _, addr := range a {
		seen[addr] = true
	}
	for _, addr := range b {
		if !seen[addr] {
			a = append(a, addr)
			seen[addr] = true
		}
	}
	return a
}

func collect(services map[string]*Service) []Service {
	out := make([]Service, 0, len(services))
	for _, s := range services {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out
}
