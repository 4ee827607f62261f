// Package discovery finds MQTT brokers advertised over mDNS/DNS-SD.
//
// Brokers such as Mosquitto and EMQX announce themselves as _mqtt._tcp in
// the local. domain. Discover browses for a bounded time and returns every
// broker seen, with addresses from all interfaces merged per instance.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/enbility/zeroconf/v3"

	"github.com/nerrad567/lightlink-core/internal/infrastructure/config"
)

const (
	DefaultService = "_mqtt._tcp"
	DefaultDomain  = "local."
	DefaultTimeout = 5 * time.Second
)

// ErrNoBrokers is returned when browsing finished without finding a broker.
var ErrNoBrokers = errors.New("discovery: no brokers found")

// Broker is one advertised MQTT broker.
type Broker struct {
	Instance string   `json:"instance"`
	Host     string   `json:"host"`
	Port     int      `json:"port"`
	Addrs    []string `json:"addrs"`
}

// Address returns host:port using the first IPv4 address when there is one,
// then any address, then the advertised host name.
func (b Broker) Address() string {
	host := b.Host
	for _, a := range b.Addrs {
		if ip := net.ParseIP(a); ip != nil && ip.To4() != nil {
			host = a
			break
		}
	}
	if host == b.Host && len(b.Addrs) > 0 {
		host = b.Addrs[0]
	}
	return net.JoinHostPort(host, strconv.Itoa(b.Port))
}

type browseFunc func(ctx context.Context, service, domain string, entries, removed chan<- *zeroconf.ServiceEntry) error

// Browser browses for brokers.
type Browser struct {
	service string
	domain  string
	timeout time.Duration
	browse  browseFunc
}

// New returns a Browser for cfg. Empty fields use the defaults.
func New(cfg config.DiscoveryConfig) *Browser {
	b := &Browser{
		service: cfg.Service,
		domain:  cfg.Domain,
		timeout: cfg.Timeout,
		browse: func(ctx context.Context, service, domain string, entries, removed chan<- *zeroconf.ServiceEntry) error {
			return zeroconf.Browse(ctx, service, domain, entries, removed)
		},
	}
	if b.service == "" {
		b.service = DefaultService
	}
	if b.domain == "" {
		b.domain = DefaultDomain
	}
	if b.timeout <= 0 {
		b.timeout = DefaultTimeout
	}
	return b
}

// Discover browses until the timeout or ctx ends and returns the brokers
// still advertised, sorted by instance name.
func (b *Browser) Discover(ctx context.Context) ([]Broker, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	browseErr := make(chan error, 1)
	go func(out chan<- error) {
		out <- b.browse(ctx, b.service, b.domain, entries, removed)
	}(browseErr)

	found := make(map[string]*Broker)
collect:
	for {
		select {
		case e, ok := <-entries:
			if !ok {
				break collect
			}
			add(found, e)
		case e, ok := <-removed:
			if !ok {
				removed = nil
				continue
			}
			drop(found, e)
		case err := <-browseErr:
			if err != nil && ctx.Err() == nil {
				return nil, fmt.Errorf("browsing %s: %w", b.service, err)
			}
			browseErr = nil
		case <-ctx.Done():
			break collect
		}
	}

	if len(found) == 0 {
		return nil, ErrNoBrokers
	}

	brokers := make([]Broker, 0, len(found))
	for _, br := range found {
		brokers = append(brokers, *br)
	}
	sort.Slice(brokers, func(i, j int) bool { return brokers[i].Instance < brokers[j].Instance })
	return brokers, nil
}

// First returns the first broker Discover finds.
func (b *Browser) First(ctx context.Context) (Broker, error) {
	brokers, err := b.Discover(ctx)
	if err != nil {
		return Broker{}, err
	}
	return brokers[0], nil
}

func entryAddrs(e *zeroconf.ServiceEntry) []string {
	addrs := make([]string, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
	for _, ip := range e.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range e.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}
	return addrs
}

func add(found map[string]*Broker, e *zeroconf.ServiceEntry) {
	if e == nil || e.Port <= 0 {
		return
	}
	existing, ok := found[e.Instance]
	if !ok {
		found[e.Instance] = &Broker{
			Instance: e.Instance,
			Host:     e.HostName,
			Port:     e.Port,
			Addrs:    entryAddrs(e),
		}
		return
	}

	seen := make(map[string]bool, len(existing.Addrs))
	for _, a := range existing.Addrs {
		seen[a] = true
	}
	for _, a := range entryAddrs(e) {
		if !seen[a] {
			existing.Addrs = append(existing.Addrs, a)
			seen[a] = true
		}
	}
}

// drop removes the entry's addresses and forgets the broker once none remain.
func drop(found map[string]*Broker, e *zeroconf.ServiceEntry) {
	if e == nil {
		return
	}
	existing, ok := found[e.Instance]
	if !ok {
		return
	}

	gone := make(map[string]bool)
	for _, a := range entryAddrs(e) {
		gone[a] = true
	}
	kept := existing.Addrs[:0]
	for _, a := range existing.Addrs {
		if !gone[a] {
			kept = append(kept, a)
		}
	}
	existing.Addrs = kept
	if len(kept) == 0 {
		delete(found, e.Instance)
	}
}
