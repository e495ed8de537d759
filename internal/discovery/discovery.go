// Package discovery advertises and finds instrumentation servers on the
// local network over mDNS.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the DNS-SD type of an instrumentation server.
const ServiceType = "_xscope._tcp"

const domain = "local."

// ErrNotFound is returned when no instance answers before the timeout.
var ErrNotFound = errors.New("no instrumentation server found")

// Advertise registers an instance and returns a cleanup function. The
// registration is also withdrawn when ctx ends.
func Advertise(ctx context.Context, instance string, port int, meta []string) (func(), error) {
	svc, err := zeroconf.Register(instance, ServiceType, domain, port, meta, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			time.Sleep(50 * time.Millisecond)
		})
	}, nil
}

// Instance is a resolved server.
type Instance struct {
	Name string
	Host string
	Port string
	Text []string
}

type browser interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// newBrowser is a test hook.
var newBrowser = func() (browser, error) { return zeroconf.NewResolver(nil) }

// Browse returns the first instance that resolves to an address within
// timeout.
func Browse(ctx context.Context, timeout time.Duration) (Instance, error) {
	r, err := newBrowser()
	if err != nil {
		return Instance{}, fmt.Errorf("mdns resolver: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	entries := make(chan *zeroconf.ServiceEntry, 4)
	if err := r.Browse(ctx, ServiceType, domain, entries); err != nil {
		return Instance{}, fmt.Errorf("mdns browse: %w", err)
	}
	for {
		select {
		case e, ok := <-entries:
			if !ok {
				return Instance{}, ErrNotFound
			}
			if inst, ok := fromEntry(e); ok {
				return inst, nil
			}
		case <-ctx.Done():
			return Instance{}, ErrNotFound
		}
	}
}

// fromEntry prefers IPv4; entries without an address or port are skipped.
func fromEntry(e *zeroconf.ServiceEntry) (Instance, bool) {
	if e == nil || e.Port == 0 {
		return Instance{}, false
	}
	var ip net.IP
	switch {
	case len(e.AddrIPv4) > 0:
		ip = e.AddrIPv4[0]
	case len(e.AddrIPv6) > 0:
		ip = e.AddrIPv6[0]
	default:
		return Instance{}, false
	}
	return Instance{Name: e.Instance, Host: ip.String(), Port: strconv.Itoa(e.Port), Text: e.Text}, true
}
