package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

type fakeBrowser struct {
	entries []*zeroconf.ServiceEntry
	err     error
}

func (f *fakeBrowser) Browse(ctx context.Context, service, domain string, out chan<- *zeroconf.ServiceEntry) error {
	if f.err != nil {
		return f.err
	}
	go func() {
		for _, e := range f.entries {
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func withBrowser(t *testing.T, b browser) {
	t.Helper()
	orig := newBrowser
	newBrowser = func() (browser, error) { return b, nil }
	t.Cleanup(func() { newBrowser = orig })
}

func entry(name string, port int, v4, v6 []net.IP) *zeroconf.ServiceEntry {
	e := zeroconf.NewServiceEntry(name, ServiceType, domain)
	e.Port = port
	e.AddrIPv4 = v4
	e.AddrIPv6 = v6
	return e
}

func TestBrowseSkipsUnresolved(t *testing.T) {
	withBrowser(t, &fakeBrowser{entries: []*zeroconf.ServiceEntry{
		entry("noaddr", 10101, nil, nil),
		entry("noport", 0, []net.IP{net.ParseIP("10.0.0.2")}, nil),
		entry("dut", 10101, []net.IP{net.ParseIP("10.0.0.3")}, []net.IP{net.ParseIP("fe80::1")}),
	}})
	inst, err := Browse(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("browse: %v", err)
	}
	if inst.Name != "dut" || inst.Host != "10.0.0.3" || inst.Port != "10101" {
		t.Fatalf("unexpected instance %+v", inst)
	}
}

func TestBrowseIPv6Only(t *testing.T) {
	withBrowser(t, &fakeBrowser{entries: []*zeroconf.ServiceEntry{
		entry("dut6", 2000, nil, []net.IP{net.ParseIP("fe80::2")}),
	}})
	inst, err := Browse(context.Background(), time.Second)
	if err != nil || inst.Host != "fe80::2" {
		t.Fatalf("inst=%+v err=%v", inst, err)
	}
}

func TestBrowseTimeout(t *testing.T) {
	withBrowser(t, &fakeBrowser{})
	_, err := Browse(context.Background(), 20*time.Millisecond)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBrowseError(t *testing.T) {
	boom := errors.New("no multicast")
	withBrowser(t, &fakeBrowser{err: boom})
	if _, err := Browse(context.Background(), time.Second); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
