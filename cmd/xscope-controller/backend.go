package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kstaniek/xscope-harness/internal/discovery"
	"github.com/kstaniek/xscope-harness/internal/endpoint"
)

// mdnsAddress selects discovery instead of a fixed address.
const mdnsAddress = "mdns"

func dialerFor(cfg *appConfig) (endpoint.DialFunc, error) {
	switch cfg.backend {
	case "tcp":
		return endpoint.DialTCP(cfg.dialTO, cfg.helloTO), nil
	case "serial":
		return endpoint.DialSerial, nil
	default:
		return nil, fmt.Errorf("invalid backend: %s", cfg.backend)
	}
}

// browse is a test hook.
var browse = discovery.Browse

// resolveAddress turns the positional address into a dialable host/port,
// browsing mDNS when asked to.
func resolveAddress(ctx context.Context, cfg *appConfig, host, port string, l *slog.Logger) (string, string, error) {
	if host != mdnsAddress {
		return host, port, nil
	}
	if cfg.backend != "tcp" {
		return "", "", fmt.Errorf("mdns discovery requires the tcp backend")
	}
	inst, err := browse(ctx, cfg.mdnsTimeout)
	if err != nil {
		return "", "", err
	}
	l.Info("mdns_resolved", "instance", inst.Name, "host", inst.Host, "port", inst.Port)
	return inst.Host, inst.Port, nil
}
