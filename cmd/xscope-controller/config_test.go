package main

import (
	"testing"
	"time"
)

func TestConfigValidate_OK(t *testing.T) {
	if err := defaultConfig().validate(); err != nil {
		t.Fatalf("expected ok got %v", err)
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*appConfig)
	}{
		{"badBackend", func(c *appConfig) { c.backend = "x" }},
		{"badFormat", func(c *appConfig) { c.logFormat = "xx" }},
		{"badLevel", func(c *appConfig) { c.logLevel = "nope" }},
		{"badPoll", func(c *appConfig) { c.pollInterval = 0 }},
		{"handshakeBelowPoll", func(c *appConfig) { c.handshakeTO = c.pollInterval / 2 }},
		{"commandBelowPoll", func(c *appConfig) { c.commandTO = 0 }},
		{"badDial", func(c *appConfig) { c.dialTO = 0 }},
		{"badHello", func(c *appConfig) { c.helloTO = 0 }},
		{"badQueue", func(c *appConfig) { c.eventQueue = 0 }},
		{"badMetricsInterval", func(c *appConfig) { c.logMetricsEvery = -time.Second }},
		{"badMDNS", func(c *appConfig) { c.mdnsTimeout = 0 }},
	}
	for _, tc := range tests {
		base := defaultConfig()
		tc.mod(base)
		if err := base.validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
	var nilCfg *appConfig
	if err := nilCfg.validate(); err == nil {
		t.Fatalf("expected error for nil config")
	}
}

func TestDialerFor(t *testing.T) {
	for _, b := range []string{"tcp", "serial"} {
		c := defaultConfig()
		c.backend = b
		if d, err := dialerFor(c); err != nil || d == nil {
			t.Fatalf("%s: dialer=%v err=%v", b, d != nil, err)
		}
	}
	c := defaultConfig()
	c.backend = "can"
	if _, err := dialerFor(c); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}
