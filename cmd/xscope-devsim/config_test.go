package main

import (
	"testing"
	"time"

	"github.com/kstaniek/xscope-harness/internal/logging"
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
		{"emptyListen", func(c *appConfig) { c.listenAddr = "" }},
		{"codeHigh", func(c *appConfig) { c.resultCode = 256 }},
		{"codeLow", func(c *appConfig) { c.resultCode = -1 }},
		{"badAckDelay", func(c *appConfig) { c.ackDelay = -time.Second }},
		{"badMaxClients", func(c *appConfig) { c.maxClients = -1 }},
		{"badHandshakeTO", func(c *appConfig) { c.handshakeTO = 0 }},
		{"badFormat", func(c *appConfig) { c.logFormat = "xx" }},
		{"badLevel", func(c *appConfig) { c.logLevel = "nope" }},
	}
	for _, tc := range tests {
		base := defaultConfig()
		tc.mod(base)
		if err := base.validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("XSCOPE_DEVSIM_RESULT_CODE", "7")
	t.Setenv("XSCOPE_DEVSIM_SILENT", "true")
	t.Setenv("XSCOPE_DEVSIM_ACK_DELAY", "250ms")
	t.Setenv("XSCOPE_DEVSIM_LISTEN", ":20000")
	cfg, _, err := parseFlags([]string{"-listen", ":30000"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.resultCode != 7 || !cfg.silent || cfg.ackDelay != 250*time.Millisecond {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if cfg.listenAddr != ":30000" {
		t.Fatalf("expected flag precedence, got %s", cfg.listenAddr)
	}
}

func TestApplyEnvOverrides_Bad(t *testing.T) {
	t.Setenv("XSCOPE_DEVSIM_MDNS_ENABLE", "perhaps")
	if _, _, err := parseFlags(nil); err == nil {
		t.Fatalf("expected error for bad bool")
	}
}

func TestServerOptions(t *testing.T) {
	cfg := defaultConfig()
	base := len(serverOptions(cfg, logging.Discard()))
	cfg.chatterEvery = time.Second
	if got := len(serverOptions(cfg, logging.Discard())); got != base+1 {
		t.Fatalf("expected chatter option, got %d options (base %d)", got, base)
	}
}

func TestListenPort(t *testing.T) {
	cases := map[string]int{"127.0.0.1:10101": 10101, "[::]:80": 80, "bogus": 0, "host:x": 0}
	for in, want := range cases {
		if got := listenPort(in); got != want {
			t.Fatalf("listenPort(%q)=%d want %d", in, got, want)
		}
	}
	if got := instanceName(&appConfig{mdnsName: "bench"}); got != "bench" {
		t.Fatalf("instanceName=%q", got)
	}
}
