package main

import (
	"testing"
	"time"
)

func TestApplyEnvOverrides_Basic(t *testing.T) {
	base := defaultConfig()
	t.Setenv("XSCOPE_BACKEND", "serial")
	t.Setenv("XSCOPE_HANDSHAKE_TIMEOUT", "2s")
	t.Setenv("XSCOPE_COMMAND_TIMEOUT", "500ms")
	t.Setenv("XSCOPE_EVENT_QUEUE", "16")
	t.Setenv("XSCOPE_SKIP_HANDSHAKE", "yes")
	t.Setenv("XSCOPE_METRICS", ":9100")
	t.Setenv("XSCOPE_CAPTURE", "/tmp/run.cbor")
	if err := applyEnvOverrides(base, map[string]struct{}{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.backend != "serial" {
		t.Fatalf("expected backend override, got %s", base.backend)
	}
	if base.handshakeTO != 2*time.Second || base.commandTO != 500*time.Millisecond {
		t.Fatalf("timeouts not applied: %v %v", base.handshakeTO, base.commandTO)
	}
	if base.eventQueue != 16 {
		t.Fatalf("expected eventQueue 16 got %d", base.eventQueue)
	}
	if !base.skipHandshake {
		t.Fatalf("expected skipHandshake true")
	}
	if base.metricsAddr != ":9100" || base.capturePath != "/tmp/run.cbor" {
		t.Fatalf("metrics=%q capture=%q", base.metricsAddr, base.capturePath)
	}
}

func TestApplyEnvOverrides_FlagPrecedence(t *testing.T) {
	base := defaultConfig()
	t.Setenv("XSCOPE_COMMAND_TIMEOUT", "9s")
	// -command-timeout was passed so env must be ignored.
	if err := applyEnvOverrides(base, map[string]struct{}{"command-timeout": {}}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if base.commandTO != 3*time.Second {
		t.Fatalf("expected commandTO unchanged got %v", base.commandTO)
	}
}

func TestApplyEnvOverrides_BadValues(t *testing.T) {
	for env, val := range map[string]string{
		"XSCOPE_EVENT_QUEUE":    "notint",
		"XSCOPE_POLL_INTERVAL":  "fast",
		"XSCOPE_SKIP_HANDSHAKE": "maybe",
	} {
		t.Run(env, func(t *testing.T) {
			t.Setenv(env, val)
			if err := applyEnvOverrides(defaultConfig(), map[string]struct{}{}); err == nil {
				t.Fatalf("expected error for %s=%q", env, val)
			}
		})
	}
}
