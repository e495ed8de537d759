package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type appConfig struct {
	backend         string
	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration
	pollInterval    time.Duration
	handshakeTO     time.Duration
	commandTO       time.Duration
	dialTO          time.Duration
	helloTO         time.Duration
	eventQueue      int
	skipHandshake   bool
	interactive     bool
	capturePath     string
	mdnsTimeout     time.Duration
	profile         string
}

func defaultConfig() *appConfig {
	return &appConfig{
		backend:      "tcp",
		logFormat:    "text",
		logLevel:     "info",
		pollInterval: time.Millisecond,
		handshakeTO:  10 * time.Second,
		commandTO:    3 * time.Second,
		dialTO:       5 * time.Second,
		helloTO:      3 * time.Second,
		eventQueue:   256,
		mdnsTimeout:  3 * time.Second,
	}
}

func parseFlags() (*appConfig, bool, error) {
	d := defaultConfig()
	backend := flag.String("backend", d.backend, "Instrumentation link: tcp|serial (serial: <address> is the device, <port> the baud rate)")
	logFormat := flag.String("log-format", d.logFormat, "Log format: text|json")
	logLevel := flag.String("log-level", d.logLevel, "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters")
	pollInterval := flag.Duration("poll-interval", d.pollInterval, "Handshake and result poll interval")
	handshakeTO := flag.Duration("handshake-timeout", d.handshakeTO, "Time to wait for the device connection acknowledgement")
	commandTO := flag.Duration("command-timeout", d.commandTO, "Time to wait for a command result")
	dialTO := flag.Duration("dial-timeout", d.dialTO, "TCP dial timeout")
	helloTO := flag.Duration("hello-timeout", d.helloTO, "TCP hello exchange timeout")
	eventQueue := flag.Int("event-queue", d.eventQueue, "Events buffered between the link reader and the dispatcher")
	skipHandshake := flag.Bool("skip-handshake", false, "Submit the command without waiting for the connection acknowledgement")
	interactive := flag.Bool("interactive", false, "Keep the channel open and read commands from the terminal")
	capturePath := flag.String("capture", "", "Append a CBOR event capture to this file")
	mdnsTimeout := flag.Duration("mdns-timeout", d.mdnsTimeout, "Browse time when <address> is mdns")
	profile := flag.String("config", "", "YAML profile with defaults (flags and XSCOPE_* env take precedence)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Usage = usage
	flag.Parse()

	// Track which flags were explicitly set to give them precedence over env.
	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })
	cfg := &appConfig{
		backend:         *backend,
		logFormat:       *logFormat,
		logLevel:        *logLevel,
		metricsAddr:     *metricsAddr,
		logMetricsEvery: *logMetricsEvery,
		pollInterval:    *pollInterval,
		handshakeTO:     *handshakeTO,
		commandTO:       *commandTO,
		dialTO:          *dialTO,
		helloTO:         *helloTO,
		eventQueue:      *eventQueue,
		skipHandshake:   *skipHandshake,
		interactive:     *interactive,
		capturePath:     *capturePath,
		mdnsTimeout:     *mdnsTimeout,
		profile:         *profile,
	}
	if *showVersion {
		return cfg, true, nil
	}
	if cfg.profile == "" {
		if v, ok := os.LookupEnv("XSCOPE_CONFIG"); ok {
			cfg.profile = strings.TrimSpace(v)
		}
	}
	if cfg.profile != "" {
		if err := applyProfileFile(cfg, cfg.profile, setFlags); err != nil {
			return nil, false, err
		}
	}
	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		return nil, false, fmt.Errorf("environment override error: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, false, err
	}
	return cfg, false, nil
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open links – only checks values/ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.backend {
	case "tcp", "serial":
	default:
		return fmt.Errorf("invalid backend: %s", c.backend)
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if c.pollInterval <= 0 {
		return fmt.Errorf("poll-interval must be > 0")
	}
	if c.handshakeTO < c.pollInterval {
		return fmt.Errorf("handshake-timeout must be >= poll-interval")
	}
	if c.commandTO < c.pollInterval {
		return fmt.Errorf("command-timeout must be >= poll-interval")
	}
	if c.dialTO <= 0 || c.helloTO <= 0 {
		return fmt.Errorf("dial-timeout and hello-timeout must be > 0")
	}
	if c.eventQueue <= 0 {
		return fmt.Errorf("event-queue must be > 0 (got %d)", c.eventQueue)
	}
	if c.logMetricsEvery < 0 {
		return fmt.Errorf("log-metrics-interval must be >= 0")
	}
	if c.mdnsTimeout <= 0 {
		return fmt.Errorf("mdns-timeout must be > 0")
	}
	return nil
}

// applyEnvOverrides maps XSCOPE_* environment variables to config fields
// unless a corresponding flag was explicitly set. Empty values are ignored.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	str := func(flagName, env string, dst *string) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			*dst = v
		}
	}
	dur := func(flagName, env string, dst *time.Duration) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				*dst = d
			} else if firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %q", env, v)
			}
		}
	}
	boolean := func(flagName, env string, dst *bool) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				*dst = true
			case "0", "false", "no", "off":
				*dst = false
			default:
				if firstErr == nil {
					firstErr = fmt.Errorf("invalid %s: %q", env, v)
				}
			}
		}
	}
	str("backend", "XSCOPE_BACKEND", &c.backend)
	str("log-format", "XSCOPE_LOG_FORMAT", &c.logFormat)
	str("log-level", "XSCOPE_LOG_LEVEL", &c.logLevel)
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("XSCOPE_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	dur("log-metrics-interval", "XSCOPE_LOG_METRICS_INTERVAL", &c.logMetricsEvery)
	dur("poll-interval", "XSCOPE_POLL_INTERVAL", &c.pollInterval)
	dur("handshake-timeout", "XSCOPE_HANDSHAKE_TIMEOUT", &c.handshakeTO)
	dur("command-timeout", "XSCOPE_COMMAND_TIMEOUT", &c.commandTO)
	dur("dial-timeout", "XSCOPE_DIAL_TIMEOUT", &c.dialTO)
	dur("hello-timeout", "XSCOPE_HELLO_TIMEOUT", &c.helloTO)
	dur("mdns-timeout", "XSCOPE_MDNS_TIMEOUT", &c.mdnsTimeout)
	if _, ok := set["event-queue"]; !ok {
		if v, ok := get("XSCOPE_EVENT_QUEUE"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.eventQueue = n
			} else if firstErr == nil {
				firstErr = fmt.Errorf("invalid XSCOPE_EVENT_QUEUE: %q", v)
			}
		}
	}
	boolean("skip-handshake", "XSCOPE_SKIP_HANDSHAKE", &c.skipHandshake)
	str("capture", "XSCOPE_CAPTURE", &c.capturePath)
	return firstErr
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: xscope-controller [flags] <address> <port> <directive> [args...]\n       xscope-controller -interactive [flags] <address> <port> [connect]\n\n")
	fmt.Fprintf(out, "<address> may be \"mdns\" to browse for an instrumentation server; <port> is then ignored.\n")
	fmt.Fprintf(out, "Directives: connect, %s\n\nFlags:\n", strings.Join(directiveList(), ", "))
	flag.PrintDefaults()
}
