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
	listenAddr      string
	resultCode      int
	ackDelay        time.Duration
	resultDelay     time.Duration
	silent          bool
	malformedAck    bool
	malformedResult bool
	keepOnShutdown  bool
	banner          string
	chatterEvery    time.Duration
	chatter         string
	maxClients      int
	handshakeTO     time.Duration
	clientReadTO    time.Duration
	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration
	mdnsEnable      bool
	mdnsName        string
}

func defaultConfig() *appConfig {
	return &appConfig{
		listenAddr:   ":10101",
		banner:       "xscope device simulator ready\n",
		chatter:      "rx ok\n",
		handshakeTO:  3 * time.Second,
		clientReadTO: 60 * time.Second,
		logFormat:    "text",
		logLevel:     "info",
	}
}

func parseFlags(args []string) (*appConfig, bool, error) {
	d := defaultConfig()
	fs := flag.NewFlagSet("xscope-devsim", flag.ContinueOnError)
	listenAddr := fs.String("listen", d.listenAddr, "TCP listen address")
	resultCode := fs.Int("result-code", 0, "Result code returned for every command (0..255)")
	ackDelay := fs.Duration("ack-delay", 0, "Delay before the connection acknowledgement")
	resultDelay := fs.Duration("result-delay", 0, "Delay before each command result")
	silent := fs.Bool("silent", false, "Never answer commands")
	malformedAck := fs.Bool("malformed-ack", false, "Send a malformed acknowledgement before the real one")
	malformedResult := fs.Bool("malformed-result", false, "Send a malformed result before each real one")
	keepOnShutdown := fs.Bool("keep-on-shutdown", false, "Keep the session open after the shutdown command")
	banner := fs.String("banner", d.banner, "Print text sent on attach (empty disables)")
	chatterEvery := fs.Duration("chatter-interval", 0, "If >0, send the chatter print periodically")
	chatter := fs.String("chatter", d.chatter, "Periodic print text")
	maxClients := fs.Int("max-clients", 0, "Maximum concurrent hosts (0 = unlimited)")
	handshakeTO := fs.Duration("handshake-timeout", d.handshakeTO, "Hello exchange timeout")
	clientReadTO := fs.Duration("client-read-timeout", d.clientReadTO, "Idle read deadline per host")
	logFormat := fs.String("log-format", d.logFormat, "Log format: text|json")
	logLevel := fs.String("log-level", d.logLevel, "Log level: debug|info|warn|error")
	metricsAddr := fs.String("metrics-addr", "", "Metrics HTTP listen address; empty disables")
	logMetricsEvery := fs.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters")
	mdnsEnable := fs.Bool("mdns", false, "Advertise the simulator via mDNS")
	mdnsName := fs.String("mdns-name", "", "mDNS instance name (default xscope-devsim-<hostname>)")
	showVersion := fs.Bool("version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, false, err
	}
	set := map[string]struct{}{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = struct{}{} })
	cfg := &appConfig{
		listenAddr:      *listenAddr,
		resultCode:      *resultCode,
		ackDelay:        *ackDelay,
		resultDelay:     *resultDelay,
		silent:          *silent,
		malformedAck:    *malformedAck,
		malformedResult: *malformedResult,
		keepOnShutdown:  *keepOnShutdown,
		banner:          *banner,
		chatterEvery:    *chatterEvery,
		chatter:         *chatter,
		maxClients:      *maxClients,
		handshakeTO:     *handshakeTO,
		clientReadTO:    *clientReadTO,
		logFormat:       *logFormat,
		logLevel:        *logLevel,
		metricsAddr:     *metricsAddr,
		logMetricsEvery: *logMetricsEvery,
		mdnsEnable:      *mdnsEnable,
		mdnsName:        *mdnsName,
	}
	if *showVersion {
		return cfg, true, nil
	}
	if err := applyEnvOverrides(cfg, set); err != nil {
		return nil, false, fmt.Errorf("environment override error: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, false, err
	}
	return cfg, false, nil
}

func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if c.listenAddr == "" {
		return errors.New("listen address must not be empty")
	}
	if c.resultCode < 0 || c.resultCode > 255 {
		return fmt.Errorf("result-code must be in [0,255] (got %d)", c.resultCode)
	}
	if c.ackDelay < 0 || c.resultDelay < 0 || c.chatterEvery < 0 || c.logMetricsEvery < 0 {
		return errors.New("delays and intervals must be >= 0")
	}
	if c.maxClients < 0 {
		return fmt.Errorf("max-clients must be >= 0 (got %d)", c.maxClients)
	}
	if c.handshakeTO <= 0 || c.clientReadTO <= 0 {
		return errors.New("handshake-timeout and client-read-timeout must be > 0")
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
	return nil
}

// applyEnvOverrides maps XSCOPE_DEVSIM_* variables unless the flag was set.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(flagName, env string) (string, bool) {
		if _, ok := set[flagName]; ok {
			return "", false
		}
		v, ok := os.LookupEnv(env)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	fail := func(env, v string) {
		if firstErr == nil {
			firstErr = fmt.Errorf("invalid %s: %q", env, v)
		}
	}
	dur := func(flagName, env string, dst *time.Duration) {
		if v, ok := get(flagName, env); ok {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				*dst = d
			} else {
				fail(env, v)
			}
		}
	}
	boolean := func(flagName, env string, dst *bool) {
		if v, ok := get(flagName, env); ok {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			} else {
				fail(env, v)
			}
		}
	}
	integer := func(flagName, env string, dst *int) {
		if v, ok := get(flagName, env); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			} else {
				fail(env, v)
			}
		}
	}
	if v, ok := get("listen", "XSCOPE_DEVSIM_LISTEN"); ok {
		c.listenAddr = v
	}
	integer("result-code", "XSCOPE_DEVSIM_RESULT_CODE", &c.resultCode)
	dur("ack-delay", "XSCOPE_DEVSIM_ACK_DELAY", &c.ackDelay)
	dur("result-delay", "XSCOPE_DEVSIM_RESULT_DELAY", &c.resultDelay)
	boolean("silent", "XSCOPE_DEVSIM_SILENT", &c.silent)
	integer("max-clients", "XSCOPE_DEVSIM_MAX_CLIENTS", &c.maxClients)
	dur("chatter-interval", "XSCOPE_DEVSIM_CHATTER_INTERVAL", &c.chatterEvery)
	dur("log-metrics-interval", "XSCOPE_DEVSIM_LOG_METRICS_INTERVAL", &c.logMetricsEvery)
	if v, ok := get("log-format", "XSCOPE_DEVSIM_LOG_FORMAT"); ok {
		c.logFormat = v
	}
	if v, ok := get("log-level", "XSCOPE_DEVSIM_LOG_LEVEL"); ok {
		c.logLevel = v
	}
	if v, ok := get("metrics-addr", "XSCOPE_DEVSIM_METRICS"); ok {
		c.metricsAddr = v
	}
	boolean("mdns", "XSCOPE_DEVSIM_MDNS_ENABLE", &c.mdnsEnable)
	if v, ok := get("mdns-name", "XSCOPE_DEVSIM_MDNS_NAME"); ok {
		c.mdnsName = v
	}
	return firstErr
}
