package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mdlayher/ethernet"

	"github.com/kstaniek/xscope-harness/internal/l2send"
)

type appConfig struct {
	etherType   uint
	payload     int
	sequence    bool
	gap         time.Duration
	duration    time.Duration
	linkRate    int64
	progress    int
	logFormat   string
	logLevel    string
	metricsAddr string
}

func defaultConfig() *appConfig {
	return &appConfig{
		etherType: uint(l2send.DefaultEtherType),
		payload:   l2send.DefaultPayload,
		duration:  time.Second,
		linkRate:  100_000_000,
		logFormat: "text",
		logLevel:  "info",
	}
}

// job is the resolved positional arguments.
type job struct {
	iface string
	count int
	src   net.HardwareAddr
	dst   net.HardwareAddr
}

const autoArg = "auto"

func parseFlags(args []string) (*appConfig, []string, bool, error) {
	d := defaultConfig()
	fs := flag.NewFlagSet("l2-send", flag.ContinueOnError)
	etherType := fs.Uint("ethertype", d.etherType, "EtherType of generated frames")
	payload := fs.Int("payload", d.payload, fmt.Sprintf("Payload length in bytes (%d..%d)", l2send.MinPayload, l2send.MaxPayload))
	sequence := fs.Bool("seq", false, "Stamp a big-endian sequence number into the first 4 payload bytes")
	gap := fs.Duration("gap", 0, "Pause between frames (0 floods)")
	duration := fs.Duration("duration", d.duration, "Traffic duration used when <count> is auto")
	linkRate := fs.Int64("link-rate", d.linkRate, "Link rate in bits/s used when <count> is auto")
	progress := fs.Int("progress", 0, "Log every N frames at debug level (0 disables)")
	logFormat := fs.String("log-format", d.logFormat, "Log format: text|json")
	logLevel := fs.String("log-level", d.logLevel, "Log level: debug|info|warn|error")
	metricsAddr := fs.String("metrics-addr", "", "Metrics HTTP listen address; empty disables")
	showVersion := fs.Bool("version", false, "Print version and exit")
	fs.Usage = func() {
		out := fs.Output()
		fmt.Fprintf(out, "Usage: l2-send [flags] <iface> <count|auto> <host-mac|auto> <dut-mac>\n\nFlags:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return nil, nil, false, err
	}
	set := map[string]struct{}{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = struct{}{} })
	cfg := &appConfig{
		etherType:   *etherType,
		payload:     *payload,
		sequence:    *sequence,
		gap:         *gap,
		duration:    *duration,
		linkRate:    *linkRate,
		progress:    *progress,
		logFormat:   *logFormat,
		logLevel:    *logLevel,
		metricsAddr: *metricsAddr,
	}
	if *showVersion {
		return cfg, nil, true, nil
	}
	if err := applyEnvOverrides(cfg, set); err != nil {
		return nil, nil, false, fmt.Errorf("environment override error: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, nil, false, err
	}
	return cfg, fs.Args(), false, nil
}

func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if c.etherType < 0x0600 || c.etherType > 0xffff {
		return fmt.Errorf("ethertype must be in [0x0600,0xffff] (got 0x%x)", c.etherType)
	}
	if c.payload < l2send.MinPayload || c.payload > l2send.MaxPayload {
		return fmt.Errorf("payload must be in [%d,%d] (got %d)", l2send.MinPayload, l2send.MaxPayload, c.payload)
	}
	if c.gap < 0 || c.duration < 0 {
		return fmt.Errorf("gap and duration must be >= 0")
	}
	if c.linkRate <= 0 {
		return fmt.Errorf("link-rate must be > 0")
	}
	if c.progress < 0 {
		return fmt.Errorf("progress must be >= 0")
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

func (c *appConfig) senderOptions() []l2send.Option {
	return []l2send.Option{
		l2send.WithEtherType(ethernet.EtherType(c.etherType)),
		l2send.WithPayloadLen(c.payload),
		l2send.WithSequence(c.sequence),
		l2send.WithGap(c.gap),
		l2send.WithProgress(c.progress),
	}
}

// interfaceMAC is a test hook.
var interfaceMAC = l2send.InterfaceMAC

func parseJob(args []string, c *appConfig) (job, error) {
	if len(args) != 4 {
		return job{}, fmt.Errorf("expected 4 arguments, got %d", len(args))
	}
	j := job{iface: args[0]}
	if args[1] == autoArg {
		j.count = l2send.PacketsForDuration(c.duration, c.payload, c.linkRate)
	} else {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 0 {
			return job{}, fmt.Errorf("invalid packet count %q", args[1])
		}
		j.count = n
	}
	var err error
	if args[2] == autoArg {
		j.src, err = interfaceMAC(j.iface)
	} else {
		j.src, err = l2send.ParseMAC(args[2])
	}
	if err != nil {
		return job{}, fmt.Errorf("host mac: %w", err)
	}
	if j.dst, err = l2send.ParseMAC(args[3]); err != nil {
		return job{}, fmt.Errorf("dut mac: %w", err)
	}
	return j, nil
}

// applyEnvOverrides maps L2SEND_* variables unless the flag was set.
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
	if v, ok := get("ethertype", "L2SEND_ETHERTYPE"); ok {
		if n, err := strconv.ParseUint(v, 0, 16); err == nil {
			c.etherType = uint(n)
		} else {
			fail("L2SEND_ETHERTYPE", v)
		}
	}
	if v, ok := get("payload", "L2SEND_PAYLOAD"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.payload = n
		} else {
			fail("L2SEND_PAYLOAD", v)
		}
	}
	if v, ok := get("gap", "L2SEND_GAP"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			c.gap = d
		} else {
			fail("L2SEND_GAP", v)
		}
	}
	if v, ok := get("duration", "L2SEND_DURATION"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			c.duration = d
		} else {
			fail("L2SEND_DURATION", v)
		}
	}
	if v, ok := get("link-rate", "L2SEND_LINK_RATE"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.linkRate = n
		} else {
			fail("L2SEND_LINK_RATE", v)
		}
	}
	if v, ok := get("log-format", "L2SEND_LOG_FORMAT"); ok {
		c.logFormat = v
	}
	if v, ok := get("log-level", "L2SEND_LOG_LEVEL"); ok {
		c.logLevel = v
	}
	if v, ok := get("metrics-addr", "L2SEND_METRICS"); ok {
		c.metricsAddr = v
	}
	return firstErr
}
