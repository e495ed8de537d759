package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// profile is the YAML form of appConfig. Durations use Go syntax ("10s").
type profile struct {
	Backend            string  `yaml:"backend"`
	LogFormat          string  `yaml:"log_format"`
	LogLevel           string  `yaml:"log_level"`
	MetricsAddr        *string `yaml:"metrics_addr"`
	LogMetricsInterval string  `yaml:"log_metrics_interval"`
	PollInterval       string  `yaml:"poll_interval"`
	HandshakeTimeout   string  `yaml:"handshake_timeout"`
	CommandTimeout     string  `yaml:"command_timeout"`
	DialTimeout        string  `yaml:"dial_timeout"`
	HelloTimeout       string  `yaml:"hello_timeout"`
	MDNSTimeout        string  `yaml:"mdns_timeout"`
	EventQueue         int     `yaml:"event_queue"`
	SkipHandshake      *bool   `yaml:"skip_handshake"`
	Capture            string  `yaml:"capture"`
}

func applyProfileFile(c *appConfig, path string, set map[string]struct{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	if err := applyProfile(c, data, set); err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	return nil
}

// applyProfile fills fields from YAML unless the matching flag was set.
// Unknown keys are rejected so typos do not pass silently.
func applyProfile(c *appConfig, data []byte, set map[string]struct{}) error {
	var p profile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	has := func(name string) bool { _, ok := set[name]; return ok }
	str := func(name, v string, dst *string) {
		if v != "" && !has(name) {
			*dst = v
		}
	}
	var firstErr error
	dur := func(name, key, v string, dst *time.Duration) {
		if v == "" || has(name) {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			if firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %q", key, v)
			}
			return
		}
		*dst = d
	}
	str("backend", p.Backend, &c.backend)
	str("log-format", p.LogFormat, &c.logFormat)
	str("log-level", p.LogLevel, &c.logLevel)
	if p.MetricsAddr != nil && !has("metrics-addr") {
		c.metricsAddr = *p.MetricsAddr
	}
	dur("log-metrics-interval", "log_metrics_interval", p.LogMetricsInterval, &c.logMetricsEvery)
	dur("poll-interval", "poll_interval", p.PollInterval, &c.pollInterval)
	dur("handshake-timeout", "handshake_timeout", p.HandshakeTimeout, &c.handshakeTO)
	dur("command-timeout", "command_timeout", p.CommandTimeout, &c.commandTO)
	dur("dial-timeout", "dial_timeout", p.DialTimeout, &c.dialTO)
	dur("hello-timeout", "hello_timeout", p.HelloTimeout, &c.helloTO)
	dur("mdns-timeout", "mdns_timeout", p.MDNSTimeout, &c.mdnsTimeout)
	if p.EventQueue > 0 && !has("event-queue") {
		c.eventQueue = p.EventQueue
	}
	if p.SkipHandshake != nil && !has("skip-handshake") {
		c.skipHandshake = *p.SkipHandshake
	}
	str("capture", p.Capture, &c.capturePath)
	return firstErr
}
