package main

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kstaniek/xscope-harness/internal/l2send"
)

func TestParseFlagsDefaults(t *testing.T) {
	cfg, rest, showVersion, err := parseFlags([]string{"eth0", "10", "auto", "00:11:22:33:44:55"})
	require.NoError(t, err)
	assert.False(t, showVersion)
	assert.Equal(t, uint(0x2222), cfg.etherType)
	assert.Equal(t, 1500, cfg.payload)
	assert.Len(t, rest, 4)
}

func TestParseFlagsEnvPrecedence(t *testing.T) {
	t.Setenv("L2SEND_PAYLOAD", "64")
	t.Setenv("L2SEND_ETHERTYPE", "0x88b5")
	cfg, _, _, err := parseFlags([]string{"-payload", "100"})
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.payload, "flag wins over env")
	assert.Equal(t, uint(0x88b5), cfg.etherType)
}

func TestParseFlagsRejects(t *testing.T) {
	for _, args := range [][]string{
		{"-payload", "10"},
		{"-ethertype", "0x10"},
		{"-link-rate", "0"},
		{"-log-format", "xml"},
	} {
		_, _, _, err := parseFlags(args)
		assert.Error(t, err, "%v", args)
	}
	t.Setenv("L2SEND_GAP", "soon")
	_, _, _, err := parseFlags(nil)
	assert.Error(t, err)
}

func TestParseJob(t *testing.T) {
	old := interfaceMAC
	t.Cleanup(func() { interfaceMAC = old })
	ifMAC := net.HardwareAddr{0x02, 0, 0, 0, 0, 1}
	interfaceMAC = func(string) (net.HardwareAddr, error) { return ifMAC, nil }

	cfg := defaultConfig()
	j, err := parseJob([]string{"eth0", "5", "auto", "00:11:22:33:44:55"}, cfg)
	require.NoError(t, err)
	assert.Equal(t, 5, j.count)
	assert.Equal(t, ifMAC, j.src)
	assert.Equal(t, "00:11:22:33:44:55", j.dst.String())

	cfg.duration = time.Second
	j, err = parseJob([]string{"eth0", "auto", "02:00:00:00:00:02", "00:11:22:33:44:55"}, cfg)
	require.NoError(t, err)
	assert.Equal(t, l2send.PacketsForDuration(time.Second, 1500, 100_000_000), j.count)
	assert.Equal(t, "02:00:00:00:00:02", j.src.String())
}

func TestParseJobErrors(t *testing.T) {
	old := interfaceMAC
	t.Cleanup(func() { interfaceMAC = old })
	interfaceMAC = func(string) (net.HardwareAddr, error) { return nil, errors.New("no such interface") }

	cfg := defaultConfig()
	for name, args := range map[string][]string{
		"arity":    {"eth0", "5", "auto"},
		"count":    {"eth0", "many", "02:00:00:00:00:02", "00:11:22:33:44:55"},
		"negative": {"eth0", "-1", "02:00:00:00:00:02", "00:11:22:33:44:55"},
		"hostAuto": {"eth0", "5", "auto", "00:11:22:33:44:55"},
		"dut":      {"eth0", "5", "02:00:00:00:00:02", "00:11:22:33:44"},
	} {
		_, err := parseJob(args, cfg)
		assert.Error(t, err, name)
	}
	_, err := parseJob([]string{"eth0", "5", "02:00:00:00:00:02", "zz:11:22:33:44:55"}, cfg)
	assert.ErrorIs(t, err, l2send.ErrAddressParse)
}
