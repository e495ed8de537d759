package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kstaniek/xscope-harness/internal/capture"
	"github.com/kstaniek/xscope-harness/internal/event"
)

func writeCapture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.xlog")
	fr, err := capture.NewFileRecorder(path)
	require.NoError(t, err)
	rec := capture.Tagged(fr, "run-1")
	rec.Record(capture.PhaseRecord("connecting", "localhost:10101"))
	rec.Record(capture.EventRecord(event.ConnectAck(10)))
	rec.Record(capture.CommandRecord([]byte{1}, "shutdown"))
	rec.Record(capture.EventRecord(event.Print(2, 20, "hello\n")))
	rec.Record(capture.EventRecord(event.CommandResult(30, 0)))
	require.NoError(t, fr.Close())
	return path
}

func TestRunText(t *testing.T) {
	path := writeCapture(t)
	var out, errOut bytes.Buffer
	require.Equal(t, 0, run([]string{path}, &out, &errOut), errOut.String())
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], "PHASE")
	assert.Contains(t, lines[0], "phase=connecting")
	assert.Contains(t, lines[2], "bytes=01")
	assert.Contains(t, lines[3], `payload="hello\n"`)
	assert.Contains(t, lines[3], "run=run-1")
}

func TestRunFilteredJSON(t *testing.T) {
	path := writeCapture(t)
	var out, errOut bytes.Buffer
	require.Equal(t, 0, run([]string{"-format", "json", "-kind", "event", "-dir", "in", path}, &out, &errOut), errOut.String())
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	var jr jsonRecord
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &jr))
	assert.Equal(t, "EVENT", jr.Kind)
	assert.Equal(t, uint32(2), jr.ProbeID)
	assert.Equal(t, "68656c6c6f0a", jr.Payload)
	assert.Equal(t, "run-1", jr.RunID)
}

func TestRunOtherRun(t *testing.T) {
	path := writeCapture(t)
	var out, errOut bytes.Buffer
	require.Equal(t, 0, run([]string{"-run", "run-2", path}, &out, &errOut))
	assert.Empty(t, out.String())
}

func TestRunErrors(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 1, run(nil, &out, &errOut))
	assert.Equal(t, 1, run([]string{"-kind", "bogus", "x"}, &out, &errOut))
	assert.Equal(t, 1, run([]string{"-dir", "up", "x"}, &out, &errOut))
	assert.Equal(t, 1, run([]string{"-format", "xml", "x"}, &out, &errOut))
	assert.Equal(t, 1, run([]string{filepath.Join(t.TempDir(), "missing")}, &out, &errOut))
}
