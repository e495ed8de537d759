// Command xscope-log prints a capture file as text or JSON lines.
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kstaniek/xscope-harness/internal/capture"
)

func main() { os.Exit(run(os.Args[1:], os.Stdout, os.Stderr)) }

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("xscope-log", flag.ContinueOnError)
	fs.SetOutput(stderr)
	runID := fs.String("run", "", "Only records of this run id")
	kind := fs.String("kind", "", "Only records of this kind: event|command|phase")
	dir := fs.String("dir", "", "Only records of this direction: in|out|local")
	format := fs.String("format", "text", "Output format: text|json")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: xscope-log [flags] <capture-file>\n\nFlags:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 1
	}
	filter, err := buildFilter(*runID, *kind, *dir)
	if err != nil {
		fmt.Fprintf(stderr, "xscope-log: %v\n", err)
		return 1
	}
	if *format != "text" && *format != "json" {
		fmt.Fprintf(stderr, "xscope-log: invalid format %q\n", *format)
		return 1
	}
	r, err := capture.NewFilteredReader(fs.Arg(0), filter)
	if err != nil {
		fmt.Fprintf(stderr, "xscope-log: %v\n", err)
		return 1
	}
	defer func() { _ = r.Close() }()

	bw := bufio.NewWriter(stdout)
	defer func() { _ = bw.Flush() }()
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return 0
		}
		if err != nil {
			_ = bw.Flush()
			fmt.Fprintf(stderr, "xscope-log: %v\n", err)
			return 1
		}
		if err := writeRecord(bw, rec, *format); err != nil {
			fmt.Fprintf(stderr, "xscope-log: %v\n", err)
			return 1
		}
	}
}

func buildFilter(runID, kind, dir string) (capture.Filter, error) {
	f := capture.Filter{RunID: runID}
	switch strings.ToLower(kind) {
	case "":
	case "event":
		k := capture.KindEvent
		f.Kind = &k
	case "command":
		k := capture.KindCommand
		f.Kind = &k
	case "phase":
		k := capture.KindPhase
		f.Kind = &k
	default:
		return f, fmt.Errorf("invalid kind %q", kind)
	}
	switch strings.ToLower(dir) {
	case "":
	case "in":
		d := capture.DirectionIn
		f.Direction = &d
	case "out":
		d := capture.DirectionOut
		f.Direction = &d
	case "local":
		d := capture.DirectionLocal
		f.Direction = &d
	default:
		return f, fmt.Errorf("invalid direction %q", dir)
	}
	return f, nil
}

// jsonRecord is the JSON lines shape; payload is hex.
type jsonRecord struct {
	Time       string `json:"time"`
	RunID      string `json:"run_id,omitempty"`
	Direction  string `json:"dir"`
	Kind       string `json:"kind"`
	ProbeID    uint32 `json:"probe,omitempty"`
	DeviceTime uint64 `json:"device_time,omitempty"`
	Length     uint32 `json:"length,omitempty"`
	Scalar     uint64 `json:"scalar,omitempty"`
	Payload    string `json:"payload,omitempty"`
	Phase      string `json:"phase,omitempty"`
	Note       string `json:"note,omitempty"`
}

func writeRecord(w io.Writer, r capture.Record, format string) error {
	ts := r.Timestamp.UTC().Format(time.RFC3339Nano)
	if format == "json" {
		b, err := json.Marshal(jsonRecord{
			Time: ts, RunID: r.RunID, Direction: r.Direction.String(), Kind: r.Kind.String(),
			ProbeID: r.ProbeID, DeviceTime: r.DeviceTime, Length: r.Length, Scalar: r.Scalar,
			Payload: fmt.Sprintf("%x", r.Payload), Phase: r.Phase, Note: r.Note,
		})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", b)
		return err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %-5s %-7s", ts, r.Direction, r.Kind)
	if r.RunID != "" {
		fmt.Fprintf(&sb, " run=%s", r.RunID)
	}
	switch r.Kind {
	case capture.KindEvent:
		fmt.Fprintf(&sb, " probe=%d len=%d scalar=%d", r.ProbeID, r.Length, r.Scalar)
		if len(r.Payload) > 0 {
			fmt.Fprintf(&sb, " payload=%s", strconv.Quote(string(r.Payload)))
		}
	case capture.KindCommand:
		fmt.Fprintf(&sb, " bytes=% x", r.Payload)
	case capture.KindPhase:
		fmt.Fprintf(&sb, " phase=%s", r.Phase)
	}
	if r.Note != "" {
		fmt.Fprintf(&sb, " note=%s", strconv.Quote(r.Note))
	}
	sb.WriteByte('\n')
	_, err := io.WriteString(w, sb.String())
	return err
}
