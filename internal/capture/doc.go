// Package capture records a machine-readable trace of one harness run.
//
// Every inbound instrumentation event, every submitted command and every
// driver phase change can be appended to a CBOR file (.xlog by convention).
// The trace is separate from operational logging (slog): it keeps the raw
// bytes exchanged with the device so a failed hardware run can be inspected
// after the fact with xscope-log.
//
//	rec, _ := capture.NewFileRecorder("run.xlog")
//	defer rec.Close()
//	client := control.NewClient(ep, control.WithRecorder(capture.Tagged(rec, runID)))
package capture
