package capture

import (
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/kstaniek/xscope-harness/internal/metrics"
)

// Recorder receives captured records. Implementations must be safe for
// concurrent use: events arrive on the dispatch goroutine while commands
// and phases are recorded by the driver.
type Recorder interface {
	Record(Record)
}

// NoopRecorder discards everything; usable as a zero value.
type NoopRecorder struct{}

func (NoopRecorder) Record(Record) {}

// FileRecorder appends CBOR records to a file.
type FileRecorder struct {
	mu      sync.Mutex
	file    *os.File
	encoder *cbor.Encoder
	closed  bool
}

// NewFileRecorder opens (or creates) path for appending.
func NewFileRecorder(path string) (*FileRecorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileRecorder{file: f, encoder: NewEncoder(f)}, nil
}

// Record appends r. Encoding errors are counted, never surfaced: capture
// must not disturb the run.
func (l *FileRecorder) Record(r Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	if err := l.encoder.Encode(r); err != nil {
		metrics.IncError(metrics.ErrCaptureWrite)
	}
}

// Close closes the file. Later Record calls are ignored.
func (l *FileRecorder) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}

// Tagged stamps every record that has no run id with runID.
func Tagged(r Recorder, runID string) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return tagged{next: r, runID: runID}
}

type tagged struct {
	next  Recorder
	runID string
}

func (t tagged) Record(r Record) {
	if r.RunID == "" {
		r.RunID = t.runID
	}
	t.next.Record(r)
}

var (
	_ Recorder = (*FileRecorder)(nil)
	_ Recorder = NoopRecorder{}
)
