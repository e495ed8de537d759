// Package harness sequences one test-harness run: connect to the device,
// optionally issue a single command, classify the outcome and tear the
// channel down exactly once.
package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/xscope-harness/internal/capture"
	"github.com/kstaniek/xscope-harness/internal/command"
	"github.com/kstaniek/xscope-harness/internal/control"
	"github.com/kstaniek/xscope-harness/internal/logging"
)

// DirectiveConnect performs the handshake only.
const DirectiveConnect = "connect"

// Controller is what the driver needs from the control channel;
// *control.Client implements it.
type Controller interface {
	Open(ctx context.Context, host, port string) error
	AwaitConnected(ctx context.Context) error
	Issue(ctx context.Context, cmd []byte) (byte, error)
	Close() error
}

var _ Controller = (*control.Client)(nil)

// Phase is the driver's position in the run.
type Phase int32

const (
	Idle Phase = iota
	Connecting
	Connected
	CommandInFlight
	Done
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case CommandInFlight:
		return "command_in_flight"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// Plan is one run: where to connect and what to do once connected.
type Plan struct {
	Host string
	Port string
	// Directive is "connect" or a device command name.
	Directive string
	Args      []string
	// SkipHandshake submits the command without waiting for the
	// Connect-Ack.
	SkipHandshake bool
}

// Outcome of a run.
type Outcome struct {
	OK        bool
	Directive string
	// Code is the device result byte; control.NoResult when none arrived.
	Code byte
	Err  error
}

// ExitCode maps the outcome to a process status.
func (o Outcome) ExitCode() int {
	if o.OK {
		return 0
	}
	return 1
}

// Driver runs plans against one Controller. A Driver is single use: its
// Controller is closed when the run finishes.
type Driver struct {
	ctl      Controller
	logger   *slog.Logger
	rec      capture.Recorder
	phase    atomic.Int32
	downOnce sync.Once
	downErr  error
}

type Option func(*Driver)

func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.logger = l
		}
	}
}

func WithRecorder(r capture.Recorder) Option {
	return func(d *Driver) {
		if r != nil {
			d.rec = r
		}
	}
}

func NewDriver(ctl Controller, opts ...Option) *Driver {
	d := &Driver{ctl: ctl, logger: logging.L(), rec: capture.NoopRecorder{}}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Phase reports the current phase; safe from any goroutine.
func (d *Driver) Phase() Phase { return Phase(d.phase.Load()) }

func (d *Driver) setPhase(p Phase, note string) {
	prev := Phase(d.phase.Swap(int32(p)))
	if prev == p {
		return
	}
	d.logger.Debug("phase", "from", prev.String(), "to", p.String())
	d.rec.Record(capture.PhaseRecord(p.String(), note))
}

// Teardown closes the controller. Only the first call has an effect.
func (d *Driver) Teardown() error {
	d.downOnce.Do(func() {
		d.downErr = d.ctl.Close()
		if d.downErr != nil {
			d.logger.Warn("teardown_error", "error", d.downErr)
		}
	})
	return d.downErr
}

// Run executes plan and always ends in Done with the controller closed.
func (d *Driver) Run(ctx context.Context, plan Plan) Outcome {
	out := Outcome{Directive: plan.Directive, Code: control.NoResult}
	var cmd []byte
	if plan.Directive != DirectiveConnect {
		var err error
		if cmd, err = command.Parse(plan.Directive, plan.Args); err != nil {
			out.Err = err
			return d.finish(out)
		}
	}

	if err := d.connect(ctx, plan, cmd == nil || !plan.SkipHandshake); err != nil {
		out.Err = err
		return d.finish(out)
	}
	if cmd == nil {
		out.OK = true
		out.Code = 0
		return d.finish(out)
	}

	out.Code, out.Err = d.issue(ctx, plan.Directive, cmd)
	out.OK = out.Err == nil
	return d.finish(out)
}

func (d *Driver) connect(ctx context.Context, plan Plan, await bool) error {
	d.setPhase(Connecting, plan.Host+":"+plan.Port)
	if err := d.ctl.Open(ctx, plan.Host, plan.Port); err != nil {
		d.logger.Error("connect_failed", "host", plan.Host, "port", plan.Port, "error", err)
		return err
	}
	if !await {
		return nil
	}
	if err := d.ctl.AwaitConnected(ctx); err != nil {
		d.logger.Error("handshake_failed", "host", plan.Host, "port", plan.Port, "error", err)
		return err
	}
	d.setPhase(Connected, "")
	return nil
}

// issue runs one command; non-zero results become ErrCommandFailed.
func (d *Driver) issue(ctx context.Context, name string, cmd []byte) (byte, error) {
	d.setPhase(CommandInFlight, name)
	code, err := d.ctl.Issue(ctx, cmd)
	switch {
	case err != nil:
		d.logger.Error("command_failed", "command", name, "code", code, "error", err)
		return code, err
	case code != 0:
		err = fmt.Errorf("%w: %s returned %d", control.ErrCommandFailed, name, code)
		d.logger.Error("command_failed", "command", name, "code", code)
		return code, err
	}
	d.logger.Info("command_ok", "command", name)
	return 0, nil
}

func (d *Driver) finish(out Outcome) Outcome {
	note := "ok"
	if !out.OK {
		note = "fail"
		if errors.Is(out.Err, context.Canceled) {
			note = "cancelled"
		}
	}
	d.setPhase(Done, note)
	_ = d.Teardown()
	return out
}
