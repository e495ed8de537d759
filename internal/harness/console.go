package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kstaniek/xscope-harness/internal/command"
	"github.com/kstaniek/xscope-harness/internal/control"
)

// LineReader supplies console input; io.EOF ends the session.
type LineReader interface {
	Readline() (string, error)
}

// Console connects per plan and then issues commands read from in, one at
// a time, until EOF, "quit" or ctx is done. Command failures are reported
// to out and do not end the session. The outcome only fails when the
// connection could not be established.
func (d *Driver) Console(ctx context.Context, plan Plan, in LineReader, out io.Writer) Outcome {
	res := Outcome{Directive: DirectiveConnect, Code: control.NoResult}
	if err := d.connect(ctx, plan, !plan.SkipHandshake); err != nil {
		res.Err = err
		return d.finish(res)
	}
	d.setPhase(Connected, "")
	fmt.Fprintf(out, "connected to %s:%s, type help for commands\n", plan.Host, plan.Port)
	for {
		if err := ctx.Err(); err != nil {
			res.OK = true
			res.Code = 0
			return d.finish(res)
		}
		line, err := in.Readline()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				d.logger.Debug("console_read_error", "error", err)
			}
			res.OK = true
			res.Code = 0
			return d.finish(res)
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "quit", "exit":
			res.OK = true
			res.Code = 0
			return d.finish(res)
		case "help", "?":
			for _, name := range command.Directives() {
				fmt.Fprintf(out, "  %s\n", command.Usage(name))
			}
			fmt.Fprintln(out, "  quit")
			continue
		}
		cmd, err := command.Parse(fields[0], fields[1:])
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		code, err := d.issue(ctx, fields[0], cmd)
		d.setPhase(Connected, "")
		switch {
		case err == nil:
			fmt.Fprintf(out, "%s: ok\n", fields[0])
		case errors.Is(err, control.ErrCommandTimeout):
			fmt.Fprintf(out, "%s: no response\n", fields[0])
		default:
			fmt.Fprintf(out, "%s: failed (code %d)\n", fields[0], code)
		}
	}
}
