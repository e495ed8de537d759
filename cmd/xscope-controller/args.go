package main

import (
	"errors"
	"fmt"

	"github.com/kstaniek/xscope-harness/internal/command"
	"github.com/kstaniek/xscope-harness/internal/harness"
)

var errArgs = errors.New("bad arguments")

func directiveList() []string { return command.Directives() }

// parseArgs turns the positional arguments into a plan. Commands are
// encoded here once so a usage error never opens the channel.
func parseArgs(args []string, cfg *appConfig) (harness.Plan, error) {
	minArgs := 3
	if cfg.interactive {
		minArgs = 2
	}
	if len(args) < minArgs {
		return harness.Plan{}, fmt.Errorf("%w: expected <address> <port> <directive> [args...]", errArgs)
	}
	plan := harness.Plan{
		Host:          args[0],
		Port:          args[1],
		Directive:     harness.DirectiveConnect,
		SkipHandshake: cfg.skipHandshake,
	}
	if plan.Host == "" || (plan.Port == "" && plan.Host != mdnsAddress) {
		return harness.Plan{}, fmt.Errorf("%w: empty address or port", errArgs)
	}
	if len(args) == 2 {
		return plan, nil
	}
	if cfg.interactive && (len(args) != 3 || args[2] != harness.DirectiveConnect) {
		return harness.Plan{}, fmt.Errorf("%w: -interactive takes <address> <port> [connect]", errArgs)
	}
	plan.Directive = args[2]
	plan.Args = args[3:]
	if plan.Directive == harness.DirectiveConnect {
		if len(plan.Args) != 0 {
			return harness.Plan{}, fmt.Errorf("%w: connect takes no arguments", errArgs)
		}
		return plan, nil
	}
	if _, err := command.Parse(plan.Directive, plan.Args); err != nil {
		return harness.Plan{}, err
	}
	return plan, nil
}
