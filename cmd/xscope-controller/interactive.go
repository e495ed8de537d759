package main

import (
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/kstaniek/xscope-harness/internal/harness"
)

func newConsole() (*readline.Instance, error) {
	items := []readline.PrefixCompleterInterface{
		readline.PcItem("help"),
		readline.PcItem("quit"),
	}
	for _, d := range directiveList() {
		items = append(items, readline.PcItem(d))
	}
	return readline.NewEx(&readline.Config{
		Prompt:          "xscope> ",
		AutoComplete:    readline.NewPrefixCompleter(items...),
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
}

// consoleReader maps readline's interrupt to end of input.
type consoleReader struct{ rl *readline.Instance }

func (c consoleReader) Readline() (string, error) {
	line, err := c.rl.Readline()
	if err == readline.ErrInterrupt {
		return "", io.EOF
	}
	return strings.TrimSpace(line), err
}

var _ harness.LineReader = consoleReader{}
