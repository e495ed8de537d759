// Command xscope-cmds-gen writes the C header enumerating the device
// command opcodes for the firmware build.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kstaniek/xscope-harness/internal/command"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <file.h>\n", filepath.Base(os.Args[0]))
		os.Exit(1)
	}
	if err := generate(os.Args[1]); err != nil {
		fmt.Fprintf(os.Stderr, "xscope-cmds-gen: %v\n", err)
		os.Exit(1)
	}
}

func generate(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := command.WriteHeader(f, filepath.Base(path)); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
