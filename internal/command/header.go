package command

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// WriteHeader emits the C enum shared with the firmware build. name is the
// header file name; it becomes the include guard.
func WriteHeader(w io.Writer, name string) error {
	guard := strings.ReplaceAll(name, ".", "_")
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "#ifndef __%s__\n", guard)
	fmt.Fprintf(bw, "#define __%s__\n\n", guard)
	fmt.Fprint(bw, "typedef enum {\n")
	for _, d := range defs {
		fmt.Fprintf(bw, "\t%s = %d,\n", d.symbol, d.op)
	}
	fmt.Fprint(bw, "}xscope_cmds_t;\n\n")
	fmt.Fprint(bw, "#endif\n")
	return bw.Flush()
}
