// prioritycheck verifies that every call edge in a task table goes from a
// less important task to a more important one. It exits 1 on any violation.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"i2cserver-go/services/config"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	var (
		file  string
		board string
		list  bool
	)
	fs := pflag.NewFlagSet("prioritycheck", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&file, "file", "f", "", "YAML config file to check")
	fs.StringVarP(&board, "board", "b", "", "embedded board config to check")
	fs.BoolVar(&list, "list", false, "list embedded boards and exit")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	if list {
		for _, b := range config.Boards() {
			fmt.Fprintln(stdout, b)
		}
		return 0
	}

	var (
		f   *config.File
		err error
	)
	switch {
	case file != "" && board != "":
		fmt.Fprintln(stderr, "error: --file and --board are exclusive")
		return 2
	case file != "":
		f, err = config.Load(file)
	case board != "":
		f, err = config.ForBoard(board)
	default:
		fmt.Fprintln(stderr, "error: one of --file or --board is required")
		return 2
	}
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	}

	rep := f.CheckPriorities()
	_, _ = rep.WriteTo(stdout)
	if !rep.OK() {
		return 1
	}
	return 0
}
