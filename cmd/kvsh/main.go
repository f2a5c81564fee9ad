// kvsh is an interactive shell for bytekv store files.
//
// Usage:
//
//	kvsh [flags] <store-file>
//
// Flags:
//
//	-m, --mode      Persistence mode: rename (default) or backup
//	-s, --strict    Sync every write to stable storage
//	-c, --config    Config file (default: .kvsh.json, if present)
//	-v, --verbose   Log store events at debug level
//	-e, --exec      Run commands (separated by ';') and exit
//
// Commands (in REPL):
//
//	get <key>               Print the value of a key
//	put <key> <value>       Insert or replace a key
//	del <key>               Remove a key
//	dump [limit]            List entries in physical order
//	len                     Count entries
//	info                    Show store and file info
//	clear                   Remove every entry
//	bulk <count> [prefix]   Insert N random entries in one batch
//	export <file>           Write a snapshot to file
//	import <file>           Merge entries from a snapshot file
//	config                  Show the effective configuration
//	help                    Show this help
//	exit / quit / q         Exit
//
// Keys and values are plain text, or hex when prefixed with 0x.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/bytekv/pkg/kv"
)

func main() {
	os.Exit(run(os.Args[1:], os.Environ(), os.Stdout, os.Stderr))
}

func run(args, env []string, out, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("kvsh", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	mode := flagSet.StringP("mode", "m", "", "persistence mode: rename or backup")
	strict := flagSet.BoolP("strict", "s", false, "sync every write to stable storage")
	configPath := flagSet.StringP("config", "c", "", "config file")
	verbose := flagSet.BoolP("verbose", "v", false, "log store events at debug level")
	execLine := flagSet.StringP("exec", "e", "", "run commands separated by ';' and exit")
	help := flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		printUsage(errOut, flagSet)

		return 2
	}

	if *help {
		printUsage(out, flagSet)

		return 0
	}

	if flagSet.NArg() != 1 {
		fmt.Fprintln(errOut, "error: missing store file path")
		printUsage(errOut, flagSet)

		return 2
	}

	var cli Config
	if flagSet.Changed("mode") {
		cli.Mode = *mode
	}

	if flagSet.Changed("strict") {
		cli.Strict = strict
	}

	if *verbose {
		cli.LogLevel = zerolog.LevelDebugValue
	}

	workDir, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	cfg, sources, err := LoadConfig(workDir, *configPath, cli, env)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	log := newLogger(errOut, cfg.LogLevel)
	log.Debug().Str("global", sources.Global).Str("project", sources.Project).Msg("config loaded")

	path := flagSet.Arg(0)
	repl := newREPL(path, cfg, log, out)

	if err := repl.store.Load(); err != nil {
		fmt.Fprintln(errOut, "error:", err)

		if errors.Is(err, kv.ErrCorrupted) {
			fmt.Fprintln(errOut, "hint: the file is not a valid store; 'clear' replaces it")
		}

		if *execLine != "" {
			return 1
		}
	}

	if *execLine != "" {
		for _, line := range strings.Split(*execLine, ";") {
			quit, ok := repl.exec(line)
			if !ok {
				return 1
			}

			if quit {
				break
			}
		}

		return 0
	}

	if err := repl.Run(); err != nil {
		fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	return 0
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: "15:04:05"}).
		Level(lvl).
		With().Timestamp().Logger()
}

func printUsage(w io.Writer, flagSet *flag.FlagSet) {
	fmt.Fprintln(w, "Usage: kvsh [flags] <store-file>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprint(w, flagSet.FlagUsages())
}
