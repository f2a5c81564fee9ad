package main

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/rs/zerolog"

	"github.com/calvinalkan/bytekv/pkg/fs"
	"github.com/calvinalkan/bytekv/pkg/kv"
)

// REPL holds the state for the interactive session.
type REPL struct {
	store   *kv.Store
	path    string
	cfg     Config
	fsys    fs.FS
	out     io.Writer
	log     zerolog.Logger
	liner   *liner.State
	history string
}

func newREPL(path string, cfg Config, log zerolog.Logger, out io.Writer) *REPL {
	fsys := fs.NewReal()
	opts := kv.FileOptions{Strict: *cfg.Strict, FS: fsys, Logger: &log}

	var backend kv.Backend
	if cfg.Mode == modeBackup {
		backend = kv.NewBackupBackend(path, opts)
	} else {
		backend = kv.NewRenameBackend(path, opts)
	}

	return &REPL{
		store:   kv.Open(backend, kv.WithLogger(log)),
		path:    path,
		cfg:     cfg,
		fsys:    fsys,
		out:     out,
		log:     log,
		history: historyFile(),
	}
}

// historyFile returns the path to the history file.
func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".kvsh_history")
}

// Run starts the REPL loop.
func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if r.history != "" {
		if f, err := os.Open(r.history); err == nil {
			_, _ = r.liner.ReadHistory(f)
			_ = f.Close()
		}
	}

	r.printf("kvsh - %s (mode=%s, strict=%v)\n", r.path, r.cfg.Mode, *r.cfg.Strict)
	r.println("Type 'help' for available commands.")
	r.println()

	defer r.saveHistory()

	for {
		line, err := r.liner.Prompt("kvsh> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				r.println("\nBye!")

				return nil
			}

			return fmt.Errorf("reading input: %w", err)
		}

		if strings.TrimSpace(line) == "" {
			continue
		}

		r.liner.AppendHistory(line)

		if quit, _ := r.exec(line); quit {
			return nil
		}
	}
}

func (r *REPL) saveHistory() {
	if r.history == "" {
		return
	}

	if f, err := os.Create(r.history); err == nil {
		_, _ = r.liner.WriteHistory(f)
		_ = f.Close()
	}
}

var commands = []string{
	"get", "put", "del", "delete", "dump", "ls",
	"len", "count", "info", "clear", "bulk",
	"export", "import", "config", "help", "exit", "quit", "q",
}

// completer provides tab completion for commands.
func (r *REPL) completer(line string) []string {
	var completions []string

	lower := strings.ToLower(line)
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}

	return completions
}

// exec runs one command line. quit reports an exit command; ok is false if
// the command failed.
func (r *REPL) exec(line string) (quit, ok bool) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false, true
	}

	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	var err error

	switch cmd {
	case "exit", "quit", "q":
		r.println("Bye!")

		return true, true
	case "help", "?":
		r.printHelp()
	case "get":
		err = r.cmdGet(args)
	case "put", "set":
		err = r.cmdPut(args)
	case "del", "delete", "rm":
		err = r.cmdDelete(args)
	case "dump", "ls":
		err = r.cmdDump(args)
	case "len", "count":
		err = r.cmdLen()
	case "info":
		err = r.cmdInfo()
	case "clear":
		err = r.cmdClear()
	case "bulk":
		err = r.cmdBulk(args)
	case "export":
		err = r.cmdExport(args)
	case "import":
		err = r.cmdImport(args)
	case "config":
		err = r.cmdConfig()
	default:
		err = fmt.Errorf("unknown command: %s (type 'help' for commands)", cmd)
	}

	if err != nil {
		r.printf("Error: %v\n", err)

		return false, false
	}

	return false, true
}

func (r *REPL) printHelp() {
	r.println("Commands:")
	r.println("  get <key>               Print the value of a key")
	r.println("  put <key> <value>       Insert or replace a key")
	r.println("  del <key>               Remove a key")
	r.println("  dump [limit]            List entries in physical order")
	r.println("  len                     Count entries")
	r.println("  info                    Show store and file info")
	r.println("  clear                   Remove every entry")
	r.println("  bulk <count> [prefix]   Insert N random entries in one batch")
	r.println("  export <file>           Write a snapshot to file")
	r.println("  import <file>           Merge entries from a snapshot file")
	r.println("  config                  Show the effective configuration")
	r.println("  help                    Show this help")
	r.println("  exit / quit / q         Exit")
	r.println()
	r.println("Keys and values: plain text (e.g. 'foo') or hex with 0x prefix (e.g. '0xdeadbeef').")
}

// parseBytes decodes user input: hex if prefixed with 0x, plain text otherwise.
func parseBytes(s string) ([]byte, error) {
	if rest, ok := strings.CutPrefix(s, "0x"); ok {
		b, err := hex.DecodeString(rest)
		if err != nil {
			return nil, fmt.Errorf("invalid hex %q: %w", s, err)
		}

		return b, nil
	}

	return []byte(s), nil
}

// formatBytes shows printable ASCII quoted and anything else as 0x hex.
func formatBytes(b []byte) string {
	for _, c := range b {
		if c < 32 || c > 126 {
			return "0x" + hex.EncodeToString(b)
		}
	}

	return strconv.Quote(string(b))
}

func (r *REPL) cmdGet(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: get <key>")
	}

	key, err := parseBytes(args[0])
	if err != nil {
		return err
	}

	value, ok, err := r.store.Get(key)
	if err != nil {
		return err
	}

	if !ok {
		r.println("(not found)")

		return nil
	}

	r.println(formatBytes(value))

	return nil
}

func (r *REPL) cmdPut(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: put <key> <value>")
	}

	key, err := parseBytes(args[0])
	if err != nil {
		return err
	}

	value, err := parseBytes(strings.Join(args[1:], " "))
	if err != nil {
		return err
	}

	start := time.Now()

	if err := r.store.Put(key, value); err != nil {
		return err
	}

	r.printf("OK (%s)\n", time.Since(start).Round(time.Microsecond))

	return nil
}

func (r *REPL) cmdDelete(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: del <key>")
	}

	key, err := parseBytes(args[0])
	if err != nil {
		return err
	}

	removed, err := r.store.Remove(key)
	if err != nil {
		return err
	}

	if removed {
		r.println("Deleted")
	} else {
		r.println("(not found)")
	}

	return nil
}

func (r *REPL) cmdDump(args []string) error {
	limit := -1

	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 {
			return fmt.Errorf("invalid limit %q", args[0])
		}

		limit = n
	}

	snap, err := r.store.Snapshot()
	if err != nil {
		return err
	}

	shown := 0
	errLimit := errors.New("limit reached")

	err = kv.Walk(snap, func(key, value []byte) error {
		if limit >= 0 && shown >= limit {
			return errLimit
		}

		r.printf("%s = %s\n", formatBytes(key), formatBytes(value))
		shown++

		return nil
	})
	if err != nil && !errors.Is(err, errLimit) {
		return err
	}

	r.printf("(%d shown)\n", shown)

	return nil
}

func (r *REPL) cmdLen() error {
	n, err := r.store.Len()
	if err != nil {
		return err
	}

	r.println(n)

	return nil
}

func (r *REPL) cmdInfo() error {
	n, err := r.store.Len()
	if err != nil {
		return err
	}

	size, err := r.store.Size()
	if err != nil {
		return err
	}

	r.printf("path:    %s\n", r.path)
	r.printf("mode:    %s\n", r.cfg.Mode)
	r.printf("strict:  %v\n", *r.cfg.Strict)
	r.printf("entries: %d\n", n)
	r.printf("buffer:  %d bytes\n", size)

	if info, err := r.fsys.Stat(r.path); err == nil {
		r.printf("file:    %d bytes, modified %s\n", info.Size(), info.ModTime().Format(time.RFC3339))
	} else {
		r.println("file:    (not created yet)")
	}

	if exists, _ := r.fsys.Exists(r.path + kv.BackupSuffix); exists {
		r.println("backup:  present (unfinished write)")
	}

	return nil
}

func (r *REPL) cmdClear() error {
	if err := r.store.Clear(); err != nil {
		return err
	}

	r.println("Cleared")

	return nil
}

func (r *REPL) cmdBulk(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: bulk <count> [prefix]")
	}

	count, err := strconv.Atoi(args[0])
	if err != nil || count <= 0 {
		return fmt.Errorf("invalid count %q", args[0])
	}

	prefix := "key-"
	if len(args) > 1 {
		prefix = args[1]
	}

	pairs := make([]kv.KV, 0, count)

	for i := range count {
		value := make([]byte, 8)
		_, _ = rand.Read(value)

		pairs = append(pairs, kv.Put([]byte(prefix+strconv.Itoa(i)), value))
	}

	start := time.Now()

	if err := r.store.PutBatch(pairs...); err != nil {
		return err
	}

	r.printf("Inserted %d entries in %s\n", count, time.Since(start).Round(time.Microsecond))

	return nil
}

func (r *REPL) cmdExport(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: export <file>")
	}

	snap, err := r.store.Snapshot()
	if err != nil {
		return err
	}

	if err := r.fsys.WriteFileAtomic(args[0], snap, 0o644); err != nil {
		return fmt.Errorf("export: %w", err)
	}

	r.printf("Exported %d bytes to %s\n", len(snap), args[0])

	return nil
}

func (r *REPL) cmdImport(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: import <file>")
	}

	data, err := r.fsys.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}

	var pairs []kv.KV

	err = kv.Walk(data, func(key, value []byte) error {
		pairs = append(pairs, kv.Put(bytes.Clone(key), bytes.Clone(value)))

		return nil
	})
	if err != nil {
		return fmt.Errorf("import %s: %w", args[0], err)
	}

	if err := r.store.PutBatch(pairs...); err != nil {
		return err
	}

	r.printf("Imported %d entries\n", len(pairs))

	return nil
}

func (r *REPL) cmdConfig() error {
	s, err := FormatConfig(r.cfg)
	if err != nil {
		return err
	}

	r.println(s)

	return nil
}

func (r *REPL) printf(format string, a ...any) {
	_, _ = fmt.Fprintf(r.out, format, a...)
}

func (r *REPL) println(a ...any) {
	_, _ = fmt.Fprintln(r.out, a...)
}
