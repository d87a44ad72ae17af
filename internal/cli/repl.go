package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	flag "github.com/spf13/pflag"
	"github.com/peterh/liner"

	"github.com/kvdrive/kvdrive/pkg/kvstore"
)

// ReplCmd opens a path and starts an interactive session over it,
// grounded on the same put/get/del/scan vocabulary a slot-cache
// operator would expect, adapted to the store's append-only semantics.
func ReplCmd(cfg Config) *Command {
	fset := flag.NewFlagSet("repl", flag.ContinueOnError)

	return &Command{
		Flags: fset,
		Usage: "repl <path>",
		Short: "Interactive session against a container file",
		Exec: func(_ context.Context, o *IO, args []string) error {
			path, err := singlePathArg(args)
			if err != nil {
				return err
			}

			store, cleanup, err := openStore(cfg, o, path)
			if err != nil {
				return err
			}
			defer cleanup()

			r := &repl{store: store, out: o.RawWriter()}

			return r.run()
		},
	}
}

type repl struct {
	store *kvstore.Store
	out   io.Writer
	liner *liner.State
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".kvdrive_history")
}

func (r *repl) run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Fprintf(r.out, "kvdrive - %s (%d entries, %d bytes)\n", r.store.Path(), r.store.Len(), r.store.FileSize())
	fmt.Fprintln(r.out, "Type 'help' for available commands.")
	fmt.Fprintln(r.out)

	for {
		line, err := r.liner.Prompt("kvdrive> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out, "\nBye!")
				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		cmdArgs := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			fmt.Fprintln(r.out, "Bye!")
			r.saveHistory()

			return nil

		case "help", "?":
			r.printHelp()

		case "put":
			r.cmdPut(cmdArgs)

		case "get":
			r.cmdGet(cmdArgs)

		case "del", "delete":
			r.cmdDelete(cmdArgs)

		case "exists":
			r.cmdExists(cmdArgs)

		case "scan", "ls", "list":
			r.cmdScan()

		case "len", "count":
			fmt.Fprintln(r.out, r.store.Len())

		case "info":
			fmt.Fprintf(r.out, "%s: %d entries, %d bytes\n", r.store.Path(), r.store.Len(), r.store.FileSize())

		case "compact":
			r.cmdCompact()

		case "clear", "cls":
			fmt.Fprint(r.out, "\033[H\033[2J")

		default:
			fmt.Fprintf(r.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}

	r.saveHistory()

	return nil
}

func (r *repl) saveHistory() {
	path := historyFile()
	if path == "" {
		return
	}

	if f, err := os.Create(path); err == nil {
		r.liner.WriteHistory(f)
		f.Close()
	}
}

func (r *repl) completer(line string) []string {
	cmds := []string{"put", "get", "del", "delete", "exists", "scan", "ls", "list", "len", "count", "info", "compact", "help", "exit", "quit"}

	var out []string

	for _, c := range cmds {
		if strings.HasPrefix(c, line) {
			out = append(out, c)
		}
	}

	return out
}

func (r *repl) printHelp() {
	fmt.Fprintln(r.out, `Commands:
  put <key> <value>   Write a key/value pair
  get <key>            Read a key's value
  del <key>            Delete a key
  exists <key>         Check whether a key is live
  scan                 List all live entries
  len                  Count live entries
  info                 Show store summary
  compact              Reclaim dead space
  clear                Clear the screen
  help                 Show this help
  exit / quit / q      Exit`)
}

func (r *repl) cmdPut(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(r.out, "usage: put <key> <value>")
		return
	}

	key, value := args[0], strings.Join(args[1:], " ")

	if err := r.store.Write([]byte(key), []byte(value)); err != nil {
		fmt.Fprintln(r.out, "error:", err)
	}
}

func (r *repl) cmdGet(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(r.out, "usage: get <key>")
		return
	}

	h, ok, err := r.store.Read([]byte(args[0]))
	if err != nil {
		fmt.Fprintln(r.out, "error:", err)
		return
	}

	if !ok {
		fmt.Fprintln(r.out, "(not found)")
		return
	}
	defer func() { _ = h.Close() }()

	fmt.Fprintln(r.out, string(h.Payload()))
}

func (r *repl) cmdDelete(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(r.out, "usage: del <key>")
		return
	}

	if err := r.store.Delete([]byte(args[0])); err != nil {
		fmt.Fprintln(r.out, "error:", err)
	}
}

func (r *repl) cmdExists(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(r.out, "usage: exists <key>")
		return
	}

	ok, err := r.store.Exists([]byte(args[0]))
	if err != nil {
		fmt.Fprintln(r.out, "error:", err)
		return
	}

	fmt.Fprintln(r.out, ok)
}

func (r *repl) cmdScan() {
	type row struct {
		hash uint64
		n    int
	}

	var rows []row

	for hash, h := range r.store.IterEntries() {
		rows = append(rows, row{hash: hash, n: h.Len()})
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].hash < rows[j].hash })

	for _, row := range rows {
		fmt.Fprintf(r.out, "%016x\t%d bytes\n", row.hash, row.n)
	}

	fmt.Fprintf(r.out, "%d entries\n", len(rows))
}

func (r *repl) cmdCompact() {
	before := r.store.FileSize()

	if err := r.store.Compact(); err != nil {
		fmt.Fprintln(r.out, "error:", err)
		return
	}

	fmt.Fprintf(r.out, "%d -> %d bytes\n", before, r.store.FileSize())
}
