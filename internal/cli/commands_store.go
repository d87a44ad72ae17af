package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/kvdrive/kvdrive/pkg/kvstore"
)

// OpenCmd creates the container file at <path> if absent and reports
// its summary. An existing file is only changed if opening it truncates
// a torn tail.
func OpenCmd(cfg Config) *Command {
	fset := flag.NewFlagSet("open", flag.ContinueOnError)

	return &Command{
		Flags: fset,
		Usage: "open <path>",
		Short: "Create or inspect a container file",
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

			o.Printf("%s: %d entries, %d bytes\n", store.Path(), store.Len(), store.FileSize())

			return nil
		},
	}
}

// PutCmd appends or overwrites a key's value.
func PutCmd(cfg Config) *Command {
	fset := flag.NewFlagSet("put", flag.ContinueOnError)
	stdin := fset.Bool("stdin", false, "Read the value from stdin as a stream instead of an argument")

	return &Command{
		Flags: fset,
		Usage: "put <path> <key> [value]",
		Short: "Write a key/value pair",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if *stdin {
				if len(args) != 2 {
					return fmt.Errorf("%w: put --stdin <path> <key>", errUsage)
				}
			} else if len(args) != 3 {
				return fmt.Errorf("%w: put <path> <key> <value>", errUsage)
			}

			path, key := args[0], args[1]

			store, cleanup, err := openStore(cfg, o, path)
			if err != nil {
				return err
			}
			defer cleanup()

			if *stdin {
				if err := store.WriteStream([]byte(key), os.Stdin); err != nil {
					return WithExitCode(2, err)
				}

				return nil
			}

			if err := store.Write([]byte(key), []byte(args[2])); err != nil {
				return WithExitCode(2, err)
			}

			return nil
		},
	}
}

// GetCmd reads a key's current value and writes it to stdout.
func GetCmd(cfg Config) *Command {
	fset := flag.NewFlagSet("get", flag.ContinueOnError)

	return &Command{
		Flags: fset,
		Usage: "get <path> <key>",
		Short: "Read a key's value",
		Exec: func(_ context.Context, o *IO, args []string) error {
			path, key, err := twoArgs(args, "get <path> <key>")
			if err != nil {
				return err
			}

			store, cleanup, err := openStore(cfg, o, path)
			if err != nil {
				return err
			}
			defer cleanup()

			h, ok, err := store.Read([]byte(key))
			if err != nil {
				return WithExitCode(2, err)
			}

			if !ok {
				return WithExitCode(1, fmt.Errorf("%w: %q", kvstore.ErrKeyNotFound, key))
			}
			defer func() { _ = h.Close() }()

			_, _ = o.RawWriter().Write(h.Payload())

			return nil
		},
	}
}

// DeleteCmd appends a tombstone for a key.
func DeleteCmd(cfg Config) *Command {
	fset := flag.NewFlagSet("delete", flag.ContinueOnError)

	return &Command{
		Flags: fset,
		Usage: "delete <path> <key>",
		Short: "Delete a key",
		Exec: func(_ context.Context, o *IO, args []string) error {
			path, key, err := twoArgs(args, "delete <path> <key>")
			if err != nil {
				return err
			}

			store, cleanup, err := openStore(cfg, o, path)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := store.Delete([]byte(key)); err != nil {
				return WithExitCode(2, err)
			}

			return nil
		},
	}
}

// ExistsCmd reports whether a key currently has a live value.
func ExistsCmd(cfg Config) *Command {
	fset := flag.NewFlagSet("exists", flag.ContinueOnError)

	return &Command{
		Flags: fset,
		Usage: "exists <path> <key>",
		Short: "Check whether a key is live",
		Exec: func(_ context.Context, o *IO, args []string) error {
			path, key, err := twoArgs(args, "exists <path> <key>")
			if err != nil {
				return err
			}

			store, cleanup, err := openStore(cfg, o, path)
			if err != nil {
				return err
			}
			defer cleanup()

			ok, err := store.Exists([]byte(key))
			if err != nil {
				return WithExitCode(2, err)
			}

			if !ok {
				o.Println("false")
				return WithExitCode(1, kvstore.ErrKeyNotFound)
			}

			o.Println("true")

			return nil
		},
	}
}

// listRow is one entry in "list"'s output.
type listRow struct {
	KeyHash uint64 `json:"key_hash" yaml:"key_hash"`
	Length  uint64 `json:"length"   yaml:"length"`
}

// ListCmd enumerates every live entry's key hash and payload length.
func ListCmd(cfg Config) *Command {
	fset := flag.NewFlagSet("list", flag.ContinueOnError)
	format := fset.String("format", "text", "Output format: text or yaml")

	return &Command{
		Flags: fset,
		Usage: "list <path> [--format text|yaml]",
		Short: "List all live entries",
		Exec: func(_ context.Context, o *IO, args []string) error {
			path, err := singlePathArg(args)
			if err != nil {
				return err
			}

			if *format != "text" && *format != "yaml" {
				return fmt.Errorf("%w: --format must be text or yaml", errUsage)
			}

			store, cleanup, err := openStore(cfg, o, path)
			if err != nil {
				return err
			}
			defer cleanup()

			var rows []listRow

			for hash, h := range store.IterEntries() {
				rows = append(rows, listRow{KeyHash: hash, Length: uint64(h.Len())})
			}

			sort.Slice(rows, func(i, j int) bool { return rows[i].KeyHash < rows[j].KeyHash })

			if *format == "yaml" {
				enc := yaml.NewEncoder(o.RawWriter())
				defer func() { _ = enc.Close() }()

				return enc.Encode(rows)
			}

			for _, r := range rows {
				o.Printf("%016x\t%d\n", r.KeyHash, r.Length)
			}

			return nil
		},
	}
}

// CompactCmd rewrites the container file, discarding dead space left by
// overwrites and tombstones.
func CompactCmd(cfg Config) *Command {
	fset := flag.NewFlagSet("compact", flag.ContinueOnError)

	return &Command{
		Flags: fset,
		Usage: "compact <path>",
		Short: "Reclaim space from overwritten and deleted entries",
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

			before := store.FileSize()

			if err := store.Compact(); err != nil {
				if errors.Is(err, kvstore.ErrCompactionConflict) {
					return WithExitCode(1, err)
				}

				return WithExitCode(2, err)
			}

			o.Printf("%s: %d -> %d bytes\n", path, before, store.FileSize())

			return nil
		},
	}
}

// CopyCmd duplicates a container file without opening it as a store.
func CopyCmd(_ Config) *Command {
	fset := flag.NewFlagSet("copy", flag.ContinueOnError)

	return &Command{
		Flags: fset,
		Usage: "copy <src> <dst>",
		Short: "Copy a container file",
		Exec: func(_ context.Context, _ *IO, args []string) error {
			src, dst, err := twoArgs(args, "copy <src> <dst>")
			if err != nil {
				return err
			}

			if err := kvstore.CopyFile(nil, src, dst); err != nil {
				return WithExitCode(2, err)
			}

			return nil
		},
	}
}

// MoveCmd relocates a container file, replacing dst if it exists.
func MoveCmd(_ Config) *Command {
	fset := flag.NewFlagSet("move", flag.ContinueOnError)

	return &Command{
		Flags: fset,
		Usage: "move <src> <dst>",
		Short: "Move a container file",
		Exec: func(_ context.Context, _ *IO, args []string) error {
			src, dst, err := twoArgs(args, "move <src> <dst>")
			if err != nil {
				return err
			}

			if err := kvstore.MoveFile(src, dst); err != nil {
				return WithExitCode(2, err)
			}

			return nil
		},
	}
}

var errUsage = errors.New("cli: wrong number of arguments")

func singlePathArg(args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%w: expected exactly one path argument", errUsage)
	}

	return args[0], nil
}

func twoArgs(args []string, usage string) (string, string, error) {
	if len(args) != 2 {
		return "", "", fmt.Errorf("%w: %s", errUsage, usage)
	}

	return args[0], args[1], nil
}
