package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/jacentio/docload/loader"
)

// Command defines a CLI command with unified help generation.
type Command struct {
	// Flags defines command-specific flags.
	Flags *flag.FlagSet

	// Usage is the usage string shown after "docload" in help. The first
	// word is the command name.
	Usage string

	// Short is a one-line description for the global help listing.
	Short string

	// Exec runs the command after flags are parsed.
	Exec func(ctx context.Context, s *session, args []string) error
}

// Name returns the command name (first word of Usage).
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")
	return name
}

// HelpLine returns the short help line for the main usage display.
func (c *Command) HelpLine() string {
	return fmt.Sprintf("  %-40s %s", c.Usage, c.Short)
}

// PrintHelp prints the full help output for "docload <cmd> --help".
func (c *Command) PrintHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: docload", c.Usage)
	fmt.Fprintln(w)
	fmt.Fprintln(w, c.Short)
	if c.Flags != nil && c.Flags.HasFlags() {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Flags:")
		fmt.Fprint(w, c.Flags.FlagUsages())
	}
}

// Run parses flags and executes the command.
func (c *Command) Run(ctx context.Context, s *session, args []string) error {
	c.Flags.SetOutput(io.Discard)
	if err := c.Flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			c.PrintHelp(s.out)
			return nil
		}
		return err
	}
	return c.Exec(ctx, s, c.Flags.Args())
}

// session is the state shared by the commands of one process or shell.
type session struct {
	out    io.Writer
	errOut io.Writer
	conn   *conn
	config loader.Config
	logger *slog.Logger
}

// loader returns a Loader for one request. Every command, and every shell
// line, gets its own cache.
func (s *session) loader() *loader.Loader {
	return loader.New(s.conn.backend, s.config)
}

// record is one document in command output.
type record struct {
	Key  *loader.Key     `json:"key"`
	Data loader.Document `json:"data"`
}

func (s *session) printJSON(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(s.out, string(raw))
	return err
}
