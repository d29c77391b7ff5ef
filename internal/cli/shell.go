package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"
)

// prompter reads shell lines. *liner.State satisfies it.
type prompter interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

func shellCmd() *Command {
	return &Command{
		Flags: flag.NewFlagSet("shell", flag.ContinueOnError),
		Usage: "shell",
		Short: "Run commands interactively against one backend connection",
		Exec: func(ctx context.Context, s *session, _ []string) error {
			line := liner.NewLiner()
			defer line.Close()
			line.SetCtrlCAborts(true)
			line.SetCompleter(complete)

			history := historyFile()
			if f, err := os.Open(history); err == nil {
				_, _ = line.ReadHistory(f)
				f.Close()
			}
			err := repl(ctx, s, line)
			if history != "" {
				if f, err := os.Create(history); err == nil {
					_, _ = line.WriteHistory(f)
					f.Close()
				}
			}
			return err
		},
	}
}

// repl runs shell lines until exit or end of input. Command errors are
// printed and the loop continues.
func repl(ctx context.Context, s *session, p prompter) error {
	fmt.Fprintln(s.out, "docload shell. Type 'help' for commands, 'exit' to quit.")
	for {
		input, err := p.Prompt("docload> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		p.AppendHistory(input)

		words, err := splitLine(input)
		if err != nil {
			fmt.Fprintln(s.errOut, "error:", err)
			continue
		}
		switch words[0] {
		case "exit", "quit":
			return nil
		case "help", "?":
			printCommands(s.out)
			continue
		}
		c := findCommand(words[0])
		if c == nil {
			fmt.Fprintf(s.errOut, "error: unknown command: %s\n", words[0])
			continue
		}
		if err := c.Run(ctx, s, words[1:]); err != nil {
			fmt.Fprintln(s.errOut, "error:", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func complete(line string) []string {
	var out []string
	for _, c := range append(commands(), &Command{Usage: "help"}, &Command{Usage: "exit"}) {
		if strings.HasPrefix(c.Name(), line) {
			out = append(out, c.Name())
		}
	}
	return out
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".docload_history")
}
