// Package cli implements the docload command line tool.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/jacentio/docload/loader"
)

// globalFlags are parsed before the command name.
type globalFlags struct {
	fs         *flag.FlagSet
	configPath *string
	workDir    *string
	backend    *string
	region     *string
	profile    *string
	endpoint   *string
	prefix     *string
	seed       *string
	consistent *bool
	verbose    *bool
	batchWait  *time.Duration
}

func newGlobalFlags() *globalFlags {
	fs := flag.NewFlagSet("docload", flag.ContinueOnError)
	fs.SetInterspersed(false)
	return &globalFlags{
		fs:         fs,
		configPath: fs.StringP("config", "c", "", "config file (default: "+ConfigFileName+" in the working directory)"),
		workDir:    fs.StringP("cwd", "C", "", "working directory for the default config file"),
		backend:    fs.StringP("backend", "b", "", "backend: memory or dynamodb"),
		region:     fs.String("region", "", "AWS region"),
		profile:    fs.String("profile", "", "AWS shared config profile"),
		endpoint:   fs.String("endpoint", "", "DynamoDB endpoint, e.g. http://localhost:8000"),
		prefix:     fs.String("table-prefix", "", "table name prefix for unregistered kinds"),
		seed:       fs.String("seed", "", "JSONC file of documents to load into the memory backend"),
		consistent: fs.Bool("consistent", false, "use strongly consistent reads"),
		verbose:    fs.BoolP("verbose", "v", false, "log debug output to stderr"),
		batchWait:  fs.Duration("batch-wait", time.Millisecond, "read coalescing window"),
	}
}

// config loads the config file and applies flag overrides.
func (g *globalFlags) config(env map[string]string) (Config, error) {
	path, mustExist := *g.configPath, true
	if path == "" {
		path, mustExist = env["DOCLOAD_CONFIG"], true
	}
	if path == "" {
		path, mustExist = filepath.Join(*g.workDir, ConfigFileName), false
	}
	cfg, err := LoadConfig(path, mustExist)
	if err != nil {
		return Config{}, err
	}

	if g.fs.Changed("backend") {
		cfg.Backend = *g.backend
	}
	if g.fs.Changed("region") {
		cfg.Region = *g.region
	}
	if g.fs.Changed("profile") {
		cfg.Profile = *g.profile
	}
	if g.fs.Changed("endpoint") {
		cfg.Endpoint = *g.endpoint
	}
	if g.fs.Changed("table-prefix") {
		cfg.TablePrefix = *g.prefix
	}
	if g.fs.Changed("seed") {
		cfg.Seed = *g.seed
	}
	if g.fs.Changed("consistent") {
		cfg.ConsistentRead = *g.consistent
	}
	if cfg.Seed != "" && !filepath.IsAbs(cfg.Seed) {
		cfg.Seed = filepath.Join(*g.workDir, cfg.Seed)
	}
	return cfg, cfg.validate()
}

// Run is the main entry point. Returns exit code.
func Run(ctx context.Context, out, errOut io.Writer, args []string, env map[string]string) int {
	g := newGlobalFlags()
	g.fs.SetOutput(io.Discard)
	if err := g.fs.Parse(args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage(out, g)
			return 0
		}
		fmt.Fprintln(errOut, "error:", err)
		printUsage(errOut, g)
		return 1
	}
	rest := g.fs.Args()
	if len(rest) == 0 {
		printUsage(out, g)
		return 0
	}

	name := rest[0]
	var cmd *Command
	if name == "shell" {
		cmd = shellCmd()
	} else {
		cmd = findCommand(name)
	}
	if cmd == nil {
		fmt.Fprintln(errOut, "error: unknown command:", name)
		printUsage(errOut, g)
		return 1
	}

	cfg, err := g.config(env)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	level := slog.LevelWarn
	if *g.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level}))

	lcfg := loader.DefaultConfig()
	lcfg.Logger = logger
	if g.fs.Changed("batch-wait") {
		lcfg.BatchWait = *g.batchWait
	}

	c, err := connect(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	s := &session{out: out, errOut: errOut, conn: c, config: lcfg, logger: logger}

	if err := cmd.Run(ctx, s, rest[1:]); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	return 0
}

func printUsage(w io.Writer, g *globalFlags) {
	fmt.Fprintln(w, "docload - request-scoped document loader")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: docload [global flags] <command> [args]")
	fmt.Fprintln(w)
	printCommands(w)
	fmt.Fprintf(w, "  %-40s %s\n", "shell", "Run commands interactively against one backend connection")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Global flags:")
	fmt.Fprint(w, g.fs.FlagUsages())
}

func printCommands(w io.Writer) {
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands() {
		fmt.Fprintln(w, c.HelpLine())
	}
}
