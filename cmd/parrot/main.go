// Command parrot serves character dialogue from a retrieval cache and falls
// back to a language model for unseen messages.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/parrot/internal/app"
	"github.com/MrWong99/parrot/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI and maps the outcome to a process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(stderr, "parrot: %v (copy configs/example.yaml to get started)\n", err)
		} else {
			fmt.Fprintf(stderr, "parrot: %v\n", err)
		}
		return 1
	}
	return 0
}

// cli carries state shared by all subcommands.
type cli struct {
	configPath string
	envFile    string
	logFormat  string

	cfg      *config.Config
	logLevel *slog.LevelVar
}

func newRootCmd() *cobra.Command {
	c := &cli{logLevel: new(slog.LevelVar)}

	root := &cobra.Command{
		Use:   "parrot",
		Short: "Character dialogue cache with language model fallback",
		Long: `parrot answers "what would this character say?" from a cache of known lines.

Exact and semantically similar messages are served from the dialogue stores;
everything else is generated by a language model in the character's voice and
written back to the cache.

Example usage:
  parrot serve --config config.yaml
  parrot ingest --character "The Joker" https://imsdb.com/scripts/Dark-Knight,-The.html
  parrot migrate --config config.yaml`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd)
		},
	}

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "optional dotenv file loaded before the config is parsed")
	root.PersistentFlags().StringVar(&c.logFormat, "log-format", "text", "log output format: text or json")

	root.AddCommand(newServeCmd(c), newIngestCmd(c), newMigrateCmd(c))
	return root
}

// load reads the env file and the config, then installs the default logger.
func (c *cli) load(cmd *cobra.Command) error {
	if err := config.LoadDotEnv(c.envFile); err != nil {
		return err
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	c.cfg = cfg

	logger, err := newLogger(cmd.ErrOrStderr(), c.logFormat, c.logLevel)
	if err != nil {
		return err
	}
	c.logLevel.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(logger)
	return nil
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(w io.Writer, format string, level *slog.LevelVar) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: level}
	switch format {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q; valid values: text, json", format)
	}
}
