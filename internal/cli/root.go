// Package cli wires the flowsync commands on top of the app package.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"flowsync/internal/config"
	"flowsync/pkg/logger"
)

type globalFlags struct {
	verbose  bool
	logLevel string
	store    string
}

type streams struct {
	out io.Writer
	err io.Writer
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := NewRootCommand(stdout, stderr)
	root.SetArgs(args)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	flags := &globalFlags{}
	std := streams{out: stdout, err: stderr}

	cmd := &cobra.Command{
		Use:           "flowsync",
		Short:         "Reconcile FlowDistributor banks and bank operations with a remote store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&flags.store, "store", "", "remote store: firestore, postgres or memory (default from SYNC_STORE)")

	cmd.AddCommand(
		newSyncCommand(flags, std),
		newServeCommand(flags, std),
		newMigrateCommand(flags, std),
	)

	return cmd
}

// setup loads configuration and builds the logger for a command. Flags take
// precedence over the environment.
func setup(flags *globalFlags, std streams) (config.Config, logger.Logger, error) {
	opts := logger.Options{
		Output:  std.err,
		Level:   firstNonEmpty(flags.logLevel, os.Getenv("LOG_LEVEL")),
		Format:  os.Getenv("LOG_FORMAT"),
		Env:     os.Getenv("ENV"),
		Verbose: flags.verbose,
	}
	bootstrap := logger.NewWithOptions(opts)

	if flags.store != "" {
		if err := os.Setenv("SYNC_STORE", flags.store); err != nil {
			return config.Config{}, nil, err
		}
	}

	cfg, err := config.Load(bootstrap)
	if err != nil {
		return config.Config{}, nil, err
	}

	// .env may have provided the log settings.
	opts.Level = firstNonEmpty(flags.logLevel, os.Getenv("LOG_LEVEL"))
	opts.Format = os.Getenv("LOG_FORMAT")
	opts.Env = cfg.Env
	return cfg, logger.NewWithOptions(opts), nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
