package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	project    string
	cacheDir   string
	verbose    bool
	json       bool
}

type contextKey string

const ctxKeyApp contextKey = "app"

// commandFactory builds one subcommand bound to the shared options.
type commandFactory func(opts *rootOptions) *cobra.Command

var subcommands = []commandFactory{
	newInitCmd,
	withApp(newListCmd),
	withApp(newStatusCmd),
	withApp(newFetchCmd),
	withApp(newPushCmd),
	withApp(newInvalidateCmd),
	withApp(newVersionsCmd),
	withApp(newCleanCmd),
	withApp(newStatsCmd),
	withApp(newServeCmd),
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Fetch named datasets through a local, staleness-aware cache",
		Long: `catalog resolves named datasets declared in .datacatalog/catalogs/*.yaml to
local files. Objects are downloaded from S3 or the local filesystem only when
the cached copy is missing or the remote changed.`,
		Example:       "catalog fetch events\ncatalog fetch --all\ncatalog push events ./events.csv",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "settings file (default <project>/datacatalog.yaml)")
	flags.StringVarP(&opts.project, "project", "C", "", "project root (default: discovered from the working directory)")
	flags.StringVar(&opts.cacheDir, "cache-dir", "", "override the cache directory")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	flags.BoolVar(&opts.json, "json", false, "JSON logs and JSON command output")

	for _, factory := range subcommands {
		cmd.AddCommand(factory(opts))
	}
	return cmd
}

// withApp opens the application before the command runs and closes it after.
func withApp(factory commandFactory) commandFactory {
	return func(opts *rootOptions) *cobra.Command {
		cmd := factory(opts)
		run := cmd.RunE
		cmd.RunE = func(c *cobra.Command, args []string) (err error) {
			a, err := openApp(c.Context(), opts, c.OutOrStdout(), c.ErrOrStderr())
			if err != nil {
				return err
			}
			defer multierr.AppendInvoke(&err, multierr.Close(a))
			c.SetContext(context.WithValue(c.Context(), ctxKeyApp, a))
			return run(c, args)
		}
		return cmd
	}
}

func appFrom(cmd *cobra.Command) (*app, error) {
	a, ok := cmd.Context().Value(ctxKeyApp).(*app)
	if !ok {
		return nil, fmt.Errorf("%s: application not initialised", cmd.Name())
	}
	return a, nil
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}
