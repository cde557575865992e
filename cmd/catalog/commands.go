package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"example.com/datacatalog/pkg/config"
	"example.com/datacatalog/pkg/ipc"
)

func newInitCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create .datacatalog/catalogs/default.yaml in the project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root := opts.project
			if root == "" {
				wd, err := os.Getwd()
				if err != nil {
					return err
				}
				root = wd
			}
			p := newPrinter(cmd.OutOrStdout(), opts.json)
			path, err := config.InitProject(root)
			if err != nil {
				return err
			}
			if path == "" {
				p.printf("%s\n", p.warning("catalog already initialised in %s", config.CatalogsPath(root)))
				return nil
			}
			p.printf("%s\n", p.success("created %s", path))
			return nil
		},
	}
}

func newListCmd(_ *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the datasets declared in the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			datasets := a.catalog.Datasets()
			if a.print.json {
				return a.print.emit(datasets)
			}
			rows := make([][]string, 0, len(datasets))
			for _, ds := range datasets {
				kind := "file"
				if ds.IsGlob() {
					kind = a.print.info("glob")
				}
				rows = append(rows, []string{ds.Name, kind, ds.Source, ds.CachePath, ds.Description})
			}
			return a.print.table([]string{"Name", "Kind", "Source", "Cache Path", "Description"}, rows)
		},
	}
}

func newPushCmd(_ *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "push <dataset> <file>",
		Short:   "Upload a local file to a dataset's source and cache it",
		Example: "catalog push events ./out/events.csv",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := a.withTimeout(cmd.Context())
			defer cancel()
			if err := a.catalog.Push(ctx, args[0], args[1]); err != nil {
				return err
			}
			ds, err := a.catalog.Dataset(args[0])
			if err != nil {
				return err
			}
			if a.print.json {
				return a.print.emit(map[string]string{"dataset": ds.Name, "source": ds.Source})
			}
			a.print.printf("%s\n", a.print.success("pushed %s to %s", args[1], ds.Source))
			return nil
		},
	}
}

func newInvalidateCmd(_ *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate <dataset...>",
		Short: "Forget cached metadata so the next fetch downloads again",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			removed := make(map[string]int, len(args))
			var errs error
			for _, name := range args {
				n, err := a.catalog.Invalidate(cmd.Context(), name)
				if err != nil {
					errs = multierr.Append(errs, err)
					continue
				}
				removed[name] = n
			}
			if a.print.json {
				if err := a.print.emit(removed); err != nil {
					return err
				}
				return errs
			}
			for _, name := range args {
				if n, ok := removed[name]; ok {
					a.print.printf("%s: %d record(s) invalidated\n", name, n)
				}
			}
			return errs
		},
	}
}

func newVersionsCmd(_ *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "versions <dataset>",
		Short: "List the stored versions of a dataset, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := a.withTimeout(cmd.Context())
			defer cancel()
			versions, err := a.catalog.Versions(ctx, args[0], limit)
			if err != nil {
				return err
			}
			if a.print.json {
				return a.print.emit(versions)
			}
			rows := make([][]string, 0, len(versions))
			for _, v := range versions {
				latest := ""
				if v.IsLatest {
					latest = a.print.success("latest")
				}
				if v.IsDeleteMarker {
					latest = a.print.warning("deleted")
				}
				rows = append(rows, []string{v.ID, v.LastModified.UTC().Format(time.RFC3339), formatBytes(v.Size), latest})
			}
			return a.print.table([]string{"Version", "Last Modified", "Size", ""}, rows)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of versions to show (0 for all)")
	return cmd
}

func newCleanCmd(_ *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove cached files that no dataset refers to any more",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			n, err := a.catalog.CleanOrphaned(cmd.Context())
			if a.print.json {
				if perr := a.print.emit(map[string]int{"removed": n}); perr != nil {
					return perr
				}
				return err
			}
			a.print.printf("removed %d orphaned entr%s\n", n, plural(n, "y", "ies"))
			return err
		},
	}
}

func newStatsCmd(_ *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache size per dataset and in total",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			total, err := a.catalog.Stats()
			if err != nil {
				return err
			}
			sizes := make(map[string]int64)
			var errs error
			for _, ds := range a.catalog.Datasets() {
				n, err := a.catalog.CacheSize(cmd.Context(), ds.Name)
				if err != nil {
					errs = multierr.Append(errs, err)
					continue
				}
				sizes[ds.Name] = n
			}
			if a.print.json {
				if err := a.print.emit(map[string]any{
					"root":     a.catalog.CacheDir().Root(),
					"files":    total.Files,
					"bytes":    total.Bytes,
					"datasets": sizes,
				}); err != nil {
					return err
				}
				return errs
			}
			rows := make([][]string, 0, len(sizes)+1)
			for _, ds := range a.catalog.Datasets() {
				if n, ok := sizes[ds.Name]; ok {
					rows = append(rows, []string{ds.Name, formatBytes(n)})
				}
			}
			rows = append(rows, []string{a.print.info("total (%d files)", total.Files), formatBytes(total.Bytes)})
			a.print.printf("cache: %s\n", a.catalog.CacheDir().Root())
			if err := a.print.table([]string{"Dataset", "Size"}, rows); err != nil {
				return err
			}
			return errs
		},
	}
}

func newServeCmd(_ *rootOptions) *cobra.Command {
	var socket, listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the catalog over a Unix socket or loopback HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			if socket == "" && listen == "" {
				socket, listen = a.settings.Serve.Socket, a.settings.Serve.Listen
			}
			srv, err := ipc.NewServer(a.catalog, a.log)
			if err != nil {
				return err
			}
			a.log.Info("starting ipc server", zap.String("socket", socket), zap.String("listen", listen))
			err = srv.Serve(cmd.Context(), socket, listen)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&socket, "socket", "", "Unix socket path (overrides serve.socket)")
	cmd.Flags().StringVar(&listen, "listen", "", "TCP address (overrides serve.listen)")
	return cmd
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
