package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"example.com/datacatalog/pkg/catalog"
)

type fetchFlags struct {
	all       bool
	dryRun    bool
	versionID string
	asOf      string
}

func newFetchCmd(_ *rootOptions) *cobra.Command {
	var f fetchFlags
	cmd := &cobra.Command{
		Use:   "fetch [dataset...]",
		Short: "Download datasets that are missing or stale and print their local paths",
		Example: `catalog fetch events
catalog fetch --all
catalog fetch events --as-of 2024-05-01`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			if err := f.validate(args); err != nil {
				return err
			}
			if f.all {
				args = datasetNames(a.catalog)
			}
			switch {
			case f.dryRun:
				return runStatus(cmd, a, args)
			case f.versionID != "" || f.asOf != "":
				return runFetchVersion(cmd, a, args[0], f)
			default:
				return runFetch(cmd, a, args, f.all)
			}
		},
	}
	cmd.Flags().BoolVarP(&f.all, "all", "a", false, "fetch every dataset in the catalog")
	cmd.Flags().BoolVarP(&f.dryRun, "dry-run", "n", false, "report what would be downloaded without downloading")
	cmd.Flags().StringVar(&f.versionID, "version-id", "", "fetch a specific object version")
	cmd.Flags().StringVar(&f.asOf, "as-of", "", "fetch the version current at this time (RFC3339 or YYYY-MM-DD)")
	return cmd
}

func (f fetchFlags) validate(args []string) error {
	versioned := f.versionID != "" || f.asOf != ""
	switch {
	case f.all && len(args) > 0:
		return errors.New("cannot combine --all with dataset names")
	case !f.all && len(args) == 0:
		return errors.New("provide dataset names or use --all")
	case f.versionID != "" && f.asOf != "":
		return errors.New("--version-id and --as-of are mutually exclusive")
	case versioned && (f.all || len(args) != 1):
		return errors.New("versioned fetches take exactly one dataset")
	case versioned && f.dryRun:
		return errors.New("--dry-run cannot be combined with versioned fetches")
	}
	return nil
}

func runFetch(cmd *cobra.Command, a *app, names []string, all bool) error {
	ctx, cancel := a.withTimeout(cmd.Context())
	defer cancel()

	results := make(map[string]catalog.Result, len(names))
	var err error
	if all {
		results, err = a.catalog.FetchAll(ctx)
	} else {
		for _, name := range names {
			res, ferr := a.catalog.Fetch(ctx, name)
			if res.Fetched() {
				results[name] = res
			}
			err = multierr.Append(err, ferr)
		}
	}

	if a.print.json {
		if perr := a.print.emit(results); perr != nil {
			return perr
		}
		return err
	}
	var rows [][]string
	for _, name := range names {
		res, ok := results[name]
		if !ok {
			continue
		}
		for _, p := range res.Paths {
			if p == "" {
				continue
			}
			rows = append(rows, []string{name, p})
		}
	}
	if len(rows) > 0 {
		if perr := a.print.table([]string{"Dataset", "Path"}, rows); perr != nil {
			return perr
		}
	}
	return err
}

func runFetchVersion(cmd *cobra.Command, a *app, name string, f fetchFlags) error {
	q := catalog.VersionQuery{ID: f.versionID}
	if f.asOf != "" {
		at, err := parseTime(f.asOf)
		if err != nil {
			return err
		}
		q.AsOf = at
	}
	ctx, cancel := a.withTimeout(cmd.Context())
	defer cancel()
	path, err := a.catalog.FetchVersion(ctx, name, q)
	if err != nil {
		return err
	}
	if a.print.json {
		return a.print.emit(map[string]string{"dataset": name, "path": path})
	}
	a.print.printf("%s\n", path)
	return nil
}

func newStatusCmd(_ *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status [dataset...]",
		Short: "Show whether each dataset's cached copy is missing, stale or fresh",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			if len(args) == 0 {
				args = datasetNames(a.catalog)
			}
			return runStatus(cmd, a, args)
		},
	}
}

type statusRow struct {
	Dataset string `json:"dataset"`
	catalog.ObjectStatus
	Error string `json:"error,omitempty"`
}

func runStatus(cmd *cobra.Command, a *app, names []string) error {
	ctx, cancel := a.withTimeout(cmd.Context())
	defer cancel()

	var (
		out  []statusRow
		errs error
	)
	for _, name := range names {
		statuses, err := a.catalog.Status(ctx, name)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		for _, st := range statuses {
			row := statusRow{Dataset: name, ObjectStatus: st}
			if st.Err != nil {
				row.Error = st.Err.Error()
			}
			out = append(out, row)
		}
	}

	if a.print.json {
		if err := a.print.emit(out); err != nil {
			return err
		}
		return errs
	}
	rows := make([][]string, 0, len(out))
	for _, r := range out {
		path := r.Path
		if r.Err != nil {
			path = r.Error
		}
		rows = append(rows, []string{r.Dataset, r.Identifier, a.print.verdict(r.Verdict, r.Err), path})
	}
	if err := a.print.table([]string{"Dataset", "Object", "State", "Path"}, rows); err != nil {
		return err
	}
	return errs
}

func datasetNames(c *catalog.Catalog) []string {
	datasets := c.Datasets()
	names := make([]string, len(datasets))
	for i, ds := range datasets {
		names[i] = ds.Name
	}
	return names
}

var timeLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// parseTime accepts RFC3339 timestamps or plain dates, interpreted as UTC.
func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q (want RFC3339 or YYYY-MM-DD)", s)
}
