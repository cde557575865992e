package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"example.com/datacatalog/pkg/catalog"
)

// printer renders command output as coloured tables, or as JSON with --json.
type printer struct {
	out  io.Writer
	json bool

	success func(format string, a ...interface{}) string
	warning func(format string, a ...interface{}) string
	failure func(format string, a ...interface{}) string
	info    func(format string, a ...interface{}) string
}

func newPrinter(out io.Writer, asJSON bool) *printer {
	return &printer{
		out:     out,
		json:    asJSON,
		success: color.New(color.FgGreen).SprintfFunc(),
		warning: color.New(color.FgYellow).SprintfFunc(),
		failure: color.New(color.FgRed).SprintfFunc(),
		info:    color.New(color.FgBlue).SprintfFunc(),
	}
}

func (p *printer) emit(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *printer) table(headers []string, rows [][]string) error {
	t := tablewriter.NewTable(p.out)
	t.Header(headers)
	for _, row := range rows {
		if err := t.Append(row); err != nil {
			return err
		}
	}
	return t.Render()
}

func (p *printer) printf(format string, a ...any) {
	fmt.Fprintf(p.out, format, a...)
}

func (p *printer) errorf(format string, a ...any) {
	fmt.Fprintln(p.out, p.failure("error: "+format, a...))
}

func (p *printer) verdict(v catalog.Verdict, err error) string {
	if err != nil {
		return p.failure("error")
	}
	switch v {
	case catalog.Fresh:
		return p.success(v.String())
	case catalog.Stale:
		return p.warning(v.String())
	default:
		return p.info(v.String())
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
