// Command catalog fetches, pushes and serves named datasets.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"example.com/datacatalog/pkg/catalog"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		newPrinter(os.Stderr, false).errorf("%v", err)
		os.Exit(exitCode(err))
	}
}

// exitCode distinguishes configuration mistakes (2) from runtime failures (1).
func exitCode(err error) int {
	var ce *catalog.Error
	if errors.As(err, &ce) && ce.Kind == catalog.KindConfig {
		return 2
	}
	return 1
}
