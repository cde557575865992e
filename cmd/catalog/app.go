package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"example.com/datacatalog/pkg/cache"
	"example.com/datacatalog/pkg/catalog"
	"example.com/datacatalog/pkg/config"
	"example.com/datacatalog/pkg/logging"
	"example.com/datacatalog/pkg/metastore"
	"example.com/datacatalog/pkg/objectstore"
)

// app is everything a subcommand needs, opened once per invocation.
type app struct {
	root     string
	settings *config.Settings
	log      *zap.Logger
	meta     metastore.Store
	catalog  *catalog.Catalog
	print    *printer
}

func openApp(ctx context.Context, opts *rootOptions, stdout, stderr io.Writer) (_ *app, err error) {
	root := opts.project
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		root = wd
	}
	root, err = config.FindProjectRoot(root)
	if err != nil {
		return nil, err
	}

	settings, err := config.Load(opts.configPath, root)
	if err != nil {
		return nil, err
	}
	datasets, catalogCache, err := config.LoadCatalogs(root)
	if err != nil {
		return nil, err
	}
	settings.UseCatalogCacheDir(catalogCache, root)
	if opts.cacheDir != "" {
		settings.SetCacheDir(opts.cacheDir, root)
	}

	level := settings.Log.Level
	if opts.verbose {
		level = "debug"
	}
	log, err := logging.New(logging.Options{
		Level:      level,
		JSON:       opts.json || settings.Log.JSON,
		Out:        stderr,
		File:       settings.Log.File,
		MaxSizeMB:  settings.Log.MaxSize,
		MaxBackups: settings.Log.MaxBackups,
		Compress:   settings.Log.Compress,
	})
	if err != nil {
		return nil, err
	}

	a := &app{
		root:     root,
		settings: settings,
		log:      log,
		print:    newPrinter(stdout, opts.json),
	}
	defer func() {
		if err != nil {
			multierr.AppendInto(&err, a.Close())
		}
	}()

	dir, err := cache.New(settings.CacheDir)
	if err != nil {
		return nil, err
	}
	a.meta, err = openMetadata(ctx, settings, dir)
	if err != nil {
		return nil, err
	}
	store, err := openStore(ctx, settings, datasets)
	if err != nil {
		return nil, err
	}
	a.catalog, err = catalog.New(datasets, catalog.Options{
		Store:       store,
		Meta:        a.meta,
		Dir:         dir,
		Concurrency: settings.Concurrency,
		Logger:      log,
		Progress:    newLogProgress(log),
	})
	if err != nil {
		return nil, err
	}
	log.Debug("opened catalog",
		zap.String("root", root),
		zap.String("cache", dir.Root()),
		zap.String("metadata", settings.Metadata.Backend),
		zap.Int("datasets", len(datasets)),
	)
	return a, nil
}

func openMetadata(ctx context.Context, s *config.Settings, dir *cache.Dir) (metastore.Store, error) {
	if s.Metadata.Backend == "sqlite" {
		dsn := s.MetadataDSN()
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("make metadata dir: %w", err)
		}
		db, err := metastore.OpenSQLite(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return db, nil
	}
	fs, err := metastore.NewFileStore(dir.Root())
	if err != nil {
		return nil, err
	}
	return fs, nil
}

// openStore routes local paths to the filesystem and s3:// identifiers to S3.
// The S3 client is only built when some dataset needs it.
func openStore(ctx context.Context, s *config.Settings, datasets []catalog.Dataset) (objectstore.ObjectStore, error) {
	router := objectstore.NewRouter(objectstore.NewLocalStore(nil))
	if usesScheme(datasets, "s3") {
		client, err := objectstore.NewS3Client(ctx, objectstore.S3Options{
			Region:    s.S3.Region,
			Endpoint:  s.S3.Endpoint,
			AccessKey: s.S3.AccessKey,
			SecretKey: s.S3.SecretKey,
			PathStyle: s.S3.PathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 client: %w", err)
		}
		router.Register("s3", objectstore.NewS3Store(client))
	}
	return objectstore.NewRetrying(router, s.Retry.Attempts, s.Retry.BaseDelay), nil
}

func usesScheme(datasets []catalog.Dataset, scheme string) bool {
	for _, ds := range datasets {
		if objectstore.ParseURI(ds.Source).Scheme == scheme {
			return true
		}
	}
	return false
}

// withTimeout bounds a command by the configured timeout; zero disables it.
func (a *app) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.settings.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.settings.Timeout)
}

func (a *app) Close() error {
	var err error
	if a.meta != nil {
		err = multierr.Append(err, a.meta.Close())
	}
	// Sync fails on terminals and pipes; nothing useful to report.
	_ = a.log.Sync()
	return err
}
