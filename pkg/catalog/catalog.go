// Package catalog fetches named datasets through a staleness-aware local
// cache and pushes local files back to their remote location.
package catalog

import (
	"errors"
	"sort"
	"strings"

	"go.uber.org/zap"

	"example.com/datacatalog/pkg/cache"
	"example.com/datacatalog/pkg/metastore"
	"example.com/datacatalog/pkg/objectstore"
)

const defaultConcurrency = 4

// ErrUnknownDataset is wrapped by the configuration error Dataset returns for
// a name the catalog does not declare.
var ErrUnknownDataset = errors.New("unknown dataset")

// Options wires a Catalog to its collaborators.
type Options struct {
	Store objectstore.ObjectStore
	Meta  metastore.Store
	Dir   *cache.Dir
	// Concurrency caps simultaneous transfers. Zero means 4.
	Concurrency int
	Logger      *zap.Logger
	Progress    Progress
}

// Catalog is a set of uniquely named datasets bound to one cache.
type Catalog struct {
	datasets []Dataset
	byName   map[string]int

	store    objectstore.ObjectStore
	meta     metastore.Store
	dir      *cache.Dir
	resolver *Resolver
	expander *Expander
	limit    int
	log      *zap.Logger
	progress Progress
}

// New validates datasets and returns a catalog over them. Duplicate or
// incomplete datasets are configuration errors.
func New(datasets []Dataset, opts Options) (*Catalog, error) {
	if opts.Store == nil || opts.Meta == nil || opts.Dir == nil {
		return nil, errors.New("catalog: store, metadata store and cache dir are required")
	}
	c := &Catalog{
		byName:   make(map[string]int, len(datasets)),
		store:    opts.Store,
		meta:     opts.Meta,
		dir:      opts.Dir,
		resolver: NewResolver(opts.Meta),
		expander: NewExpander(opts.Store),
		limit:    opts.Concurrency,
		log:      opts.Logger,
		progress: opts.Progress,
	}
	if c.limit <= 0 {
		c.limit = defaultConcurrency
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	if c.progress == nil {
		c.progress = noProgress{}
	}
	for _, ds := range datasets {
		if err := ds.validate(); err != nil {
			return nil, err
		}
		if _, dup := c.byName[ds.Name]; dup {
			return nil, configError(ds.Name, "", "duplicate dataset name")
		}
		c.byName[ds.Name] = len(c.datasets)
		c.datasets = append(c.datasets, ds)
	}
	return c, nil
}

// Datasets returns the datasets in declaration order.
func (c *Catalog) Datasets() []Dataset {
	return append([]Dataset(nil), c.datasets...)
}

// Dataset looks a dataset up by name.
func (c *Catalog) Dataset(name string) (Dataset, error) {
	i, ok := c.byName[name]
	if !ok {
		names := make([]string, 0, len(c.datasets))
		for _, ds := range c.datasets {
			names = append(names, ds.Name)
		}
		sort.Strings(names)
		return Dataset{}, configError(name, "", "%w (available: %s)", ErrUnknownDataset, strings.Join(names, ", "))
	}
	return c.datasets[i], nil
}

// CacheDir exposes the cache root the catalog writes to.
func (c *Catalog) CacheDir() *cache.Dir {
	return c.dir
}

// object is one concrete remote object of a dataset with its cache key.
type object struct {
	id  string
	key string
}

// singleKey derives the cache key of a non-glob dataset.
func singleKey(ds Dataset) (string, error) {
	key, err := cache.DeriveKey(ds.Source, ds.CachePath)
	if err != nil {
		return "", classify(ds.Name, ds.Source, err)
	}
	return key, nil
}

// matchKey derives the cache key of one glob match. A CachePath on a glob
// dataset acts as a directory prefix.
func matchKey(ds Dataset, id string) (string, error) {
	key, err := cache.DeriveKey(id, "")
	if err != nil {
		return "", classify(ds.Name, id, err)
	}
	if ds.CachePath != "" {
		key = strings.TrimSuffix(ds.CachePath, "/") + "/" + key
	}
	return key, nil
}

func requireSingle(ds Dataset, op string) error {
	if ds.IsGlob() {
		return configError(ds.Name, ds.Source, "%s is not supported for glob datasets", op)
	}
	return nil
}

func (c *Catalog) datasetLogger(ds Dataset) *zap.Logger {
	return c.log.With(zap.String("dataset", ds.Name))
}
