package catalog

import (
	"context"
	"path"
	"strings"

	"go.uber.org/zap"

	"example.com/datacatalog/pkg/cache"
	"example.com/datacatalog/pkg/metastore"
	"example.com/datacatalog/pkg/objectstore"
)

// Invalidate drops the cache records of a dataset so the next Fetch
// transfers again. Data files stay on disk. For glob datasets every record
// whose source matches the pattern is dropped; no listing is performed. It
// returns the number of records removed.
func (c *Catalog) Invalidate(ctx context.Context, name string) (int, error) {
	ds, err := c.Dataset(name)
	if err != nil {
		return 0, err
	}
	keys, err := c.datasetKeys(ctx, ds)
	if err != nil {
		return 0, err
	}
	for _, key := range keys {
		if err := c.meta.Invalidate(ctx, key); err != nil {
			return 0, classify(ds.Name, key, err)
		}
	}
	c.datasetLogger(ds).Info("invalidated", zap.Int("records", len(keys)))
	return len(keys), nil
}

// datasetKeys returns the keys of every stored record belonging to ds,
// versioned copies included. Corrupt records are included when their key
// alone places them in ds, so they can be invalidated.
func (c *Catalog) datasetKeys(ctx context.Context, ds Dataset) ([]string, error) {
	var single string
	if !ds.IsGlob() {
		key, err := singleKey(ds)
		if err != nil {
			return nil, err
		}
		single = key
	}
	all, err := c.meta.Keys(ctx)
	if err != nil {
		return nil, classify(ds.Name, "", err)
	}
	var out []string
	for _, key := range all {
		if key == single {
			out = append(out, key)
			continue
		}
		rec, ok, err := c.meta.Get(ctx, key)
		if err != nil {
			if ds.IsGlob() && ownsGlobKey(ds, key) {
				out = append(out, key)
			}
			continue
		}
		if ok && c.claims(ds, rec) {
			out = append(out, key)
		}
	}
	return out, nil
}

// ownsGlobKey reports whether key sits under the glob dataset's key prefix
// and the remainder matches the wildcard part of the pattern. Patterns
// without a fixed directory claim nothing.
func ownsGlobKey(ds Dataset, key string) bool {
	p, err := splitPattern(ds.Source)
	if err != nil {
		return false
	}
	prefix := globKeyPrefix(ds, p)
	if prefix == "" || !strings.HasPrefix(key, prefix) {
		return false
	}
	tail := strings.Split(p.source[len(p.prefix):], "/")
	return matchSegments(tail, strings.Split(key[len(prefix):], "/"))
}

// globKeyPrefix mirrors matchKey for the listed prefix of p.
func globKeyPrefix(ds Dataset, p pattern) string {
	dir := strings.ReplaceAll(objectstore.ParseURI(p.prefix).Key, `\`, "/")
	dir = strings.Trim(path.Clean("/"+dir), "/")
	if ds.CachePath != "" {
		base := strings.TrimSuffix(ds.CachePath, "/")
		if dir == "" {
			return base + "/"
		}
		dir = base + "/" + dir
	}
	if dir == "" {
		return ""
	}
	return dir + "/"
}

// claims reports whether rec was produced by ds.
func (c *Catalog) claims(ds Dataset, rec metastore.Record) bool {
	if !ds.IsGlob() {
		return rec.Source == ds.Source
	}
	p, err := splitPattern(ds.Source)
	if err != nil {
		return false
	}
	return p.match(rec.Source)
}

// CacheSize returns the bytes on disk held by a dataset's cached files.
func (c *Catalog) CacheSize(ctx context.Context, name string) (int64, error) {
	ds, err := c.Dataset(name)
	if err != nil {
		return 0, err
	}
	keys, err := c.datasetKeys(ctx, ds)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, key := range keys {
		n, err := c.dir.FileSize(key)
		if err != nil {
			return 0, classify(ds.Name, key, err)
		}
		total += n
	}
	return total, nil
}

// Stats summarises the whole cache directory.
func (c *Catalog) Stats() (cache.Stats, error) {
	return c.dir.Stats()
}

// CleanOrphaned removes records, and their files, whose source no dataset
// of the catalog claims any more. Files outside the cache root are left in
// place and only their record is dropped. Corrupt records are skipped and
// logged.
// It returns the number of records removed.
func (c *Catalog) CleanOrphaned(ctx context.Context) (int, error) {
	keys, err := c.meta.Keys(ctx)
	if err != nil {
		return 0, classify("", "", err)
	}
	removed := 0
	for _, key := range keys {
		rec, ok, err := c.meta.Get(ctx, key)
		if err != nil {
			c.log.Warn("skipping unreadable record", zap.String("key", key), zap.Error(err))
			continue
		}
		if !ok || c.claimed(rec) {
			continue
		}
		if c.dir.Contains(key) {
			if err := c.dir.Remove(key); err != nil {
				return removed, classify("", rec.Source, err)
			}
		} else {
			c.log.Warn("keeping file outside cache root", zap.String("key", key), zap.String("path", c.dir.Path(key)))
		}
		if err := c.meta.Invalidate(ctx, key); err != nil {
			return removed, classify("", rec.Source, err)
		}
		c.log.Info("removed orphan", zap.String("key", key), zap.String("identifier", rec.Source))
		removed++
	}
	return removed, nil
}

func (c *Catalog) claimed(rec metastore.Record) bool {
	for _, ds := range c.datasets {
		if c.claims(ds, rec) {
			return true
		}
	}
	return false
}
