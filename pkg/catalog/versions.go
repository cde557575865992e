package catalog

import (
	"context"
	"time"

	"go.uber.org/zap"

	"example.com/datacatalog/pkg/cache"
	"example.com/datacatalog/pkg/metastore"
	"example.com/datacatalog/pkg/objectstore"
)

// VersionQuery selects one historical version, either by ID or as the newest
// version at or before AsOf. Exactly one field must be set.
type VersionQuery struct {
	ID   string
	AsOf time.Time
}

func (c *Catalog) versioner(ds Dataset) (objectstore.Versioner, error) {
	if err := requireSingle(ds, "versioned access"); err != nil {
		return nil, err
	}
	v, ok := c.store.(objectstore.Versioner)
	if !ok {
		return nil, classify(ds.Name, ds.Source, objectstore.ErrVersioningUnsupported)
	}
	return v, nil
}

// Versions lists the versions of a non-glob dataset, newest first.
func (c *Catalog) Versions(ctx context.Context, name string, limit int) ([]objectstore.Version, error) {
	ds, err := c.Dataset(name)
	if err != nil {
		return nil, err
	}
	v, err := c.versioner(ds)
	if err != nil {
		return nil, err
	}
	versions, err := v.ListVersions(ctx, ds.Source, limit)
	if err != nil {
		return nil, classify(ds.Name, ds.Source, err)
	}
	return versions, nil
}

// FetchVersion fetches one historical version into a cache path of its own
// ("<stem>@<timestamp><ext>"). Versions never change, so a recorded copy
// whose file still exists is served without contacting the remote again.
func (c *Catalog) FetchVersion(ctx context.Context, name string, q VersionQuery) (string, error) {
	ds, err := c.Dataset(name)
	if err != nil {
		return "", err
	}
	if (q.ID == "") == q.AsOf.IsZero() {
		return "", configError(ds.Name, ds.Source, "exactly one of version id or as-of time is required")
	}
	v, err := c.versioner(ds)
	if err != nil {
		return "", err
	}
	versions, err := v.ListVersions(ctx, ds.Source, 0)
	if err != nil {
		return "", classify(ds.Name, ds.Source, err)
	}
	version, ok := pickVersion(versions, q)
	if !ok {
		return "", &Error{Kind: KindNotFound, Dataset: ds.Name, Identifier: ds.Source, Err: objectstore.NotFoundError{Key: describeQuery(q)}}
	}

	base, err := singleKey(ds)
	if err != nil {
		return "", err
	}
	key := cache.VersionedKey(base, version.LastModified)
	rec, ok, err := c.meta.Get(ctx, key)
	if err != nil {
		return "", classify(ds.Name, ds.Source, err)
	}
	if ok && rec.VersionID == version.ID && regularFile(rec.LocalPath) {
		return rec.LocalPath, nil
	}

	staged, err := c.dir.Stage(key)
	if err != nil {
		return "", classify(ds.Name, ds.Source, err)
	}
	fp, err := v.DownloadVersion(ctx, ds.Source, version.ID, staged)
	if err != nil {
		staged.Discard()
		return "", classify(ds.Name, ds.Source, err)
	}
	path, err := staged.Commit()
	if err != nil {
		return "", classify(ds.Name, ds.Source, err)
	}
	rec = metastore.NewRecord(ds.Source, path, fp)
	rec.VersionID = version.ID
	if err := c.meta.Put(context.WithoutCancel(ctx), key, rec); err != nil {
		return "", classify(ds.Name, ds.Source, err)
	}
	c.datasetLogger(ds).Info("downloaded version", zap.String("version", version.ID), zap.String("path", path))
	return path, nil
}

func pickVersion(versions []objectstore.Version, q VersionQuery) (objectstore.Version, bool) {
	if q.ID == "" {
		return objectstore.FindVersionAt(versions, q.AsOf)
	}
	for _, v := range versions {
		if v.ID == q.ID && !v.IsDeleteMarker {
			return v, true
		}
	}
	return objectstore.Version{}, false
}

func describeQuery(q VersionQuery) string {
	if q.ID != "" {
		return "version " + q.ID
	}
	return "version as of " + q.AsOf.UTC().Format(time.RFC3339)
}
