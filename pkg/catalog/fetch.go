package catalog

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"example.com/datacatalog/pkg/metastore"
	"example.com/datacatalog/pkg/objectstore"
)

// Result is the outcome of a fetch. Paths follow the listing order of the
// dataset's objects; a failed object leaves an empty string in its slot.
type Result struct {
	Dataset string   `json:"dataset"`
	Paths   []string `json:"paths"`
	Glob    bool     `json:"glob"`
}

// Path returns the single local path of a non-glob dataset.
func (r Result) Path() string {
	if len(r.Paths) == 0 {
		return ""
	}
	return r.Paths[0]
}

// Fetched reports whether at least one object has a local path.
func (r Result) Fetched() bool {
	for _, p := range r.Paths {
		if p != "" {
			return true
		}
	}
	return false
}

// objects expands ds into its concrete objects and cache keys.
func (c *Catalog) objects(ctx context.Context, ds Dataset) ([]object, error) {
	if !ds.IsGlob() {
		key, err := singleKey(ds)
		if err != nil {
			return nil, err
		}
		return []object{{id: ds.Source, key: key}}, nil
	}
	ids, err := c.expander.Expand(ctx, ds.Source)
	if err != nil {
		return nil, classify(ds.Name, ds.Source, err)
	}
	objs := make([]object, len(ids))
	for i, id := range ids {
		key, err := matchKey(ds, id)
		if err != nil {
			return nil, err
		}
		objs[i] = object{id: id, key: key}
	}
	return objs, nil
}

func (c *Catalog) resolve(ctx context.Context, obj object) (Verdict, metastore.Record, error) {
	return c.resolver.Resolve(ctx, obj.key, func(ctx context.Context) (objectstore.Fingerprint, error) {
		return c.store.Head(ctx, obj.id)
	})
}

// Fetch returns local paths for every object of the named dataset,
// downloading whatever is missing or stale. Transfers run concurrently up to
// the configured limit and are all awaited before Fetch returns. When some
// objects fail the Result still carries the successful paths, and the error
// is a *FetchError itemizing the failures. For a non-glob dataset the error
// is the object's *Error.
func (c *Catalog) Fetch(ctx context.Context, name string) (Result, error) {
	ds, err := c.Dataset(name)
	if err != nil {
		return Result{}, err
	}
	log := c.datasetLogger(ds)
	objs, err := c.objects(ctx, ds)
	if err != nil {
		return Result{Dataset: ds.Name, Glob: ds.IsGlob()}, err
	}

	res := Result{Dataset: ds.Name, Glob: ds.IsGlob(), Paths: make([]string, len(objs))}
	failures := make([]*Error, len(objs))
	verdicts := make([]Verdict, len(objs))

	forEach(ctx, c.limit, len(objs), func(ctx context.Context, i int) {
		v, rec, err := c.resolve(ctx, objs[i])
		if err != nil {
			failures[i] = classify(ds.Name, objs[i].id, err)
			return
		}
		verdicts[i] = v
		log.Debug("resolved", zap.String("identifier", objs[i].id), zap.String("key", objs[i].key), zap.Stringer("verdict", v))
		if v == Fresh {
			res.Paths[i] = rec.LocalPath
		}
	})

	var pending []int
	for i := range objs {
		if failures[i] == nil && verdicts[i].NeedsDownload() {
			pending = append(pending, i)
		}
	}

	if len(pending) > 0 {
		c.progress.Start(ds.Name, len(pending))
		forEach(ctx, c.limit, len(pending), func(ctx context.Context, j int) {
			i := pending[j]
			path, fp, err := c.download(ctx, objs[i])
			c.progress.Done(ds.Name, objs[i].id, fp.Size, err)
			if err != nil {
				failures[i] = classify(ds.Name, objs[i].id, err)
				return
			}
			log.Info("downloaded", zap.String("identifier", objs[i].id), zap.String("path", path), zap.Int64("bytes", fp.Size))
			res.Paths[i] = path
		})
		c.progress.Finish(ds.Name)
	}

	var failed []*Error
	for _, f := range failures {
		if f != nil {
			log.Warn("fetch failed", zap.String("identifier", f.Identifier), zap.Stringer("kind", f.Kind), zap.Error(f.Err))
			failed = append(failed, f)
		}
	}
	if len(failed) == 0 {
		return res, nil
	}
	if !ds.IsGlob() {
		return res, failed[0]
	}
	return res, &FetchError{Dataset: ds.Name, Total: len(objs), Failures: failed}
}

// download streams one object into a temp file beside its final path,
// renames it into place and records the fingerprint observed during the
// transfer. Cancellation discards the temp file; a completed download is
// always recorded.
func (c *Catalog) download(ctx context.Context, obj object) (string, objectstore.Fingerprint, error) {
	staged, err := c.dir.Stage(obj.key)
	if err != nil {
		return "", objectstore.Fingerprint{}, err
	}
	fp, err := c.store.Download(ctx, obj.id, staged)
	if err != nil {
		staged.Discard()
		return "", objectstore.Fingerprint{}, err
	}
	if err := ctx.Err(); err != nil {
		staged.Discard()
		return "", objectstore.Fingerprint{}, err
	}
	path, err := staged.Commit()
	if err != nil {
		return "", objectstore.Fingerprint{}, err
	}
	ctx = context.WithoutCancel(ctx)
	if fp.ETag == "" && fp.LastModified.IsZero() {
		if head, err := c.store.Head(ctx, obj.id); err == nil {
			fp = head
		}
	}
	if err := c.meta.Put(ctx, obj.key, metastore.NewRecord(obj.id, path, fp)); err != nil {
		return "", fp, err
	}
	return path, fp, nil
}

// FetchAll fetches every dataset in declaration order. Results contain every
// dataset that produced at least a partial result.
func (c *Catalog) FetchAll(ctx context.Context) (map[string]Result, error) {
	out := make(map[string]Result, len(c.datasets))
	var errs error
	for _, ds := range c.datasets {
		if err := ctx.Err(); err != nil {
			return out, multierr.Append(errs, err)
		}
		res, err := c.Fetch(ctx, ds.Name)
		if res.Fetched() {
			out[ds.Name] = res
		}
		errs = multierr.Append(errs, err)
	}
	return out, errs
}

// IsStale reports whether fetching the non-glob dataset would transfer data.
func (c *Catalog) IsStale(ctx context.Context, name string) (bool, error) {
	ds, err := c.Dataset(name)
	if err != nil {
		return false, err
	}
	if err := requireSingle(ds, "staleness check"); err != nil {
		return false, err
	}
	objs, err := c.objects(ctx, ds)
	if err != nil {
		return false, err
	}
	v, _, err := c.resolve(ctx, objs[0])
	if err != nil {
		return false, classify(ds.Name, objs[0].id, err)
	}
	return v.NeedsDownload(), nil
}

// ObjectStatus is the dry-run view of one object.
type ObjectStatus struct {
	Identifier string  `json:"identifier"`
	Key        string  `json:"key"`
	Path       string  `json:"path"`
	Verdict    Verdict `json:"-"`
	State      string  `json:"verdict"`
	Err        error   `json:"-"`
}

// Status resolves every object of the dataset without downloading anything.
// Per-object failures are reported in ObjectStatus.Err.
func (c *Catalog) Status(ctx context.Context, name string) ([]ObjectStatus, error) {
	ds, err := c.Dataset(name)
	if err != nil {
		return nil, err
	}
	objs, err := c.objects(ctx, ds)
	if err != nil {
		return nil, err
	}
	out := make([]ObjectStatus, len(objs))
	forEach(ctx, c.limit, len(objs), func(ctx context.Context, i int) {
		st := ObjectStatus{Identifier: objs[i].id, Key: objs[i].key, Path: c.dir.Path(objs[i].key)}
		v, rec, err := c.resolve(ctx, objs[i])
		if err != nil {
			st.Err = classify(ds.Name, objs[i].id, err)
		}
		if rec.LocalPath != "" {
			st.Path = rec.LocalPath
		}
		st.Verdict = v
		st.State = v.String()
		out[i] = st
	})
	return out, nil
}
