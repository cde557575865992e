package catalog

import (
	"context"
	"os"

	"go.uber.org/zap"

	"example.com/datacatalog/pkg/metastore"
)

// Push uploads localPath to the dataset's source. The file is copied to a
// staging area first and never moved. Only after a successful upload does
// the staged copy become the cached file and the uploaded fingerprint get
// recorded, so the next Fetch is served from cache. A failed upload leaves
// cache and metadata untouched.
func (c *Catalog) Push(ctx context.Context, name, localPath string) error {
	ds, err := c.Dataset(name)
	if err != nil {
		return err
	}
	if err := requireSingle(ds, "push"); err != nil {
		return err
	}
	key, err := singleKey(ds)
	if err != nil {
		return err
	}
	log := c.datasetLogger(ds)

	staged, err := c.dir.StageCopy(ctx, localPath)
	if err != nil {
		return classify(ds.Name, localPath, err)
	}
	fp, err := c.store.Upload(ctx, staged, ds.Source)
	if err != nil {
		_ = os.Remove(staged)
		log.Warn("push failed", zap.String("identifier", ds.Source), zap.Error(err))
		return classify(ds.Name, ds.Source, err)
	}
	path, err := c.dir.Promote(staged, key)
	if err != nil {
		_ = os.Remove(staged)
		return classify(ds.Name, ds.Source, err)
	}
	// A failed Put leaves the previous record, whose fingerprint no longer
	// matches the remote, so the next Fetch downloads again.
	if err := c.meta.Put(context.WithoutCancel(ctx), key, metastore.NewRecord(ds.Source, path, fp)); err != nil {
		log.Warn("record push failed", zap.String("identifier", ds.Source), zap.Error(err))
		return classify(ds.Name, ds.Source, err)
	}
	log.Info("pushed", zap.String("identifier", ds.Source), zap.String("path", path), zap.Int64("bytes", fp.Size))
	return nil
}
