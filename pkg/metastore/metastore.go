// Package metastore persists one cache record per cache key: the remote
// fingerprint last seen for the key and the local file it corresponds to.
package metastore

import (
	"context"
	"fmt"
	"time"

	"example.com/datacatalog/pkg/objectstore"
)

// Record is the persisted state of one cache key.
type Record struct {
	ContentTag   string    `json:"content_tag"`
	LastModified time.Time `json:"last_modified"`
	Size         int64     `json:"size"`
	LocalPath    string    `json:"local_path"`
	Source       string    `json:"source"`
	VersionID    string    `json:"version_id,omitempty"`
	CachedAt     time.Time `json:"cached_at"`
}

// Fingerprint returns the remote fingerprint stored in the record.
func (r Record) Fingerprint() objectstore.Fingerprint {
	return objectstore.Fingerprint{ETag: r.ContentTag, LastModified: r.LastModified, Size: r.Size}
}

// NewRecord builds a record for a successful transfer of source into localPath.
func NewRecord(source, localPath string, fp objectstore.Fingerprint) Record {
	return Record{
		ContentTag:   fp.ETag,
		LastModified: fp.LastModified.UTC(),
		Size:         fp.Size,
		LocalPath:    localPath,
		Source:       source,
		CachedAt:     time.Now().UTC(),
	}
}

// Store is a key-value record store. Writes fully replace the prior record for
// a key; there are no cross-key transactions.
type Store interface {
	// Get returns the record for key. A missing record yields ok == false and
	// a nil error.
	Get(ctx context.Context, key string) (rec Record, ok bool, err error)
	Put(ctx context.Context, key string, rec Record) error
	// Invalidate removes the record for key. Data files are left alone.
	Invalidate(ctx context.Context, key string) error
	// Keys enumerates every stored key in sorted order.
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// CorruptError reports a persisted record that could not be decoded.
type CorruptError struct {
	Key string
	Err error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupt cache record %q: %v", e.Key, e.Err)
}

func (e *CorruptError) Unwrap() error {
	return e.Err
}
