package catalog

import (
	"context"
	"os"

	"example.com/datacatalog/pkg/metastore"
	"example.com/datacatalog/pkg/objectstore"
)

// Verdict is the outcome of a staleness check.
type Verdict int

const (
	// Missing means no record exists. It downloads like Stale and is kept
	// apart only for reporting.
	Missing Verdict = iota
	Stale
	Fresh
)

func (v Verdict) String() string {
	switch v {
	case Missing:
		return "missing"
	case Stale:
		return "stale"
	case Fresh:
		return "fresh"
	default:
		return "unknown"
	}
}

// NeedsDownload reports whether the verdict calls for a transfer.
func (v Verdict) NeedsDownload() bool {
	return v != Fresh
}

// FingerprintFunc fetches the current remote fingerprint of one object.
type FingerprintFunc func(ctx context.Context) (objectstore.Fingerprint, error)

// Resolver decides whether a cached copy can be served.
type Resolver struct {
	meta metastore.Store
}

// NewResolver returns a resolver reading records from meta.
func NewResolver(meta metastore.Store) *Resolver {
	return &Resolver{meta: meta}
}

// Resolve checks, in order: the record exists, its local file exists, and
// the remote fingerprint still matches. The remote is consulted only for the
// last step, so a Fresh verdict costs exactly one metadata request.
func (r *Resolver) Resolve(ctx context.Context, key string, remote FingerprintFunc) (Verdict, metastore.Record, error) {
	rec, ok, err := r.meta.Get(ctx, key)
	if err != nil {
		return Missing, metastore.Record{}, err
	}
	if !ok {
		return Missing, metastore.Record{}, nil
	}
	if !regularFile(rec.LocalPath) {
		return Stale, rec, nil
	}
	fp, err := remote(ctx)
	if err != nil {
		return Stale, rec, err
	}
	if rec.Fingerprint().Matches(fp) {
		return Fresh, rec, nil
	}
	return Stale, rec, nil
}

func regularFile(p string) bool {
	if p == "" {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}
