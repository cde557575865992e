package objectstore

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/sethvargo/go-retry"
)

// Retrying wraps a backend and retries transient failures with exponential
// backoff. Not-found, access and unsupported-operation errors are returned
// immediately.
type Retrying struct {
	next     ObjectStore
	attempts uint64
	base     time.Duration
}

// NewRetrying returns next unchanged when attempts is zero.
func NewRetrying(next ObjectStore, attempts int, base time.Duration) ObjectStore {
	if attempts <= 0 {
		return next
	}
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	return &Retrying{next: next, attempts: uint64(attempts), base: base}
}

func (r *Retrying) backoff() retry.Backoff {
	return retry.WithMaxRetries(r.attempts, retry.NewExponential(r.base))
}

func (r *Retrying) do(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, r.backoff(), func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil || !transient(err) {
			return err
		}
		return retry.RetryableError(err)
	})
}

func transient(err error) bool {
	switch {
	case IsNotFound(err), IsAccessDenied(err),
		errors.Is(err, ErrUnsupportedScheme),
		errors.Is(err, ErrVersioningUnsupported),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

func (r *Retrying) Head(ctx context.Context, id string) (Fingerprint, error) {
	var fp Fingerprint
	err := r.do(ctx, func(ctx context.Context) error {
		var err error
		fp, err = r.next.Head(ctx, id)
		return err
	})
	return fp, err
}

func (r *Retrying) List(ctx context.Context, prefix string) ([]string, error) {
	var items []string
	err := r.do(ctx, func(ctx context.Context) error {
		var err error
		items, err = r.next.List(ctx, prefix)
		return err
	})
	return items, err
}

// rewindable destinations can be reset between attempts; *os.File qualifies.
type rewindable interface {
	io.Seeker
	Truncate(size int64) error
}

func (r *Retrying) Download(ctx context.Context, id string, dst io.Writer) (Fingerprint, error) {
	return r.download(ctx, dst, func(ctx context.Context) (Fingerprint, error) {
		return r.next.Download(ctx, id, dst)
	})
}

func (r *Retrying) download(ctx context.Context, dst io.Writer, fn func(context.Context) (Fingerprint, error)) (Fingerprint, error) {
	rw, ok := dst.(rewindable)
	if !ok {
		return fn(ctx)
	}
	var fp Fingerprint
	first := true
	err := r.do(ctx, func(ctx context.Context) error {
		if !first {
			if _, err := rw.Seek(0, io.SeekStart); err != nil {
				return err
			}
			if err := rw.Truncate(0); err != nil {
				return err
			}
		}
		first = false
		var err error
		fp, err = fn(ctx)
		return err
	})
	return fp, err
}

func (r *Retrying) Upload(ctx context.Context, localPath, id string) (Fingerprint, error) {
	var fp Fingerprint
	err := r.do(ctx, func(ctx context.Context) error {
		var err error
		fp, err = r.next.Upload(ctx, localPath, id)
		return err
	})
	return fp, err
}

func (r *Retrying) ListVersions(ctx context.Context, id string, limit int) ([]Version, error) {
	v, ok := r.next.(Versioner)
	if !ok {
		return nil, ErrVersioningUnsupported
	}
	var out []Version
	err := r.do(ctx, func(ctx context.Context) error {
		var err error
		out, err = v.ListVersions(ctx, id, limit)
		return err
	})
	return out, err
}

func (r *Retrying) DownloadVersion(ctx context.Context, id, versionID string, dst io.Writer) (Fingerprint, error) {
	v, ok := r.next.(Versioner)
	if !ok {
		return Fingerprint{}, ErrVersioningUnsupported
	}
	return r.download(ctx, dst, func(ctx context.Context) (Fingerprint, error) {
		return v.DownloadVersion(ctx, id, versionID, dst)
	})
}
