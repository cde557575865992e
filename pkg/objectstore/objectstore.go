package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Fingerprint is the identity snapshot of a remote object at one point in time.
type Fingerprint struct {
	ETag         string
	LastModified time.Time
	Size         int64
}

// Matches reports whether two fingerprints describe the same object revision.
// Content tags win when both sides carry one; the modification time is only
// consulted for backends that cannot supply a tag.
func (f Fingerprint) Matches(other Fingerprint) bool {
	if f.ETag != "" && other.ETag != "" {
		return f.ETag == other.ETag
	}
	if !f.LastModified.IsZero() && !other.LastModified.IsZero() {
		return f.LastModified.Equal(other.LastModified)
	}
	return false
}

var (
	ErrNotFound              = errors.New("object not found")
	ErrAccessDenied          = errors.New("access denied")
	ErrVersioningUnsupported = errors.New("versioning not supported by backend")
)

// NotFoundError conveys that a specific object key was not found in the store.
type NotFoundError struct {
	Key string
}

func (e NotFoundError) Error() string {
	if e.Key == "" {
		return "object not found"
	}
	return fmt.Sprintf("%s: not found", e.Key)
}

func (e NotFoundError) Unwrap() error {
	return ErrNotFound
}

// AccessDeniedError is returned when the object exists (or may exist) but the
// caller is not allowed to read or write it.
type AccessDeniedError struct {
	Key string
	Err error
}

func (e AccessDeniedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: access denied: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("%s: access denied", e.Key)
}

func (e AccessDeniedError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrAccessDenied}
	}
	return []error{ErrAccessDenied, e.Err}
}

// IsNotFound reports whether err represents a missing remote object.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAccessDenied reports whether err represents a permission failure.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// ObjectStore abstracts the storage backend a catalog reads from and writes to.
// Identifiers are full URIs ("s3://bucket/key") or local paths.
type ObjectStore interface {
	// Head returns the fingerprint of a single object without transferring it.
	Head(ctx context.Context, id string) (Fingerprint, error)
	// List returns the identifiers of every object under prefix, recursively,
	// in the backend's listing order (lexicographic for S3 and local disk).
	List(ctx context.Context, prefix string) ([]string, error)
	// Download streams the object into dst and returns the fingerprint observed
	// during the transfer.
	Download(ctx context.Context, id string, dst io.Writer) (Fingerprint, error)
	// Upload copies the local file to id and returns the fingerprint the
	// backend reports for the stored object.
	Upload(ctx context.Context, localPath, id string) (Fingerprint, error)
}

// Version describes one revision of an object in a versioned bucket.
type Version struct {
	ID             string
	ETag           string
	LastModified   time.Time
	Size           int64
	IsLatest       bool
	IsDeleteMarker bool
}

// Fingerprint converts the version into a comparable fingerprint.
func (v Version) Fingerprint() Fingerprint {
	return Fingerprint{ETag: v.ETag, LastModified: v.LastModified, Size: v.Size}
}

// Versioner is implemented by backends that keep object history.
type Versioner interface {
	// ListVersions returns versions newest first. limit <= 0 means no limit.
	ListVersions(ctx context.Context, id string, limit int) ([]Version, error)
	DownloadVersion(ctx context.Context, id, versionID string, dst io.Writer) (Fingerprint, error)
}

// FindVersionAt returns the newest non-deleted version created at or before
// asOf. versions must be sorted newest first.
func FindVersionAt(versions []Version, asOf time.Time) (Version, bool) {
	for _, v := range versions {
		if v.IsDeleteMarker {
			continue
		}
		if !v.LastModified.After(asOf) {
			return v, true
		}
	}
	return Version{}, false
}
