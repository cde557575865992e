package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrUnsupportedScheme is returned for identifiers whose scheme has no
// registered backend.
var ErrUnsupportedScheme = errors.New("unsupported storage scheme")

// Router dispatches each identifier to the backend registered for its scheme.
// Plain paths and file:// identifiers go to the local backend.
type Router struct {
	local    ObjectStore
	backends map[string]ObjectStore
}

// NewRouter returns a router whose local backend is local.
func NewRouter(local ObjectStore) *Router {
	return &Router{
		local:    local,
		backends: make(map[string]ObjectStore),
	}
}

// Register binds scheme (e.g. "s3") to store.
func (r *Router) Register(scheme string, store ObjectStore) {
	r.backends[strings.ToLower(scheme)] = store
}

// route returns the backend for id, the identifier to hand it and whether
// the local file:// prefix was stripped.
func (r *Router) route(id string) (ObjectStore, string, bool, error) {
	u := ParseURI(id)
	switch u.Scheme {
	case "":
		if r.local == nil {
			return nil, "", false, fmt.Errorf("%s: %w", id, ErrUnsupportedScheme)
		}
		return r.local, id, false, nil
	case "file":
		if r.local == nil {
			return nil, "", false, fmt.Errorf("%s: %w", id, ErrUnsupportedScheme)
		}
		return r.local, u.Key, true, nil
	}
	store, ok := r.backends[u.Scheme]
	if !ok {
		return nil, "", false, fmt.Errorf("%s: %w", id, ErrUnsupportedScheme)
	}
	return store, id, false, nil
}

func (r *Router) Head(ctx context.Context, id string) (Fingerprint, error) {
	store, target, _, err := r.route(id)
	if err != nil {
		return Fingerprint{}, err
	}
	return store.Head(ctx, target)
}

func (r *Router) List(ctx context.Context, prefix string) ([]string, error) {
	store, target, fileScheme, err := r.route(prefix)
	if err != nil {
		return nil, err
	}
	items, err := store.List(ctx, target)
	if err != nil || !fileScheme {
		return items, err
	}
	for i, item := range items {
		items[i] = "file://" + item
	}
	return items, nil
}

func (r *Router) Download(ctx context.Context, id string, dst io.Writer) (Fingerprint, error) {
	store, target, _, err := r.route(id)
	if err != nil {
		return Fingerprint{}, err
	}
	return store.Download(ctx, target, dst)
}

func (r *Router) Upload(ctx context.Context, localPath, id string) (Fingerprint, error) {
	store, target, _, err := r.route(id)
	if err != nil {
		return Fingerprint{}, err
	}
	return store.Upload(ctx, localPath, target)
}

func (r *Router) ListVersions(ctx context.Context, id string, limit int) ([]Version, error) {
	store, target, _, err := r.route(id)
	if err != nil {
		return nil, err
	}
	v, ok := store.(Versioner)
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrVersioningUnsupported)
	}
	return v.ListVersions(ctx, target, limit)
}

func (r *Router) DownloadVersion(ctx context.Context, id, versionID string, dst io.Writer) (Fingerprint, error) {
	store, target, _, err := r.route(id)
	if err != nil {
		return Fingerprint{}, err
	}
	v, ok := store.(Versioner)
	if !ok {
		return Fingerprint{}, fmt.Errorf("%s: %w", id, ErrVersioningUnsupported)
	}
	return v.DownloadVersion(ctx, target, versionID, dst)
}
