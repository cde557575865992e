package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"example.com/datacatalog/pkg/cache"
	"example.com/datacatalog/pkg/metastore"
	"example.com/datacatalog/pkg/objectstore"
)

// Kind classifies catalog failures.
type Kind int

const (
	// KindConfig covers duplicate names, malformed identifiers, globs where
	// they are not allowed and patterns matching nothing. Never retried.
	KindConfig Kind = iota + 1
	KindNotFound
	KindAccess
	// KindCache means a persisted record could not be read; invalidate it.
	KindCache
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "configuration"
	case KindNotFound:
		return "not found"
	case KindAccess:
		return "access denied"
	case KindCache:
		return "cache"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Error is a classified failure for one dataset, and for one identifier when
// the failure concerns a single object.
type Error struct {
	Kind       Kind
	Dataset    string
	Identifier string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	b.WriteString(" error")
	if e.Dataset != "" {
		fmt.Fprintf(&b, " in dataset %q", e.Dataset)
	}
	if e.Identifier != "" {
		fmt.Fprintf(&b, " for %s", e.Identifier)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func configError(dataset, identifier string, format string, args ...any) *Error {
	return &Error{Kind: KindConfig, Dataset: dataset, Identifier: identifier, Err: fmt.Errorf(format, args...)}
}

// classify wraps err in an *Error of the matching kind. Errors that are
// already classified keep their kind.
func classify(dataset, identifier string, err error) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		if ce.Dataset == "" && dataset != "" {
			named := *ce
			named.Dataset = dataset
			return &named
		}
		return ce
	}
	kind := KindStorage
	var (
		corrupt   *metastore.CorruptError
		malformed *cache.MalformedIdentifierError
	)
	switch {
	case objectstore.IsNotFound(err), errors.Is(err, fs.ErrNotExist):
		kind = KindNotFound
	case objectstore.IsAccessDenied(err), errors.Is(err, fs.ErrPermission):
		kind = KindAccess
	case errors.As(err, &corrupt):
		kind = KindCache
	case errors.As(err, &malformed),
		errors.Is(err, objectstore.ErrUnsupportedScheme),
		errors.Is(err, objectstore.ErrVersioningUnsupported):
		kind = KindConfig
	}
	return &Error{Kind: kind, Dataset: dataset, Identifier: identifier, Err: err}
}

// IsKind reports whether err, or any error it wraps (including every member
// of a FetchError), is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	if ce, ok := err.(*Error); ok && ce.Kind == kind {
		return true
	}
	switch u := err.(type) {
	case interface{ Unwrap() []error }:
		for _, inner := range u.Unwrap() {
			if IsKind(inner, kind) {
				return true
			}
		}
	case interface{ Unwrap() error }:
		return IsKind(u.Unwrap(), kind)
	}
	return false
}

// FetchError aggregates the per-object failures of one fetch. Objects not
// listed here were fetched successfully.
type FetchError struct {
	Dataset  string
	Total    int
	Failures []*Error
}

func (e *FetchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "dataset %q: %d of %d objects failed", e.Dataset, len(e.Failures), e.Total)
	for _, f := range e.Failures {
		b.WriteString("\n  ")
		b.WriteString(f.Identifier)
		b.WriteString(": ")
		b.WriteString(f.Kind.String())
		if f.Err != nil {
			b.WriteString(": ")
			b.WriteString(f.Err.Error())
		}
	}
	return b.String()
}

func (e *FetchError) Unwrap() []error {
	out := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f
	}
	return out
}

// Failed returns the identifiers of the failed objects in listing order.
func (e *FetchError) Failed() []string {
	out := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f.Identifier
	}
	return out
}
