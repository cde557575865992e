package catalog

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"example.com/datacatalog/pkg/objectstore"
)

const globMeta = "*?["

func hasMeta(s string) bool {
	return strings.ContainsAny(s, globMeta)
}

// pattern is a parsed glob source. prefix is everything up to and including
// the last '/' before the first wildcard; it is what gets listed.
type pattern struct {
	source   string
	prefix   string
	segments []string
}

func splitPattern(source string) (pattern, error) {
	if objectstore.ParseURI(source).Scheme == "" {
		source = filepath.ToSlash(filepath.Clean(source))
	}
	first := strings.IndexAny(source, globMeta)
	if first < 0 {
		return pattern{}, fmt.Errorf("%q is not a glob pattern", source)
	}
	prefix := ""
	if slash := strings.LastIndex(source[:first], "/"); slash >= 0 {
		prefix = source[:slash+1]
	}
	segments := strings.Split(source, "/")
	for _, seg := range segments {
		if seg == "**" {
			continue
		}
		if _, err := path.Match(seg, ""); err != nil {
			return pattern{}, fmt.Errorf("bad glob segment %q in %q: %w", seg, source, err)
		}
	}
	return pattern{source: source, prefix: prefix, segments: segments}, nil
}

// match reports whether identifier matches the pattern. '*', '?' and
// character classes stay within one segment; a "**" segment matches zero or
// more whole segments.
func (p pattern) match(identifier string) bool {
	return matchSegments(p.segments, strings.Split(filepath.ToSlash(identifier), "/"))
}

func matchSegments(pat, name []string) bool {
	for len(pat) > 0 {
		if pat[0] == "**" {
			rest := pat[1:]
			if len(rest) == 0 {
				return len(name) > 0
			}
			for i := 0; i <= len(name); i++ {
				if matchSegments(rest, name[i:]) {
					return true
				}
			}
			return false
		}
		if len(name) == 0 {
			return false
		}
		ok, err := path.Match(pat[0], name[0])
		if err != nil || !ok {
			return false
		}
		pat, name = pat[1:], name[1:]
	}
	return len(name) == 0
}

// Expander resolves glob sources to concrete identifiers.
type Expander struct {
	store objectstore.ObjectStore
}

// NewExpander lists through store.
func NewExpander(store objectstore.ObjectStore) *Expander {
	return &Expander{store: store}
}

// Expand lists the pattern's prefix and keeps the identifiers matching the
// pattern, in listing order. A pattern matching nothing is a configuration
// error that also satisfies objectstore.IsNotFound.
func (e *Expander) Expand(ctx context.Context, source string) ([]string, error) {
	p, err := splitPattern(source)
	if err != nil {
		return nil, configError("", source, "%v", err)
	}
	listed, err := e.store.List(ctx, p.prefix)
	if err != nil && !objectstore.IsNotFound(err) {
		return nil, classify("", p.prefix, err)
	}
	var out []string
	for _, id := range listed {
		if p.match(id) {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return nil, &Error{
			Kind:       KindConfig,
			Identifier: source,
			Err:        fmt.Errorf("no objects match pattern %q under prefix %q: %w", p.source, p.prefix, objectstore.ErrNotFound),
		}
	}
	return out, nil
}
