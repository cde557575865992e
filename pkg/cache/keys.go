package cache

import (
	"fmt"
	"path"
	"strings"
	"time"

	"example.com/datacatalog/pkg/objectstore"
)

// MalformedIdentifierError is returned when an identifier carries no usable
// path component.
type MalformedIdentifierError struct {
	Identifier string
	Reason     string
}

func (e *MalformedIdentifierError) Error() string {
	return fmt.Sprintf("malformed identifier %q: %s", e.Identifier, e.Reason)
}

// DeriveKey maps a remote identifier to a slash separated path relative to the
// cache root. A non-empty override is returned verbatim. Otherwise the scheme
// and bucket are dropped and the object path is kept, so s3://a/x.csv and
// s3://b/x.csv share the key "x.csv".
func DeriveKey(identifier, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	id := strings.TrimSpace(identifier)
	if id == "" {
		return "", &MalformedIdentifierError{Identifier: identifier, Reason: "empty"}
	}
	u := objectstore.ParseURI(id)
	p := strings.ReplaceAll(u.Key, `\`, "/")
	if p == "" || strings.HasSuffix(p, "/") {
		return "", &MalformedIdentifierError{Identifier: identifier, Reason: "no object path"}
	}
	p = strings.TrimLeft(path.Clean("/"+p), "/")
	if p == "" || p == "." {
		return "", &MalformedIdentifierError{Identifier: identifier, Reason: "no object path"}
	}
	return p, nil
}

// VersionTimeLayout formats version timestamps inside versioned keys.
const VersionTimeLayout = "2006-01-02T150405"

// VersionedKey inserts "@<timestamp>" between the stem and extension of key:
// "raw/events.csv" becomes "raw/events@2024-01-02T030405.csv".
func VersionedKey(key string, at time.Time) string {
	dir, base := path.Split(key)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" {
		stem, ext = base, ""
	}
	return dir + stem + "@" + at.UTC().Format(VersionTimeLayout) + ext
}
