package objectstore

import "strings"

// URI is a parsed storage identifier. Local paths have an empty Scheme and
// Bucket; Key then holds the path itself.
type URI struct {
	Scheme string
	Bucket string
	Key    string
}

// ParseURI splits id into scheme, bucket/host and key. It never fails; callers
// decide whether an empty key is acceptable.
func ParseURI(id string) URI {
	scheme, rest, ok := strings.Cut(id, "://")
	// "C://" style drive letters are not schemes.
	if !ok || len(scheme) < 2 {
		return URI{Key: id}
	}
	scheme = strings.ToLower(scheme)
	if scheme == "file" {
		return URI{Scheme: scheme, Key: rest}
	}
	bucket, key, _ := strings.Cut(rest, "/")
	return URI{Scheme: scheme, Bucket: bucket, Key: key}
}

// String reassembles the identifier.
func (u URI) String() string {
	switch u.Scheme {
	case "":
		return u.Key
	case "file":
		return "file://" + u.Key
	default:
		return u.Scheme + "://" + u.Bucket + "/" + u.Key
	}
}
