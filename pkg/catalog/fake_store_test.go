package catalog

import (
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/datacatalog/pkg/cache"
	"example.com/datacatalog/pkg/metastore"
	"example.com/datacatalog/pkg/objectstore"
)

type memObject struct {
	data     []byte
	etag     string
	modified time.Time
}

// memStore is an in-memory ObjectStore that counts transfers and can delay
// or fail individual objects.
type memStore struct {
	mu        sync.Mutex
	objects   map[string]memObject
	versions  map[string][]objectstore.Version
	delay     map[string]time.Duration
	fail      map[string]error
	uploadErr error

	heads     int
	downloads map[string]int
	uploads   int
	completed []string
	active    int
	maxActive int
}

func newMemStore() *memStore {
	return &memStore{
		objects:   make(map[string]memObject),
		versions:  make(map[string][]objectstore.Version),
		delay:     make(map[string]time.Duration),
		fail:      make(map[string]error),
		downloads: make(map[string]int),
	}
}

func (s *memStore) set(id, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[id] = memObject{data: []byte(body), etag: etagOf([]byte(body)), modified: time.Now().UTC()}
}

func etagOf(data []byte) string {
	return fmt.Sprintf(`"%x"`, md5.Sum(data))
}

func (s *memStore) totalDownloads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.downloads {
		n += c
	}
	return n
}

func (s *memStore) Head(ctx context.Context, id string) (objectstore.Fingerprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heads++
	obj, ok := s.objects[id]
	if !ok {
		return objectstore.Fingerprint{}, objectstore.NotFoundError{Key: id}
	}
	return objectstore.Fingerprint{ETag: obj.etag, LastModified: obj.modified, Size: int64(len(obj.data))}, nil
}

func (s *memStore) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id := range s.objects {
		if strings.HasPrefix(id, prefix) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *memStore) Download(ctx context.Context, id string, dst io.Writer) (objectstore.Fingerprint, error) {
	s.mu.Lock()
	obj, ok := s.objects[id]
	delay := s.delay[id]
	failErr := s.fail[id]
	s.downloads[id]++
	s.active++
	if s.active > s.maxActive {
		s.maxActive = s.active
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.active--
		s.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return objectstore.Fingerprint{}, ctx.Err()
		}
	}
	if failErr != nil {
		return objectstore.Fingerprint{}, failErr
	}
	if !ok {
		return objectstore.Fingerprint{}, objectstore.NotFoundError{Key: id}
	}
	if _, err := dst.Write(obj.data); err != nil {
		return objectstore.Fingerprint{}, err
	}
	s.mu.Lock()
	s.completed = append(s.completed, id)
	s.mu.Unlock()
	return objectstore.Fingerprint{ETag: obj.etag, LastModified: obj.modified, Size: int64(len(obj.data))}, nil
}

func (s *memStore) Upload(ctx context.Context, localPath, id string) (objectstore.Fingerprint, error) {
	if s.uploadErr != nil {
		return objectstore.Fingerprint{}, s.uploadErr
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return objectstore.Fingerprint{}, err
	}
	s.set(id, string(data))
	s.mu.Lock()
	s.uploads++
	obj := s.objects[id]
	s.mu.Unlock()
	return objectstore.Fingerprint{ETag: obj.etag, LastModified: obj.modified, Size: int64(len(obj.data))}, nil
}

// versionedStore adds object history to memStore.
type versionedStore struct {
	*memStore
}

func (s versionedStore) ListVersions(ctx context.Context, id string, limit int) ([]objectstore.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]objectstore.Version(nil), s.versions[id]...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s versionedStore) DownloadVersion(ctx context.Context, id, versionID string, dst io.Writer) (objectstore.Fingerprint, error) {
	s.mu.Lock()
	s.downloads[id+"@"+versionID]++
	s.mu.Unlock()
	body := "content of " + versionID
	if _, err := io.WriteString(dst, body); err != nil {
		return objectstore.Fingerprint{}, err
	}
	return objectstore.Fingerprint{ETag: etagOf([]byte(body)), Size: int64(len(body))}, nil
}

type fixture struct {
	store   *memStore
	meta    metastore.Store
	dir     *cache.Dir
	catalog *Catalog
}

func newFixture(t *testing.T, store objectstore.ObjectStore, datasets ...Dataset) *fixture {
	t.Helper()
	dir, err := cache.New(t.TempDir())
	require.NoError(t, err)
	meta, err := metastore.NewFileStore(dir.Root())
	require.NoError(t, err)
	c, err := New(datasets, Options{Store: store, Meta: meta, Dir: dir, Concurrency: 4})
	require.NoError(t, err)
	f := &fixture{meta: meta, dir: dir, catalog: c}
	switch s := store.(type) {
	case *memStore:
		f.store = s
	case versionedStore:
		f.store = s.memStore
	}
	return f
}

// putFailStore wraps a metadata store whose writes always fail.
type putFailStore struct {
	metastore.Store
	err error
}

func (s putFailStore) Put(context.Context, string, metastore.Record) error {
	return s.err
}
