package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/datacatalog/pkg/cache"
	"example.com/datacatalog/pkg/catalog"
	"example.com/datacatalog/pkg/metastore"
	"example.com/datacatalog/pkg/objectstore"
)

// brokenStore fails downloads of the listed identifiers.
type brokenStore struct {
	objectstore.ObjectStore
	broken map[string]error
}

func (s brokenStore) Download(ctx context.Context, id string, dst io.Writer) (objectstore.Fingerprint, error) {
	if err, ok := s.broken[id]; ok {
		return objectstore.Fingerprint{}, err
	}
	return s.ObjectStore.Download(ctx, id, dst)
}

func newTestServer(t *testing.T, broken map[string]error) *httptest.Server {
	t.Helper()
	fsys := afero.NewMemMapFs()
	files := map[string]string{
		"/remote/events.csv":   "id,name\n1,a\n",
		"/remote/parts/a.csv":  "a",
		"/remote/parts/b.csv":  "b",
		"/remote/locked/x.csv": "x",
	}
	for name, body := range files {
		require.NoError(t, afero.WriteFile(fsys, name, []byte(body), 0o644))
	}

	dir, err := cache.New(t.TempDir())
	require.NoError(t, err)
	meta, err := metastore.NewFileStore(dir.Root())
	require.NoError(t, err)
	store := brokenStore{ObjectStore: objectstore.NewLocalStore(fsys), broken: broken}
	c, err := catalog.New([]catalog.Dataset{
		{Name: "events", Source: "/remote/events.csv", Description: "event log"},
		{Name: "parts", Source: "/remote/parts/*.csv"},
		{Name: "gone", Source: "/remote/gone.csv"},
		{Name: "locked", Source: "/remote/locked/x.csv"},
	}, catalog.Options{Store: store, Meta: meta, Dir: dir})
	require.NoError(t, err)

	srv, err := NewServer(c, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestDatasetsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/datasets")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var entries []DatasetEntry
	decode(t, resp, &entries)
	require.Len(t, entries, 4)
	assert.Equal(t, "events", entries[0].Name)
	assert.Equal(t, "event log", entries[0].Description)
	assert.False(t, entries[0].Glob)
	assert.True(t, entries[1].Glob)
}

func TestFetchThenStatusIsFresh(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Post(ts.URL+"/fetch?name=events", "", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res FetchResponse
	decode(t, resp, &res)
	require.Len(t, res.Paths, 1)
	data, err := os.ReadFile(res.Paths[0])
	require.NoError(t, err)
	assert.Equal(t, "id,name\n1,a\n", string(data))

	resp, err = http.Get(ts.URL + "/status?name=events")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var statuses []StatusEntry
	decode(t, resp, &statuses)
	require.Len(t, statuses, 1)
	assert.Equal(t, catalog.Fresh.String(), statuses[0].Verdict)
	assert.Equal(t, res.Paths[0], statuses[0].Path)
}

func TestFetchGlob(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Post(ts.URL+"/fetch?name=parts", "", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res FetchResponse
	decode(t, resp, &res)
	assert.True(t, res.Glob)
	assert.Len(t, res.Paths, 2)
}

func TestFetchPartialFailureIs502(t *testing.T) {
	ts := newTestServer(t, map[string]error{"/remote/parts/b.csv": errors.New("connection reset")})

	resp, err := http.Post(ts.URL+"/fetch?name=parts", "", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	var res FetchResponse
	decode(t, resp, &res)
	assert.Equal(t, []string{"/remote/parts/b.csv"}, res.Failed)
	require.Len(t, res.Paths, 2)
	assert.NotEmpty(t, res.Paths[0])
	assert.Empty(t, res.Paths[1])
}

func TestErrorStatusCodes(t *testing.T) {
	denied := objectstore.AccessDeniedError{Key: "/remote/locked/x.csv", Err: errors.New("forbidden")}
	ts := newTestServer(t, map[string]error{"/remote/locked/x.csv": denied})

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{name: "unknown dataset", method: http.MethodPost, path: "/fetch?name=nope", want: http.StatusNotFound},
		{name: "missing object", method: http.MethodPost, path: "/fetch?name=gone", want: http.StatusNotFound},
		{name: "access denied", method: http.MethodPost, path: "/fetch?name=locked", want: http.StatusForbidden},
		{name: "missing name", method: http.MethodGet, path: "/status", want: http.StatusBadRequest},
		{name: "wrong method", method: http.MethodGet, path: "/fetch?name=events", want: http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, ts.URL+tt.path, nil)
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			var body map[string]string
			decode(t, resp, &body)
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Post(ts.URL+"/fetch?name=events", "", nil)
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Post(ts.URL+"/invalidate?name=events", "", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	decode(t, resp, &body)
	assert.EqualValues(t, 1, body["removed"])

	resp, err = http.Get(ts.URL + "/status?name=events")
	require.NoError(t, err)
	var statuses []StatusEntry
	decode(t, resp, &statuses)
	require.Len(t, statuses, 1)
	assert.Equal(t, catalog.Missing.String(), statuses[0].Verdict)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, StatusFor(&catalog.Error{Kind: catalog.KindConfig, Err: errors.New("bad")}))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(&catalog.Error{Kind: catalog.KindCache, Err: errors.New("corrupt")}))
	assert.Equal(t, http.StatusBadGateway, StatusFor(fmt.Errorf("wrap: %w", &catalog.FetchError{Dataset: "d", Total: 2})))
	assert.Equal(t, http.StatusServiceUnavailable, StatusFor(context.Canceled))
}

func TestServeOverUnixSocket(t *testing.T) {
	fsys := afero.NewMemMapFs()
	dir, err := cache.New(t.TempDir())
	require.NoError(t, err)
	meta, err := metastore.NewFileStore(dir.Root())
	require.NoError(t, err)
	c, err := catalog.New(nil, catalog.Options{Store: objectstore.NewLocalStore(fsys), Meta: meta, Dir: dir})
	require.NoError(t, err)
	srv, err := NewServer(c, nil)
	require.NoError(t, err)

	sock, err := os.MkdirTemp("", "ipc")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(sock) })
	socketPath := filepath.Join(sock, "catalog.sock")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, socketPath, "") }()

	client := &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}}
	require.Eventually(t, func() bool {
		resp, err := client.Get("http://catalog/datasets")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
