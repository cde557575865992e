package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKey(t *testing.T) {
	tests := []struct {
		name     string
		id       string
		override string
		want     string
		wantErr  bool
	}{
		{name: "s3 object", id: "s3://bucket/raw/events.csv", want: "raw/events.csv"},
		{name: "bucket ignored", id: "s3://other/raw/events.csv", want: "raw/events.csv"},
		{name: "local absolute", id: "/srv/data/x.parquet", want: "srv/data/x.parquet"},
		{name: "file scheme", id: "file:///srv/data/x.parquet", want: "srv/data/x.parquet"},
		{name: "relative", id: "data/./x.csv", want: "data/x.csv"},
		{name: "no escape", id: "s3://b/../../etc/passwd", want: "etc/passwd"},
		{name: "override wins", id: "s3://b/x.csv", override: "custom/name.csv", want: "custom/name.csv"},
		{name: "bucket only", id: "s3://bucket", wantErr: true},
		{name: "bucket slash", id: "s3://bucket/", wantErr: true},
		{name: "empty", id: "  ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DeriveKey(tt.id, tt.override)
			if tt.wantErr {
				var malformed *MalformedIdentifierError
				require.ErrorAs(t, err, &malformed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDeriveKeyIsDeterministic(t *testing.T) {
	first, err := DeriveKey("s3://bucket/a/b/c.csv", "")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := DeriveKey("s3://bucket/a/b/c.csv", "")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestVersionedKey(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, "raw/events@2024-01-02T030405.csv", VersionedKey("raw/events.csv", at))
	assert.Equal(t, "README@2024-01-02T030405", VersionedKey("README", at))
}

func TestDirPath(t *testing.T) {
	d, err := New(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(d.Root(), "raw", "x.csv"), d.Path("raw/x.csv"))
	abs := filepath.Join(t.TempDir(), "pinned.csv")
	assert.Equal(t, abs, d.Path(abs))
}

func TestDirContains(t *testing.T) {
	d, err := New(t.TempDir())
	require.NoError(t, err)

	assert.True(t, d.Contains("raw/x.csv"))
	assert.True(t, d.Contains(filepath.Join(d.Root(), "pinned.csv")))
	assert.False(t, d.Contains(filepath.Join(t.TempDir(), "pinned.csv")))
	assert.False(t, d.Contains("../escape.csv"))
	assert.False(t, d.Contains("."))
}

func TestStageCommitIsAtomic(t *testing.T) {
	d, err := New(t.TempDir())
	require.NoError(t, err)

	staged, err := d.Stage("raw/x.csv")
	require.NoError(t, err)
	_, err = staged.WriteString("data")
	require.NoError(t, err)
	assert.False(t, d.Exists("raw/x.csv"), "final path must not exist before commit")

	final, err := staged.Commit()
	require.NoError(t, err)
	body, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, "data", string(body))

	entries, err := os.ReadDir(filepath.Dir(final))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStageDiscardLeavesNothing(t *testing.T) {
	d, err := New(t.TempDir())
	require.NoError(t, err)

	staged, err := d.Stage("x.csv")
	require.NoError(t, err)
	_, err = staged.WriteString("partial")
	require.NoError(t, err)
	staged.Discard()

	assert.False(t, d.Exists("x.csv"))
	st, err := d.Stats()
	require.NoError(t, err)
	assert.Equal(t, Stats{}, st)
}

func TestStageCopyAndPromote(t *testing.T) {
	d, err := New(t.TempDir())
	require.NoError(t, err)
	src := filepath.Join(t.TempDir(), "local.csv")
	require.NoError(t, os.WriteFile(src, []byte("pushed"), 0o644))

	staged, err := d.StageCopy(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, ".csv", filepath.Ext(staged))

	final, err := d.Promote(staged, "out/local.csv")
	require.NoError(t, err)
	assert.Equal(t, d.Path("out/local.csv"), final)

	_, err = os.Stat(src)
	assert.NoError(t, err, "source is copied, not moved")
	_, err = os.Stat(staged)
	assert.True(t, os.IsNotExist(err))
}

func TestStatsAndRemove(t *testing.T) {
	d, err := New(t.TempDir())
	require.NoError(t, err)
	for key, body := range map[string]string{"a.csv": "12345", "sub/b.csv": "123"} {
		require.NoError(t, os.MkdirAll(filepath.Dir(d.Path(key)), 0o755))
		require.NoError(t, os.WriteFile(d.Path(key), []byte(body), 0o644))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(d.Root(), ".meta"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(d.Root(), ".meta", "a.csv.json"), []byte("{}"), 0o644))

	st, err := d.Stats()
	require.NoError(t, err)
	assert.Equal(t, Stats{Files: 2, Bytes: 8}, st)

	size, err := d.FileSize("a.csv")
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)

	require.NoError(t, d.Remove("a.csv"))
	require.NoError(t, d.Remove("a.csv"))
	size, err = d.FileSize("a.csv")
	require.NoError(t, err)
	assert.Zero(t, size)
}
