package objectstore

import (
	"bytes"
	"context"
	"io"
	"os"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObject struct {
	body     []byte
	etag     string
	modified time.Time
}

// fakeS3 is an in-memory S3API keyed by "bucket/key".
type fakeS3 struct {
	objects  map[string]fakeObject
	versions map[string][]types.ObjectVersion
	denied   map[string]bool
	pageSize int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects:  make(map[string]fakeObject),
		versions: make(map[string][]types.ObjectVersion),
		denied:   make(map[string]bool),
		pageSize: 1000,
	}
}

func (f *fakeS3) put(bucket, key, body, etag string) {
	f.objects[bucket+"/"+key] = fakeObject{body: []byte(body), etag: etag, modified: time.Unix(1700000000, 0).UTC()}
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	id := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	if f.denied[id] {
		return nil, &smithy.GenericAPIError{Code: "Forbidden", Message: "denied"}
	}
	obj, ok := f.objects[id]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ETag:          aws.String(obj.etag),
		LastModified:  aws.Time(obj.modified),
		ContentLength: aws.Int64(int64(len(obj.body))),
	}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	id := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	obj, ok := f.objects[id]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	if in.VersionId != nil {
		obj.body = []byte("version " + aws.ToString(in.VersionId))
	}
	return &s3.GetObjectOutput{
		Body:         io.NopCloser(bytes.NewReader(obj.body)),
		ETag:         aws.String(obj.etag),
		LastModified: aws.Time(obj.modified),
	}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	etag := `"` + strings.Repeat("e", 4) + `"`
	f.put(aws.ToString(in.Bucket), aws.ToString(in.Key), string(body), etag)
	return &s3.PutObjectOutput{ETag: aws.String(etag)}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	bucket := aws.ToString(in.Bucket)
	prefix := aws.ToString(in.Prefix)
	var keys []string
	for id := range f.objects {
		b, k, _ := strings.Cut(id, "/")
		if b == bucket && strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	start := 0
	if in.ContinuationToken != nil {
		start = sort.SearchStrings(keys, aws.ToString(in.ContinuationToken))
	}
	end := start + f.pageSize
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	if end < len(keys) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[end])
	} else {
		end = len(keys)
	}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func (f *fakeS3) ListObjectVersions(ctx context.Context, in *s3.ListObjectVersionsInput, _ ...func(*s3.Options)) (*s3.ListObjectVersionsOutput, error) {
	id := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Prefix)
	return &s3.ListObjectVersionsOutput{
		Versions:    f.versions[id],
		IsTruncated: aws.Bool(false),
	}, nil
}

func TestS3StoreHeadAndErrors(t *testing.T) {
	api := newFakeS3()
	api.put("bucket", "data/a.csv", "hello", `"abc"`)
	api.denied["bucket/secret.csv"] = true
	store := NewS3Store(api)
	ctx := context.Background()

	fp, err := store.Head(ctx, "s3://bucket/data/a.csv")
	require.NoError(t, err)
	assert.Equal(t, `"abc"`, fp.ETag)
	assert.Equal(t, int64(5), fp.Size)

	_, err = store.Head(ctx, "s3://bucket/missing.csv")
	assert.True(t, IsNotFound(err))

	_, err = store.Head(ctx, "s3://bucket/secret.csv")
	assert.True(t, IsAccessDenied(err))
	assert.False(t, IsNotFound(err))

	_, err = store.Head(ctx, "data/a.csv")
	assert.Error(t, err)
}

func TestS3StoreListPaginates(t *testing.T) {
	api := newFakeS3()
	api.pageSize = 2
	for _, k := range []string{"raw/c.parquet", "raw/a.parquet", "raw/b.parquet", "raw/", "other/x"} {
		api.put("bucket", k, k, `"x"`)
	}
	store := NewS3Store(api)

	items, err := store.List(context.Background(), "s3://bucket/raw/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"s3://bucket/raw/a.parquet",
		"s3://bucket/raw/b.parquet",
		"s3://bucket/raw/c.parquet",
	}, items)
}

func TestS3StoreDownloadAndUpload(t *testing.T) {
	api := newFakeS3()
	api.put("bucket", "a.csv", "payload", `"abc"`)
	store := NewS3Store(api)
	ctx := context.Background()

	var buf bytes.Buffer
	fp, err := store.Download(ctx, "s3://bucket/a.csv", &buf)
	require.NoError(t, err)
	assert.Equal(t, "payload", buf.String())
	assert.Equal(t, `"abc"`, fp.ETag)
	assert.Equal(t, int64(7), fp.Size)

	_, err = store.Download(ctx, "s3://bucket/none.csv", &buf)
	assert.True(t, IsNotFound(err))

	src := t.TempDir() + "/in.csv"
	require.NoError(t, os.WriteFile(src, []byte("pushed"), 0o644))
	up, err := store.Upload(ctx, src, "s3://bucket/out/in.csv")
	require.NoError(t, err)
	head, err := store.Head(ctx, "s3://bucket/out/in.csv")
	require.NoError(t, err)
	assert.True(t, up.Matches(head))
}

func TestS3StoreVersions(t *testing.T) {
	api := newFakeS3()
	api.put("bucket", "a.csv", "latest", `"v3"`)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	api.versions["bucket/a.csv"] = []types.ObjectVersion{
		{Key: aws.String("a.csv"), VersionId: aws.String("v1"), ETag: aws.String(`"v1"`), LastModified: aws.Time(base)},
		{Key: aws.String("a.csv"), VersionId: aws.String("v3"), ETag: aws.String(`"v3"`), LastModified: aws.Time(base.Add(48 * time.Hour)), IsLatest: aws.Bool(true)},
		{Key: aws.String("a.csv.bak"), VersionId: aws.String("x"), LastModified: aws.Time(base)},
		{Key: aws.String("a.csv"), VersionId: aws.String("v2"), ETag: aws.String(`"v2"`), LastModified: aws.Time(base.Add(24 * time.Hour))},
	}
	store := NewS3Store(api)
	ctx := context.Background()

	versions, err := store.ListVersions(ctx, "s3://bucket/a.csv", 0)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, "v3", versions[0].ID)
	assert.True(t, versions[0].IsLatest)
	assert.Equal(t, "v1", versions[2].ID)

	limited, err := store.ListVersions(ctx, "s3://bucket/a.csv", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	v, ok := FindVersionAt(versions, base.Add(36*time.Hour))
	require.True(t, ok)
	assert.Equal(t, "v2", v.ID)
	_, ok = FindVersionAt(versions, base.Add(-time.Hour))
	assert.False(t, ok)

	var buf bytes.Buffer
	_, err = store.DownloadVersion(ctx, "s3://bucket/a.csv", "v1", &buf)
	require.NoError(t, err)
	assert.Equal(t, "version v1", buf.String())
}
