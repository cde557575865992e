package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	s3.ListObjectsV2APIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectVersions(ctx context.Context, params *s3.ListObjectVersionsInput, optFns ...func(*s3.Options)) (*s3.ListObjectVersionsOutput, error)
}

// S3Store implements ObjectStore for s3:// identifiers. The bucket is taken
// from each identifier so one store serves every bucket the credentials reach.
type S3Store struct {
	client S3API
}

// NewS3Store instantiates an ObjectStore backed by an AWS SDK client.
func NewS3Store(client S3API) *S3Store {
	return &S3Store{client: client}
}

// S3Options selects region, endpoint and credentials for NewS3Client.
type S3Options struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	PathStyle bool
}

// NewS3Client builds an S3 client that optionally overrides the endpoint and
// credentials for S3-compatible vendors.
func NewS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	var loaders []func(*config.LoadOptions) error
	if opts.Region != "" {
		loaders = append(loaders, config.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	}), nil
}

// location splits an s3:// identifier into bucket and key.
func location(id string) (string, string, error) {
	u := ParseURI(id)
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("not an s3 identifier: %s", id)
	}
	if u.Bucket == "" {
		return "", "", fmt.Errorf("s3 identifier without bucket: %s", id)
	}
	return u.Bucket, u.Key, nil
}

// Head returns metadata for a single object by issuing an S3 HEAD request.
func (s *S3Store) Head(ctx context.Context, id string) (Fingerprint, error) {
	bucket, key, err := location(id)
	if err != nil {
		return Fingerprint{}, err
	}
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return Fingerprint{}, translateS3Error("head", id, err)
	}
	return Fingerprint{
		ETag:         aws.ToString(head.ETag),
		LastModified: aws.ToTime(head.LastModified),
		Size:         aws.ToInt64(head.ContentLength),
	}, nil
}

// List enumerates every object below the prefix using the ListObjectsV2
// paginator. Keys come back in S3's lexicographic order.
func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	bucket, key, err := location(prefix)
	if err != nil {
		return nil, err
	}
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
	}
	if key != "" {
		input.Prefix = aws.String(key)
	}
	var out []string
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, translateS3Error("list", prefix, err)
		}
		for _, obj := range page.Contents {
			name := aws.ToString(obj.Key)
			// Zero-byte "folder" markers created by consoles.
			if name == "" || strings.HasSuffix(name, "/") {
				continue
			}
			out = append(out, URI{Scheme: "s3", Bucket: bucket, Key: name}.String())
		}
	}
	return out, nil
}

// Download streams the contents of an S3 object into dst.
func (s *S3Store) Download(ctx context.Context, id string, dst io.Writer) (Fingerprint, error) {
	return s.get(ctx, id, "", dst)
}

// DownloadVersion streams one specific object version into dst.
func (s *S3Store) DownloadVersion(ctx context.Context, id, versionID string, dst io.Writer) (Fingerprint, error) {
	return s.get(ctx, id, versionID, dst)
}

func (s *S3Store) get(ctx context.Context, id, versionID string, dst io.Writer) (Fingerprint, error) {
	bucket, key, err := location(id)
	if err != nil {
		return Fingerprint{}, err
	}
	input := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if versionID != "" {
		input.VersionId = aws.String(versionID)
	}
	obj, err := s.client.GetObject(ctx, input)
	if err != nil {
		return Fingerprint{}, translateS3Error("download", id, err)
	}
	defer obj.Body.Close()
	n, err := io.Copy(dst, obj.Body)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("read %s: %w", id, err)
	}
	return Fingerprint{
		ETag:         aws.ToString(obj.ETag),
		LastModified: aws.ToTime(obj.LastModified),
		Size:         n,
	}, nil
}

// Upload puts the local file at id and returns the stored object's fingerprint.
func (s *S3Store) Upload(ctx context.Context, localPath, id string) (Fingerprint, error) {
	bucket, key, err := location(id)
	if err != nil {
		return Fingerprint{}, err
	}
	f, err := os.Open(localPath)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return Fingerprint{}, fmt.Errorf("stat %s: %w", localPath, err)
	}
	put, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
	})
	if err != nil {
		return Fingerprint{}, translateS3Error("upload", id, err)
	}
	// PutObject carries no LastModified; a HEAD completes the fingerprint.
	fp, err := s.Head(ctx, id)
	if err != nil {
		return Fingerprint{ETag: aws.ToString(put.ETag), Size: info.Size()}, nil
	}
	return fp, nil
}

// ListVersions returns the versions and delete markers of a single key,
// newest first.
func (s *S3Store) ListVersions(ctx context.Context, id string, limit int) ([]Version, error) {
	bucket, key, err := location(id)
	if err != nil {
		return nil, err
	}
	input := &s3.ListObjectVersionsInput{
		Bucket: aws.String(bucket),
		Prefix: aws.String(key),
	}
	var out []Version
	for {
		page, err := s.client.ListObjectVersions(ctx, input)
		if err != nil {
			return nil, translateS3Error("list versions", id, err)
		}
		for _, v := range page.Versions {
			if aws.ToString(v.Key) != key {
				continue
			}
			out = append(out, Version{
				ID:           aws.ToString(v.VersionId),
				ETag:         aws.ToString(v.ETag),
				LastModified: aws.ToTime(v.LastModified),
				Size:         aws.ToInt64(v.Size),
				IsLatest:     aws.ToBool(v.IsLatest),
			})
		}
		for _, m := range page.DeleteMarkers {
			if aws.ToString(m.Key) != key {
				continue
			}
			out = append(out, Version{
				ID:             aws.ToString(m.VersionId),
				LastModified:   aws.ToTime(m.LastModified),
				IsLatest:       aws.ToBool(m.IsLatest),
				IsDeleteMarker: true,
			})
		}
		if !aws.ToBool(page.IsTruncated) {
			break
		}
		input.KeyMarker = page.NextKeyMarker
		input.VersionIdMarker = page.NextVersionIdMarker
	}
	slices.SortStableFunc(out, func(a, b Version) int {
		return b.LastModified.Compare(a.LastModified)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// translateS3Error maps SDK failures onto NotFoundError / AccessDeniedError so
// callers never inspect S3 types.
func translateS3Error(op, id string, err error) error {
	var (
		notFound *types.NotFound
		noKey    *types.NoSuchKey
		noBucket *types.NoSuchBucket
	)
	if errors.As(err, &notFound) || errors.As(err, &noKey) || errors.As(err, &noBucket) {
		return NotFoundError{Key: id}
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket", "NoSuchVersion":
			return NotFoundError{Key: id}
		case "AccessDenied", "Forbidden", "AllAccessDisabled", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return AccessDeniedError{Key: id, Err: err}
		}
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusNotFound:
			return NotFoundError{Key: id}
		case http.StatusForbidden, http.StatusUnauthorized:
			return AccessDeniedError{Key: id, Err: err}
		}
	}
	return fmt.Errorf("%s %s: %w", op, id, err)
}
