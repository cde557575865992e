package objectstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"
)

// LocalStore implements ObjectStore over a local (or in-memory) filesystem.
// Identifiers are plain paths; content tags are the quoted hex MD5 of the
// file, matching what S3 reports for single-part uploads.
type LocalStore struct {
	fs afero.Fs
}

// NewLocalStore wraps fsys. A nil fsys means the host filesystem.
func NewLocalStore(fsys afero.Fs) *LocalStore {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &LocalStore{fs: fsys}
}

func (s *LocalStore) Head(ctx context.Context, id string) (Fingerprint, error) {
	if err := ctx.Err(); err != nil {
		return Fingerprint{}, err
	}
	info, err := s.fs.Stat(id)
	if err != nil {
		return Fingerprint{}, translateFSError("head", id, err)
	}
	if info.IsDir() {
		return Fingerprint{}, NotFoundError{Key: id}
	}
	f, err := s.fs.Open(id)
	if err != nil {
		return Fingerprint{}, translateFSError("head", id, err)
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return Fingerprint{}, fmt.Errorf("hash %s: %w", id, err)
	}
	return Fingerprint{
		ETag:         quoteTag(h.Sum(nil)),
		LastModified: info.ModTime().UTC(),
		Size:         info.Size(),
	}, nil
}

// List walks prefix recursively. A prefix naming a single file lists just
// that file.
func (s *LocalStore) List(ctx context.Context, prefix string) ([]string, error) {
	root := filepath.Clean(prefix)
	info, err := s.fs.Stat(root)
	if err != nil {
		return nil, translateFSError("list", prefix, err)
	}
	if !info.IsDir() {
		return []string{root}, nil
	}
	var out []string
	err = afero.Walk(s.fs, root, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !fi.IsDir() {
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, translateFSError("list", prefix, err)
	}
	sort.Strings(out)
	return out, nil
}

func (s *LocalStore) Download(ctx context.Context, id string, dst io.Writer) (Fingerprint, error) {
	info, err := s.fs.Stat(id)
	if err != nil {
		return Fingerprint{}, translateFSError("download", id, err)
	}
	if info.IsDir() {
		return Fingerprint{}, NotFoundError{Key: id}
	}
	f, err := s.fs.Open(id)
	if err != nil {
		return Fingerprint{}, translateFSError("download", id, err)
	}
	defer f.Close()
	h := md5.New()
	n, err := copyWithContext(ctx, io.MultiWriter(dst, h), f)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("copy %s: %w", id, err)
	}
	return Fingerprint{
		ETag:         quoteTag(h.Sum(nil)),
		LastModified: info.ModTime().UTC(),
		Size:         n,
	}, nil
}

// Upload copies localPath (always read from the host filesystem) to id via a
// temp file and rename, so readers of id never see a partial write.
func (s *LocalStore) Upload(ctx context.Context, localPath, id string) (fp Fingerprint, err error) {
	src, err := os.Open(localPath)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("open %s: %w", localPath, err)
	}
	defer src.Close()

	dir := filepath.Dir(id)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return Fingerprint{}, translateFSError("upload", id, err)
	}
	tmp, err := afero.TempFile(s.fs, dir, ".upload-*")
	if err != nil {
		return Fingerprint{}, translateFSError("upload", id, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = s.fs.Remove(tmpName)
		}
	}()
	if _, err = copyWithContext(ctx, tmp, src); err != nil {
		_ = tmp.Close()
		return Fingerprint{}, fmt.Errorf("upload %s: %w", id, err)
	}
	if err = tmp.Close(); err != nil {
		return Fingerprint{}, fmt.Errorf("upload %s: %w", id, err)
	}
	if err = s.fs.Rename(tmpName, id); err != nil {
		return Fingerprint{}, translateFSError("upload", id, err)
	}
	return s.Head(ctx, id)
}

func quoteTag(sum []byte) string {
	return `"` + hex.EncodeToString(sum) + `"`
}

func translateFSError(op, id string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return NotFoundError{Key: id}
	case errors.Is(err, fs.ErrPermission):
		return AccessDeniedError{Key: id, Err: err}
	default:
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
}

// copyWithContext copies in chunks and stops at the first chunk boundary after
// ctx is cancelled.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			written += int64(w)
			if werr != nil {
				return written, werr
			}
			if w != n {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}
