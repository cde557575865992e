package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// stagingDir holds push copies until they are promoted into place.
const stagingDir = ".staging"

// Dir is the on-disk cache root. Files become visible at their final path only
// through a rename, so readers never observe a partial write.
type Dir struct {
	root string
}

// New creates the cache in the provided directory.
func New(root string) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve cache dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("make cache dir: %w", err)
	}
	return &Dir{root: abs}, nil
}

// Root returns the absolute cache root.
func (d *Dir) Root() string {
	return d.root
}

// Path returns the local file path for key. Absolute keys (explicit
// overrides) are used as is.
func (d *Dir) Path(key string) string {
	p := filepath.FromSlash(key)
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(d.root, p)
}

// Contains reports whether the file for key lies inside the cache root.
// Absolute overrides pointing elsewhere do not.
func (d *Dir) Contains(key string) bool {
	rel, err := filepath.Rel(d.root, d.Path(key))
	if err != nil || rel == "." || rel == ".." {
		return false
	}
	return !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Exists reports whether a regular file is present for key.
func (d *Dir) Exists(key string) bool {
	return fileExists(d.Path(key))
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// Staged is an in-progress write next to its destination. Commit renames it
// onto the final path; Discard removes it.
type Staged struct {
	*os.File
	final string
	done  bool
}

// Stage opens a temp file in the directory of key's final path.
func (d *Dir) Stage(key string) (*Staged, error) {
	final := d.Path(key)
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return nil, fmt.Errorf("make cache subdir: %w", err)
	}
	f, err := os.CreateTemp(filepath.Dir(final), "."+filepath.Base(final)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return &Staged{File: f, final: final}, nil
}

// Commit closes the temp file and atomically places it at the final path.
func (s *Staged) Commit() (string, error) {
	if s.done {
		return "", errors.New("staged file already finished")
	}
	s.done = true
	if err := s.File.Close(); err != nil {
		_ = os.Remove(s.Name())
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(s.Name(), s.final); err != nil {
		_ = os.Remove(s.Name())
		return "", fmt.Errorf("promote %s: %w", s.final, err)
	}
	return s.final, nil
}

// Discard drops the temp file. It is a no-op after Commit.
func (s *Staged) Discard() {
	if s.done {
		return
	}
	s.done = true
	_ = s.File.Close()
	_ = os.Remove(s.Name())
}

// StageCopy copies src into the staging area under a fresh name and returns
// the staged path. The source is never moved.
func (d *Dir) StageCopy(ctx context.Context, src string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()
	dir := filepath.Join(d.root, stagingDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("make staging dir: %w", err)
	}
	staged := filepath.Join(dir, uuid.NewString()+filepath.Ext(src))
	out, err := os.OpenFile(staged, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create staging file: %w", err)
	}
	if _, err := copyWithContext(ctx, out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(staged)
		return "", fmt.Errorf("copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(staged)
		return "", fmt.Errorf("close staging file: %w", err)
	}
	return staged, nil
}

// Promote renames a staged file onto key's final path.
func (d *Dir) Promote(staged, key string) (string, error) {
	final := d.Path(key)
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return "", fmt.Errorf("make cache subdir: %w", err)
	}
	if err := os.Rename(staged, final); err != nil {
		return "", fmt.Errorf("promote %s: %w", final, err)
	}
	return final, nil
}

// Remove deletes the file for key. A missing file is not an error.
func (d *Dir) Remove(key string) error {
	if err := os.Remove(d.Path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// FileSize returns the size of the file for key, 0 when it is absent.
func (d *Dir) FileSize(key string) (int64, error) {
	info, err := os.Stat(d.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", key, err)
	}
	return info.Size(), nil
}

// Stats summarises the cached data files.
type Stats struct {
	Files int
	Bytes int64
}

// Stats walks the cache root. Hidden directories (metadata, staging) and
// in-flight temp files are skipped.
func (d *Dir) Stats() (Stats, error) {
	var st Stats
	err := filepath.WalkDir(d.root, func(p string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := e.Name()
		if e.IsDir() {
			if p != d.root && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") && strings.HasSuffix(name, ".tmp") {
			return nil
		}
		info, err := e.Info()
		if err != nil {
			return err
		}
		st.Files++
		st.Bytes += info.Size()
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("walk cache dir: %w", err)
	}
	return st, nil
}

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
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}
