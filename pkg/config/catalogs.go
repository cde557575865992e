package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"example.com/datacatalog/pkg/catalog"
)

const (
	// ProjectDir holds project-local catalog state.
	ProjectDir  = ".datacatalog"
	catalogsDir = "catalogs"
)

var rootMarkers = []string{ProjectDir, "go.mod", ".git"}

// CatalogFile is the on-disk shape of one catalog YAML file.
type CatalogFile struct {
	CacheDir string            `yaml:"cache_dir,omitempty"`
	Datasets []catalog.Dataset `yaml:"datasets"`
}

// FindProjectRoot walks up from start until a directory contains one of
// .datacatalog, go.mod or .git. Without a marker it returns start.
func FindProjectRoot(start string) (string, error) {
	abs, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", start, err)
	}
	for dir := abs; ; {
		for _, marker := range rootMarkers {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		dir = parent
	}
}

// CatalogsPath returns the directory holding catalog files for root.
func CatalogsPath(root string) string {
	return filepath.Join(root, ProjectDir, catalogsDir)
}

// LoadCatalogs reads every *.yaml / *.yml file under .datacatalog/catalogs in
// name order and concatenates their datasets. The first non-empty cache_dir
// wins. Duplicate names are left for catalog.New to reject.
func LoadCatalogs(root string) ([]catalog.Dataset, string, error) {
	dir := CatalogsPath(root)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("read catalogs: %w", err)
	}
	var names []string
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var (
		datasets []catalog.Dataset
		cacheDir string
	)
	for _, name := range names {
		cf, err := ReadCatalogFile(filepath.Join(dir, name))
		if err != nil {
			return nil, "", err
		}
		if cacheDir == "" {
			cacheDir = cf.CacheDir
		}
		datasets = append(datasets, cf.Datasets...)
	}
	return datasets, cacheDir, nil
}

// ReadCatalogFile decodes one catalog file. Unknown keys are rejected.
func ReadCatalogFile(path string) (*CatalogFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var cf CatalogFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cf, nil
}

// WriteCatalogFile encodes cf to path with two-space indentation.
func WriteCatalogFile(path string, cf *CatalogFile) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cf); err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("make catalog dir: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// InitProject creates .datacatalog/catalogs/default.yaml with an example
// dataset unless a catalog already exists. It returns the file it wrote, or
// "" when nothing was written.
func InitProject(root string) (string, error) {
	dir := CatalogsPath(root)
	entries, err := os.ReadDir(dir)
	if err == nil && len(entries) > 0 {
		return "", nil
	}
	path := filepath.Join(dir, "default.yaml")
	cf := &CatalogFile{
		Datasets: []catalog.Dataset{{
			Name:        "example",
			Source:      "s3://my-bucket/path/to/file.csv",
			Description: "Replace with your own dataset",
		}},
	}
	if err := WriteCatalogFile(path, cf); err != nil {
		return "", err
	}
	return path, nil
}
