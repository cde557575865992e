// Package config loads runtime settings (datacatalog.yaml, DATACATALOG_*
// environment variables) and the YAML dataset catalogs of a project.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	// FileName is the settings file looked up in the project root.
	FileName  = "datacatalog"
	envPrefix = "DATACATALOG"
)

type Settings struct {
	CacheDir    string        `mapstructure:"cache_dir"`
	Concurrency int           `mapstructure:"concurrency"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Metadata    Metadata      `mapstructure:"metadata"`
	S3          S3            `mapstructure:"s3"`
	Retry       Retry         `mapstructure:"retry"`
	Log         Log           `mapstructure:"log"`
	Serve       Serve         `mapstructure:"serve"`

	cacheDirSet bool
}

type Metadata struct {
	Backend string `mapstructure:"backend"` // file | sqlite
	DSN     string `mapstructure:"dsn"`
}

type S3 struct {
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	PathStyle bool   `mapstructure:"path_style"`
}

type Retry struct {
	Attempts  int           `mapstructure:"attempts"`
	BaseDelay time.Duration `mapstructure:"base_delay"`
}

type Log struct {
	Level      string `mapstructure:"level"`
	JSON       bool   `mapstructure:"json"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

type Serve struct {
	Socket string `mapstructure:"socket"`
	Listen string `mapstructure:"listen"`
}

// FieldError names the offending setting.
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cache_dir", "data")
	v.SetDefault("concurrency", 4)
	v.SetDefault("timeout", "10m")
	v.SetDefault("metadata.backend", "file")
	v.SetDefault("metadata.dsn", "")
	v.SetDefault("s3.region", "")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.access_key", "")
	v.SetDefault("s3.secret_key", "")
	v.SetDefault("s3.path_style", false)
	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.base_delay", "200ms")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 50)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.compress", true)
	v.SetDefault("serve.socket", "")
	v.SetDefault("serve.listen", "127.0.0.1:8484")
}

// Load reads settings for the project at root. An explicit path must exist;
// otherwise datacatalog.yaml in root is optional. Environment variables
// (DATACATALOG_CACHE_DIR, DATACATALOG_S3_REGION, ...) override the file.
// Relative paths are resolved against root.
func Load(path, root string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(root)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	_, envSet := os.LookupEnv(envPrefix + "_CACHE_DIR")
	s.cacheDirSet = envSet || v.InConfig("cache_dir")
	s.resolvePaths(root)
	return &s, nil
}

// Validate checks value ranges.
func (s *Settings) Validate() error {
	if strings.TrimSpace(s.CacheDir) == "" {
		return FieldError{Field: "cache_dir", Reason: "must not be empty"}
	}
	if s.Concurrency < 1 {
		return FieldError{Field: "concurrency", Reason: "must be at least 1"}
	}
	if s.Timeout < 0 {
		return FieldError{Field: "timeout", Reason: "must not be negative"}
	}
	switch s.Metadata.Backend {
	case "file", "sqlite":
	default:
		return FieldError{Field: "metadata.backend", Reason: "must be file or sqlite"}
	}
	if s.Retry.Attempts < 0 {
		return FieldError{Field: "retry.attempts", Reason: "must not be negative"}
	}
	if s.Retry.BaseDelay < 0 {
		return FieldError{Field: "retry.base_delay", Reason: "must not be negative"}
	}
	if s.Serve.Socket == "" && s.Serve.Listen == "" {
		return FieldError{Field: "serve.listen", Reason: "either serve.socket or serve.listen is required"}
	}
	return nil
}

// SetCacheDir overrides cache_dir unconditionally (e.g. from a flag) and
// resolves it against root.
func (s *Settings) SetCacheDir(dir, root string) {
	s.CacheDir = absUnder(root, dir)
	s.cacheDirSet = true
}

// UseCatalogCacheDir applies a catalog file's cache_dir unless the settings
// file or environment already chose one.
func (s *Settings) UseCatalogCacheDir(dir, root string) {
	if dir == "" || s.cacheDirSet {
		return
	}
	s.CacheDir = absUnder(root, dir)
}

// MetadataDSN returns the SQLite path, defaulting to a file in the cache's
// metadata directory.
func (s *Settings) MetadataDSN() string {
	if s.Metadata.DSN != "" {
		return s.Metadata.DSN
	}
	return filepath.Join(s.CacheDir, ".meta", "catalog.db")
}

func (s *Settings) resolvePaths(root string) {
	s.CacheDir = absUnder(root, s.CacheDir)
	if s.Log.File != "" {
		s.Log.File = absUnder(root, s.Log.File)
	}
	if s.Serve.Socket != "" {
		s.Serve.Socket = absUnder(root, s.Serve.Socket)
	}
}

func absUnder(root, p string) string {
	if filepath.IsAbs(p) || root == "" {
		return filepath.Clean(p)
	}
	return filepath.Join(root, p)
}

// durationDecodeHook accepts Go duration strings and plain numbers of
// seconds.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	target := reflect.TypeOf(time.Duration(0))
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != target {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			if v == "" {
				return time.Duration(0), nil
			}
			if d, err := time.ParseDuration(v); err == nil {
				return d, nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return time.Duration(seconds * float64(time.Second)), nil
			}
			return nil, fmt.Errorf("invalid duration %q", v)
		case int:
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		case float64:
			return time.Duration(v * float64(time.Second)), nil
		case time.Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("unsupported duration type %T", v)
		}
	}
}
