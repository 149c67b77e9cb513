package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrNotFound is returned by Read for a missing key.
var ErrNotFound = errors.New("storage: object not found")

// Storage is a flat key/value blob store.
type Storage interface {
	// Write stores content from r under key. size is -1 when unknown.
	Write(ctx context.Context, key string, r io.Reader, size int64, contentType string) error

	// Read opens the content stored under key. The caller closes it.
	Read(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
}

// Config selects and configures a storage driver.
type Config struct {
	Driver string      `mapstructure:"driver"` // local, s3
	Local  LocalConfig `mapstructure:"local"`
	S3     S3Config    `mapstructure:"s3"`
}

// New builds the configured Storage.
func New(ctx context.Context, cfg Config) (Storage, error) {
	switch cfg.Driver {
	case "local", "":
		return NewLocalStorage(cfg.Local)
	case "s3":
		return NewS3Storage(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}
