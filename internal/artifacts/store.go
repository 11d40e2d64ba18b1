// Package artifacts stores the JSON files a run produces, on local disk or
// in a Cloud Storage bucket.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned by Get for a missing artifact.
var ErrNotFound = errors.New("artifact not found")

// Store writes and reads named artifacts under one location.
type Store interface {
	Put(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
	// Location is the human-readable root, e.g. "datos_salida" or "gs://b/p".
	Location() string
	Close() error
}

// Open picks the store for location: "gs://bucket/prefix" for Cloud
// Storage, anything else is a local directory.
func Open(ctx context.Context, location string, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.HasPrefix(location, "gs://") {
		bucket, prefix, err := ParseGCSURL(location)
		if err != nil {
			return nil, err
		}
		return NewGCSStore(ctx, bucket, prefix, logger)
	}
	return NewLocalStore(location, logger)
}

// ParseGCSURL splits "gs://bucket/some/prefix" into bucket and prefix.
func ParseGCSURL(u string) (string, string, error) {
	rest, ok := strings.CutPrefix(u, "gs://")
	if !ok {
		return "", "", fmt.Errorf("not a gs:// url: %q", u)
	}
	bucket, prefix, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("missing bucket in %q", u)
	}
	return bucket, strings.Trim(prefix, "/"), nil
}

// validName accepts a single path element. Dots inside the name are fine
// ("factura..final_resultado.json"); "." and ".." are not.
func validName(name string) error {
	if name == "." || strings.ContainsAny(name, `/\`) || !filepath.IsLocal(name) {
		return fmt.Errorf("invalid artifact name %q", name)
	}
	return nil
}
