package state

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/picklr-io/strata/internal/ir"
)

// Backend stores the snapshot of one environment.
type Backend interface {
	// Read loads the snapshot, failing with StateUnavailableError when it is
	// missing or unreadable.
	Read(ctx context.Context) (*ir.Snapshot, error)

	// Write replaces the snapshot.
	Write(ctx context.Context, snap *ir.Snapshot) error

	// Lock acquires an exclusive lock on the snapshot.
	Lock(ctx context.Context) error

	// Unlock releases the lock.
	Unlock(ctx context.Context) error

	// Location describes where the snapshot lives.
	Location() string
}

// BackendConfig holds configuration for a snapshot backend.
type BackendConfig struct {
	Type   string            `json:"type"` // "local" or "s3"
	Config map[string]string `json:"config"`
}

// NewBackend creates a snapshot backend from configuration.
func NewBackend(ctx context.Context, cfg *BackendConfig) (Backend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("backend configuration is nil")
	}

	switch cfg.Type {
	case "local", "":
		path := cfg.Config["path"]
		if path == "" {
			return nil, fmt.Errorf("local backend requires 'path' configuration")
		}
		return NewManager(path), nil
	case "s3":
		return newS3Backend(ctx, cfg.Config)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}

// Open returns the backend for a --state argument. s3://bucket/key URIs select the
// S3 backend, with region, profile, dynamodb_table and sse taken from the query
// string; anything else is a local path.
func Open(ctx context.Context, location string) (Backend, error) {
	if !strings.HasPrefix(location, "s3://") {
		return NewBackend(ctx, &BackendConfig{Type: "local", Config: map[string]string{"path": location}})
	}

	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("invalid state location %q: %w", location, err)
	}
	config := map[string]string{
		"bucket": u.Host,
		"key":    strings.TrimPrefix(u.Path, "/"),
	}
	for k, v := range u.Query() {
		if len(v) > 0 {
			config[k] = v[0]
		}
	}
	return NewBackend(ctx, &BackendConfig{Type: "s3", Config: config})
}
