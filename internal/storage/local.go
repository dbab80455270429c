package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// Store is the result persistence boundary the pipeline writes through.
type Store interface {
	Save(ctx context.Context, jobID, name, contentType string, data []byte) error
	Load(ctx context.Context, jobID, name string) ([]byte, error)
}

// SourceFetcher downloads a source document referenced by URL to a local file
// under dir. Only remote-capable stores implement it.
type SourceFetcher interface {
	FetchSource(ctx context.Context, rawURL, dir string) (string, error)
}

// LocalStore keeps results on local disk. Used when S3 is disabled; results
// never leave the host, so no encryption layer.
type LocalStore struct {
	dir string
}

func NewLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		dir = "results"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create results dir: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

func (l *LocalStore) path(jobID, name string) string {
	return filepath.Join(l.dir, jobID, name)
}

func (l *LocalStore) Save(_ context.Context, jobID, name, _ string, data []byte) error {
	p := l.path(jobID, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create job dir: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	log.Info().Str("path", p).Int("size", len(data)).Msg("saved result locally")
	return nil
}

func (l *LocalStore) Load(_ context.Context, jobID, name string) ([]byte, error) {
	data, err := os.ReadFile(l.path(jobID, name))
	if err != nil {
		return nil, fmt.Errorf("read result: %w", err)
	}
	return data, nil
}
