package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps objects on the local filesystem, for development setups
// without S3.
type LocalStore struct {
	BaseDir string
}

func (l *LocalStore) path(key string) string {
	// Rooted clean keeps ".." segments from escaping the base directory.
	key = filepath.Clean(string(filepath.Separator) + key)
	key = strings.TrimPrefix(key, string(filepath.Separator))
	return filepath.Join(l.BaseDir, key)
}

func (l *LocalStore) Put(_ context.Context, key string, body []byte, _ string) error {
	path := l.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

func (l *LocalStore) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(l.path(key))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}
