// Package storage provides object persistence for generated artifacts
// (agreement PDFs, profile photos). The interface mirrors a hosted bucket:
// store bytes under a path, get a URL back.
package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// LocalStore writes objects under a root directory and serves them from a
// base URL. Public objects are world-readable; private ones are not.
type LocalStore struct {
	root    string
	baseURL string
}

func NewLocalStore(root, baseURL string) (*LocalStore, error) {
	if root == "" {
		return nil, fmt.Errorf("storage: root directory required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root: %w", err)
	}
	return &LocalStore{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// Store writes the object and returns its URL.
func (s *LocalStore) Store(ctx context.Context, data []byte, objectPath string, public bool) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	clean := path.Clean("/" + objectPath)
	if clean == "/" {
		return "", fmt.Errorf("storage: object path required")
	}
	clean = strings.TrimPrefix(clean, "/")

	full := filepath.Join(s.root, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("storage: create object dir: %w", err)
	}

	mode := os.FileMode(0o600)
	if public {
		mode = 0o644
	}
	if err := os.WriteFile(full, data, mode); err != nil {
		return "", fmt.Errorf("storage: write object: %w", err)
	}

	return s.baseURL + "/" + clean, nil
}
