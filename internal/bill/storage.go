package bill

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Storage defines the interface for receipt image storage.
type Storage interface {
	// Save stores a file and returns the key it can be fetched with
	Save(filename string, data []byte) (string, error)

	// Get retrieves a file by key
	Get(path string) ([]byte, error)

	// Delete removes a file
	Delete(path string) error
}

// LocalStorage implements the Storage interface on a flat directory of
// receipt images. Keys are bare filenames; anything resembling a path is
// rejected so a stored key can never escape the base directory.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a LocalStorage rooted at basePath, creating the
// directory if needed.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// Save writes a file into the storage directory and returns its key.
func (l *LocalStorage) Save(filename string, data []byte) (string, error) {
	key, err := l.key(filename)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(l.basePath, key), data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return key, nil
}

// Get retrieves a stored file by key.
func (l *LocalStorage) Get(path string) ([]byte, error) {
	key, err := l.key(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(l.basePath, key))
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes a stored file. A key that is already gone is not an error;
// deletes are retried by callers cleaning up after partial failures.
func (l *LocalStorage) Delete(path string) error {
	key, err := l.key(path)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(l.basePath, key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

// key validates that a name is a bare filename with no path components.
func (l *LocalStorage) key(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid storage key: %q", name)
	}
	return name, nil
}
