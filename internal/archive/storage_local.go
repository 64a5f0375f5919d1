package archive

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"canvas-aux/internal/errors"
)

// LocalStore keeps archives in a directory
type LocalStore struct {
	basePath string
}

// NewLocalStore creates the directory if needed
func NewLocalStore(basePath string) (*LocalStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, errors.NewConfigurationError("cannot create archive directory "+basePath, err)
	}
	return &LocalStore{basePath: basePath}, nil
}

// Put writes the archive through a temporary file
func (s *LocalStore) Put(ctx context.Context, name string, data []byte, metadata map[string]string) (string, error) {
	path := filepath.Join(s.basePath, name)

	tmp, err := os.CreateTemp(s.basePath, "."+name+".*.tmp")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", err
	}
	return path, nil
}

// List returns the archives in name order, ignoring temporary files
func (s *LocalStore) List(ctx context.Context) ([]Object, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}

	var objects []Object
	for _, entry := range entries {
		if entry.IsDir() || entry.Name()[0] == '.' {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, err
		}
		objects = append(objects, Object{Name: entry.Name(), Size: info.Size(), Modified: info.ModTime()})
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Name < objects[j].Name })
	return objects, nil
}

// Close is a no-op
func (s *LocalStore) Close() error {
	return nil
}
