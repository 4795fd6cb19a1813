package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	safeFileID  = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	safeFileExt = regexp.MustCompile(`^\.[A-Za-z0-9]+$`)
)

// FileStore keeps uploaded originals on disk under a single root directory.
// Stored names are <id><ext> with both parts validated, so caller-supplied
// filenames can never traverse outside the root.
type FileStore struct {
	root string
}

// NewFileStore creates the storage root if needed.
func NewFileStore(root string) (*FileStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}
	return &FileStore{root: abs}, nil
}

// Root returns the absolute storage root.
func (s *FileStore) Root() string {
	return s.root
}

// Save streams content to <root>/<dir>/<id><ext> and returns the stored path
// and size. The directory segment groups files per collection.
func (s *FileStore) Save(dir, id, ext string, content io.Reader) (string, int64, error) {
	if !safeFileID.MatchString(dir) {
		return "", 0, fmt.Errorf("invalid file directory %q", dir)
	}
	if !safeFileID.MatchString(id) {
		return "", 0, fmt.Errorf("invalid file id %q", id)
	}
	if ext != "" && !safeFileExt.MatchString(ext) {
		return "", 0, fmt.Errorf("invalid file extension %q", ext)
	}

	if err := os.MkdirAll(filepath.Join(s.root, dir), 0o755); err != nil {
		return "", 0, fmt.Errorf("create collection directory: %w", err)
	}
	path := filepath.Join(s.root, dir, id+ext)
	f, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("create file: %w", err)
	}
	size, err := io.Copy(f, content)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", 0, fmt.Errorf("write file: %w", err)
	}
	return path, size, nil
}

// Read loads a stored file, refusing paths outside the store root.
func (s *FileStore) Read(path string) ([]byte, error) {
	abs, err := s.contained(path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(abs)
}

// Remove deletes a stored file. A file that is already gone is not an error.
func (s *FileStore) Remove(path string) error {
	abs, err := s.contained(path)
	if err != nil {
		return err
	}
	err = os.Remove(abs)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (s *FileStore) contained(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if abs != s.root && !strings.HasPrefix(abs, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q outside storage root", path)
	}
	return abs, nil
}
