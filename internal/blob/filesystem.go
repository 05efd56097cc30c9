package blob

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// filesystemStore implements Store over a directory root. Locators are
// slash-separated paths relative to the root.
type filesystemStore struct {
	root string
}

// NewFilesystemStore creates a blob store rooted at the given directory
func NewFilesystemStore(root string) Store {
	return &filesystemStore{root: root}
}

// List returns the objects under a prefix, walking recursively
func (s *filesystemStore) List(ctx context.Context, prefix string) ([]Object, error) {
	dir := filepath.Join(s.root, filepath.FromSlash(prefix))

	var objects []Object
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				// An empty intake location is not an error
				return filepath.SkipAll
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}

		objects = append(objects, Object{
			Locator:    filepath.ToSlash(rel),
			Generation: generation(info),
			Size:       info.Size(),
			ModTime:    info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %q: %w", prefix, err)
	}

	return objects, nil
}

// Fetch returns the object bytes
func (s *filesystemStore) Fetch(ctx context.Context, locator string) ([]byte, error) {
	path, err := s.resolve(locator)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path) //nolint:gosec,G304
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %q: %w", locator, err)
	}

	return data, nil
}

// Exists reports whether an object is present
func (s *filesystemStore) Exists(ctx context.Context, locator string) (bool, error) {
	path, err := s.resolve(locator)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %q: %w", locator, err)
	}

	return true, nil
}

// Move relocates an object with copy-then-delete so the bytes are never lost
// mid-relocation
func (s *filesystemStore) Move(ctx context.Context, src, dst string) error {
	srcPath, err := s.resolve(src)
	if err != nil {
		return err
	}
	dstPath, err := s.resolve(dst)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dstPath), 0o750); err != nil {
		return fmt.Errorf("failed to create archive location: %w", err)
	}

	data, err := os.ReadFile(srcPath) //nolint:gosec,G304
	if err != nil {
		return fmt.Errorf("failed to read %q: %w", src, err)
	}

	if err := os.WriteFile(dstPath, data, 0o640); err != nil {
		return fmt.Errorf("failed to write %q: %w", dst, err)
	}

	if err := os.Remove(srcPath); err != nil {
		return fmt.Errorf("failed to remove %q after copy: %w", src, err)
	}

	return nil
}

// resolve maps a locator onto the root, rejecting traversal outside it
func (s *filesystemStore) resolve(locator string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(locator))
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("locator %q escapes the store root", locator)
	}

	return filepath.Join(s.root, cleaned), nil
}

// generation derives a content-version identifier from file metadata, the
// closest a filesystem offers to an object store's generation number
func generation(info fs.FileInfo) string {
	return fmt.Sprintf("%x-%x", info.Size(), info.ModTime().UnixNano())
}
