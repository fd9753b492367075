// Package storage holds the local file-blob store backing description
// attachments.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FileStore writes attachment blobs under a local directory and serves them
// through a public access URL prefix.
type FileStore struct {
	dir       string
	accessURL string
}

// NewFileStore creates a FileStore rooted at dir. The access URL prefix must
// end with a path separator.
func NewFileStore(dir, accessURL string) *FileStore {
	if !strings.HasSuffix(accessURL, "/") {
		accessURL += "/"
	}
	return &FileStore{dir: dir, accessURL: accessURL}
}

// Store writes the blob to disk under a collision-free name and returns the
// stored file name and its access URL.
func (s *FileStore) Store(r io.Reader, originalName string) (fileName, fileURL string, err error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create upload dir: %w", err)
	}

	fileName = uuid.NewString() + "_" + filepath.Base(originalName)
	path := filepath.Join(s.dir, fileName)

	f, err := os.Create(path)
	if err != nil {
		return "", "", fmt.Errorf("create file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		os.Remove(path)
		return "", "", fmt.Errorf("write file: %w", err)
	}
	return fileName, s.accessURL + fileName, nil
}

// Delete removes the blob behind an access URL. Unknown URLs and already
// missing files are not errors.
func (s *FileStore) Delete(fileURL string) error {
	name := strings.TrimPrefix(fileURL, s.accessURL)
	if name == fileURL {
		// Not one of ours; nothing to remove.
		return nil
	}
	path := filepath.Join(s.dir, filepath.Base(name))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}
