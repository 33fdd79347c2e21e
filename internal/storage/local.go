package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned for public paths that do not resolve below the
// storage root.
var ErrOutsideRoot = errors.New("path outside storage root")

// LocalStorage stores uploaded images on the local filesystem. Files are laid
// out as <base>/<widgetID>/<fileID>/<filename> and served under urlPrefix.
type LocalStorage struct {
	basePath  string
	urlPrefix string
}

func NewLocalStorage(basePath, urlPrefix string) *LocalStorage {
	return &LocalStorage{basePath: basePath, urlPrefix: strings.TrimRight(urlPrefix, "/")}
}

// Save writes the file and returns its public URL.
func (s *LocalStorage) Save(_ context.Context, widgetID, fileID, filename string, reader io.Reader) (string, error) {
	name := sanitizeFilename(filename)
	dir := filepath.Join(s.basePath, widgetID, fileID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create dir: %w", err)
	}

	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, reader); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path.Join(s.urlPrefix, widgetID, fileID, name), nil
}

// Open reads a file by its public URL.
func (s *LocalStorage) Open(_ context.Context, url string) (io.ReadCloser, error) {
	p, err := s.localPath(url)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

// Delete removes a file by its public URL. URLs that this storage did not
// issue, such as external image links, are ignored.
func (s *LocalStorage) Delete(_ context.Context, url string) error {
	p, err := s.localPath(url)
	if err != nil {
		return nil
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove file: %w", err)
	}
	// Try to remove parent dir (fileID dir) if empty
	_ = os.Remove(filepath.Dir(p))
	return nil
}

func (s *LocalStorage) localPath(url string) (string, error) {
	rel, ok := strings.CutPrefix(url, s.urlPrefix+"/")
	if !ok {
		return "", ErrOutsideRoot
	}
	clean := path.Clean("/" + rel)
	if clean == "/" || strings.Contains(rel, "..") {
		return "", ErrOutsideRoot
	}
	return filepath.Join(s.basePath, filepath.FromSlash(clean)), nil
}

func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == ':' || r < 0x20:
			return '_'
		}
		return r
	}, name)
	if name == "." || name == "" || name == ".." {
		return "upload"
	}
	return name
}
