package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"mime/multipart"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LocalStore keeps blobs on the local disk below root. The root is served
// by the HTTP layer under /storage.
type LocalStore struct {
	root    string
	baseURL string
}

// NewLocalStore creates root if needed.
func NewLocalStore(root, baseURL string) (*LocalStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &LocalStore{root: abs, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Root is the directory blobs are written to.
func (s *LocalStore) Root() string {
	return s.root
}

func (s *LocalStore) Put(ctx context.Context, dir string, file *multipart.FileHeader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if file == nil {
		return "", ErrEmptyUpload
	}

	rel := path.Join(path.Clean("/"+dir)[1:], uuid.NewString()+strings.ToLower(filepath.Ext(file.Filename)))
	target, err := s.resolve(rel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", err
	}

	src, err := file.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = os.Remove(target)
		return "", err
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(target)
		return "", err
	}

	return rel, nil
}

func (s *LocalStore) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := s.resolve(p)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	s.pruneEmptyDirs(filepath.Dir(target))
	return nil
}

func (s *LocalStore) URL(p string) string {
	return s.baseURL + "/storage/" + strings.TrimLeft(p, "/")
}

// resolve maps a relative blob path onto the disk, refusing paths outside root.
func (s *LocalStore) resolve(p string) (string, error) {
	clean := path.Clean("/" + filepath.ToSlash(p))
	if clean == "/" {
		return "", fmt.Errorf("invalid blob path %q", p)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean[1:])), nil
}

// pruneEmptyDirs removes dir and its empty parents up to root.
func (s *LocalStore) pruneEmptyDirs(dir string) {
	for dir != s.root && strings.HasPrefix(dir, s.root) {
		if err := os.Remove(dir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) && !isNotEmpty(err) {
				log.Printf("[Storage] could not prune %s: %v", dir, err)
			}
			return
		}
		dir = filepath.Dir(dir)
	}
}

func isNotEmpty(err error) bool {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return strings.Contains(strings.ToLower(pe.Err.Error()), "not empty") ||
			strings.Contains(strings.ToLower(pe.Err.Error()), "exist")
	}
	return false
}
