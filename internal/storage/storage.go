// Package storage keeps uploaded files under a publicly served namespace.
package storage

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"path"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// Blob namespaces.
const (
	BrandsDir = "brands"
	CarsDir   = "cars"
)

// BlobStore stores and removes uploaded files by relative path.
type BlobStore interface {
	// Put writes the upload under dir and returns its relative path.
	Put(ctx context.Context, dir string, file *multipart.FileHeader) (string, error)
	// Delete removes the blob at p. A missing blob is not an error.
	Delete(ctx context.Context, p string) error
	// URL returns the public URL of the blob at p.
	URL(p string) string
}

// CarDir is the namespace of the images of one car.
func CarDir(carID uuid.UUID) string {
	return path.Join(CarsDir, carID.String())
}

// ErrEmptyUpload is returned for a missing or zero-length file.
var ErrEmptyUpload = errors.New("file is empty")

// Image content types accepted for uploads.
var (
	CarImageTypes  = []string{"image/jpeg", "image/png"}
	BrandLogoTypes = []string{"image/jpeg", "image/png", "image/svg+xml"}
)

// CheckUpload verifies the size of file and sniffs its content type against allowed.
func CheckUpload(file *multipart.FileHeader, maxBytes int64, allowed []string) error {
	if file == nil || file.Size == 0 {
		return ErrEmptyUpload
	}
	if maxBytes > 0 && file.Size > maxBytes {
		return fmt.Errorf("may not be larger than %d kilobytes", maxBytes/1024)
	}

	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("could not be read: %w", err)
	}
	defer src.Close()

	mtype, err := mimetype.DetectReader(src)
	if err != nil {
		return fmt.Errorf("could not be read: %w", err)
	}
	for _, a := range allowed {
		if mtype.Is(a) {
			return nil
		}
	}
	return fmt.Errorf("must be a file of type: %s", extensions(allowed))
}

func extensions(mimes []string) string {
	out := ""
	for i, m := range mimes {
		if i > 0 {
			out += ", "
		}
		if t := mimetype.Lookup(m); t != nil {
			out += t.Extension()[1:]
		} else {
			out += m
		}
	}
	return out
}
