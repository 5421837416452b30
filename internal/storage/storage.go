// Package storage abstracts the object store holding barcode images and
// generated documents.
package storage

import (
	"context"
	"errors"
	"io"
)

var ErrNotFound = errors.New("object not found")

// ObjectStore stores named files in folders and can hand out link-readable
// URLs. Find returns ErrNotFound when no object with that name exists in the
// folder.
type ObjectStore interface {
	Find(ctx context.Context, folderID string, name string) (string, error)
	Upload(ctx context.Context, folderID string, name string, contentType string, content io.Reader) (string, error)
	PublicURL(ctx context.Context, objectID string) (string, error)
}
