package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// DriveStore keeps objects in Google Drive folders. Barcode images live in a
// shared folder and are made link-readable so the document templates can
// embed them by URL.
type DriveStore struct {
	svc *drive.Service
}

func NewDriveStore(ctx context.Context, credentialsJSON []byte) (*DriveStore, error) {
	var opts []option.ClientOption
	if len(credentialsJSON) > 0 {
		opts = append(opts, option.WithCredentialsJSON(credentialsJSON))
	}
	opts = append(opts, option.WithScopes(drive.DriveScope))

	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("drive client: %w", err)
	}
	return &DriveStore{svc: svc}, nil
}

func (s *DriveStore) Find(ctx context.Context, folderID string, name string) (string, error) {
	query := fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false",
		escapeQuery(name), escapeQuery(folderID))

	list, err := s.svc.Files.List().
		Q(query).
		Fields("files(id, name)").
		PageSize(1).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("drive list: %w", err)
	}
	if len(list.Files) == 0 {
		return "", ErrNotFound
	}
	return list.Files[0].Id, nil
}

func (s *DriveStore) Upload(ctx context.Context, folderID string, name string, contentType string, content io.Reader) (string, error) {
	meta := &drive.File{
		Name:    name,
		Parents: []string{folderID},
	}

	created, err := s.svc.Files.Create(meta).
		Media(content, googleapi.ContentType(contentType)).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("drive upload %s: %w", name, err)
	}
	return created.Id, nil
}

// PublicURL grants anyone-with-link read access and returns a direct
// download URL for the object.
func (s *DriveStore) PublicURL(ctx context.Context, objectID string) (string, error) {
	_, err := s.svc.Permissions.Create(objectID, &drive.Permission{
		Type: "anyone",
		Role: "reader",
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("drive permission %s: %w", objectID, err)
	}
	return "https://drive.google.com/uc?id=" + objectID + "&export=download", nil
}

func escapeQuery(s string) string {
	return strings.ReplaceAll(s, "'", `\'`)
}
